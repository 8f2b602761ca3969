package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/gorilla/mux"

	"kirbyam.dev/internal/sim/host"
)

type statusSource interface {
	Status() host.Status
}

type deliveryQuerier interface {
	RecentDeliveries(ctx context.Context, limit int) ([]host.Delivery, error)
}

// indexMetrics is the backend-neutral view of a delivery index queue.
type indexMetrics struct {
	Backend    string
	QueueDepth int
	Dropped    uint64
	Written    uint64
	FlushFail  uint64
}

type routeDeps struct {
	HostID     string
	Host       statusSource
	Deliveries deliveryQuerier // nil when the backend cannot be queried
	IndexStats func() indexMetrics
	WS         http.Handler
	Pprof      bool
}

const maxDeliveriesLimit = 500

func newRouter(d routeDeps) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/metrics", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := d.Host.Status()
		fmt.Fprintf(rw, "# HELP kirbyam_frame Frames stepped since boot.\n")
		fmt.Fprintf(rw, "# TYPE kirbyam_frame counter\n")
		fmt.Fprintf(rw, "kirbyam_frame{host=%q} %d\n", d.HostID, st.Frame)

		fmt.Fprintf(rw, "# HELP kirbyam_received Messages consumed by the mailbox poller (wraps at 2^32).\n")
		fmt.Fprintf(rw, "# TYPE kirbyam_received gauge\n")
		fmt.Fprintf(rw, "kirbyam_received{host=%q} %d\n", d.HostID, st.Registers.ReceivedCounter)

		fmt.Fprintf(rw, "# HELP kirbyam_inbox Inbox slot activity.\n")
		fmt.Fprintf(rw, "# TYPE kirbyam_inbox counter\n")
		fmt.Fprintf(rw, "kirbyam_inbox{host=%q,metric=%q} %d\n", d.HostID, "offered", st.InboxOffered)
		fmt.Fprintf(rw, "kirbyam_inbox{host=%q,metric=%q} %d\n", d.HostID, "displaced", st.InboxDisplaced)

		fmt.Fprintf(rw, "# HELP kirbyam_game Game fields written by delivered items.\n")
		fmt.Fprintf(rw, "# TYPE kirbyam_game gauge\n")
		fmt.Fprintf(rw, "kirbyam_game{host=%q,field=%q} %d\n", d.HostID, "lives", st.Lives)
		fmt.Fprintf(rw, "kirbyam_game{host=%q,field=%q} %d\n", d.HostID, "shard_flags", st.ShardFlags)

		if d.IndexStats != nil {
			writeIndexMetrics(rw, d.HostID, d.IndexStats())
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/mailbox", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, d.Host.Status())
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/deliveries", func(rw http.ResponseWriter, req *http.Request) {
		if d.Deliveries == nil {
			writeJSON(rw, http.StatusNotImplemented, map[string]any{"error": "delivery index not queryable"})
			return
		}
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(rw, http.StatusBadRequest, map[string]any{"error": "bad limit"})
				return
			}
			limit = min(n, maxDeliveriesLimit)
		}
		rows, err := d.Deliveries.RecentDeliveries(req.Context(), limit)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"deliveries": rows})
	}).Methods(http.MethodGet)

	if d.Pprof {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}
	if d.WS != nil {
		r.Handle("/v1/ws", d.WS)
	}
	return r
}

func writeIndexMetrics(rw http.ResponseWriter, hostID string, m indexMetrics) {
	fmt.Fprintf(rw, "# HELP kirbyam_index_queue_depth Deliveries waiting for the index writer.\n")
	fmt.Fprintf(rw, "# TYPE kirbyam_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "kirbyam_index_queue_depth{host=%q,backend=%q} %d\n", hostID, m.Backend, m.QueueDepth)

	fmt.Fprintf(rw, "# HELP kirbyam_index_total Index writer outcomes.\n")
	fmt.Fprintf(rw, "# TYPE kirbyam_index_total counter\n")
	fmt.Fprintf(rw, "kirbyam_index_total{host=%q,backend=%q,result=%q} %d\n", hostID, m.Backend, "written", m.Written)
	fmt.Fprintf(rw, "kirbyam_index_total{host=%q,backend=%q,result=%q} %d\n", hostID, m.Backend, "dropped", m.Dropped)
	fmt.Fprintf(rw, "kirbyam_index_total{host=%q,backend=%q,result=%q} %d\n", hostID, m.Backend, "flush_fail", m.FlushFail)
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}
