package indexdb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kirbyam.dev/internal/sim/host"
	"kirbyam.dev/internal/sim/tuning"
)

type IngestConfig struct {
	Endpoint      string
	Token         string
	HostID        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

// IngestIndex ships deliveries to a remote endpoint. Each POST carries one
// host's pending deliveries plus the tuning record if it has not been
// acknowledged yet:
//
//	{"host_id":"host_1","tuning":{...},"deliveries":[...]}
//
// A rejected POST keeps its deliveries for the next attempt. At most
// 16*BatchSize are held; the oldest go first.
type IngestIndex struct {
	cfg    IngestConfig
	client *http.Client

	mu     sync.RWMutex
	closed bool
	in     chan host.Delivery

	tuneMu sync.Mutex
	tune   *IngestTuning

	done chan struct{}

	postFails atomic.Uint64
	dropped   atomic.Uint64
	acked     atomic.Uint64
	tuneAcked atomic.Bool
}

type IngestStats struct {
	QueueDepth        int    `json:"queue_depth"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	SentTotal         uint64 `json:"sent_total"`
}

// IngestBatch is the POST body.
type IngestBatch struct {
	HostID     string          `json:"host_id"`
	Tuning     *IngestTuning   `json:"tuning,omitempty"`
	Deliveries []host.Delivery `json:"deliveries"`
}

type IngestTuning struct {
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.HostID = strings.TrimSpace(cfg.HostID)
	switch {
	case cfg.Endpoint == "":
		return nil, fmt.Errorf("empty ingest endpoint")
	case cfg.HostID == "":
		return nil, fmt.Errorf("empty host id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &IngestIndex{
		cfg:    cfg,
		client: &http.Client{},
		in:     make(chan host.Delivery, 4096),
		done:   make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// Close stops intake, makes one last attempt with whatever is pending and
// returns once the shipper has exited.
func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.in)
	}
	d.mu.Unlock()
	<-d.done
	return nil
}

func (d *IngestIndex) RecordDelivery(del host.Delivery) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.in <- del:
	default:
		d.dropped.Add(1)
		d.logf("ingest queue full; drop seq=%d", del.Seq)
	}
}

// UpsertTuning replaces the tuning record carried by the next POST.
func (d *IngestIndex) UpsertTuning(tune tuning.Tuning) error {
	if d == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	d.tuneMu.Lock()
	d.tune = &IngestTuning{
		Digest:    hex.EncodeToString(sum[:]),
		JSON:      string(b),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	d.tuneAcked.Store(false)
	d.tuneMu.Unlock()
	return nil
}

func (d *IngestIndex) Stats() IngestStats {
	if d == nil {
		return IngestStats{}
	}
	return IngestStats{
		QueueDepth:        len(d.in),
		FlushFailTotal:    d.postFails.Load(),
		QueueDroppedTotal: d.dropped.Load(),
		SentTotal:         d.acked.Load(),
	}
}

func (d *IngestIndex) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	limit := d.cfg.BatchSize * 16
	var pending []host.Delivery
	ship := func() {
		if ok := d.ship(pending); ok {
			pending = pending[:0]
			return
		}
		if over := len(pending) - limit; over > 0 {
			d.dropped.Add(uint64(over))
			pending = append(pending[:0], pending[over:]...)
		}
	}

	for {
		select {
		case del, ok := <-d.in:
			if !ok {
				ship()
				return
			}
			pending = append(pending, del)
			if len(pending) >= d.cfg.BatchSize {
				ship()
			}
		case <-ticker.C:
			ship()
		}
	}
}

// ship POSTs pending deliveries and reports whether the endpoint accepted
// them. It is a no-op when there is nothing new to say.
func (d *IngestIndex) ship(pending []host.Delivery) bool {
	batch := IngestBatch{HostID: d.cfg.HostID, Deliveries: pending}
	if !d.tuneAcked.Load() {
		d.tuneMu.Lock()
		batch.Tuning = d.tune
		d.tuneMu.Unlock()
	}
	if len(batch.Deliveries) == 0 && batch.Tuning == nil {
		return true
	}
	if batch.Deliveries == nil {
		batch.Deliveries = []host.Delivery{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.HTTPTimeout)
	defer cancel()
	if err := d.post(ctx, batch); err != nil {
		d.postFails.Add(1)
		d.logf("ingest post failed deliveries=%d err=%v", len(batch.Deliveries), err)
		return false
	}
	d.acked.Add(uint64(len(batch.Deliveries)))
	if batch.Tuning != nil {
		d.tuneMu.Lock()
		// A newer UpsertTuning may have landed while posting.
		if d.tune == batch.Tuning {
			d.tuneAcked.Store(true)
		}
		d.tuneMu.Unlock()
	}
	return true
}

func (d *IngestIndex) post(ctx context.Context, batch IngestBatch) error {
	buf, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("x-kirbyam-index-token", d.cfg.Token)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (d *IngestIndex) logf(format string, args ...any) {
	if d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
