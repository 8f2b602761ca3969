package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"kirbyam.dev/internal/protocol"
	"kirbyam.dev/internal/sim/host"
	"kirbyam.dev/internal/sim/tuning"
)

func startBridge(t *testing.T) (*host.Host, string) {
	t.Helper()
	tune := tuning.Defaults()
	tune.TickRateHz = 500
	tune.Info.Marker = "4b4952"
	h, err := host.New(host.Config{Tuning: tune})
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(cancel)

	srv := httptest.NewServer(NewServer(h, nil, 5*time.Millisecond).Handler())
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil returns the first message of the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, fn func([]byte) bool) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ && (fn == nil || fn(msg)) {
			return msg
		}
	}
	t.Fatalf("timed out waiting for %s", typ)
	return nil
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"})
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome, nil), &w); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	return w
}

func TestBridge_HelloWelcome(t *testing.T) {
	_, url := startBridge(t)
	conn := dial(t, url)
	w := hello(t, conn)

	if w.SessionID == "" || w.TickRateHz != 500 || w.ItemBaseOffset != 3860000 {
		t.Fatalf("welcome=%+v", w)
	}
	if w.InfoMarker != "4b495200000000000000000000000000" {
		t.Fatalf("info_marker=%s", w.InfoMarker)
	}
}

func TestBridge_ItemDeliveredAndReflectedInStatus(t *testing.T) {
	h, url := startBridge(t)
	conn := dial(t, url)
	hello(t, conn)

	send(t, conn, protocol.ItemMsg{Type: protocol.TypeItem, ProtocolVersion: protocol.Version, ItemID: 3860004, FromPlayer: 7})

	var st protocol.StatusMsg
	readUntil(t, conn, protocol.TypeStatus, func(b []byte) bool {
		_ = json.Unmarshal(b, &st)
		return st.ReceivedCounter == 1
	})
	if st.DebugLastItemID != 3860004 || st.DebugLastFrom != 7 || st.ShardMirror != 0x04 || st.Pending {
		t.Fatalf("status=%+v", st)
	}
	if got := h.Status().ShardFlags; got != 0x04 {
		t.Fatalf("shard flags=%#x", got)
	}
}

func TestBridge_BadItemGetsError(t *testing.T) {
	_, url := startBridge(t)
	conn := dial(t, url)
	hello(t, conn)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ITEM","protocol_version":"1.0","item_id":-1,"from_player":1}`))
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError, nil), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != protocol.ErrBadItem {
		t.Fatalf("code=%s", e.Code)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError, nil), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code=%s", e.Code)
	}

	send(t, conn, protocol.ItemMsg{Type: protocol.TypeItem, ProtocolVersion: "0.9", ItemID: 1, FromPlayer: 1})
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError, nil), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != protocol.ErrProtoVersion {
		t.Fatalf("code=%s", e.Code)
	}
}

func TestBridge_BadVersionClosesConnection(t *testing.T) {
	_, url := startBridge(t)
	conn := dial(t, url)
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1"})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var closeErr *websocket.CloseError
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !errors.As(err, &closeErr) {
			t.Fatalf("expected close error, got %v", err)
		}
		break
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("close code=%d", closeErr.Code)
	}
}

func TestBridge_FirstMessageMustBeHello(t *testing.T) {
	_, url := startBridge(t)
	conn := dial(t, url)
	send(t, conn, protocol.ItemMsg{Type: protocol.TypeItem, ProtocolVersion: protocol.Version, ItemID: 3860001})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}
