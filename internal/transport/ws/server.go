package ws

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kirbyam.dev/internal/protocol"
	"kirbyam.dev/internal/sim/host"
	"kirbyam.dev/internal/sim/mailbox"
	"kirbyam.dev/internal/sim/tuning"
)

// Host is the part of host.Host the bridge needs.
type Host interface {
	Post(m mailbox.Message) (overwrote bool)
	Status() host.Status
	InfoMarker() [tuning.InfoMarkerSize]byte
	Tuning() tuning.Tuning
}

type Server struct {
	host Host
	log  *log.Logger

	statusInterval time.Duration
	heartbeat      time.Duration

	upgrader websocket.Upgrader
}

func NewServer(h Host, logger *log.Logger, statusInterval time.Duration) *Server {
	if statusInterval <= 0 {
		statusInterval = 100 * time.Millisecond
	}
	return &Server{
		host:           h,
		log:            logger,
		statusInterval: statusInterval,
		heartbeat:      time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID := s.handshake(conn)
		if sessionID == "" {
			return
		}
		s.logf("session open id=%s remote=%s", sessionID, r.RemoteAddr)
		defer s.logf("session closed id=%s", sessionID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		go s.pushStatus(ctx, out)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if e := s.handleInbound(msg); e != nil {
				enqueue(out, *e)
			}
		}
	}
}

// handleInbound posts a valid ITEM and returns the ERROR to send otherwise.
func (s *Server) handleInbound(msg []byte) *protocol.ErrorMsg {
	base, err := protocol.ValidateInbound(msg)
	if base.Type == protocol.TypeItem && base.ProtocolVersion != protocol.Version {
		e := protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version")
		return &e
	}
	if err != nil {
		code := protocol.ErrProtoBadRequest
		if base.Type == protocol.TypeItem {
			code = protocol.ErrBadItem
		}
		e := protocol.NewError(code, err.Error())
		return &e
	}
	if base.Type != protocol.TypeItem {
		e := protocol.NewError(protocol.ErrProtoBadRequest, "expected ITEM")
		return &e
	}

	var item protocol.ItemMsg
	if err := json.Unmarshal(msg, &item); err != nil {
		e := protocol.NewError(protocol.ErrBadItem, err.Error())
		return &e
	}
	s.host.Post(mailbox.Message{ItemID: item.ItemID, FromPlayer: item.FromPlayer})
	return nil
}

// pushStatus sends STATUS whenever a register other than frame_counter
// changed, and at least once per heartbeat.
func (s *Server) pushStatus(ctx context.Context, out chan<- []byte) {
	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	var (
		last     protocol.StatusMsg
		lastSent time.Time
		sent     bool
	)
	for {
		cur := statusMsg(s.host.Status())
		changed := !sent || !sameIgnoringFrame(cur, last)
		if changed || time.Since(lastSent) >= s.heartbeat {
			if enqueue(out, cur) {
				last, lastSent, sent = cur, time.Now(), true
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func statusMsg(st host.Status) protocol.StatusMsg {
	r := st.Registers
	return protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		FrameCounter:    r.FrameCounter,
		ReceivedCounter: r.ReceivedCounter,
		Pending:         r.PendingFlag == 1,
		DebugLastItemID: r.DebugLastItemID,
		DebugLastFrom:   r.DebugLastFrom,
		ShardMirror:     r.ShardMirror,
	}
}

func sameIgnoringFrame(a, b protocol.StatusMsg) bool {
	a.FrameCounter, b.FrameCounter = 0, 0
	return a == b
}

func (s *Server) handshake(conn *websocket.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return ""
	}

	base, err := protocol.ValidateInbound(msg)
	if base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return ""
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version"))
		closePolicy(conn, "bad protocol_version")
		return ""
	}
	if err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
		closePolicy(conn, "bad HELLO")
		return ""
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return ""
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	tune := s.host.Tuning()
	marker := s.host.InfoMarker()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		TickRateHz:      tune.TickRateHz,
		ItemBaseOffset:  tune.ItemBaseOffset,
		InfoMarker:      hex.EncodeToString(marker[:]),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return ""
	}
	return welcome.SessionID
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// enqueue drops the message when the client is not keeping up.
func enqueue(out chan<- []byte, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case out <- b:
		return true
	default:
		return false
	}
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
