package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"kirbyam.dev/internal/protocol"
	"kirbyam.dev/internal/sim/effects"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "client name")
		items = flag.String("items", "", "comma-separated item ids or names (life, shard0..shard7); default: every known item")
		from  = flag.Uint("from", 1, "from_player id attached to every item")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	var p *pacer
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			ids, err := parseItems(*items, w.ItemBaseOffset)
			if err != nil {
				logger.Fatalf("-items: %v", err)
			}
			logger.Printf("WELCOME session=%s tick_rate=%d item_base=%d marker=%s items=%d",
				w.SessionID, w.TickRateHz, w.ItemBaseOffset, w.InfoMarker, len(ids))
			p = newPacer(ids, uint32(*from), w.ItemBaseOffset)

		case protocol.TypeStatus:
			if p == nil {
				continue
			}
			var st protocol.StatusMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			if d, ok := p.delivered(st); ok {
				logger.Printf("delivered item=%d (%s) received=%d shard_mirror=%#02x",
					d, effects.Decode(p.itemBase, d), st.ReceivedCounter, st.ShardMirror)
			}
			item, done := p.next(st)
			if done {
				logger.Printf("done: %d items delivered", len(p.items))
				return
			}
			if item != nil {
				if err := conn.WriteJSON(item); err != nil {
					logger.Fatalf("send ITEM: %v", err)
				}
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				logger.Printf("ERROR code=%s message=%s", e.Code, e.Message)
			}
		}
	}
}
