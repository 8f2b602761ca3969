package main

import (
	"fmt"
	"strconv"
	"strings"

	"kirbyam.dev/internal/protocol"
	"kirbyam.dev/internal/sim/effects"
)

// pacer sends one item at a time and waits for received_counter to move
// before sending the next, so nothing is lost to mailbox overwrite.
type pacer struct {
	items []uint32
	from  uint32

	idx      int
	inFlight bool
	baseline uint32
	itemBase uint32
}

func newPacer(items []uint32, from, itemBase uint32) *pacer {
	return &pacer{items: items, from: from, itemBase: itemBase}
}

// delivered reports the in-flight item once the counter has advanced.
func (p *pacer) delivered(st protocol.StatusMsg) (uint32, bool) {
	if !p.inFlight || st.ReceivedCounter == p.baseline {
		return 0, false
	}
	p.inFlight = false
	return p.items[p.idx-1], true
}

// next returns the item to send now, if any. done is true once every item
// has been delivered.
func (p *pacer) next(st protocol.StatusMsg) (*protocol.ItemMsg, bool) {
	if p.inFlight {
		return nil, false
	}
	if p.idx >= len(p.items) {
		return nil, true
	}
	if st.Pending {
		return nil, false
	}
	id := p.items[p.idx]
	p.idx++
	p.inFlight = true
	p.baseline = st.ReceivedCounter
	return &protocol.ItemMsg{
		Type:            protocol.TypeItem,
		ProtocolVersion: protocol.Version,
		ItemID:          id,
		FromPlayer:      p.from,
	}, false
}

// parseItems accepts decimal ids and the names life and shard0..shard7. An
// empty list means every known item.
func parseItems(list string, base uint32) ([]uint32, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return effects.KnownItemIDs(base), nil
	}
	var out []uint32
	for _, tok := range strings.Split(list, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		switch {
		case tok == "life":
			id, _ := effects.ItemID(base, effects.Effect{Kind: effects.KindLife})
			out = append(out, id)
		case strings.HasPrefix(tok, "shard"):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "shard"))
			if err != nil {
				return nil, fmt.Errorf("bad item %q", tok)
			}
			id, ok := effects.ItemID(base, effects.Effect{Kind: effects.KindShard, Shard: n})
			if !ok {
				return nil, fmt.Errorf("shard index out of range: %q", tok)
			}
			out = append(out, id)
		default:
			n, err := strconv.ParseUint(tok, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad item %q", tok)
			}
			out = append(out, uint32(n))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no items in %q", list)
	}
	return out, nil
}
