// Package effects decodes delivered item ids and applies them to game state.
//
// Every effect is monotone and idempotent: lives saturate at MaxLives and
// shard bits are only ever set. Re-applying any item is always safe.
package effects

import "fmt"

const (
	MaxLives   uint8 = 255
	ShardCount       = 8
)

// Item id offsets relative to the shared base.
const (
	OffsetLife       = 1
	OffsetShardFirst = 2
	OffsetShardLast  = OffsetShardFirst + ShardCount - 1
)

type Kind uint8

const (
	KindNone Kind = iota
	KindLife
	KindShard
)

func (k Kind) String() string {
	switch k {
	case KindLife:
		return "LIFE"
	case KindShard:
		return "SHARD"
	default:
		return "NONE"
	}
}

// Effect is the decoded meaning of an item id.
type Effect struct {
	Kind  Kind
	Shard int // 0..7 when Kind == KindShard
}

func (e Effect) String() string {
	switch e.Kind {
	case KindLife:
		return "1 Up"
	case KindShard:
		return fmt.Sprintf("Shard %d", e.Shard+1)
	default:
		return "none"
	}
}

// ShardMask is the bit for a shard effect, 0 otherwise.
func (e Effect) ShardMask() uint8 {
	if e.Kind != KindShard {
		return 0
	}
	return 1 << uint(e.Shard)
}

// Decode maps an item id onto an effect. Ids outside base+1..base+9 decode to KindNone.
func Decode(base, itemID uint32) Effect {
	if itemID < base {
		return Effect{}
	}
	rel := uint64(itemID) - uint64(base)
	switch {
	case rel == OffsetLife:
		return Effect{Kind: KindLife}
	case rel >= OffsetShardFirst && rel <= OffsetShardLast:
		return Effect{Kind: KindShard, Shard: int(rel - OffsetShardFirst)}
	default:
		return Effect{}
	}
}

// ItemID is the inverse of Decode for known effects.
func ItemID(base uint32, e Effect) (uint32, bool) {
	switch e.Kind {
	case KindLife:
		return base + OffsetLife, true
	case KindShard:
		if e.Shard < 0 || e.Shard >= ShardCount {
			return 0, false
		}
		return base + OffsetShardFirst + uint32(e.Shard), true
	default:
		return 0, false
	}
}

// KnownItemIDs lists every id with an effect, in ascending order.
func KnownItemIDs(base uint32) []uint32 {
	out := make([]uint32, 0, 1+ShardCount)
	for rel := uint32(OffsetLife); rel <= OffsetShardLast; rel++ {
		out = append(out, base+rel)
	}
	return out
}

// GameState is the game-owned memory this package mutates.
type GameState interface {
	Lives() uint8
	SetLives(v uint8)
	OrShardFlags(mask uint8)
}

// ShardMirror receives a copy of every shard bit that is granted.
type ShardMirror interface {
	OrShardMirror(mask uint32)
}

type Applier struct {
	base   uint32
	state  GameState
	mirror ShardMirror
}

func NewApplier(base uint32, state GameState, mirror ShardMirror) *Applier {
	return &Applier{base: base, state: state, mirror: mirror}
}

// Apply is total: unknown ids are a no-op.
func (a *Applier) Apply(itemID uint32) {
	e := Decode(a.base, itemID)
	switch e.Kind {
	case KindLife:
		if lives := a.state.Lives(); lives < MaxLives {
			a.state.SetLives(lives + 1)
		}
	case KindShard:
		mask := e.ShardMask()
		if a.mirror != nil {
			a.mirror.OrShardMirror(uint32(mask))
		}
		a.state.OrShardFlags(mask)
	}
}
