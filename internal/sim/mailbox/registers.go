package mailbox

import "kirbyam.dev/internal/sim/bus"

// Register offsets from the block base. Every register is a little-endian u32.
const (
	OffShardMirror     = 0x00
	OffPendingFlag     = 0x04
	OffItemID          = 0x08
	OffFromPlayer      = 0x0C
	OffReceivedCounter = 0x10
	OffDebugLastItemID = 0x14
	OffDebugLastFrom   = 0x18
	OffFrameCounter    = 0x1C

	Size = 0x20
)

// Message is one item handoff from the external writer.
type Message struct {
	ItemID     uint32 `json:"item_id"`
	FromPlayer uint32 `json:"from_player"`
}

// Registers overlays the register block at a fixed base address.
// Field access goes through CoreView or WriterView, which expose disjoint
// write sets.
type Registers struct {
	bus  bus.Bus
	base uint32
}

func New(b bus.Bus, base uint32) *Registers {
	return &Registers{bus: b, base: base}
}

func (r *Registers) Base() uint32 { return r.base }

func (r *Registers) Core() CoreView     { return CoreView{r: r} }
func (r *Registers) Writer() WriterView { return WriterView{r: r} }

func (r *Registers) read(off uint32) uint32     { return r.bus.ReadU32(r.base + off) }
func (r *Registers) write(off uint32, v uint32) { r.bus.WriteU32(r.base+off, v) }

// Snapshot is a read-only copy of all eight registers.
type Snapshot struct {
	ShardMirror     uint32 `json:"shard_mirror"`
	PendingFlag     uint32 `json:"pending_flag"`
	ItemID          uint32 `json:"item_id"`
	FromPlayer      uint32 `json:"from_player"`
	ReceivedCounter uint32 `json:"received_counter"`
	DebugLastItemID uint32 `json:"debug_last_item_id"`
	DebugLastFrom   uint32 `json:"debug_last_from"`
	FrameCounter    uint32 `json:"frame_counter"`
}

func (r *Registers) Snapshot() Snapshot {
	return Snapshot{
		ShardMirror:     r.read(OffShardMirror),
		PendingFlag:     r.read(OffPendingFlag),
		ItemID:          r.read(OffItemID),
		FromPlayer:      r.read(OffFromPlayer),
		ReceivedCounter: r.read(OffReceivedCounter),
		DebugLastItemID: r.read(OffDebugLastItemID),
		DebugLastFrom:   r.read(OffDebugLastFrom),
		FrameCounter:    r.read(OffFrameCounter),
	}
}

// Words returns the registers in offset order.
func (s Snapshot) Words() [Size / 4]uint32 {
	return [Size / 4]uint32{
		s.ShardMirror, s.PendingFlag, s.ItemID, s.FromPlayer,
		s.ReceivedCounter, s.DebugLastItemID, s.DebugLastFrom, s.FrameCounter,
	}
}

// CoreView is the game-side half of the contract. It may clear the pending
// flag and owns the counters, debug mirrors and shard mirror.
type CoreView struct{ r *Registers }

func (c CoreView) TickFrame() {
	c.r.write(OffFrameCounter, c.r.read(OffFrameCounter)+1)
}

// Pending is true only when the flag holds exactly 1.
func (c CoreView) Pending() bool { return c.r.read(OffPendingFlag) == 1 }

func (c CoreView) Payload() Message {
	return Message{ItemID: c.r.read(OffItemID), FromPlayer: c.r.read(OffFromPlayer)}
}

func (c CoreView) CountReceived() {
	c.r.write(OffReceivedCounter, c.r.read(OffReceivedCounter)+1)
}

func (c CoreView) MirrorLast(m Message) {
	c.r.write(OffDebugLastItemID, m.ItemID)
	c.r.write(OffDebugLastFrom, m.FromPlayer)
}

// OrShardMirror sets bits in the shard mirror; bits are never cleared.
func (c CoreView) OrShardMirror(mask uint32) {
	c.r.write(OffShardMirror, c.r.read(OffShardMirror)|mask)
}

func (c CoreView) Ack() { c.r.write(OffPendingFlag, 0) }

// WriterView is the external client's half: it writes the payload and
// raises the flag, and may read anything for diagnostics.
type WriterView struct{ r *Registers }

// Post writes the payload and then raises the flag. A message that is still
// pending is overwritten without trace.
func (w WriterView) Post(m Message) {
	w.r.write(OffItemID, m.ItemID)
	w.r.write(OffFromPlayer, m.FromPlayer)
	w.r.write(OffPendingFlag, 1)
}

// Busy reports a non-zero flag, i.e. the core has not yet consumed the slot.
func (w WriterView) Busy() bool { return w.r.read(OffPendingFlag) != 0 }
