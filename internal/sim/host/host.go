package host

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"kirbyam.dev/internal/sim/bus"
	"kirbyam.dev/internal/sim/effects"
	"kirbyam.dev/internal/sim/game"
	"kirbyam.dev/internal/sim/inbox"
	"kirbyam.dev/internal/sim/mailbox"
	"kirbyam.dev/internal/sim/tuning"
)

type Config struct {
	Tuning tuning.Tuning

	// Optional sinks.
	FrameLog FrameLogger
	Index    DeliveryIndex
	Logger   *log.Logger
}

// Host owns the game memory image and drives the mailbox once per frame.
// Memory is only touched from the goroutine calling Run or StepOnce; other
// goroutines use Post and Status.
type Host struct {
	cfg    Config
	mem    *bus.Memory
	regs   *mailbox.Registers
	writer mailbox.WriterView
	state  *game.State
	poller *mailbox.Poller
	marker [tuning.InfoMarkerSize]byte

	staged inbox.Slot[mailbox.Message]

	frame  atomic.Uint64
	status atomic.Pointer[Status]

	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config) (*Host, error) {
	t := cfg.Tuning
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	marker, err := t.InfoMarker()
	if err != nil {
		return nil, err
	}

	mem := bus.NewEWRAM()
	regs := mailbox.New(mem, uint32(t.Mailbox.Base))
	state := game.NewState(mem, uint32(t.Game.LivesAddr), uint32(t.Game.ShardFlagsAddr))
	state.Init(t.Game.InitialLives, t.Game.InitialShards)
	mem.Load(uint32(t.Info.Addr), marker[:])

	core := regs.Core()
	h := &Host{
		cfg:    cfg,
		mem:    mem,
		regs:   regs,
		writer: regs.Writer(),
		state:  state,
		poller: mailbox.NewPoller(core, effects.NewApplier(t.ItemBaseOffset, state, core)),
		stop:   make(chan struct{}),
	}

	// Report what the image holds, not what was asked for.
	copy(h.marker[:], mem.Dump(uint32(t.Info.Addr), tuning.InfoMarkerSize))

	snap := regs.Snapshot()
	h.publish(0, snap, h.digest(snap))
	h.logf("boot tick_rate_hz=%d item_base_offset=%d mailbox=%s lives=%s(%d) shard_flags=%s(%#02x) info=%s",
		t.TickRateHz, t.ItemBaseOffset, t.Mailbox.Base, t.Game.LivesAddr, t.Game.InitialLives,
		t.Game.ShardFlagsAddr, t.Game.InitialShards, t.Info.Addr)

	if cfg.FrameLog != nil {
		boot := BootRecord{
			TickRateHz:        t.TickRateHz,
			ItemBaseOffset:    t.ItemBaseOffset,
			MailboxBase:       uint32(t.Mailbox.Base),
			LivesAddr:         uint32(t.Game.LivesAddr),
			ShardFlagsAddr:    uint32(t.Game.ShardFlagsAddr),
			InitialLives:      t.Game.InitialLives,
			InitialShardFlags: t.Game.InitialShards,
			InfoAddr:          uint32(t.Info.Addr),
			InfoMarker:        t.Info.Marker,
		}
		if err := cfg.FrameLog.WriteFrame(FrameLogEntry{Kind: EntryBoot, Boot: &boot, Digest: h.status.Load().Digest}); err != nil {
			h.logf("frame log: %v", err)
		}
	}
	return h, nil
}

// TuningFromBoot rebuilds the tuning a BOOT entry was written with.
func TuningFromBoot(b BootRecord) tuning.Tuning {
	t := tuning.Defaults()
	t.TickRateHz = b.TickRateHz
	t.ItemBaseOffset = b.ItemBaseOffset
	t.Mailbox.Base = tuning.Addr(b.MailboxBase)
	t.Game.LivesAddr = tuning.Addr(b.LivesAddr)
	t.Game.ShardFlagsAddr = tuning.Addr(b.ShardFlagsAddr)
	t.Game.InitialLives = b.InitialLives
	t.Game.InitialShards = b.InitialShardFlags
	// Entries written before the info block was recorded carry a zero address.
	if b.InfoAddr != 0 {
		t.Info.Addr = tuning.Addr(b.InfoAddr)
	}
	t.Info.Marker = b.InfoMarker
	return t
}

func (h *Host) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(h.cfg.Tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case <-ticker.C:
			h.step()
		}
	}
}

func (h *Host) Stop() { h.stopOnce.Do(func() { close(h.stop) }) }

// Post stages a message for the next frame's writer phase. A message staged
// earlier and not yet written is replaced; overwrote reports that loss.
func (h *Host) Post(m mailbox.Message) (overwrote bool) {
	prev, overwrote := h.staged.Offer(m)
	if overwrote {
		h.logf("inbox overwrite: dropped item=%d from=%d", prev.ItemID, prev.FromPlayer)
	}
	return overwrote
}

// StepOnce advances a single frame with the same ordering as Run. A non-nil
// post is staged first. It is intended for deterministic replays and tests
// and must not be used while Run is active.
func (h *Host) StepOnce(post *mailbox.Message) (frame uint64, digest string) {
	if post != nil {
		h.Post(*post)
	}
	return h.step()
}

func (h *Host) Status() Status {
	return *h.status.Load()
}

func (h *Host) InfoMarker() [tuning.InfoMarkerSize]byte { return h.marker }

func (h *Host) Tuning() tuning.Tuning { return h.cfg.Tuning }

func (h *Host) step() (uint64, string) {
	frame := h.frame.Load()

	// Writer phase: the external side only writes while the slot is free.
	var posted *mailbox.Message
	if !h.writer.Busy() {
		if m, ok := h.staged.Take(); ok {
			h.writer.Post(m)
			posted = &m
		}
	}

	before := h.regs.Snapshot().ReceivedCounter
	h.poller.Poll()
	after := h.regs.Snapshot()
	digest := h.digest(after)
	h.frame.Store(frame + 1)

	var drained *Delivery
	if after.ReceivedCounter != before {
		d := h.delivery(frame, after)
		drained = &d
		h.logf("drained frame=%d item=%d from=%d effect=%s lives=%d shards=%#02x",
			frame, d.ItemID, d.FromPlayer, d.Label, d.Lives, d.ShardFlags)
		if h.cfg.Index != nil {
			h.cfg.Index.RecordDelivery(d)
		}
	}
	if h.cfg.FrameLog != nil && (posted != nil || drained != nil) {
		entry := FrameLogEntry{Kind: EntryFrame, Frame: frame, Posted: posted, Drained: drained, Digest: digest}
		if err := h.cfg.FrameLog.WriteFrame(entry); err != nil {
			h.logf("frame log: %v", err)
		}
	}

	h.publish(frame+1, after, digest)
	return frame, digest
}

func (h *Host) delivery(frame uint64, s mailbox.Snapshot) Delivery {
	e := effects.Decode(h.cfg.Tuning.ItemBaseOffset, s.DebugLastItemID)
	shard := -1
	if e.Kind == effects.KindShard {
		shard = e.Shard
	}
	return Delivery{
		Seq:        s.ReceivedCounter,
		Frame:      frame,
		ItemID:     s.DebugLastItemID,
		FromPlayer: s.DebugLastFrom,
		Effect:     e.Kind.String(),
		Label:      e.String(),
		ShardIndex: shard,
		Lives:      h.state.Lives(),
		ShardFlags: h.state.ShardFlags(),
	}
}

func (h *Host) publish(frame uint64, regs mailbox.Snapshot, digest string) {
	offered, displaced := h.staged.Stats()
	h.status.Store(&Status{
		Frame:          frame,
		Registers:      regs,
		Lives:          h.state.Lives(),
		ShardFlags:     h.state.ShardFlags(),
		InboxQueued:    h.staged.Len() > 0,
		InboxOffered:   offered,
		InboxDisplaced: displaced,
		Digest:         digest,
	})
}

// digest hashes the eight registers followed by lives and shard flags.
func (h *Host) digest(regs mailbox.Snapshot) string {
	var buf [mailbox.Size + 2]byte
	for i, w := range regs.Words() {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	buf[mailbox.Size] = h.state.Lives()
	buf[mailbox.Size+1] = h.state.ShardFlags()
	sum := sha256.Sum256(buf[:])
	return hex.EncodeToString(sum[:])
}

func (h *Host) logf(format string, args ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Printf(format, args...)
	}
}
