package host

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"kirbyam.dev/internal/sim/mailbox"
	"kirbyam.dev/internal/sim/tuning"
)

const base = 3860000

type recordingLog struct {
	mu      sync.Mutex
	entries []FrameLogEntry
}

func (r *recordingLog) WriteFrame(e FrameLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingLog) all() []FrameLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FrameLogEntry(nil), r.entries...)
}

type recordingIndex struct {
	mu sync.Mutex
	ds []Delivery
}

func (r *recordingIndex) RecordDelivery(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ds = append(r.ds, d)
}

func newTestHost(t *testing.T, cfg Config) *Host {
	t.Helper()
	if cfg.Tuning.SchemaVersion == 0 {
		cfg.Tuning = tuning.Defaults()
	}
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestNew_BootState(t *testing.T) {
	tune := tuning.Defaults()
	tune.Game.InitialLives = 5
	tune.Info.Marker = "4b4952425941"
	fl := &recordingLog{}
	h := newTestHost(t, Config{Tuning: tune, FrameLog: fl})

	st := h.Status()
	if st.Frame != 0 || st.Lives != 5 || st.ShardFlags != 0 {
		t.Fatalf("unexpected boot status: %+v", st)
	}
	if st.Registers != (mailbox.Snapshot{}) {
		t.Fatalf("registers should start zeroed: %+v", st.Registers)
	}
	marker := h.InfoMarker()
	if string(marker[:6]) != "KIRBYA" {
		t.Fatalf("marker=%x", marker)
	}
	if got := h.mem.Dump(uint32(tune.Info.Addr), tuning.InfoMarkerSize); !bytes.Equal(got, marker[:]) {
		t.Fatalf("marker not written to memory: %x", got)
	}

	entries := fl.all()
	if len(entries) != 1 || entries[0].Kind != EntryBoot || entries[0].Boot == nil {
		t.Fatalf("expected one BOOT entry, got %+v", entries)
	}
	if entries[0].Boot.InitialLives != 5 || entries[0].Digest != st.Digest {
		t.Fatalf("boot entry mismatch: %+v", entries[0])
	}
}

func TestNew_RejectsInvalidTuning(t *testing.T) {
	tune := tuning.Defaults()
	tune.TickRateHz = 0
	if _, err := New(Config{Tuning: tune}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStepOnce_DeliversInSameFrame(t *testing.T) {
	idx := &recordingIndex{}
	fl := &recordingLog{}
	h := newTestHost(t, Config{Index: idx, FrameLog: fl})

	frame, _ := h.StepOnce(&mailbox.Message{ItemID: base + 1, FromPlayer: 2})
	if frame != 0 {
		t.Fatalf("frame=%d", frame)
	}
	st := h.Status()
	if st.Lives != 4 {
		t.Fatalf("lives=%d", st.Lives)
	}
	r := st.Registers
	if r.PendingFlag != 0 || r.ReceivedCounter != 1 || r.DebugLastItemID != base+1 || r.DebugLastFrom != 2 || r.FrameCounter != 1 {
		t.Fatalf("registers=%+v", r)
	}
	if len(idx.ds) != 1 || idx.ds[0].Effect != "LIFE" || idx.ds[0].Seq != 1 || idx.ds[0].ShardIndex != -1 {
		t.Fatalf("deliveries=%+v", idx.ds)
	}

	entries := fl.all()
	if len(entries) != 2 {
		t.Fatalf("entries=%d", len(entries))
	}
	fr := entries[1]
	if fr.Kind != EntryFrame || fr.Posted == nil || fr.Drained == nil || fr.Digest != st.Digest {
		t.Fatalf("frame entry=%+v", fr)
	}
}

func TestStepOnce_IdleFramesAreNotLogged(t *testing.T) {
	fl := &recordingLog{}
	h := newTestHost(t, Config{FrameLog: fl})
	for i := 0; i < 10; i++ {
		h.StepOnce(nil)
	}
	if n := len(fl.all()); n != 1 {
		t.Fatalf("expected only the BOOT entry, got %d", n)
	}
	if st := h.Status(); st.Frame != 10 || st.Registers.FrameCounter != 10 {
		t.Fatalf("status=%+v", st)
	}
}

func TestStepOnce_ShardSetsFlagAndMirror(t *testing.T) {
	idx := &recordingIndex{}
	h := newTestHost(t, Config{Index: idx})
	h.StepOnce(&mailbox.Message{ItemID: base + 5, FromPlayer: 9})

	st := h.Status()
	if st.ShardFlags != 0x08 || st.Registers.ShardMirror != 0x08 {
		t.Fatalf("flags=%#x mirror=%#x", st.ShardFlags, st.Registers.ShardMirror)
	}
	if idx.ds[0].ShardIndex != 3 || idx.ds[0].Label != "Shard 4" {
		t.Fatalf("delivery=%+v", idx.ds[0])
	}
}

func TestPost_OverwriteLosesEarlierMessage(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHost(t, Config{Logger: log.New(&buf, "", 0)})

	if h.Post(mailbox.Message{ItemID: base + 2, FromPlayer: 1}) {
		t.Fatalf("first post should not overwrite")
	}
	if !h.Post(mailbox.Message{ItemID: base + 1, FromPlayer: 1}) {
		t.Fatalf("second post should overwrite")
	}
	if !strings.Contains(buf.String(), "inbox overwrite: dropped item=3860002") {
		t.Fatalf("log=%q", buf.String())
	}

	h.StepOnce(nil)
	st := h.Status()
	if st.Lives != 4 || st.ShardFlags != 0 {
		t.Fatalf("only the later message should land: %+v", st)
	}
	if st.InboxOffered != 2 || st.InboxDisplaced != 1 || st.InboxQueued {
		t.Fatalf("inbox stats=%+v", st)
	}
}

func TestStep_StagedMessageWaitsWhileFlagBusy(t *testing.T) {
	h := newTestHost(t, Config{})
	// A foreign value the core does not treat as pending.
	h.mem.WriteU32(h.regs.Base()+mailbox.OffPendingFlag, 2)

	h.Post(mailbox.Message{ItemID: base + 1, FromPlayer: 1})
	h.StepOnce(nil)
	st := h.Status()
	if st.Lives != 3 || st.Registers.ReceivedCounter != 0 || !st.InboxQueued {
		t.Fatalf("message must stay staged: %+v", st)
	}

	h.mem.WriteU32(h.regs.Base()+mailbox.OffPendingFlag, 0)
	h.StepOnce(nil)
	if st := h.Status(); st.Lives != 4 || st.InboxQueued {
		t.Fatalf("message should land once the flag clears: %+v", st)
	}
}

func TestDigest_Deterministic(t *testing.T) {
	script := []*mailbox.Message{
		{ItemID: base + 1, FromPlayer: 1}, nil, nil,
		{ItemID: base + 9, FromPlayer: 2}, nil,
		{ItemID: 42, FromPlayer: 3},
		{ItemID: base + 2, FromPlayer: 4},
	}
	run := func() []string {
		h := newTestHost(t, Config{})
		var out []string
		for _, m := range script {
			_, d := h.StepOnce(m)
			out = append(out, d)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("digest mismatch at frame %d", i)
		}
	}
	if a[0] == a[1] {
		t.Fatalf("frame counter should change the digest")
	}
}

func TestTuningFromBoot_RoundTrip(t *testing.T) {
	fl := &recordingLog{}
	tune := tuning.Defaults()
	tune.Game.InitialLives = 7
	tune.Game.InitialShards = 0x21
	h := newTestHost(t, Config{Tuning: tune, FrameLog: fl})

	boot := fl.all()[0]
	h2, err := New(Config{Tuning: TuningFromBoot(*boot.Boot)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if h2.Status().Digest != h.Status().Digest {
		t.Fatalf("rebuilt host digest differs")
	}
}

func TestTuningFromBoot_KeepsInfoBlock(t *testing.T) {
	fl := &recordingLog{}
	tune := tuning.Defaults()
	// Mailbox moved onto the default info address; info moved out of its way.
	tune.Mailbox.Base = 0x0202C100
	tune.Info.Addr = 0x0202D000
	tune.Info.Marker = "4b4952"
	h := newTestHost(t, Config{Tuning: tune, FrameLog: fl})

	rebuilt := TuningFromBoot(*fl.all()[0].Boot)
	if rebuilt.Info != tune.Info {
		t.Fatalf("info=%+v want %+v", rebuilt.Info, tune.Info)
	}
	h2, err := New(Config{Tuning: rebuilt})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if h2.InfoMarker() != h.InfoMarker() {
		t.Fatalf("marker=%x want %x", h2.InfoMarker(), h.InfoMarker())
	}
	if h2.Status().Digest != h.Status().Digest {
		t.Fatalf("rebuilt host digest differs")
	}
}

func TestRun_DeliversPostedMessage(t *testing.T) {
	tune := tuning.Defaults()
	tune.TickRateHz = 1000
	h := newTestHost(t, Config{Tuning: tune})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	h.Post(mailbox.Message{ItemID: base + 3, FromPlayer: 1})
	for h.Status().Registers.ReceivedCounter == 0 {
		if ctx.Err() != nil {
			t.Fatalf("timed out waiting for delivery")
		}
		time.Sleep(time.Millisecond)
	}
	if st := h.Status(); st.ShardFlags != 0x02 {
		t.Fatalf("shard flags=%#x", st.ShardFlags)
	}

	h.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	h := newTestHost(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}
