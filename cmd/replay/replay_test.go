package main

import (
	"strings"
	"sync"
	"testing"

	"kirbyam.dev/internal/sim/host"
	"kirbyam.dev/internal/sim/mailbox"
	"kirbyam.dev/internal/sim/tuning"
)

type memLog struct {
	mu      sync.Mutex
	entries []host.FrameLogEntry
}

func (m *memLog) WriteFrame(e host.FrameLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func record(t *testing.T, tune tuning.Tuning, script map[int]mailbox.Message, frames int) []host.FrameLogEntry {
	t.Helper()
	l := &memLog{}
	h, err := host.New(host.Config{Tuning: tune, FrameLog: l})
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	for i := 0; i < frames; i++ {
		if m, ok := script[i]; ok {
			h.Post(m)
		}
		h.StepOnce(nil)
	}
	return l.entries
}

func TestReplay_MatchesRecordedRun(t *testing.T) {
	tune := tuning.Defaults()
	tune.Game.InitialLives = 254
	entries := record(t, tune, map[int]mailbox.Message{
		3:  {ItemID: 3860001, FromPlayer: 1},
		4:  {ItemID: 3860001, FromPlayer: 1},
		10: {ItemID: 3860009, FromPlayer: 2},
		11: {ItemID: 7, FromPlayer: 3},
	}, 20)
	if len(entries) != 5 {
		t.Fatalf("entries=%d", len(entries))
	}

	r := &replayer{}
	for _, e := range entries {
		if err := r.apply(e); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if r.checked != 4 || r.boots != 1 {
		t.Fatalf("checked=%d boots=%d", r.checked, r.boots)
	}
	if st := r.h.Status(); st.Lives != 255 || st.ShardFlags != 0x80 {
		t.Fatalf("replayed state=%+v", st)
	}
}

func TestReplay_DetectsTamperedDigest(t *testing.T) {
	entries := record(t, tuning.Defaults(), map[int]mailbox.Message{2: {ItemID: 3860003, FromPlayer: 1}}, 5)
	entries[1].Digest = strings.Repeat("0", 64)

	r := &replayer{}
	if err := r.apply(entries[0]); err != nil {
		t.Fatalf("boot: %v", err)
	}
	err := r.apply(entries[1])
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at frame 2") {
		t.Fatalf("err=%v", err)
	}
}

func TestReplay_StopsAtToFrame(t *testing.T) {
	entries := record(t, tuning.Defaults(), map[int]mailbox.Message{
		1: {ItemID: 3860002, FromPlayer: 1},
		8: {ItemID: 3860003, FromPlayer: 1},
	}, 10)

	r := &replayer{toFrame: 5}
	var stopErr error
	for _, e := range entries {
		if stopErr = r.apply(e); stopErr != nil {
			break
		}
	}
	if stopErr != errStop || r.checked != 1 {
		t.Fatalf("err=%v checked=%d", stopErr, r.checked)
	}
}

func TestReplay_FrameBeforeBoot(t *testing.T) {
	r := &replayer{}
	if err := r.apply(host.FrameLogEntry{Kind: host.EntryFrame, Frame: 1}); err == nil {
		t.Fatalf("expected error")
	}
}
