package main

import (
	"errors"
	"fmt"

	"kirbyam.dev/internal/sim/host"
)

var errStop = errors.New("stop")

// replayer rebuilds a host from each BOOT entry and re-steps it up to every
// FRAME entry, comparing digests.
type replayer struct {
	toFrame uint64

	h       *host.Host
	next    uint64 // next frame the host will step
	checked uint64
	boots   int
}

func (r *replayer) apply(e host.FrameLogEntry) error {
	switch e.Kind {
	case host.EntryBoot:
		if e.Boot == nil {
			return fmt.Errorf("BOOT entry without boot record")
		}
		h, err := host.New(host.Config{Tuning: host.TuningFromBoot(*e.Boot)})
		if err != nil {
			return fmt.Errorf("boot: %w", err)
		}
		if got := h.Status().Digest; e.Digest != "" && got != e.Digest {
			return fmt.Errorf("boot digest mismatch: got=%s want=%s", got, e.Digest)
		}
		r.h, r.next = h, 0
		r.boots++
		return nil

	case host.EntryFrame:
		if r.h == nil {
			return fmt.Errorf("FRAME %d before any BOOT entry", e.Frame)
		}
		if r.toFrame != 0 && e.Frame > r.toFrame {
			return errStop
		}
		if e.Frame < r.next {
			return fmt.Errorf("frame went backwards: want>=%d got=%d", r.next, e.Frame)
		}
		for r.next < e.Frame {
			r.h.StepOnce(nil)
			r.next++
		}
		frame, digest := r.h.StepOnce(e.Posted)
		r.next++
		if frame != e.Frame {
			return fmt.Errorf("internal frame mismatch: stepped=%d entry=%d", frame, e.Frame)
		}
		if digest != e.Digest {
			return fmt.Errorf("digest mismatch at frame %d: got=%s want=%s", frame, digest, e.Digest)
		}
		r.checked++
		return nil

	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
}
