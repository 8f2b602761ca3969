package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	persistlog "kirbyam.dev/internal/persistence/log"
)

func main() {
	var (
		eventsDir = flag.String("events", "", "events dir containing frames-*.jsonl.zst")
		toFrame   = flag.Uint64("to_frame", 0, "stop after this frame (inclusive, optional)")
	)
	flag.Parse()

	if *eventsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -events")
		os.Exit(2)
	}

	files, err := persistlog.ListFrameFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no frame files found in", *eventsDir)
		os.Exit(1)
	}

	r := &replayer{toFrame: *toFrame}
	for _, path := range files {
		if err := persistlog.ReadFrameFile(path, r.apply); err != nil {
			if errors.Is(err, errStop) {
				break
			}
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d frames boots=%d\n", r.checked, r.boots)
}
