package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	persistlog "kirbyam.dev/internal/persistence/log"
	"kirbyam.dev/internal/sim/host"
	"kirbyam.dev/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "frames":
			framesCmd(os.Args[2:])
			return
		case "ram":
			ramCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "hosts"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

// framesCmd prints every frame log entry as one JSON line.
func framesCmd(args []string) {
	fs := flag.NewFlagSet("frames", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	hostID := fs.String("host", "host_1", "host id")
	eventsDir := fs.String("events", "", "events dir (optional; overrides -data/-host)")
	drainedOnly := fs.Bool("drained", false, "only print frames that drained a message")
	_ = fs.Parse(args)

	dir := *eventsDir
	if dir == "" {
		dir = persistlog.FrameDir(filepath.Join(*dataDir, "hosts", *hostID))
	}
	files, err := persistlog.ListFrameFiles(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, path := range files {
		err := persistlog.ReadFrameFile(path, func(e host.FrameLogEntry) error {
			if *drainedOnly && e.Drained == nil {
				return nil
			}
			return enc.Encode(e)
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
}

// ramCmd validates a ram.yaml and prints the resolved layout.
func ramCmd(args []string) {
	fs := flag.NewFlagSet("ram", flag.ExitOnError)
	path := fs.String("ram", "./configs/ram.yaml", "path to ram.yaml")
	_ = fs.Parse(args)

	tune, err := tuning.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	b, err := renderLayout(tune)
	if err != nil {
		fmt.Fprintln(os.Stderr, "render:", err)
		os.Exit(1)
	}
	_, _ = os.Stdout.Write(b)
}

func renderLayout(t tuning.Tuning) ([]byte, error) {
	return yaml.Marshal(t)
}
