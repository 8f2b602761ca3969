package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "kirbyam.dev/internal/persistence/log"
	"kirbyam.dev/internal/platform/config"
	"kirbyam.dev/internal/sim/host"
	"kirbyam.dev/internal/sim/tuning"
	"kirbyam.dev/internal/transport/ws"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "http listen address")
		configDir = flag.String("configs", "./configs", "config directory")
		ramPath   = flag.String("ram", "", "path to ram.yaml (default: <configs>/ram.yaml)")
		dataDir   = flag.String("data", "./data", "runtime data directory")
	)
	flag.Parse()

	// Registered first so it runs after every other deferred close.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	env, err := config.LoadServer()
	if err != nil {
		config.Exitf("env: %v", err)
	}

	rp := strings.TrimSpace(*ramPath)
	if rp == "" {
		rp = filepath.Join(*configDir, "ram.yaml")
	}
	tune, err := tuning.Load(rp)
	if err != nil {
		if !os.IsNotExist(err) {
			config.Exitf("load ram layout: %v", err)
		}
		logger.Printf("ram layout not found (%s); using defaults", rp)
		tune = tuning.Defaults()
	}

	hostDir := filepath.Join(*dataDir, "hosts", env.HostID)
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		config.Exitf("data dir: %v", err)
	}

	// Optional read-model index; frame determinism does not depend on it.
	idx, err := openRuntimeIndex(hostDir, env, logger)
	if err != nil {
		config.Exitf("open index backend: %v", err)
	}
	hcfg := host.Config{Tuning: tune, Logger: logger}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
		hcfg.Index = idx
	}
	if env.FrameLog {
		frameLog := persistlog.NewFrameLogger(hostDir)
		defer frameLog.Close()
		hcfg.FrameLog = frameLog
	}

	h, err := host.New(hcfg)
	if err != nil {
		config.Exitf("host: %v", err)
	}
	logger.Printf("host=%s index=%s frame_log=%v data=%s", env.HostID, env.IndexBackend, env.FrameLog, hostDir)

	ctx, cancel := signalContext()
	defer cancel()

	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		if err := h.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("host stopped: %v", err)
		}
	}()

	deps := routeDeps{
		HostID:     env.HostID,
		Host:       h,
		IndexStats: indexStatsFunc(idx),
		WS:         ws.NewServer(h, logger, time.Duration(env.StatusIntervalMS)*time.Millisecond).Handler(),
		Pprof:      env.EnablePprofHTTP,
	}
	if q, ok := idx.(deliveryQuerier); ok {
		deps.Deliveries = q
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		exitCode = 1
	}
	// The index and frame log close on return; no step may still be writing to them.
	cancel()
	<-hostDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
