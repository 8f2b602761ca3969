package config

import (
	"strings"
	"testing"
)

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.IndexBackend != "sqlite" || cfg.HostID != "host_1" || !cfg.FrameLog || cfg.StatusIntervalMS != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.IngestBatchSize != 64 || cfg.IngestFlushMS != 500 {
		t.Fatalf("unexpected ingest defaults: %+v", cfg)
	}
}

func TestLoadServer_Overrides(t *testing.T) {
	t.Setenv("KIRBYAM_INDEX_BACKEND", " OFF ")
	t.Setenv("KIRBYAM_FRAME_LOG", "false")
	t.Setenv("KIRBYAM_STATUS_INTERVAL_MS", "0")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.IndexBackend != "none" || cfg.FrameLog || cfg.StatusIntervalMS != 100 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadServer_IngestNeedsURL(t *testing.T) {
	t.Setenv("KIRBYAM_INDEX_BACKEND", "ingest")
	if _, err := LoadServer(); err == nil || !strings.Contains(err.Error(), "INGEST_URL") {
		t.Fatalf("expected missing url error, got %v", err)
	}
	t.Setenv("KIRBYAM_INDEX_INGEST_URL", "http://127.0.0.1:9/ingest")
	if _, err := LoadServer(); err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
}

func TestLoadServer_UnknownBackend(t *testing.T) {
	t.Setenv("KIRBYAM_INDEX_BACKEND", "postgres")
	if _, err := LoadServer(); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("KIRBYAM_STATUS_INTERVAL_MS", "not-an-int")
	var cfg Server
	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
