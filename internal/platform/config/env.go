package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Server holds the environment-driven knobs of cmd/server. Memory layout
// lives in ram.yaml, not here.
type Server struct {
	HostID string `env:"KIRBYAM_HOST_ID" envDefault:"host_1"`

	IndexBackend    string `env:"KIRBYAM_INDEX_BACKEND" envDefault:"sqlite"`
	IngestURL       string `env:"KIRBYAM_INDEX_INGEST_URL"`
	IngestToken     string `env:"KIRBYAM_INDEX_INGEST_TOKEN"`
	IngestBatchSize int    `env:"KIRBYAM_INDEX_INGEST_BATCH_SIZE" envDefault:"64"`
	IngestFlushMS   int    `env:"KIRBYAM_INDEX_INGEST_FLUSH_MS" envDefault:"500"`

	FrameLog         bool `env:"KIRBYAM_FRAME_LOG" envDefault:"true"`
	StatusIntervalMS int  `env:"KIRBYAM_STATUS_INTERVAL_MS" envDefault:"100"`

	EnablePprofHTTP bool `env:"KIRBYAM_ENABLE_PPROF_HTTP"`
}

// LoadServer parses Server from the environment and normalizes it.
func LoadServer() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.IndexBackend = strings.ToLower(strings.TrimSpace(cfg.IndexBackend))
	switch cfg.IndexBackend {
	case "", "sqlite":
		cfg.IndexBackend = "sqlite"
	case "none", "off", "disabled":
		cfg.IndexBackend = "none"
	case "ingest":
		if strings.TrimSpace(cfg.IngestURL) == "" {
			return cfg, fmt.Errorf("KIRBYAM_INDEX_BACKEND=ingest but KIRBYAM_INDEX_INGEST_URL is empty")
		}
	default:
		return cfg, fmt.Errorf("unsupported KIRBYAM_INDEX_BACKEND: %s", cfg.IndexBackend)
	}
	if cfg.StatusIntervalMS <= 0 {
		cfg.StatusIntervalMS = 100
	}
	return cfg, nil
}
