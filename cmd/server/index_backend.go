package main

import (
	"log"
	"path/filepath"
	"time"

	"kirbyam.dev/internal/persistence/indexdb"
	"kirbyam.dev/internal/platform/config"
	"kirbyam.dev/internal/sim/host"
	"kirbyam.dev/internal/sim/tuning"
)

type runtimeIndex interface {
	host.DeliveryIndex
	Close() error
	UpsertTuning(tune tuning.Tuning) error
}

func openRuntimeIndex(dataDir string, env config.Server, logger *log.Logger) (runtimeIndex, error) {
	switch env.IndexBackend {
	case "none":
		return nil, nil
	case "ingest":
		return indexdb.OpenIngest(indexdb.IngestConfig{
			Endpoint:      env.IngestURL,
			Token:         env.IngestToken,
			HostID:        env.HostID,
			BatchSize:     env.IngestBatchSize,
			FlushInterval: time.Duration(env.IngestFlushMS) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "deliveries.sqlite"))
	}
}

// indexStatsFunc adapts the backend's queue counters for /metrics.
func indexStatsFunc(idx runtimeIndex) func() indexMetrics {
	switch v := idx.(type) {
	case *indexdb.SQLiteIndex:
		return func() indexMetrics {
			s := v.Stats()
			return indexMetrics{Backend: "sqlite", QueueDepth: s.QueueDepth, Dropped: s.DroppedTotal, Written: s.WrittenTotal}
		}
	case *indexdb.IngestIndex:
		return func() indexMetrics {
			s := v.Stats()
			return indexMetrics{Backend: "ingest", QueueDepth: s.QueueDepth, Dropped: s.QueueDroppedTotal, Written: s.SentTotal, FlushFail: s.FlushFailTotal}
		}
	}
	return nil
}
