package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"kirbyam.dev/internal/sim/host"
	"kirbyam.dev/internal/sim/tuning"
)

// SQLiteIndex is a secondary, queryable index of drained deliveries. Writes
// are queued and applied by a single writer goroutine; the frame log stays
// the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan host.Delivery
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed against a concurrent send on ch.
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	written atomic.Uint64
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DroppedTotal  uint64 `json:"dropped_total"`
	WrittenTotal  uint64 `json:"written_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan host.Delivery, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			frame INTEGER NOT NULL,
			item_id INTEGER NOT NULL,
			from_player INTEGER NOT NULL,
			effect TEXT NOT NULL,
			label TEXT NOT NULL,
			shard_index INTEGER NOT NULL,
			lives INTEGER NOT NULL,
			shard_flags INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_from ON deliveries(from_player, id);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_item ON deliveries(item_id, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordDelivery never blocks the frame loop; it drops when the writer lags.
func (s *SQLiteIndex) RecordDelivery(d host.Delivery) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- d:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DroppedTotal:  s.dropped.Load(),
		WrittenTotal:  s.written.Load(),
	}
}

// UpsertTuning stores the tuning the host runs with, keyed by its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, fmt.Sprint(tuning.SchemaVersion)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentDeliveries returns up to limit deliveries, newest first.
func (s *SQLiteIndex) RecentDeliveries(ctx context.Context, limit int) ([]host.Delivery, error) {
	return s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM deliveries ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// DeliveriesFrom returns up to limit deliveries sent by one player, newest first.
func (s *SQLiteIndex) DeliveriesFrom(ctx context.Context, fromPlayer uint32, limit int) ([]host.Delivery, error) {
	return s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE from_player=? ORDER BY id DESC LIMIT ?`, fromPlayer, clampLimit(limit))
}

const deliveryColumns = `seq,frame,item_id,from_player,effect,label,shard_index,lives,shard_flags`

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func (s *SQLiteIndex) queryDeliveries(ctx context.Context, query string, args ...any) ([]host.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []host.Delivery
	for rows.Next() {
		var (
			d     host.Delivery
			frame int64
		)
		if err := rows.Scan(&d.Seq, &frame, &d.ItemID, &d.FromPlayer, &d.Effect, &d.Label, &d.ShardIndex, &d.Lives, &d.ShardFlags); err != nil {
			return nil, err
		}
		d.Frame = uint64(frame)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insert, _ := s.db.Prepare(`INSERT INTO deliveries(seq,frame,item_id,from_player,effect,label,shard_index,lives,shard_flags,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err == nil {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		select {
		case d, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil || insert == nil {
				s.dropped.Add(1)
				continue
			}
			if _, err := tx.Stmt(insert).Exec(
				d.Seq,
				int64(d.Frame),
				d.ItemID,
				d.FromPlayer,
				d.Effect,
				d.Label,
				d.ShardIndex,
				d.Lives,
				d.ShardFlags,
				time.Now().UTC().Format(time.RFC3339Nano),
			); err != nil {
				rollback()
				continue
			}
			opCount++
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-idle.C:
			// Deliveries are sparse; don't leave a quiet batch uncommitted.
			commit()
		}
	}
}
