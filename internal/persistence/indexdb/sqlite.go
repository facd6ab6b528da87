package indexdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of runs. The JSONL tick logs
// remain the source of truth; the index may drop rows under load.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTicks atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqFlush
)

type req struct {
	kind reqKind

	tick engine.TickRecord
	done chan struct{}
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTickTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
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
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			layout_name TEXT NOT NULL,
			layout_digest TEXT NOT NULL,
			catalogs_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			emitted INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			processed INTEGER NOT NULL,
			delivered INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			stalled INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS controls (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			op TEXT NOT NULL,
			station_id TEXT NOT NULL,
			active INTEGER NOT NULL,
			drained INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_controls_station ON controls(station_id, run_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTickTotal: s.dropTicks.Load(),
	}
}

// WriteTick queues a tick row. It never blocks the simulation.
func (s *SQLiteIndex) WriteTick(rec engine.TickRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	rec.Snapshot = nil
	select {
	case s.ch <- req{kind: reqTick, tick: rec}:
	default:
		s.dropTicks.Add(1)
	}
	return nil
}

// Flush waits until every queued row is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordRun stores the run header row and the catalogs it ran with.
func (s *SQLiteIndex) RecordRun(ctx context.Context, runID string, startedAt time.Time, spec layout.Spec, configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	tuneJSON, _ := json.Marshal(tune)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, err := os.ReadFile(filepath.Join(configDir, "materials.json")); err == nil {
		rows = append(rows, kv{name: "materials", digest: cats.Materials.DefsDigest, json: b})
	}
	if b, _ := json.Marshal(cats.Materials.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "materials_palette", digest: cats.Materials.PaletteDigest, json: b})
	}
	if b, err := os.ReadFile(filepath.Join(configDir, "recipes.json")); err == nil {
		rows = append(rows, kv{name: "recipes", digest: cats.Recipes.Digest, json: b})
	}
	{
		sum := sha256.Sum256(tuneJSON)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: tuneJSON})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`, r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	_, err = tx.NamedExecContext(ctx, `INSERT OR REPLACE INTO runs(run_id,started_at,layout_name,layout_digest,catalogs_digest,tuning_json)
		VALUES(:run_id,:started_at,:layout_name,:layout_digest,:catalogs_digest,:tuning_json)`, Run{
		RunID:          runID,
		StartedAt:      startedAt.UTC().Format(time.RFC3339Nano),
		LayoutName:     spec.Name,
		LayoutDigest:   spec.Digest(),
		CatalogsDigest: cats.Digest(),
		TuningJSON:     string(tuneJSON),
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Preparex(`INSERT OR REPLACE INTO ticks(run_id,tick,digest,emitted,dropped,processed,delivered,completed,discarded,stalled) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertControl, _ := s.db.Preparex(`INSERT OR REPLACE INTO controls(run_id,tick,seq,op,station_id,active,drained) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertControl != nil {
			_ = insertControl.Close()
		}
	}()

	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTxx(ctx, nil)
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
		_ = tx.Commit()
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

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		rec := r.tick
		if insertTick != nil {
			sum := rec.Summary
			if _, err := tx.Stmtx(insertTick).Exec(
				rec.RunID,
				int64(rec.Tick),
				rec.Digest,
				sum.Emitted,
				sum.Dropped,
				sum.Processed,
				sum.Delivered,
				sum.Completed,
				sum.Discarded,
				sum.Stalled,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		for i, c := range rec.Controls {
			if insertControl == nil {
				break
			}
			if _, err := tx.Stmtx(insertControl).Exec(rec.RunID, int64(rec.Tick), i, c.Op, c.StationID, c.Active, c.Drained); err != nil {
				rollback()
				break
			}
			opCount++
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
