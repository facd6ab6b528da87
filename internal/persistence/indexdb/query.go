package indexdb

import (
	"context"
	"fmt"
)

type Run struct {
	RunID          string `db:"run_id"`
	StartedAt      string `db:"started_at"`
	LayoutName     string `db:"layout_name"`
	LayoutDigest   string `db:"layout_digest"`
	CatalogsDigest string `db:"catalogs_digest"`
	TuningJSON     string `db:"tuning_json"`
}

type Totals struct {
	Ticks     int64  `db:"ticks"`
	LastTick  int64  `db:"last_tick"`
	Emitted   int64  `db:"emitted"`
	Dropped   int64  `db:"dropped"`
	Completed int64  `db:"completed"`
	Discarded int64  `db:"discarded"`
	LastHash  string `db:"last_digest"`
}

// Bucket is the throughput of a window of ticks starting at FromTick.
type Bucket struct {
	FromTick    int64   `db:"from_tick"`
	Completed   int64   `db:"completed"`
	Dropped     int64   `db:"dropped"`
	StalledMean float64 `db:"stalled_mean"`
}

type ControlRow struct {
	Tick      int64  `db:"tick"`
	Seq       int    `db:"seq"`
	Op        string `db:"op"`
	StationID string `db:"station_id"`
	Active    bool   `db:"active"`
	Drained   int64  `db:"drained"`
}

// Runs lists recorded runs, newest first.
func (s *SQLiteIndex) Runs(ctx context.Context) ([]Run, error) {
	var out []Run
	err := s.db.SelectContext(ctx, &out, `SELECT run_id,started_at,layout_name,layout_digest,catalogs_digest,tuning_json FROM runs ORDER BY started_at DESC, run_id`)
	return out, err
}

func (s *SQLiteIndex) Totals(ctx context.Context, runID string) (Totals, error) {
	var t Totals
	err := s.db.GetContext(ctx, &t, `SELECT
			COUNT(*) AS ticks,
			COALESCE(MAX(tick),0) AS last_tick,
			COALESCE(SUM(emitted),0) AS emitted,
			COALESCE(SUM(dropped),0) AS dropped,
			COALESCE(SUM(completed),0) AS completed,
			COALESCE(SUM(discarded),0) AS discarded,
			COALESCE((SELECT digest FROM ticks WHERE run_id = ? ORDER BY tick DESC LIMIT 1),'') AS last_digest
		FROM ticks WHERE run_id = ?`, runID, runID)
	return t, err
}

// Throughput groups a run's ticks into windows of width ticks.
func (s *SQLiteIndex) Throughput(ctx context.Context, runID string, width int64) ([]Bucket, error) {
	if width <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %d", width)
	}
	var out []Bucket
	err := s.db.SelectContext(ctx, &out, `SELECT
			((tick - 1) / ?) * ? + 1 AS from_tick,
			SUM(completed) AS completed,
			SUM(dropped) AS dropped,
			AVG(stalled) AS stalled_mean
		FROM ticks WHERE run_id = ?
		GROUP BY (tick - 1) / ?
		ORDER BY from_tick`, width, width, runID, width)
	return out, err
}

func (s *SQLiteIndex) Controls(ctx context.Context, runID string) ([]ControlRow, error) {
	var out []ControlRow
	err := s.db.SelectContext(ctx, &out, `SELECT tick,seq,op,station_id,active,drained FROM controls WHERE run_id = ? ORDER BY tick, seq`, runID)
	return out, err
}
