package log

import (
	"path/filepath"
	"testing"
	"time"

	"factoryline.ai/internal/observerproto"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/factory"
	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
)

func TestTickLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	tl := NewTickLogger(dir)
	for i := uint64(1); i <= 50; i++ {
		rec := engine.TickRecord{RunID: "r", Tick: i, Digest: "d", Summary: factory.TickSummary{Tick: i, Emitted: i % 2}}
		if i == 7 {
			rec.Controls = []observerproto.Control{{Op: engine.OpToggle, StationID: "packager"}}
		}
		if err := tl.WriteTick(rec); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []engine.TickRecord
	if err := ReadTicks(dir, func(rec engine.TickRecord) error {
		got = append(got, rec)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 50 || got[49].Tick != 50 || got[6].Controls[0].StationID != "packager" {
		t.Fatalf("round trip: %d records, last %+v", len(got), got[len(got)-1])
	}
	if got[6].Snapshot != nil {
		t.Fatalf("snapshot must not be logged")
	}
}

func TestTickLogger_SplitsByTickSpan(t *testing.T) {
	dir := t.TempDir()
	tl := NewTickLoggerSpan(dir, 100)
	for i := uint64(1); i <= 250; i++ {
		if err := tl.WriteTick(engine.TickRecord{RunID: "r", Tick: i}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := tl.Close(); err != nil {
		t.Fatal(err)
	}

	files, err := TickFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"events-000000000001.jsonl.zst",
		"events-000000000101.jsonl.zst",
		"events-000000000201.jsonl.zst",
	}
	if len(files) != len(want) {
		t.Fatalf("files: got %v want %v", files, want)
	}
	for i, name := range want {
		if filepath.Base(files[i]) != name {
			t.Fatalf("file %d: got %s want %s", i, filepath.Base(files[i]), name)
		}
	}

	var last uint64
	n := 0
	if err := ReadTicks(dir, func(rec engine.TickRecord) error {
		if rec.Tick != last+1 {
			t.Fatalf("tick %d after %d", rec.Tick, last)
		}
		last = rec.Tick
		n++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if n != 250 {
		t.Fatalf("records: got %d want 250", n)
	}
}

func TestSegmentedWriter_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	w := NewSegmentedWriter(dir, "x")
	if err := w.Append("a", map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	w = NewSegmentedWriter(dir, "x")
	if err := w.Append("a", map[string]int{"n": 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	n := 0
	if err := ReadJSONLZstd(w.Path("a"), func([]byte) error { n++; return nil }); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("lines: got %d want 2", n)
	}
}

func TestAuditLogger_WritesControlsOnly(t *testing.T) {
	dir := t.TempDir()
	al := NewAuditLogger(dir)
	al.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	_ = al.WriteTick(engine.TickRecord{Tick: 1})
	_ = al.WriteTick(engine.TickRecord{Tick: 2, Controls: []observerproto.Control{{Op: engine.OpDrain, StationID: "output", Drained: 3}}})
	if err := al.Close(); err != nil {
		t.Fatal(err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "audit", "audit-*.jsonl.zst"))
	if len(files) != 1 || filepath.Base(files[0]) != "audit-2026-03-01.jsonl.zst" {
		t.Fatalf("audit files: %v", files)
	}
	n := 0
	if err := ReadJSONLZstd(files[0], func([]byte) error { n++; return nil }); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("audit lines: got %d want 1", n)
	}
}

func TestRunHeader_RoundTrip(t *testing.T) {
	dir := RunDir(t.TempDir(), "run-42")
	h := RunHeader{RunID: "run-42", Layout: layout.Default(), LayoutDigest: layout.Default().Digest(), Tuning: tuning.Defaults(), CatalogsDigest: "c"}
	if err := WriteRunHeader(dir, h); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRunHeader(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.Layout.Digest() != h.LayoutDigest || got.Tuning != h.Tuning {
		t.Fatalf("header round trip: %+v", got)
	}
}
