package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"factoryline.ai/internal/sim/engine"
)

// DefaultSegmentTicks is the tick span of one events file.
const DefaultSegmentTicks = 3600

// segment is one open compressed JSONL file.
type segment struct {
	key  string
	file *os.File
	zw   *zstd.Encoder
	bw   *bufio.Writer
	je   *json.Encoder
}

func openSegment(path, key string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	bw := bufio.NewWriterSize(zw, 128*1024)
	return &segment{key: key, file: file, zw: zw, bw: bw, je: json.NewEncoder(bw)}, nil
}

func (s *segment) close() error {
	flushErr := s.bw.Flush()
	zErr := s.zw.Close()
	fErr := s.file.Close()
	for _, err := range []error{flushErr, zErr, fErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// SegmentedWriter appends JSON lines to zstd files named
// <prefix>-<key>.jsonl.zst. A new key closes the open file and starts another.
type SegmentedWriter struct {
	dir    string
	prefix string

	mu  sync.Mutex
	cur *segment
}

func NewSegmentedWriter(dir, prefix string) *SegmentedWriter {
	return &SegmentedWriter{dir: dir, prefix: prefix}
}

// Path is the file that holds records written under key.
func (w *SegmentedWriter) Path(key string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, key))
}

// Append writes v as one line of the segment named key and flushes it.
func (w *SegmentedWriter) Append(key string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cur == nil || w.cur.key != key {
		if err := w.closeLocked(); err != nil {
			return err
		}
		seg, err := openSegment(w.Path(key), key)
		if err != nil {
			return err
		}
		w.cur = seg
	}
	if err := w.cur.je.Encode(v); err != nil {
		return err
	}
	if err := w.cur.bw.Flush(); err != nil {
		return err
	}
	return w.cur.zw.Flush()
}

func (w *SegmentedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *SegmentedWriter) closeLocked() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.close()
	w.cur = nil
	return err
}

// segmentKey names the tick span holding tick. Keys are zero padded so file
// names sort in tick order.
func segmentKey(tick, span uint64) string {
	if span == 0 {
		span = DefaultSegmentTicks
	}
	first := (tick-1)/span*span + 1
	if tick == 0 {
		first = 0
	}
	return fmt.Sprintf("%012d", first)
}

// TickLogger writes one JSONL entry per tick, one file per span of ticks.
type TickLogger struct {
	w    *SegmentedWriter
	span uint64
}

func NewTickLogger(runDir string) *TickLogger {
	return NewTickLoggerSpan(runDir, DefaultSegmentTicks)
}

func NewTickLoggerSpan(runDir string, span uint64) *TickLogger {
	if span == 0 {
		span = DefaultSegmentTicks
	}
	return &TickLogger{w: NewSegmentedWriter(filepath.Join(runDir, "events"), "events"), span: span}
}

func (l *TickLogger) WriteTick(rec engine.TickRecord) error {
	return l.w.Append(segmentKey(rec.Tick, l.span), rec)
}

func (l *TickLogger) Close() error { return l.w.Close() }

// AuditEntry is one operator control with the wall time it was applied.
type AuditEntry struct {
	RunID     string    `json:"run_id"`
	Tick      uint64    `json:"tick"`
	At        time.Time `json:"at"`
	Op        string    `json:"op"`
	StationID string    `json:"station_id"`
	Active    bool      `json:"active,omitempty"`
	Drained   uint64    `json:"drained,omitempty"`
}

// AuditLogger writes the operator controls of each tick, one file per
// wall-clock day.
type AuditLogger struct {
	w   *SegmentedWriter
	now func() time.Time
}

func NewAuditLogger(runDir string) *AuditLogger {
	return &AuditLogger{w: NewSegmentedWriter(filepath.Join(runDir, "audit"), "audit"), now: time.Now}
}

func (l *AuditLogger) WriteTick(rec engine.TickRecord) error {
	if len(rec.Controls) == 0 {
		return nil
	}
	at := l.now().UTC()
	day := at.Format("2006-01-02")
	for _, c := range rec.Controls {
		err := l.w.Append(day, AuditEntry{
			RunID:     rec.RunID,
			Tick:      rec.Tick,
			At:        at,
			Op:        c.Op,
			StationID: c.StationID,
			Active:    c.Active,
			Drained:   c.Drained,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *AuditLogger) Close() error { return l.w.Close() }
