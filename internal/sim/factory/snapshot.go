package factory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// QueueSnapshot is a read-only copy of a bounded queue.
type QueueSnapshot struct {
	Items []Kind `json:"items"`
	Cap   int    `json:"cap"`
}

type ProcessingSnapshot struct {
	Material Kind    `json:"material"`
	Elapsed  int     `json:"elapsed"`
	Required int     `json:"required"`
	Progress float64 `json:"progress"`
}

// StationSnapshot is everything a renderer may read about a station.
type StationSnapshot struct {
	ID         string              `json:"id"`
	Kind       StationKind         `json:"kind"`
	Pos        Pos                 `json:"pos"`
	Active     bool                `json:"active"`
	Stalled    bool                `json:"stalled,omitempty"`
	Input      QueueSnapshot       `json:"input"`
	Output     QueueSnapshot       `json:"output"`
	Processing *ProcessingSnapshot `json:"processing,omitempty"`

	ExtractionTimer int             `json:"extraction_timer,omitempty"`
	Staged          map[Kind]int    `json:"staged,omitempty"`
	Emitted         uint64          `json:"emitted,omitempty"`
	Dropped         uint64          `json:"dropped,omitempty"`
	Processed       uint64          `json:"processed,omitempty"`
	Discarded       uint64          `json:"discarded,omitempty"`
	Completed       uint64          `json:"completed,omitempty"`
	Pending         uint64          `json:"pending,omitempty"`
	Rejected        map[Kind]uint64 `json:"rejected,omitempty"`
}

type InFlightSnapshot struct {
	Material Kind    `json:"material"`
	Elapsed  int     `json:"elapsed"`
	Progress float64 `json:"progress"`
}

type ConveyorSnapshot struct {
	ID           string             `json:"id"`
	From         string             `json:"from"`
	To           string             `json:"to"`
	MaxInFlight  int                `json:"max_in_flight"`
	TransitTicks int                `json:"transit_ticks"`
	InFlight     []InFlightSnapshot `json:"in_flight"`
	Stalled      bool               `json:"stalled,omitempty"`
	Delivered    uint64             `json:"delivered"`
}

// Snapshot is the canonical read-only state of the line after a tick.
type Snapshot struct {
	Tick      uint64             `json:"tick"`
	Stations  []StationSnapshot  `json:"stations"`
	Conveyors []ConveyorSnapshot `json:"conveyors"`
}

func queueSnapshot(items []Material, capacity int) QueueSnapshot {
	kinds := make([]Kind, len(items))
	for i, m := range items {
		kinds[i] = m.Kind
	}
	return QueueSnapshot{Items: kinds, Cap: capacity}
}

// Snapshot returns the station snapshot. It shares nothing with the station.
func (s *Station) Snapshot() StationSnapshot {
	out := StationSnapshot{
		ID:              s.id,
		Kind:            s.kind,
		Pos:             s.pos,
		Active:          s.active,
		Stalled:         s.stalled,
		Input:           queueSnapshot(s.in.Items(), s.in.Cap()),
		Output:          queueSnapshot(s.out.Items(), s.out.Cap()),
		ExtractionTimer: s.timer,
		Staged:          s.Staged(),
		Emitted:         s.emitted,
		Dropped:         s.dropped,
		Processed:       s.processed,
		Discarded:       s.discarded,
		Completed:       s.completed,
		Pending:         s.pending,
	}
	if len(s.rejected) > 0 {
		out.Rejected = s.Rejected()
	}
	if s.busy {
		out.Processing = &ProcessingSnapshot{
			Material: s.proc.Material.Kind,
			Elapsed:  s.proc.Elapsed,
			Required: s.proc.Required,
			Progress: s.proc.Progress(),
		}
	}
	return out
}

func (c *Conveyor) Snapshot() ConveyorSnapshot {
	out := ConveyorSnapshot{
		ID:           c.id,
		From:         c.from.id,
		To:           c.to.id,
		MaxInFlight:  c.maxInFlight,
		TransitTicks: c.transit,
		InFlight:     make([]InFlightSnapshot, len(c.items)),
		Stalled:      c.stalled,
		Delivered:    c.delivered,
	}
	for i, e := range c.items {
		out.InFlight[i] = InFlightSnapshot{Material: e.Material.Kind, Elapsed: e.Elapsed, Progress: c.Progress(e)}
	}
	return out
}

func (f *Factory) Snapshot() Snapshot {
	snap := Snapshot{
		Tick:      f.tick,
		Stations:  make([]StationSnapshot, len(f.stations)),
		Conveyors: make([]ConveyorSnapshot, len(f.conveyors)),
	}
	for i, st := range f.stations {
		snap.Stations[i] = st.Snapshot()
	}
	for i, c := range f.conveyors {
		snap.Conveyors[i] = c.Snapshot()
	}
	return snap
}

// Digest hashes the canonical JSON encoding of a snapshot. Map keys are
// encoded sorted, so equal states hash equally.
func (s Snapshot) Digest() string {
	b, err := json.Marshal(s)
	if err != nil {
		// Snapshot holds only strings, ints, floats and maps keyed by string.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (f *Factory) Digest() string { return f.Snapshot().Digest() }
