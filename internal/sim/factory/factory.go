package factory

import "fmt"

// Factory owns the stations, conveyors and index of one production line.
type Factory struct {
	stations  []*Station
	byID      map[string]*Station
	byPos     map[Pos]*Station
	conveyors []*Conveyor
	feeds     map[string][]*Conveyor
	index     *Index
	tick      uint64
}

func New() *Factory {
	return &Factory{
		byID:  map[string]*Station{},
		byPos: map[Pos]*Station{},
		feeds: map[string][]*Conveyor{},
		index: NewIndex(),
	}
}

// AddStation appends a station. Stations advance in the order they are added.
func (f *Factory) AddStation(cfg StationConfig) (*Station, error) {
	if _, ok := f.byID[cfg.ID]; ok {
		return nil, fmt.Errorf("station %q: %w", cfg.ID, ErrDuplicateStation)
	}
	if other, ok := f.byPos[cfg.Pos]; ok {
		return nil, fmt.Errorf("station %q at %s (held by %q): %w", cfg.ID, cfg.Pos, other.id, ErrPositionTaken)
	}
	st, err := NewStation(cfg)
	if err != nil {
		return nil, err
	}
	f.stations = append(f.stations, st)
	f.byID[st.id] = st
	f.byPos[st.pos] = st
	return st, nil
}

// Connect appends a conveyor. Conveyors advance in the order they are added.
// Only assemblers accept more than one feed, and no link may close a cycle.
func (f *Factory) Connect(cfg ConveyorConfig) (*Conveyor, error) {
	from, ok := f.byID[cfg.From]
	if !ok {
		return nil, fmt.Errorf("conveyor %s->%s: source: %w", cfg.From, cfg.To, ErrUnknownStation)
	}
	to, ok := f.byID[cfg.To]
	if !ok {
		return nil, fmt.Errorf("conveyor %s->%s: destination: %w", cfg.From, cfg.To, ErrUnknownStation)
	}
	if cfg.MaxInFlight < 0 || cfg.TransitTicks < 0 {
		return nil, fmt.Errorf("%w: %s->%s: negative capacity or transit", ErrInvalidConveyor, cfg.From, cfg.To)
	}
	if from == to {
		return nil, fmt.Errorf("%w: %s feeds itself", ErrCycle, from.id)
	}
	if from.kind == KindOutput {
		return nil, fmt.Errorf("%w: output station %q has no output queue to feed from", ErrInvalidConveyor, from.id)
	}
	if to.kind == KindExtractor {
		return nil, fmt.Errorf("%w: extractor %q takes no input", ErrInvalidConveyor, to.id)
	}
	for _, c := range f.feeds[to.id] {
		if c.from == from {
			return nil, fmt.Errorf("%w: %s->%s declared twice", ErrInvalidConveyor, from.id, to.id)
		}
	}
	if len(f.feeds[to.id]) > 0 && to.kind != KindAssembler {
		return nil, fmt.Errorf("conveyor %s->%s: %w", from.id, to.id, ErrFanIn)
	}
	if f.reaches(to, from) {
		return nil, fmt.Errorf("conveyor %s->%s: %w", from.id, to.id, ErrCycle)
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight == 0 {
		maxInFlight = DefaultMaxInFlight
	}
	c := newConveyor(from, to, maxInFlight, cfg.TransitTicks)
	f.conveyors = append(f.conveyors, c)
	f.feeds[to.id] = append(f.feeds[to.id], c)
	return c, nil
}

// reaches reports whether target is downstream of start.
func (f *Factory) reaches(start, target *Station) bool {
	seen := map[*Station]bool{}
	todo := []*Station{start}
	for len(todo) > 0 {
		st := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if st == target {
			return true
		}
		if seen[st] {
			continue
		}
		seen[st] = true
		for _, c := range f.conveyors {
			if c.from == st {
				todo = append(todo, c.to)
			}
		}
	}
	return false
}

// Place inserts a station into the index. parentID "" makes it the root.
func (f *Factory) Place(stationID, parentID string, left bool) (NodeID, error) {
	st, ok := f.byID[stationID]
	if !ok {
		return NoNode, fmt.Errorf("place %q: %w", stationID, ErrUnknownStation)
	}
	parent := NoNode
	if parentID != "" {
		n, ok := f.index.NodeFor(parentID)
		if !ok {
			return NoNode, fmt.Errorf("place %q under %q: %w", stationID, parentID, ErrUnknownParent)
		}
		parent = n.ID
	}
	return f.index.Insert(st, st.pos, parent, left)
}

// TickSummary is what changed during one tick.
type TickSummary struct {
	Tick      uint64 `json:"tick"`
	Emitted   uint64 `json:"emitted"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
	Delivered uint64 `json:"delivered"`
	Completed uint64 `json:"completed"`
	Discarded uint64 `json:"discarded"`
	Stalled   int    `json:"stalled"`
}

type counters struct {
	emitted, dropped, processed, delivered, completed, discarded uint64
}

func (f *Factory) counters() counters {
	var c counters
	for _, st := range f.stations {
		c.emitted += st.emitted
		c.dropped += st.dropped
		c.processed += st.processed
		c.completed += st.completed
		c.discarded += st.discarded
	}
	for _, cv := range f.conveyors {
		c.delivered += cv.delivered
	}
	return c
}

// Tick advances every station, then every conveyor, each in declaration order.
func (f *Factory) Tick() TickSummary {
	before := f.counters()
	for _, st := range f.stations {
		st.Advance()
	}
	for _, c := range f.conveyors {
		c.Advance()
	}
	f.tick++
	after := f.counters()

	sum := TickSummary{
		Tick:      f.tick,
		Emitted:   after.emitted - before.emitted,
		Dropped:   after.dropped - before.dropped,
		Processed: after.processed - before.processed,
		Delivered: after.delivered - before.delivered,
		Completed: after.completed - before.completed,
		Discarded: after.discarded - before.discarded,
	}
	for _, st := range f.stations {
		if st.stalled {
			sum.Stalled++
		}
	}
	for _, c := range f.conveyors {
		if c.stalled {
			sum.Stalled++
		}
	}
	return sum
}

// TickN runs n ticks and returns the last summary.
func (f *Factory) TickN(n int) TickSummary {
	var sum TickSummary
	for i := 0; i < n; i++ {
		sum = f.Tick()
	}
	return sum
}

func (f *Factory) CurrentTick() uint64 { return f.tick }

func (f *Factory) Index() *Index { return f.index }

func (f *Factory) Station(id string) (*Station, bool) {
	st, ok := f.byID[id]
	return st, ok
}

// StationAt resolves a grid position through the index.
func (f *Factory) StationAt(pos Pos) (*Station, bool) {
	n, ok := f.index.FindByPosition(pos)
	if !ok {
		return nil, false
	}
	return f.byID[n.StationID], true
}

// Stations returns the stations in declaration order.
func (f *Factory) Stations() []*Station {
	return append([]*Station(nil), f.stations...)
}

// Conveyors returns the conveyors in declaration order.
func (f *Factory) Conveyors() []*Conveyor {
	return append([]*Conveyor(nil), f.conveyors...)
}

// Feeds lists the conveyors delivering into a station.
func (f *Factory) Feeds(stationID string) []*Conveyor {
	return append([]*Conveyor(nil), f.feeds[stationID]...)
}

// Toggle flips a station's active flag and returns the new value.
func (f *Factory) Toggle(id string) (bool, error) {
	st, ok := f.byID[id]
	if !ok {
		return false, fmt.Errorf("toggle %q: %w", id, ErrUnknownStation)
	}
	return st.Toggle(), nil
}

// Drain consumes the pending completions of an output station.
func (f *Factory) Drain(id string) (uint64, error) {
	st, ok := f.byID[id]
	if !ok {
		return 0, fmt.Errorf("drain %q: %w", id, ErrUnknownStation)
	}
	if st.kind != KindOutput {
		return 0, fmt.Errorf("drain %q: %w", id, ErrNotOutput)
	}
	return st.DrainCompleted(), nil
}

// Census counts units held anywhere in the line: queues, processing slots,
// staged assembler inputs and conveyor belts.
func (f *Factory) Census() int {
	n := 0
	for _, st := range f.stations {
		n += st.held()
	}
	for _, c := range f.conveyors {
		n += len(c.items)
	}
	return n
}

// Stats is the line summary shown next to the floor view.
type Stats struct {
	Tick              uint64              `json:"tick"`
	Stations          map[StationKind]int `json:"stations"`
	Conveyors         int                 `json:"conveyors"`
	ProductsCompleted uint64              `json:"products_completed"`
	ProductsPending   uint64              `json:"products_pending"`
	Emitted           uint64              `json:"emitted"`
	Dropped           uint64              `json:"dropped"`
	Discarded         uint64              `json:"discarded"`
	InFlight          int                 `json:"in_flight"`
}

func (f *Factory) Stats() Stats {
	s := Stats{
		Tick:      f.tick,
		Stations:  map[StationKind]int{},
		Conveyors: len(f.conveyors),
	}
	for _, st := range f.stations {
		s.Stations[st.kind]++
		s.ProductsCompleted += st.completed
		s.ProductsPending += st.pending
		s.Emitted += st.emitted
		s.Dropped += st.dropped
		s.Discarded += st.discarded
	}
	for _, c := range f.conveyors {
		s.InFlight += len(c.items)
	}
	return s
}
