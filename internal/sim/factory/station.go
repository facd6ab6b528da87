package factory

import (
	"fmt"
	"sort"

	"factoryline.ai/internal/sim/buffer"
)

// StationKind is the closed set of station variants.
type StationKind string

const (
	KindExtractor StationKind = "extractor"
	KindFurnace   StationKind = "furnace"
	KindAssembler StationKind = "assembler"
	KindPackager  StationKind = "packager"
	KindOutput    StationKind = "output"
)

// StationKinds lists every variant in a stable order.
var StationKinds = []StationKind{KindExtractor, KindFurnace, KindAssembler, KindPackager, KindOutput}

func ParseStationKind(s string) (StationKind, error) {
	for _, k := range StationKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown station kind %q", ErrInvalidStation, s)
}

const (
	DefaultProcessingTicks = 60
	DefaultFurnaceTicks    = 90
	DefaultAssemblerTicks  = 120
	DefaultPackagerTicks   = 80
	DefaultExtractionTicks = 120
	DefaultQueueCapacity   = 5
)

// DefaultRequiredTicks returns the processing threshold for a variant. For
// extractors it is the extraction period.
func DefaultRequiredTicks(k StationKind) int {
	switch k {
	case KindExtractor:
		return DefaultExtractionTicks
	case KindFurnace:
		return DefaultFurnaceTicks
	case KindAssembler:
		return DefaultAssemblerTicks
	case KindPackager:
		return DefaultPackagerTicks
	default:
		return DefaultProcessingTicks
	}
}

// RecipeInput is one ingredient line of an assembler recipe.
type RecipeInput struct {
	Kind  Kind `json:"kind"`
	Count int  `json:"count"`
}

// Recipe is a multi-input synchronization rule: every input count must be
// staged before one unit of Output starts processing.
type Recipe struct {
	Inputs []RecipeInput `json:"inputs"`
	Output Kind          `json:"output"`
}

func (r Recipe) wants(k Kind) bool {
	for _, in := range r.Inputs {
		if in.Kind == k {
			return true
		}
	}
	return false
}

func (r Recipe) satisfiedBy(staged map[Kind]int) bool {
	for _, in := range r.Inputs {
		if staged[in.Kind] < in.Count {
			return false
		}
	}
	return true
}

// StationConfig describes one station. Zero capacities and thresholds fall
// back to the variant defaults.
type StationConfig struct {
	ID             string
	Kind           StationKind
	Pos            Pos
	InputCapacity  int
	OutputCapacity int
	RequiredTicks  int

	// Extractor: kind emitted every RequiredTicks.
	Material Kind
	// Furnace and packager: input kind to refined kind.
	Transforms map[Kind]Kind
	// Assembler.
	Recipe *Recipe
	// Output station: kind counted as a completed product.
	Expects Kind
}

// Processing is the single in-process slot of a station.
type Processing struct {
	Material Material
	Elapsed  int
	Required int
}

// Progress is elapsed/required clamped to [0,1].
func (p Processing) Progress() float64 {
	if p.Required <= 0 || p.Elapsed >= p.Required {
		return 1
	}
	return float64(p.Elapsed) / float64(p.Required)
}

// Station is one node of the production line. Only its own Advance mutates
// its processing slot; conveyors touch its queues.
type Station struct {
	id       string
	kind     StationKind
	pos      Pos
	active   bool
	required int

	in  *buffer.Queue[Material]
	out *buffer.Queue[Material]

	proc    Processing
	busy    bool
	stalled bool

	// extractor
	material Kind
	timer    int
	emitted  uint64
	dropped  uint64

	// furnace, packager
	transforms map[Kind]Kind

	// assembler
	recipe Recipe
	staged map[Kind]int

	// output
	expects   Kind
	completed uint64
	pending   uint64
	rejected  map[Kind]uint64

	discarded  uint64
	processed  uint64
	stallTicks uint64
}

// NewStation validates cfg and returns an active, empty station.
func NewStation(cfg StationConfig) (*Station, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidStation)
	}
	if _, err := ParseStationKind(string(cfg.Kind)); err != nil {
		return nil, fmt.Errorf("station %q: %w", cfg.ID, err)
	}
	if cfg.InputCapacity < 0 || cfg.OutputCapacity < 0 || cfg.RequiredTicks < 0 {
		return nil, fmt.Errorf("%w: station %q: negative capacity or ticks", ErrInvalidStation, cfg.ID)
	}
	inCap, outCap := cfg.InputCapacity, cfg.OutputCapacity
	if inCap == 0 {
		inCap = DefaultQueueCapacity
	}
	if outCap == 0 {
		outCap = DefaultQueueCapacity
	}
	required := cfg.RequiredTicks
	if required == 0 {
		required = DefaultRequiredTicks(cfg.Kind)
	}

	s := &Station{
		id:       cfg.ID,
		kind:     cfg.Kind,
		pos:      cfg.Pos,
		active:   true,
		required: required,
		in:       buffer.NewQueue[Material](inCap),
		out:      buffer.NewQueue[Material](outCap),
	}

	switch cfg.Kind {
	case KindExtractor:
		if cfg.Material == "" {
			return nil, fmt.Errorf("%w: extractor %q has no material", ErrInvalidStation, cfg.ID)
		}
		s.material = cfg.Material
	case KindFurnace, KindPackager:
		s.transforms = make(map[Kind]Kind, len(cfg.Transforms))
		for from, to := range cfg.Transforms {
			s.transforms[from] = to
		}
	case KindAssembler:
		if cfg.Recipe == nil || len(cfg.Recipe.Inputs) == 0 || cfg.Recipe.Output == "" {
			return nil, fmt.Errorf("%w: assembler %q needs a recipe with inputs and an output", ErrInvalidStation, cfg.ID)
		}
		seen := map[Kind]bool{}
		inputs := make([]RecipeInput, 0, len(cfg.Recipe.Inputs))
		for _, in := range cfg.Recipe.Inputs {
			if in.Kind == "" || in.Count < 1 {
				return nil, fmt.Errorf("%w: assembler %q: bad recipe input %q x%d", ErrInvalidStation, cfg.ID, in.Kind, in.Count)
			}
			if seen[in.Kind] {
				return nil, fmt.Errorf("%w: assembler %q: duplicate recipe input %q", ErrInvalidStation, cfg.ID, in.Kind)
			}
			seen[in.Kind] = true
			inputs = append(inputs, in)
		}
		sort.Slice(inputs, func(i, j int) bool { return inputs[i].Kind < inputs[j].Kind })
		s.recipe = Recipe{Inputs: inputs, Output: cfg.Recipe.Output}
		s.staged = make(map[Kind]int, len(inputs))
		for _, in := range inputs {
			s.staged[in.Kind] = 0
		}
	case KindOutput:
		if cfg.Expects == "" {
			return nil, fmt.Errorf("%w: output %q expects no kind", ErrInvalidStation, cfg.ID)
		}
		s.expects = cfg.Expects
		s.rejected = map[Kind]uint64{}
	}
	return s, nil
}

func (s *Station) ID() string           { return s.id }
func (s *Station) Kind() StationKind    { return s.kind }
func (s *Station) Pos() Pos             { return s.pos }
func (s *Station) Active() bool         { return s.active }
func (s *Station) RequiredTicks() int   { return s.required }
func (s *Station) Stalled() bool        { return s.stalled }
func (s *Station) InputLen() int        { return s.in.Len() }
func (s *Station) InputCap() int        { return s.in.Cap() }
func (s *Station) OutputLen() int       { return s.out.Len() }
func (s *Station) OutputCap() int       { return s.out.Cap() }
func (s *Station) Input() []Material    { return s.in.Items() }
func (s *Station) Output() []Material   { return s.out.Items() }
func (s *Station) Emitted() uint64      { return s.emitted }
func (s *Station) Dropped() uint64      { return s.dropped }
func (s *Station) Discarded() uint64    { return s.discarded }
func (s *Station) Processed() uint64    { return s.processed }
func (s *Station) StallTicks() uint64   { return s.stallTicks }
func (s *Station) Completed() uint64    { return s.completed }
func (s *Station) Expects() Kind        { return s.expects }
func (s *Station) Material() Kind       { return s.material }
func (s *Station) ExtractionTimer() int { return s.timer }

// InProcess returns the processing slot, if occupied.
func (s *Station) InProcess() (Processing, bool) { return s.proc, s.busy }

// Recipe returns the assembler recipe; the zero Recipe for other variants.
func (s *Station) Recipe() Recipe {
	out := Recipe{Output: s.recipe.Output}
	out.Inputs = append([]RecipeInput(nil), s.recipe.Inputs...)
	return out
}

// Staged returns a copy of the assembler counters.
func (s *Station) Staged() map[Kind]int {
	if s.staged == nil {
		return nil
	}
	out := make(map[Kind]int, len(s.staged))
	for k, v := range s.staged {
		out[k] = v
	}
	return out
}

// Rejected returns a copy of the kinds an output station discarded.
func (s *Station) Rejected() map[Kind]uint64 {
	if s.rejected == nil {
		return nil
	}
	out := make(map[Kind]uint64, len(s.rejected))
	for k, v := range s.rejected {
		out[k] = v
	}
	return out
}

// Transforms returns a copy of the refining table.
func (s *Station) Transforms() map[Kind]Kind {
	if s.transforms == nil {
		return nil
	}
	out := make(map[Kind]Kind, len(s.transforms))
	for k, v := range s.transforms {
		out[k] = v
	}
	return out
}

// Toggle flips the active flag. Queues and the processing slot are untouched.
func (s *Station) Toggle() bool {
	s.active = !s.active
	return s.active
}

// SetActive sets the active flag directly.
func (s *Station) SetActive(active bool) { s.active = active }

// Offer enqueues m into the input queue. It reports false when the queue is full.
func (s *Station) Offer(m Material) bool { return s.in.Enqueue(m) }

// Take dequeues from the output queue.
func (s *Station) Take() (Material, bool) { return s.out.Dequeue() }

// DrainCompleted returns the completions since the last drain and resets the
// pending counter. Completed is unaffected.
func (s *Station) DrainCompleted() uint64 {
	n := s.pending
	s.pending = 0
	return n
}

// Pending is the undrained completion count of an output station.
func (s *Station) Pending() uint64 { return s.pending }

// Advance runs one tick of this station.
func (s *Station) Advance() {
	switch s.kind {
	case KindExtractor:
		s.advanceExtractor()
	case KindAssembler:
		s.advanceAssembler()
	case KindOutput:
		s.advanceOutput()
	default:
		if !s.busy {
			if m, ok := s.in.Dequeue(); ok {
				s.begin(m)
			}
		}
		s.work()
	}
}

func (s *Station) begin(m Material) {
	s.proc = Processing{Material: m, Required: s.required}
	s.busy = true
}

// work is steps 2 and 3 of the base contract: accumulate, then try to emit.
func (s *Station) work() {
	s.stalled = false
	if !s.busy {
		return
	}
	if s.active && s.proc.Elapsed < s.proc.Required {
		s.proc.Elapsed++
	}
	if s.proc.Elapsed < s.proc.Required {
		return
	}
	if !s.out.Enqueue(s.transform(s.proc.Material)) {
		s.stalled = true
		s.stallTicks++
		return
	}
	s.proc = Processing{}
	s.busy = false
	s.processed++
}

func (s *Station) transform(m Material) Material {
	switch s.kind {
	case KindFurnace, KindPackager:
		if to, ok := s.transforms[m.Kind]; ok {
			return Material{Kind: to}
		}
	}
	return m
}

func (s *Station) advanceExtractor() {
	if !s.active {
		return
	}
	s.timer++
	if s.timer < s.required {
		return
	}
	s.timer = 0
	s.emitted++
	if !s.out.Enqueue(Material{Kind: s.material}) {
		s.dropped++
	}
}

func (s *Station) advanceAssembler() {
	if !s.busy {
		if m, ok := s.in.Dequeue(); ok {
			if s.recipe.wants(m.Kind) {
				s.staged[m.Kind]++
			} else {
				s.discarded++
			}
		}
		if s.recipe.satisfiedBy(s.staged) {
			for _, in := range s.recipe.Inputs {
				s.staged[in.Kind] -= in.Count
			}
			s.begin(Material{Kind: s.recipe.Output})
		}
	}
	s.work()
}

func (s *Station) advanceOutput() {
	for {
		m, ok := s.in.Dequeue()
		if !ok {
			return
		}
		if m.Kind == s.expects {
			s.completed++
			s.pending++
			continue
		}
		s.discarded++
		s.rejected[m.Kind]++
	}
}

// held counts units inside this station: both queues, the processing slot
// and staged assembler inputs.
func (s *Station) held() int {
	n := s.in.Len() + s.out.Len()
	if s.busy {
		n++
	}
	for _, v := range s.staged {
		n += v
	}
	return n
}
