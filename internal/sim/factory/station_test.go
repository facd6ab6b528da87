package factory

import (
	"reflect"
	"testing"
)

func mustStation(t *testing.T, cfg StationConfig) *Station {
	t.Helper()
	st, err := NewStation(cfg)
	if err != nil {
		t.Fatalf("NewStation(%q): %v", cfg.ID, err)
	}
	return st
}

func circuitAssembler(t *testing.T) *Station {
	return mustStation(t, StationConfig{
		ID:   "assembler",
		Kind: KindAssembler,
		Recipe: &Recipe{
			Inputs: []RecipeInput{{Kind: "iron", Count: 1}, {Kind: "copper", Count: 1}},
			Output: "circuit",
		},
	})
}

func TestNewStation_Defaults(t *testing.T) {
	cases := []struct {
		cfg      StationConfig
		required int
	}{
		{StationConfig{ID: "x", Kind: KindExtractor, Material: "ore"}, 120},
		{StationConfig{ID: "f", Kind: KindFurnace}, 90},
		{StationConfig{ID: "p", Kind: KindPackager}, 80},
		{StationConfig{ID: "o", Kind: KindOutput, Expects: "product"}, 60},
	}
	for _, tc := range cases {
		st := mustStation(t, tc.cfg)
		if st.RequiredTicks() != tc.required {
			t.Fatalf("%s required: got %d want %d", tc.cfg.Kind, st.RequiredTicks(), tc.required)
		}
		if st.InputCap() != DefaultQueueCapacity || st.OutputCap() != DefaultQueueCapacity {
			t.Fatalf("%s caps: got %d/%d", tc.cfg.Kind, st.InputCap(), st.OutputCap())
		}
		if !st.Active() {
			t.Fatalf("%s should start active", tc.cfg.Kind)
		}
	}
	if got := circuitAssembler(t).RequiredTicks(); got != 120 {
		t.Fatalf("assembler required: got %d want 120", got)
	}
}

func TestNewStation_Rejects(t *testing.T) {
	bad := []StationConfig{
		{Kind: KindFurnace},
		{ID: "x", Kind: "smelter"},
		{ID: "x", Kind: KindExtractor},
		{ID: "a", Kind: KindAssembler},
		{ID: "a", Kind: KindAssembler, Recipe: &Recipe{Inputs: []RecipeInput{{Kind: "iron", Count: 0}}, Output: "c"}},
		{ID: "a", Kind: KindAssembler, Recipe: &Recipe{Inputs: []RecipeInput{{Kind: "iron", Count: 1}, {Kind: "iron", Count: 1}}, Output: "c"}},
		{ID: "o", Kind: KindOutput},
		{ID: "f", Kind: KindFurnace, InputCapacity: -1},
	}
	for i, cfg := range bad {
		if _, err := NewStation(cfg); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, cfg)
		}
	}
}

func TestFurnace_TransformsAfterRequiredTicks(t *testing.T) {
	st := mustStation(t, StationConfig{ID: "f", Kind: KindFurnace, RequiredTicks: 3, Transforms: map[Kind]Kind{"iron_ore": "iron"}})
	st.Offer(Material{Kind: "iron_ore"})
	st.Offer(Material{Kind: "sand"})

	for i := 0; i < 2; i++ {
		st.Advance()
	}
	if p, ok := st.InProcess(); !ok || p.Elapsed != 2 || p.Material.Kind != "iron_ore" {
		t.Fatalf("in process: got %+v ok=%v", p, ok)
	}
	st.Advance()
	if got := st.Output(); len(got) != 1 || got[0].Kind != "iron" {
		t.Fatalf("output: got %v want [iron]", got)
	}
	if _, ok := st.InProcess(); ok {
		t.Fatalf("slot should be clear after emit")
	}
	for i := 0; i < 3; i++ {
		st.Advance()
	}
	if got := st.Output(); len(got) != 2 || got[1].Kind != "sand" {
		t.Fatalf("unknown kinds pass through: got %v", got)
	}
}

func TestStation_StallsWhenOutputFull(t *testing.T) {
	st := mustStation(t, StationConfig{ID: "p", Kind: KindPackager, RequiredTicks: 1, OutputCapacity: 1})
	st.Offer(Material{Kind: "circuit"})
	st.Offer(Material{Kind: "circuit"})
	st.Advance()
	st.Advance()
	if !st.Stalled() || st.OutputLen() != 1 {
		t.Fatalf("expected stall with full output, stalled=%v out=%d", st.Stalled(), st.OutputLen())
	}
	if p, ok := st.InProcess(); !ok || p.Elapsed != 1 {
		t.Fatalf("held item: got %+v ok=%v", p, ok)
	}
	st.Take()
	st.Advance()
	if st.Stalled() || st.OutputLen() != 1 || st.Processed() != 2 {
		t.Fatalf("after room: stalled=%v out=%d processed=%d", st.Stalled(), st.OutputLen(), st.Processed())
	}
}

func TestExtractor_EmitsAndDrops(t *testing.T) {
	st := mustStation(t, StationConfig{ID: "x", Kind: KindExtractor, Material: "ore", RequiredTicks: 2, OutputCapacity: 2})
	for i := 0; i < 8; i++ {
		st.Advance()
	}
	if st.Emitted() != 4 || st.Dropped() != 2 || st.OutputLen() != 2 {
		t.Fatalf("emitted=%d dropped=%d out=%d", st.Emitted(), st.Dropped(), st.OutputLen())
	}
	st.Toggle()
	for i := 0; i < 10; i++ {
		st.Advance()
	}
	if st.Emitted() != 4 {
		t.Fatalf("inactive extractor emitted: %d", st.Emitted())
	}
}

func TestAssembler_StartsOnceBothCountersMet(t *testing.T) {
	st := circuitAssembler(t)
	st.Offer(Material{Kind: "iron"})
	st.Offer(Material{Kind: "copper"})

	st.Advance()
	if _, ok := st.InProcess(); ok {
		t.Fatalf("started with only iron staged")
	}
	if got := st.Staged(); got["iron"] != 1 || got["copper"] != 0 {
		t.Fatalf("staged after tick 1: %v", got)
	}
	st.Advance()
	p, ok := st.InProcess()
	if !ok || p.Material.Kind != "circuit" {
		t.Fatalf("in process: got %+v ok=%v want circuit", p, ok)
	}
	if got := st.Staged(); got["iron"] != 0 || got["copper"] != 0 {
		t.Fatalf("counters not consumed: %v", got)
	}
}

func TestAssembler_StallDoesNotRefund(t *testing.T) {
	st := mustStation(t, StationConfig{
		ID:             "assembler",
		Kind:           KindAssembler,
		OutputCapacity: 1,
		RequiredTicks:  1,
		Recipe: &Recipe{
			Inputs: []RecipeInput{{Kind: "iron", Count: 1}, {Kind: "copper", Count: 1}},
			Output: "circuit",
		},
	})
	for _, k := range []Kind{"iron", "copper", "iron", "copper"} {
		st.Offer(Material{Kind: k})
	}

	st.Advance()
	st.Advance()
	if st.OutputLen() != 1 || st.Processed() != 1 {
		t.Fatalf("first circuit: out=%d processed=%d", st.OutputLen(), st.Processed())
	}
	st.Advance()
	st.Advance()

	if !st.Stalled() {
		t.Fatalf("second circuit should stall on the full output queue")
	}
	p, ok := st.InProcess()
	if !ok || p.Material.Kind != "circuit" || p.Elapsed != p.Required {
		t.Fatalf("in process: got %+v ok=%v want finished circuit", p, ok)
	}
	if got := st.Staged(); got["iron"] != 0 || got["copper"] != 0 {
		t.Fatalf("inputs refunded while stalled: %v", got)
	}
	if st.InputLen() != 0 {
		t.Fatalf("input queue: got %d want 0", st.InputLen())
	}

	// Still stalled, still nothing handed back.
	st.Advance()
	if !st.Stalled() || st.Staged()["iron"] != 0 || st.Staged()["copper"] != 0 {
		t.Fatalf("after another tick: stalled=%v staged=%v", st.Stalled(), st.Staged())
	}
}

func TestAssembler_NeverStartsWithoutAllInputs(t *testing.T) {
	st := circuitAssembler(t)
	st.Offer(Material{Kind: "iron"})
	st.Offer(Material{Kind: "iron"})
	st.Offer(Material{Kind: "slag"})
	for i := 0; i < 10; i++ {
		st.Advance()
	}
	if _, ok := st.InProcess(); ok {
		t.Fatalf("started without copper")
	}
	if got := st.Staged()["iron"]; got != 2 {
		t.Fatalf("iron staged: got %d want 2", got)
	}
	if st.Discarded() != 1 {
		t.Fatalf("discarded: got %d want 1", st.Discarded())
	}
}

func TestAssembler_DequeuesOnlyWhileIdle(t *testing.T) {
	st := circuitAssembler(t)
	for _, k := range []Kind{"iron", "copper", "iron", "copper"} {
		st.Offer(Material{Kind: k})
	}
	st.Advance()
	st.Advance()
	for i := 0; i < 50; i++ {
		st.Advance()
	}
	if st.InputLen() != 2 {
		t.Fatalf("busy assembler dequeued: input len %d want 2", st.InputLen())
	}
}

func TestOutput_CountsAndDrains(t *testing.T) {
	st := mustStation(t, StationConfig{ID: "o", Kind: KindOutput, Expects: "product"})
	st.Offer(Material{Kind: "product"})
	st.Offer(Material{Kind: "circuit"})
	st.Offer(Material{Kind: "product"})
	st.Advance()
	if st.InputLen() != 0 {
		t.Fatalf("output should drain its whole input, left %d", st.InputLen())
	}
	if st.Completed() != 2 || st.Discarded() != 1 {
		t.Fatalf("completed=%d discarded=%d", st.Completed(), st.Discarded())
	}
	if got := st.Rejected(); !reflect.DeepEqual(got, map[Kind]uint64{"circuit": 1}) {
		t.Fatalf("rejected: %v", got)
	}
	if n := st.DrainCompleted(); n != 2 {
		t.Fatalf("drain: got %d want 2", n)
	}
	if n := st.DrainCompleted(); n != 0 {
		t.Fatalf("second drain: got %d want 0", n)
	}
	if st.Completed() != 2 {
		t.Fatalf("completed must not reset, got %d", st.Completed())
	}
}

func TestToggle_TwiceRestoresState(t *testing.T) {
	st := mustStation(t, StationConfig{ID: "f", Kind: KindFurnace, Transforms: map[Kind]Kind{"iron_ore": "iron"}})
	st.Offer(Material{Kind: "iron_ore"})
	for i := 0; i < 30; i++ {
		st.Advance()
	}
	before := st.Snapshot()
	st.Toggle()
	st.Toggle()
	if after := st.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("double toggle changed state:\n%+v\n%+v", before, after)
	}

	st.Toggle()
	for i := 0; i < 30; i++ {
		st.Advance()
	}
	p, _ := st.InProcess()
	if p.Elapsed != 30 {
		t.Fatalf("inactive station accumulated: elapsed %d want 30", p.Elapsed)
	}
}
