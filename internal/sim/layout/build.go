package layout

import (
	"errors"
	"fmt"

	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/factory"
	"factoryline.ai/internal/sim/tuning"
)

var ErrUnplaced = errors.New("station parent chain never reaches the root")

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Build turns a layout into a ready factory. Per-station overrides win over
// recipe times, which win over tuning defaults.
func Build(spec Spec, cats *catalogs.Catalogs, tune tuning.Tuning) (*factory.Factory, error) {
	f := factory.New()

	for _, st := range spec.Stations {
		cfg, err := stationConfig(st, cats, tune)
		if err != nil {
			return nil, fmt.Errorf("layout: station %q: %w", st.ID, err)
		}
		if _, err := f.AddStation(cfg); err != nil {
			return nil, fmt.Errorf("layout: %w", err)
		}
	}

	for _, c := range spec.Conveyors {
		_, err := f.Connect(factory.ConveyorConfig{
			From:         c.From,
			To:           c.To,
			MaxInFlight:  intOr(c.MaxInFlight, tune.Conveyors.MaxInFlight),
			TransitTicks: intOr(c.TransitTicks, tune.Conveyors.TransitTicks),
		})
		if err != nil {
			return nil, fmt.Errorf("layout: %w", err)
		}
	}

	if err := place(f, spec.Stations); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	return f, nil
}

func stationConfig(st StationSpec, cats *catalogs.Catalogs, tune tuning.Tuning) (factory.StationConfig, error) {
	kind, err := factory.ParseStationKind(st.Kind)
	if err != nil {
		return factory.StationConfig{}, err
	}
	if len(st.Pos) != 2 {
		return factory.StationConfig{}, fmt.Errorf("pos needs 2 coordinates, got %d", len(st.Pos))
	}
	required := tune.RequiredTicks(kind)
	cfg := factory.StationConfig{
		ID:             st.ID,
		Kind:           kind,
		Pos:            factory.Pos{X: st.Pos[0], Y: st.Pos[1]},
		InputCapacity:  intOr(st.InputCapacity, tune.Queues.Capacity),
		OutputCapacity: intOr(st.OutputCapacity, tune.Queues.Capacity),
	}

	switch kind {
	case factory.KindExtractor:
		if !cats.HasMaterial(st.Material) {
			return cfg, fmt.Errorf("unknown material %q", st.Material)
		}
		cfg.Material = factory.Kind(st.Material)
	case factory.KindFurnace, factory.KindPackager:
		cfg.Transforms = cats.Transforms(kind)
	case factory.KindAssembler:
		r, ticks, err := cats.AssemblerRecipe(st.Recipe)
		if err != nil {
			return cfg, err
		}
		cfg.Recipe = &r
		if ticks > 0 {
			required = ticks
		}
	case factory.KindOutput:
		if !cats.HasMaterial(st.Expects) {
			return cfg, fmt.Errorf("unknown material %q", st.Expects)
		}
		cfg.Expects = factory.Kind(st.Expects)
	}
	cfg.RequiredTicks = intOr(st.RequiredTicks, required)
	return cfg, nil
}

// place inserts stations into the index parents-first, keeping declaration
// order among stations whose parents are ready.
func place(f *factory.Factory, stations []StationSpec) error {
	placed := map[string]bool{}
	for len(placed) < len(stations) {
		progress := false
		for _, st := range stations {
			if placed[st.ID] || (st.Parent != "" && !placed[st.Parent]) {
				continue
			}
			if _, err := f.Place(st.ID, st.Parent, st.Side == SideLeft); err != nil {
				return err
			}
			placed[st.ID] = true
			progress = true
		}
		if !progress {
			for _, st := range stations {
				if !placed[st.ID] {
					return fmt.Errorf("station %q under %q: %w", st.ID, st.Parent, ErrUnplaced)
				}
			}
		}
	}
	return nil
}
