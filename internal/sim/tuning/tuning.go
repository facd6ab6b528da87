package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"factoryline.ai/internal/sim/factory"
)

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz" validate:"min=1,max=1000"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" validate:"min=1"`

	Timings   Timings   `yaml:"timings"`
	Queues    Queues    `yaml:"queues"`
	Conveyors Conveyors `yaml:"conveyors"`
}

type Timings struct {
	BaseTicks       int `yaml:"base_ticks" validate:"min=1"`
	FurnaceTicks    int `yaml:"furnace_ticks" validate:"min=1"`
	AssemblerTicks  int `yaml:"assembler_ticks" validate:"min=1"`
	PackagerTicks   int `yaml:"packager_ticks" validate:"min=1"`
	ExtractionTicks int `yaml:"extraction_ticks" validate:"min=1"`
}

type Queues struct {
	Capacity int `yaml:"capacity" validate:"min=1,max=1024"`
}

type Conveyors struct {
	MaxInFlight  int `yaml:"max_in_flight" validate:"min=1,max=1024"`
	TransitTicks int `yaml:"transit_ticks" validate:"min=0"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         60,
		SnapshotEveryTicks: 1,
		Timings: Timings{
			BaseTicks:       factory.DefaultProcessingTicks,
			FurnaceTicks:    factory.DefaultFurnaceTicks,
			AssemblerTicks:  factory.DefaultAssemblerTicks,
			PackagerTicks:   factory.DefaultPackagerTicks,
			ExtractionTicks: factory.DefaultExtractionTicks,
		},
		Queues:    Queues{Capacity: factory.DefaultQueueCapacity},
		Conveyors: Conveyors{MaxInFlight: factory.DefaultMaxInFlight, TransitTicks: factory.DefaultTransitTicks},
	}
}

// RequiredTicks is the processing threshold for a station variant.
func (t Tuning) RequiredTicks(k factory.StationKind) int {
	switch k {
	case factory.KindExtractor:
		return t.Timings.ExtractionTicks
	case factory.KindFurnace:
		return t.Timings.FurnaceTicks
	case factory.KindAssembler:
		return t.Timings.AssemblerTicks
	case factory.KindPackager:
		return t.Timings.PackagerTicks
	default:
		return t.Timings.BaseTicks
	}
}

// Validate checks the struct tags.
func (t Tuning) Validate() error {
	if err := validator.New().Struct(t); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, e := range ve {
				msgs = append(msgs, fmt.Sprintf("%s: %s=%s (got %v)", e.Namespace(), e.Tag(), e.Param(), e.Value()))
			}
			return fmt.Errorf("invalid tuning: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Load reads path over Defaults, so omitted keys keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
