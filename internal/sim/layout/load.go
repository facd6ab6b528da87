package layout

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed layout.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func layoutSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("layout.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("layout.schema.json")
	})
	return schema, schemaErr
}

// validateDoc checks a decoded document against the layout schema. doc is
// normalized through JSON first so YAML and HCL values share one shape.
func validateDoc(doc any) error {
	s, err := layoutSchema()
	if err != nil {
		return fmt.Errorf("compile layout schema: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

// Load reads a layout file, choosing the decoder by extension.
func Load(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(raw)
	case ".hcl":
		return ParseHCL(raw, filepath.Base(path))
	default:
		return Spec{}, fmt.Errorf("layout %s: unsupported extension", path)
	}
}

func ParseYAML(raw []byte) (Spec, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Spec{}, fmt.Errorf("layout yaml: %w", err)
	}
	if err := validateDoc(doc); err != nil {
		return Spec{}, fmt.Errorf("layout yaml: %w", err)
	}
	var s Spec
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Spec{}, fmt.Errorf("layout yaml: %w", err)
	}
	return s, nil
}

type hclLayout struct {
	Name      string        `hcl:"name,optional"`
	Stations  []hclStation  `hcl:"station,block"`
	Conveyors []hclConveyor `hcl:"conveyor,block"`
}

type hclStation struct {
	ID             string `hcl:"id,label"`
	Kind           string `hcl:"kind"`
	Pos            []int  `hcl:"pos"`
	Material       string `hcl:"material,optional"`
	Recipe         string `hcl:"recipe,optional"`
	Expects        string `hcl:"expects,optional"`
	RequiredTicks  *int   `hcl:"required_ticks,optional"`
	InputCapacity  *int   `hcl:"input_capacity,optional"`
	OutputCapacity *int   `hcl:"output_capacity,optional"`
	Parent         string `hcl:"parent,optional"`
	Side           string `hcl:"side,optional"`
}

type hclConveyor struct {
	From         string `hcl:"from"`
	To           string `hcl:"to"`
	MaxInFlight  *int   `hcl:"max_in_flight,optional"`
	TransitTicks *int   `hcl:"transit_ticks,optional"`
}

// ParseHCL decodes station and conveyor blocks. filename only labels
// diagnostics.
func ParseHCL(raw []byte, filename string) (Spec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(raw, filename)
	if diags.HasErrors() {
		return Spec{}, fmt.Errorf("layout hcl: parse %s: %w", filename, diags)
	}
	var doc hclLayout
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return Spec{}, fmt.Errorf("layout hcl: decode %s: %w", filename, diags)
	}

	s := Spec{Name: doc.Name}
	for _, st := range doc.Stations {
		s.Stations = append(s.Stations, StationSpec{
			ID:             st.ID,
			Kind:           st.Kind,
			Pos:            st.Pos,
			Material:       st.Material,
			Recipe:         st.Recipe,
			Expects:        st.Expects,
			RequiredTicks:  st.RequiredTicks,
			InputCapacity:  st.InputCapacity,
			OutputCapacity: st.OutputCapacity,
			Parent:         st.Parent,
			Side:           st.Side,
		})
	}
	for _, c := range doc.Conveyors {
		s.Conveyors = append(s.Conveyors, ConveyorSpec{
			From:         c.From,
			To:           c.To,
			MaxInFlight:  c.MaxInFlight,
			TransitTicks: c.TransitTicks,
		})
	}
	if err := validateDoc(s); err != nil {
		return Spec{}, fmt.Errorf("layout hcl: %s: %w", filename, err)
	}
	return s, nil
}
