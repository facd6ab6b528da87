// Package layout declares production lines: which stations exist, where they
// sit, how conveyors link them and how the station index nests them. Layouts
// load from YAML or HCL and build into a factory.Factory.
package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type Spec struct {
	Name      string         `yaml:"name" json:"name,omitempty"`
	Stations  []StationSpec  `yaml:"stations" json:"stations"`
	Conveyors []ConveyorSpec `yaml:"conveyors" json:"conveyors"`
}

type StationSpec struct {
	ID   string `yaml:"id" json:"id"`
	Kind string `yaml:"kind" json:"kind"`
	Pos  []int  `yaml:"pos" json:"pos"`

	Material string `yaml:"material,omitempty" json:"material,omitempty"`
	Recipe   string `yaml:"recipe,omitempty" json:"recipe,omitempty"`
	Expects  string `yaml:"expects,omitempty" json:"expects,omitempty"`

	RequiredTicks  *int `yaml:"required_ticks,omitempty" json:"required_ticks,omitempty"`
	InputCapacity  *int `yaml:"input_capacity,omitempty" json:"input_capacity,omitempty"`
	OutputCapacity *int `yaml:"output_capacity,omitempty" json:"output_capacity,omitempty"`

	// Index placement. A station without a parent is the index root.
	Parent string `yaml:"parent,omitempty" json:"parent,omitempty"`
	Side   string `yaml:"side,omitempty" json:"side,omitempty"`
}

type ConveyorSpec struct {
	From         string `yaml:"from" json:"from"`
	To           string `yaml:"to" json:"to"`
	MaxInFlight  *int   `yaml:"max_in_flight,omitempty" json:"max_in_flight,omitempty"`
	TransitTicks *int   `yaml:"transit_ticks,omitempty" json:"transit_ticks,omitempty"`
}

const (
	SideLeft  = "left"
	SideRight = "right"
)

// Digest identifies a layout by the sha256 of its JSON encoding.
func (s Spec) Digest() string {
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Default is the two-ore circuit line: iron and copper are mined and smelted,
// assembled into circuits, packaged into products and shipped.
func Default() Spec {
	return Spec{
		Name: "default",
		Stations: []StationSpec{
			{ID: "iron_extractor", Kind: "extractor", Pos: []int{2, 2}, Material: "iron_ore", Parent: "furnace_iron", Side: SideLeft},
			{ID: "copper_extractor", Kind: "extractor", Pos: []int{2, 6}, Material: "copper_ore", Parent: "furnace_copper", Side: SideLeft},
			{ID: "furnace_iron", Kind: "furnace", Pos: []int{6, 2}, Parent: "assembler", Side: SideLeft},
			{ID: "furnace_copper", Kind: "furnace", Pos: []int{6, 6}, Parent: "furnace_iron", Side: SideRight},
			{ID: "assembler", Kind: "assembler", Pos: []int{10, 4}, Recipe: "circuit"},
			{ID: "packager", Kind: "packager", Pos: []int{14, 4}, Parent: "assembler", Side: SideRight},
			{ID: "output", Kind: "output", Pos: []int{18, 4}, Expects: "product", Parent: "packager", Side: SideRight},
		},
		Conveyors: []ConveyorSpec{
			{From: "iron_extractor", To: "furnace_iron"},
			{From: "copper_extractor", To: "furnace_copper"},
			{From: "furnace_iron", To: "assembler"},
			{From: "furnace_copper", To: "assembler"},
			{From: "assembler", To: "packager"},
			{From: "packager", To: "output"},
		},
	}
}
