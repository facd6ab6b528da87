// Package factory is the production-line simulation core: stations, conveyors,
// the station index and the tick that advances them. It is single-threaded and
// never reads the clock; callers own pacing and concurrency.
package factory

import "fmt"

// Kind tags a material. The vocabulary is open; catalogs list the known kinds.
type Kind string

// Material is an immutable value flowing through the line.
type Material struct {
	Kind Kind `json:"kind"`
}

func (m Material) String() string { return string(m.Kind) }

// Pos is a grid address used for lookup only.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }
