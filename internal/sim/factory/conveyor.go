package factory

import "fmt"

const (
	DefaultMaxInFlight  = 3
	DefaultTransitTicks = 100
)

// ConveyorConfig links the output queue of From to the input queue of To.
// MaxInFlight 0 means DefaultMaxInFlight. TransitTicks is taken as given; 0
// is a direct hand-off.
type ConveyorConfig struct {
	From         string
	To           string
	MaxInFlight  int
	TransitTicks int
}

// InFlight is one material on a belt.
type InFlight struct {
	Material Material
	Elapsed  int
}

// Conveyor moves materials between two stations over a fixed tick delay.
type Conveyor struct {
	id          string
	from, to    *Station
	maxInFlight int
	transit     int
	items       []InFlight

	admitted   uint64
	delivered  uint64
	stallTicks uint64
	stalled    bool
}

func newConveyor(from, to *Station, maxInFlight, transit int) *Conveyor {
	return &Conveyor{
		id:          from.id + "->" + to.id,
		from:        from,
		to:          to,
		maxInFlight: maxInFlight,
		transit:     transit,
		items:       make([]InFlight, 0, maxInFlight),
	}
}

func (c *Conveyor) ID() string         { return c.id }
func (c *Conveyor) From() *Station     { return c.from }
func (c *Conveyor) To() *Station       { return c.to }
func (c *Conveyor) MaxInFlight() int   { return c.maxInFlight }
func (c *Conveyor) TransitTicks() int  { return c.transit }
func (c *Conveyor) Len() int           { return len(c.items) }
func (c *Conveyor) Admitted() uint64   { return c.admitted }
func (c *Conveyor) Delivered() uint64  { return c.delivered }
func (c *Conveyor) StallTicks() uint64 { return c.stallTicks }
func (c *Conveyor) Stalled() bool      { return c.stalled }

// Items returns a copy of the in-flight entries, oldest first.
func (c *Conveyor) Items() []InFlight {
	return append([]InFlight(nil), c.items...)
}

// Progress is elapsed/transit for an entry, 1 for zero-transit belts.
func (c *Conveyor) Progress(e InFlight) float64 {
	if c.transit <= 0 || e.Elapsed >= c.transit {
		return 1
	}
	return float64(e.Elapsed) / float64(c.transit)
}

// Advance runs progress, delivery and transfer-in, in that order.
func (c *Conveyor) Advance() {
	for i := range c.items {
		if c.items[i].Elapsed < c.transit {
			c.items[i].Elapsed++
		}
	}
	c.deliver()
	for len(c.items) < c.maxInFlight {
		m, ok := c.from.out.Dequeue()
		if !ok {
			break
		}
		c.items = append(c.items, InFlight{Material: m})
		c.admitted++
	}
	if c.transit == 0 {
		c.deliver()
	}
	c.stalled = len(c.items) > 0 && c.items[0].Elapsed >= c.transit
	if c.stalled {
		c.stallTicks++
	}
}

// deliver offers complete entries to the destination in FIFO order and stops
// at the first refusal.
func (c *Conveyor) deliver() {
	n := 0
	for n < len(c.items) && c.items[n].Elapsed >= c.transit {
		if !c.to.in.Enqueue(c.items[n].Material) {
			break
		}
		n++
	}
	if n == 0 {
		return
	}
	c.delivered += uint64(n)
	c.items = append(c.items[:0], c.items[n:]...)
}

func (c *Conveyor) String() string {
	return fmt.Sprintf("%s [%d/%d, %d ticks]", c.id, len(c.items), c.maxInFlight, c.transit)
}
