package observerproto

import "factoryline.ai/internal/sim/factory"

// Version is the observer protocol version.
const Version = "1.0"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Send one TICK every N ticks. 0 means every tick.
	EveryTicks int `json:"every_ticks,omitempty"`
}

// Client -> Server. Flips a station's active flag at the next tick boundary.
type ToggleMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	StationID       string `json:"station_id"`
}

// Server -> Client. Answer to TOGGLE.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Op              string `json:"op"`
	StationID       string `json:"station_id"`
	Active          bool   `json:"active"`
	Error           string `json:"error,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	Tick            uint64         `json:"tick"`
	Params          RunParams      `json:"params"`
	Layout          LayoutInfo     `json:"layout"`
	MaterialPalette []string       `json:"material_palette"`
	Index           []factory.Node `json:"index"`
}

type RunParams struct {
	TickRateHz     int    `json:"tick_rate_hz"`
	CatalogsDigest string `json:"catalogs_digest"`
}

type LayoutInfo struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Control is one operator request applied before a tick, in arrival order.
type Control struct {
	Op        string `json:"op"` // "TOGGLE","DRAIN"
	StationID string `json:"station_id"`
	Active    bool   `json:"active,omitempty"`
	Drained   uint64 `json:"drained,omitempty"`
}

// Server -> Client. Sent every subscribed tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Tick            uint64 `json:"tick"`

	Summary   factory.TickSummary        `json:"summary"`
	Stats     factory.Stats              `json:"stats"`
	Stations  []factory.StationSnapshot  `json:"stations"`
	Conveyors []factory.ConveyorSnapshot `json:"conveyors"`
	Controls  []Control                  `json:"controls,omitempty"`
}

// HTTP response for GET /v1/stations/at?x=&y=.
type StationAtResponse struct {
	Tick    uint64                   `json:"tick"`
	Found   bool                     `json:"found"`
	Node    *factory.Node            `json:"node,omitempty"`
	Station *factory.StationSnapshot `json:"station,omitempty"`
}

// HTTP response for POST /v1/stations/{id}/drain.
type DrainResponse struct {
	StationID string `json:"station_id"`
	Drained   uint64 `json:"drained"`
	Completed uint64 `json:"completed"`
}
