// Package engine owns one factory in a single goroutine. Operator requests
// arrive on channels and are applied only between ticks; every tick is fanned
// out to sinks and observers.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"factoryline.ai/internal/observerproto"
	"factoryline.ai/internal/sim/factory"
)

const (
	OpToggle = "TOGGLE"
	OpDrain  = "DRAIN"
)

var ErrStopped = errors.New("engine stopped")

type Config struct {
	TickRateHz         int
	SnapshotEveryTicks int
	// RunID labels tick records. Empty means a fresh uuid.
	RunID string
}

// TickRecord is what one tick produced. Controls are the operator requests
// applied before the tick, in arrival order.
type TickRecord struct {
	RunID    string                  `json:"run_id"`
	Tick     uint64                  `json:"tick"`
	Controls []observerproto.Control `json:"controls,omitempty"`
	Summary  factory.TickSummary     `json:"summary"`
	Digest   string                  `json:"digest"`

	Snapshot *factory.Snapshot `json:"-"`
	Stats    factory.Stats     `json:"-"`
	Elapsed  time.Duration     `json:"-"`
}

// TickSink receives every tick record. Errors are logged, never fatal.
type TickSink interface {
	WriteTick(TickRecord) error
}

// ObserverJoinRequest registers a read-only session that receives encoded
// TICK messages on TickOut. Slow sessions only ever see the latest tick.
type ObserverJoinRequest struct {
	SessionID  string
	TickOut    chan []byte
	EveryTicks int
}

type ObserverSubscribeRequest struct {
	SessionID  string
	EveryTicks int
}

type observerSub struct {
	out   chan []byte
	every int
}

type controlReq struct {
	op      string
	station string
	resp    chan controlResult
}

type controlResult struct {
	ctrl observerproto.Control
	err  error
}

type stationAtReq struct {
	pos  factory.Pos
	resp chan observerproto.StationAtResponse
}

type snapshotReq struct {
	resp chan factory.Snapshot
}

type Engine struct {
	f     *factory.Factory
	cfg   Config
	log   *log.Logger
	runID string
	sinks []TickSink

	control       chan controlReq
	stationAt     chan stationAtReq
	snapshot      chan snapshotReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once

	observers map[string]*observerSub
	tick      atomic.Uint64
}

func New(f *factory.Factory, cfg Config, logger *log.Logger) *Engine {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 60
	}
	if cfg.SnapshotEveryTicks <= 0 {
		cfg.SnapshotEveryTicks = 1
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		f:             f,
		cfg:           cfg,
		log:           logger,
		runID:         cfg.RunID,
		control:       make(chan controlReq, 256),
		stationAt:     make(chan stationAtReq, 64),
		snapshot:      make(chan snapshotReq, 64),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
		observers:     map[string]*observerSub{},
	}
	e.tick.Store(f.CurrentTick())
	return e
}

func (e *Engine) AddSink(s TickSink) { e.sinks = append(e.sinks, s) }

func (e *Engine) RunID() string       { return e.runID }
func (e *Engine) Config() Config      { return e.cfg }
func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }

// Index is static after layout, so it may be read from any goroutine.
func (e *Engine) Index() *factory.Index { return e.f.Index() }

func (e *Engine) ObserverJoin() chan<- ObserverJoinRequest           { return e.observerJoin }
func (e *Engine) ObserverSubscribe() chan<- ObserverSubscribeRequest { return e.observerSub }
func (e *Engine) ObserverLeave() chan<- string                       { return e.observerLeave }

func (e *Engine) apply(op, stationID string) (observerproto.Control, error) {
	ctrl := observerproto.Control{Op: op, StationID: stationID}
	switch op {
	case OpToggle:
		active, err := e.f.Toggle(stationID)
		if err != nil {
			return ctrl, err
		}
		ctrl.Active = active
	case OpDrain:
		n, err := e.f.Drain(stationID)
		if err != nil {
			return ctrl, err
		}
		ctrl.Drained = n
	default:
		return ctrl, fmt.Errorf("unknown control op %q", op)
	}
	return ctrl, nil
}

// step applies controls, advances one tick and fans the record out.
func (e *Engine) step(reqs []controlReq) TickRecord {
	start := time.Now()
	var applied []observerproto.Control
	for _, req := range reqs {
		ctrl, err := e.apply(req.op, req.station)
		if err == nil {
			applied = append(applied, ctrl)
		}
		if req.resp != nil {
			req.resp <- controlResult{ctrl: ctrl, err: err}
		}
	}

	sum := e.f.Tick()
	snap := e.f.Snapshot()
	rec := TickRecord{
		RunID:    e.runID,
		Tick:     sum.Tick,
		Controls: applied,
		Summary:  sum,
		Digest:   snap.Digest(),
		Snapshot: &snap,
		Stats:    e.f.Stats(),
	}
	rec.Elapsed = time.Since(start)
	e.tick.Store(sum.Tick)

	for _, s := range e.sinks {
		if err := s.WriteTick(rec); err != nil {
			e.log.Printf("tick %d: sink %T: %v", rec.Tick, s, err)
		}
	}
	e.broadcast(rec)
	return rec
}

// StepOnce advances by a single tick using the same ordering semantics as Run.
// It must not be called while Run is active. The first failing control is
// returned after the tick completes.
func (e *Engine) StepOnce(ctrls []observerproto.Control) (TickRecord, error) {
	reqs := make([]controlReq, len(ctrls))
	results := make([]chan controlResult, len(ctrls))
	for i, c := range ctrls {
		results[i] = make(chan controlResult, 1)
		reqs[i] = controlReq{op: c.Op, station: c.StationID, resp: results[i]}
	}
	rec := e.step(reqs)
	for i, ch := range results {
		if res := <-ch; res.err != nil {
			return rec, fmt.Errorf("control %d (%s %s): %w", i, ctrls[i].Op, ctrls[i].StationID, res.err)
		}
	}
	return rec, nil
}

func (e *Engine) broadcast(rec TickRecord) {
	if len(e.observers) == 0 {
		return
	}
	var b []byte
	for _, o := range e.observers {
		if rec.Tick%uint64(o.every) != 0 {
			continue
		}
		if b == nil {
			var err error
			b, err = encodeTick(rec)
			if err != nil {
				e.log.Printf("tick %d: encode observer tick: %v", rec.Tick, err)
				return
			}
		}
		sendLatest(o.out, b)
	}
}

func (e *Engine) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	e.observers[req.SessionID] = &observerSub{out: req.TickOut, every: e.everyOr(req.EveryTicks)}
}

func (e *Engine) handleObserverSubscribe(req ObserverSubscribeRequest) {
	if o := e.observers[req.SessionID]; o != nil {
		o.every = e.everyOr(req.EveryTicks)
	}
}

func (e *Engine) everyOr(n int) int {
	if n <= 0 {
		return e.cfg.SnapshotEveryTicks
	}
	return n
}

func (e *Engine) handleStationAt(req stationAtReq) {
	resp := observerproto.StationAtResponse{Tick: e.f.CurrentTick()}
	if n, ok := e.f.Index().FindByPosition(req.pos); ok {
		resp.Found = true
		resp.Node = &n
		if st, ok := e.f.Station(n.StationID); ok {
			snap := st.Snapshot()
			resp.Station = &snap
		}
	}
	req.resp <- resp
}
