package engine

import (
	"context"
	"encoding/json"
	"time"

	"factoryline.ai/internal/observerproto"
	"factoryline.ai/internal/sim/factory"
)

func (e *Engine) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []controlReq

	for {
		select {
		case <-ctx.Done():
			failPending(pending, ctx.Err())
			return ctx.Err()
		case <-e.stop:
			failPending(pending, ErrStopped)
			return nil
		case req := <-e.control:
			pending = append(pending, req)
		case req := <-e.stationAt:
			e.handleStationAt(req)
		case req := <-e.snapshot:
			req.resp <- e.f.Snapshot()
		case req := <-e.observerJoin:
			e.handleObserverJoin(req)
		case req := <-e.observerSub:
			e.handleObserverSubscribe(req)
		case id := <-e.observerLeave:
			delete(e.observers, id)
		case <-ticker.C:
			e.step(pending)
			pending = pending[:0]
		}
	}
}

func (e *Engine) Stop() { e.stopOnce.Do(func() { close(e.stop) }) }

// LeaveObserver queues the removal of an observer session. It waits for room
// until the engine stops or wait elapses and reports whether the leave was queued.
func (e *Engine) LeaveObserver(sessionID string, wait time.Duration) bool {
	if e.stopped() {
		return false
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case e.observerLeave <- sessionID:
		return true
	case <-e.stop:
		return false
	case <-t.C:
		e.log.Printf("observer %s: leave not queued after %s", sessionID, wait)
		return false
	}
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

func failPending(reqs []controlReq, err error) {
	for _, req := range reqs {
		req.resp <- controlResult{ctrl: observerproto.Control{Op: req.op, StationID: req.station}, err: err}
	}
}

// controlRequest enqueues a request and waits until the loop applies it at the next
// tick boundary. A request already enqueued still applies if ctx ends first.
func (e *Engine) controlRequest(ctx context.Context, op, stationID string) (observerproto.Control, error) {
	if e.stopped() {
		return observerproto.Control{}, ErrStopped
	}
	req := controlReq{op: op, station: stationID, resp: make(chan controlResult, 1)}
	select {
	case e.control <- req:
	case <-e.stop:
		return observerproto.Control{}, ErrStopped
	case <-ctx.Done():
		return observerproto.Control{}, ctx.Err()
	}
	select {
	case res := <-req.resp:
		return res.ctrl, res.err
	case <-e.stop:
		return observerproto.Control{}, ErrStopped
	case <-ctx.Done():
		return observerproto.Control{}, ctx.Err()
	}
}

// Toggle flips a station's active flag before the next tick and returns the
// new value.
func (e *Engine) Toggle(ctx context.Context, stationID string) (bool, error) {
	ctrl, err := e.controlRequest(ctx, OpToggle, stationID)
	return ctrl.Active, err
}

// Drain consumes an output station's pending completions before the next tick.
func (e *Engine) Drain(ctx context.Context, stationID string) (uint64, error) {
	ctrl, err := e.controlRequest(ctx, OpDrain, stationID)
	return ctrl.Drained, err
}

// StationAt looks a grid position up through the station index between ticks.
func (e *Engine) StationAt(ctx context.Context, pos factory.Pos) (observerproto.StationAtResponse, error) {
	if e.stopped() {
		return observerproto.StationAtResponse{}, ErrStopped
	}
	req := stationAtReq{pos: pos, resp: make(chan observerproto.StationAtResponse, 1)}
	select {
	case e.stationAt <- req:
	case <-e.stop:
		return observerproto.StationAtResponse{}, ErrStopped
	case <-ctx.Done():
		return observerproto.StationAtResponse{}, ctx.Err()
	}
	select {
	case resp := <-req.resp:
		return resp, nil
	case <-e.stop:
		return observerproto.StationAtResponse{}, ErrStopped
	case <-ctx.Done():
		return observerproto.StationAtResponse{}, ctx.Err()
	}
}

// Snapshot copies the full line state between ticks.
func (e *Engine) Snapshot(ctx context.Context) (factory.Snapshot, error) {
	if e.stopped() {
		return factory.Snapshot{}, ErrStopped
	}
	req := snapshotReq{resp: make(chan factory.Snapshot, 1)}
	select {
	case e.snapshot <- req:
	case <-e.stop:
		return factory.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return factory.Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.resp:
		return snap, nil
	case <-e.stop:
		return factory.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return factory.Snapshot{}, ctx.Err()
	}
}

func encodeTick(rec TickRecord) ([]byte, error) {
	msg := observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		RunID:           rec.RunID,
		Tick:            rec.Tick,
		Summary:         rec.Summary,
		Stats:           rec.Stats,
		Controls:        rec.Controls,
	}
	if rec.Snapshot != nil {
		msg.Stations = rec.Snapshot.Stations
		msg.Conveyors = rec.Snapshot.Conveyors
	}
	return json.Marshal(msg)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
