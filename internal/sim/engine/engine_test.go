package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"factoryline.ai/internal/observerproto"
	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/factory"
	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
)

func newDefaultFactory(t *testing.T) *factory.Factory {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	f, err := layout.Build(layout.Default(), cats, tuning.Defaults())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return f
}

type recordingSink struct {
	recs []TickRecord
	err  error
}

func (s *recordingSink) WriteTick(rec TickRecord) error {
	s.recs = append(s.recs, rec)
	return s.err
}

func TestStepOnce_MatchesDirectTicks(t *testing.T) {
	direct := newDefaultFactory(t)
	e := New(newDefaultFactory(t), Config{RunID: "run-1"}, nil)
	sink := &recordingSink{}
	failing := &recordingSink{err: errors.New("disk full")}
	e.AddSink(failing)
	e.AddSink(sink)

	for i := 0; i < 600; i++ {
		var ctrls []observerproto.Control
		if i == 250 {
			direct.Toggle("packager")
			ctrls = append(ctrls, observerproto.Control{Op: OpToggle, StationID: "packager"})
		}
		direct.Tick()
		rec, err := e.StepOnce(ctrls)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if rec.Digest != direct.Digest() {
			t.Fatalf("tick %d: engine digest diverged", rec.Tick)
		}
	}
	if len(sink.recs) != 600 || len(failing.recs) != 600 {
		t.Fatalf("sinks saw %d/%d records, want 600", len(sink.recs), len(failing.recs))
	}
	got := sink.recs[250]
	if got.Tick != 251 || got.RunID != "run-1" || len(got.Controls) != 1 || got.Controls[0].Active {
		t.Fatalf("record 250: %+v", got)
	}
	if e.CurrentTick() != 600 {
		t.Fatalf("current tick: got %d want 600", e.CurrentTick())
	}
}

func TestStepOnce_ReportsBadControl(t *testing.T) {
	e := New(newDefaultFactory(t), Config{}, nil)
	if e.RunID() == "" {
		t.Fatalf("run id not generated")
	}
	rec, err := e.StepOnce([]observerproto.Control{{Op: OpDrain, StationID: "packager"}})
	if !errors.Is(err, factory.ErrNotOutput) {
		t.Fatalf("got %v want ErrNotOutput", err)
	}
	if rec.Tick != 1 || len(rec.Controls) != 0 {
		t.Fatalf("failed control should not be recorded: %+v", rec)
	}
}

func TestRun_RequestsAndObservers(t *testing.T) {
	e := New(newDefaultFactory(t), Config{TickRateHz: 1000}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	out := make(chan []byte, 1)
	e.ObserverJoin() <- ObserverJoinRequest{SessionID: "O1", TickOut: out}

	var msg observerproto.TickMsg
	select {
	case b := <-out:
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("decode tick: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("no tick delivered")
	}
	if msg.Type != "TICK" || msg.RunID != e.RunID() || len(msg.Stations) != 7 {
		t.Fatalf("tick msg: type=%s run=%s stations=%d", msg.Type, msg.RunID, len(msg.Stations))
	}

	active, err := e.Toggle(ctx, "furnace_iron")
	if err != nil || active {
		t.Fatalf("toggle: active=%v err=%v", active, err)
	}
	if _, err := e.Toggle(ctx, "nope"); !errors.Is(err, factory.ErrUnknownStation) {
		t.Fatalf("toggle unknown: %v", err)
	}
	if _, err := e.Drain(ctx, "output"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	at, err := e.StationAt(ctx, factory.Pos{X: 6, Y: 2})
	if err != nil || !at.Found || at.Station == nil || at.Station.ID != "furnace_iron" || at.Station.Active {
		t.Fatalf("station at (6,2): %+v err=%v", at, err)
	}
	miss, err := e.StationAt(ctx, factory.Pos{X: 100, Y: 100})
	if err != nil || miss.Found {
		t.Fatalf("station at (100,100): %+v err=%v", miss, err)
	}

	snap, err := e.Snapshot(ctx)
	if err != nil || len(snap.Conveyors) != 6 || snap.Tick == 0 {
		t.Fatalf("snapshot: tick=%d conveyors=%d err=%v", snap.Tick, len(snap.Conveyors), err)
	}

	if !e.LeaveObserver("O1", time.Second) {
		t.Fatalf("leave not queued on a running engine")
	}
	e.Stop()
	e.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run after stop: %v", err)
	}
	if _, err := e.Toggle(context.Background(), "output"); !errors.Is(err, ErrStopped) {
		t.Fatalf("toggle after stop: %v", err)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	e := New(newDefaultFactory(t), Config{TickRateHz: 100}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan []byte, 1)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))
	if got := string(<-ch); got != "b" {
		t.Fatalf("got %q want b", got)
	}
}

func TestLeaveObserver_WaitsForRoomThenGivesUp(t *testing.T) {
	e := New(newDefaultFactory(t), Config{}, nil)
	for i := 0; i < cap(e.observerLeave); i++ {
		e.observerLeave <- "filler"
	}

	start := time.Now()
	if e.LeaveObserver("O1", 20*time.Millisecond) {
		t.Fatalf("leave reported queued on a full channel")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("leave gave up before waiting")
	}

	<-e.observerLeave
	if !e.LeaveObserver("O1", time.Second) {
		t.Fatalf("leave not queued once room was available")
	}

	e.Stop()
	if e.LeaveObserver("O2", time.Minute) {
		t.Fatalf("leave queued after stop")
	}
}
