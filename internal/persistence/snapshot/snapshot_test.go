package snapshot

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
)

func TestCheckpointer_WritesEveryN(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatal(err)
	}
	f, err := layout.Build(layout.Default(), cats, tuning.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	e := engine.New(f, engine.Config{RunID: "cp"}, nil)
	e.AddSink(NewCheckpointer(dir, 250))

	var at500 engine.TickRecord
	for i := 0; i < 600; i++ {
		rec, err := e.StepOnce(nil)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Tick == 500 {
			at500 = rec
		}
	}

	paths, ticks, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint64{250, 500}, ticks); diff != "" {
		t.Fatalf("ticks (-want +got):\n%s", diff)
	}

	cp, err := ReadCheckpoint(paths[500])
	if err != nil {
		t.Fatal(err)
	}
	if cp.Header.RunID != "cp" || cp.Header.Tick != 500 || cp.Header.Digest != at500.Digest {
		t.Fatalf("header: %+v", cp.Header)
	}
	if diff := cmp.Diff(*at500.Snapshot, cp.State, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("state (-want +got):\n%s", diff)
	}
}

func TestList_NoCheckpoints(t *testing.T) {
	paths, ticks, err := List(t.TempDir())
	if err != nil || paths != nil || ticks != nil {
		t.Fatalf("got %v %v %v", paths, ticks, err)
	}
}
