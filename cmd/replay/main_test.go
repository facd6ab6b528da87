package main

import (
	"strings"
	"testing"
	"time"

	"factoryline.ai/internal/observerproto"
	persistlog "factoryline.ai/internal/persistence/log"
	"factoryline.ai/internal/persistence/snapshot"
	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
)

const configDir = "../../configs"

// recordRun writes a run the way factoryd does, stepping synchronously.
func recordRun(t *testing.T, tune tuning.Tuning, ticks int) string {
	t.Helper()
	cats, err := catalogs.Load(configDir)
	if err != nil {
		t.Fatal(err)
	}
	spec := layout.Default()
	f, err := layout.Build(spec, cats, tune)
	if err != nil {
		t.Fatal(err)
	}
	e := engine.New(f, engine.Config{RunID: "replay-test"}, nil)

	dir := persistlog.RunDir(t.TempDir(), e.RunID())
	if err := persistlog.WriteRunHeader(dir, persistlog.RunHeader{
		RunID:          e.RunID(),
		StartedAt:      time.Now().UTC(),
		Layout:         spec,
		LayoutDigest:   spec.Digest(),
		Tuning:         tune,
		CatalogsDigest: cats.Digest(),
	}); err != nil {
		t.Fatal(err)
	}
	tl := persistlog.NewTickLogger(dir)
	e.AddSink(tl)
	e.AddSink(snapshot.NewCheckpointer(dir, 250))

	for i := 1; i <= ticks; i++ {
		var ctrls []observerproto.Control
		switch i {
		case 150:
			ctrls = []observerproto.Control{{Op: engine.OpToggle, StationID: "furnace_copper"}}
		case 400:
			ctrls = []observerproto.Control{{Op: engine.OpToggle, StationID: "furnace_copper"}, {Op: engine.OpDrain, StationID: "output"}}
		}
		if _, err := e.StepOnce(ctrls); err != nil {
			t.Fatal(err)
		}
	}
	if err := tl.Close(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestVerifyRun_ReproducesDigests(t *testing.T) {
	dir := recordRun(t, tuning.Defaults(), 900)

	res, err := verifyRun(dir, configDir, 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.checked != 900 || res.controls != 3 || res.checkpoints != 3 {
		t.Fatalf("checked=%d controls=%d checkpoints=%d", res.checked, res.controls, res.checkpoints)
	}

	res, err = verifyRun(dir, configDir, 500)
	if err != nil {
		t.Fatalf("verify to 500: %v", err)
	}
	if res.checked != 500 {
		t.Fatalf("checked=%d, want 500", res.checked)
	}
}

func TestVerifyRun_DetectsDivergence(t *testing.T) {
	dir := recordRun(t, tuning.Defaults(), 300)

	h, err := persistlog.ReadRunHeader(dir)
	if err != nil {
		t.Fatal(err)
	}
	h.Tuning.Timings.ExtractionTicks = 30
	if err := persistlog.WriteRunHeader(dir, h); err != nil {
		t.Fatal(err)
	}

	_, err = verifyRun(dir, configDir, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestVerifyRun_CheckpointDiffNamesField(t *testing.T) {
	dir := recordRun(t, tuning.Defaults(), 250)

	paths, _, err := snapshot.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := snapshot.ReadCheckpoint(paths[250])
	if err != nil {
		t.Fatal(err)
	}
	cp.State.Stations[0].Emitted += 5
	if err := snapshot.WriteCheckpoint(paths[250], cp); err != nil {
		t.Fatal(err)
	}

	_, err = verifyRun(dir, configDir, 0)
	if err == nil || !strings.Contains(err.Error(), "checkpoint tick 250") || !strings.Contains(err.Error(), "Emitted") {
		t.Fatalf("expected checkpoint diff, got %v", err)
	}
}

func TestVerifyRun_MissingHeader(t *testing.T) {
	if _, err := verifyRun(t.TempDir(), configDir, 0); err == nil {
		t.Fatal("expected error")
	}
}
