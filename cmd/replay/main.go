package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	persistlog "factoryline.ai/internal/persistence/log"
	"factoryline.ai/internal/persistence/snapshot"
	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/engine"
	"factoryline.ai/internal/sim/layout"
)

func main() {
	var (
		runDir    = flag.String("run", "", "run dir containing run.json and events-*.jsonl.zst")
		dataDir   = flag.String("data", "./data", "runtime data directory (with -run_id)")
		runID     = flag.String("run_id", "", "run id under <data>/runs (alternative to -run)")
		configDir = flag.String("configs", "./configs", "config directory")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	dir := *runDir
	if dir == "" && *runID != "" {
		dir = persistlog.RunDir(*dataDir, *runID)
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "missing -run or -run_id")
		os.Exit(2)
	}

	res, err := verifyRun(dir, *configDir, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: run=%s layout=%s checked=%d ticks controls=%d checkpoints=%d last_digest=%s\n",
		res.header.RunID, res.header.Layout.Name, res.checked, res.controls, res.checkpoints, res.lastDigest)
}

type result struct {
	header      persistlog.RunHeader
	checked     uint64
	controls    int
	checkpoints int
	lastDigest  string
}

var errStop = errors.New("stop")

// verifyRun rebuilds the line recorded in runDir and steps it with the logged
// controls, checking every tick digest and control outcome.
func verifyRun(runDir, configDir string, toTick uint64) (result, error) {
	var res result
	h, err := persistlog.ReadRunHeader(runDir)
	if err != nil {
		return res, fmt.Errorf("read run header: %w", err)
	}
	res.header = h

	cats, err := catalogs.Load(configDir)
	if err != nil {
		return res, fmt.Errorf("load catalogs: %w", err)
	}
	if h.CatalogsDigest != "" && h.CatalogsDigest != cats.Digest() {
		return res, fmt.Errorf("catalogs digest mismatch: run=%s configs=%s", h.CatalogsDigest, cats.Digest())
	}
	if got := h.Layout.Digest(); h.LayoutDigest != "" && got != h.LayoutDigest {
		return res, fmt.Errorf("layout digest mismatch: header=%s layout=%s", h.LayoutDigest, got)
	}

	f, err := layout.Build(h.Layout, cats, h.Tuning)
	if err != nil {
		return res, fmt.Errorf("build layout: %w", err)
	}
	e := engine.New(f, engine.Config{TickRateHz: h.Tuning.TickRateHz, RunID: h.RunID}, nil)

	files, err := persistlog.TickFiles(runDir)
	if err != nil {
		return res, fmt.Errorf("list events: %w", err)
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no events files found in %s", runDir)
	}

	checkpoints, _, err := snapshot.List(runDir)
	if err != nil {
		return res, fmt.Errorf("list checkpoints: %w", err)
	}

	err = persistlog.ReadTicks(runDir, func(want engine.TickRecord) error {
		if toTick != 0 && want.Tick > toTick {
			return errStop
		}
		if next := e.CurrentTick() + 1; want.Tick != next {
			return fmt.Errorf("tick mismatch: want=%d got=%d", next, want.Tick)
		}
		got, err := e.StepOnce(want.Controls)
		if err != nil {
			return fmt.Errorf("tick %d: %w", want.Tick, err)
		}
		if len(got.Controls) != len(want.Controls) {
			return fmt.Errorf("tick %d: applied %d controls, logged %d", want.Tick, len(got.Controls), len(want.Controls))
		}
		for i := range want.Controls {
			if got.Controls[i] != want.Controls[i] {
				return fmt.Errorf("tick %d: control %d: got=%+v want=%+v", want.Tick, i, got.Controls[i], want.Controls[i])
			}
		}
		if p, ok := checkpoints[want.Tick]; ok {
			cp, err := snapshot.ReadCheckpoint(p)
			if err != nil {
				return err
			}
			if diff := cmp.Diff(cp.State, *got.Snapshot, cmpopts.EquateEmpty()); diff != "" {
				return fmt.Errorf("state diverged at checkpoint tick %d (-logged +replayed):\n%s", want.Tick, diff)
			}
			res.checkpoints++
		}
		if got.Digest != want.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", want.Tick, got.Digest, want.Digest)
		}
		res.checked++
		res.controls += len(want.Controls)
		res.lastDigest = got.Digest
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return res, fmt.Errorf("%s: %w", filepath.Base(runDir), err)
	}
	return res, nil
}
