package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
)

// RunHeader is written once per run next to its logs. It holds everything
// needed to rebuild the line for replay.
type RunHeader struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	Layout         layout.Spec   `json:"layout"`
	LayoutDigest   string        `json:"layout_digest"`
	Tuning         tuning.Tuning `json:"tuning"`
	CatalogsDigest string        `json:"catalogs_digest"`
}

func RunDir(dataDir, runID string) string {
	return filepath.Join(dataDir, "runs", runID)
}

func WriteRunHeader(runDir string, h RunHeader) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(runDir, "run.json.tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(runDir, "run.json"))
}

func ReadRunHeader(runDir string) (RunHeader, error) {
	var h RunHeader
	b, err := os.ReadFile(filepath.Join(runDir, "run.json"))
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return h, fmt.Errorf("run.json: %w", err)
	}
	return h, nil
}
