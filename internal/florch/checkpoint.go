package florch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint is the persisted state of a run after a step.
type Checkpoint struct {
	RunId   string    `json:"runId"`
	Variant string    `json:"variant"`
	Step    int       `json:"step"`
	Params  []float64 `json:"params"`
	Weights []float64 `json:"weights"`
	Dropped []int     `json:"dropped"`
}

func (orch *FlOrchestrator) saveCheckpoint(step int) error {
	checkpoint := Checkpoint{
		RunId:   orch.runId,
		Variant: orch.optimizer.Variant(),
		Step:    step,
		Params:  orch.optimizer.Params(),
		Weights: orch.optimizer.Weights(),
		Dropped: orch.optimizer.Dropped(),
	}
	if err := os.MkdirAll(filepath.Dir(orch.checkpointName), 0777); err != nil {
		return err
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return err
	}
	tmp := orch.checkpointName + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return os.Rename(tmp, orch.checkpointName)
}

func ReadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	checkpoint := &Checkpoint{}
	if err := json.Unmarshal(data, checkpoint); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	return checkpoint, nil
}
