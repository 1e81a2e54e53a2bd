package florch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch/cost"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch/meritfed"
)

func TestParseRunConfigFlattensSingletonLists(t *testing.T) {
	data := []byte(`
SEED: [7]
MAX_STEPS: [20]
LR: [0.05]
FL: [True]
FL_LR: 0.2
PARALLEL: [true]
DROP_THRESHOLD: [0.1]
ENABLE_FL_EVERY: [5]
PEERS:
  - NAME: only
    SAMPLES: 8
COST:
  COST_TYPE: totalBudget
  COST_SOURCE: COMPUTE
  BUDGET: 5
`)
	config, err := ParseRunConfig(data)
	if err != nil {
		t.Fatalf("ParseRunConfig: %v", err)
	}

	if config.Seed != 7 || config.MaxSteps != 20 || config.LR != 0.05 || !config.FL || config.FLLR != 0.2 {
		t.Fatalf("unexpected scalars %+v", config)
	}
	if config.DropThreshold != 0.1 || config.EnableFLEvery != 5 {
		t.Fatalf("unexpected federated settings %+v", config)
	}
	if len(config.Peers) != 1 || config.Peers[0].Name != "only" || config.Peers[0].Samples != 8 {
		t.Fatalf("single peer list was flattened: %+v", config.Peers)
	}
	if config.Cost == nil || config.Cost.Source != cost.COMPUTE || config.Cost.Budget != 5 {
		t.Fatalf("unexpected cost configuration %+v", config.Cost)
	}
	// untouched keys keep their defaults
	if config.BatchSize != DefaultRunConfig().BatchSize || config.FLNIters != 1 {
		t.Fatalf("defaults lost: %+v", config)
	}
	if config.Variant() != common.PARALLEL_MD_VARIANT {
		t.Fatalf("variant %s", config.Variant())
	}

	opt := config.OptimizerConfig(1)
	if opt.MDLR != 0.2 || opt.BaseLR != 0.05 || opt.EnableFLEvery != 5 || opt.DropThreshold != 0.1 {
		t.Fatalf("unexpected optimizer config %+v", opt)
	}
}

func TestVariantSelection(t *testing.T) {
	config := DefaultRunConfig()
	if config.Variant() != common.MD_VARIANT {
		t.Fatalf("default variant %s", config.Variant())
	}
	config.Parallel = true
	config.AuxAdam = true
	if config.Variant() != common.ADAM_MD_VARIANT {
		t.Fatalf("AUX_ADAM should win, got %s", config.Variant())
	}
}

func TestRunConfigValidate(t *testing.T) {
	cases := map[string]func(*RunConfig){
		"fl without max steps": func(c *RunConfig) { c.MaxSteps = -1 },
		"no peers":             func(c *RunConfig) { c.Peers = nil },
		"zero batch size":      func(c *RunConfig) { c.BatchSize = 0 },
		"unknown schedule":     func(c *RunConfig) { c.Schedule = "step" },
		"min lr above lr":      func(c *RunConfig) { c.Schedule = COSINE_LR_SCHEDULE; c.MinLR = 1 },
		"bad report schedule":  func(c *RunConfig) { c.ReportEvery = "every now and then" },
		"no epochs":            func(c *RunConfig) { c.FL = false; c.MaxSteps = 0; c.Epochs = 0 },
		"unknown cost type":    func(c *RunConfig) { c.Cost = &cost.CostConfiguration{CostType: "costMin"} },
	}
	for name, mutate := range cases {
		config := testRunConfig(t)
		mutate(config)
		if err := config.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	config := testRunConfig(t)
	config.ReportEvery = "@every 10s"
	if err := config.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestTotalStepsFallsBackToEpochs(t *testing.T) {
	config := DefaultRunConfig()
	config.FL = false
	config.MaxSteps = -1
	config.Epochs = 3
	if steps := config.TotalSteps(4); steps != 12 {
		t.Fatalf("TotalSteps = %d, want 12", steps)
	}
	config.MaxSteps = 5
	if steps := config.TotalSteps(4); steps != 5 {
		t.Fatalf("TotalSteps = %d, want 5", steps)
	}
}

func TestReadRunConfigAppliesSavingDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.yml")
	if err := os.WriteFile(path, []byte("RESULTS_DIR: [out]\nPEERS_FILE: peers.csv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SAVING_DIR", "/data/runs")

	config, err := ReadRunConfig(path)
	if err != nil {
		t.Fatalf("ReadRunConfig: %v", err)
	}
	config.ApplyEnvironment()

	if config.ResultsDir != filepath.Join("/data/runs", "out") {
		t.Fatalf("results dir %s", config.ResultsDir)
	}
	if config.PeersFile != filepath.Join(dir, "peers.csv") {
		t.Fatalf("peers file %s", config.PeersFile)
	}
}

func TestConfineTo(t *testing.T) {
	base := t.TempDir()
	config := DefaultRunConfig()
	config.PeersFile = "peers/peers.csv"
	config.ResultsDir = "out"
	if err := config.ConfineTo(base); err != nil {
		t.Fatalf("ConfineTo: %v", err)
	}
	if config.PeersFile != filepath.Join(base, "peers", "peers.csv") || config.ResultsDir != filepath.Join(base, "out") {
		t.Fatalf("paths not resolved under %s: %q %q", base, config.PeersFile, config.ResultsDir)
	}

	for name, mutate := range map[string]func(*RunConfig){
		"absolute peers file":  func(c *RunConfig) { c.PeersFile = "/etc/passwd" },
		"escaping peers file":  func(c *RunConfig) { c.PeersFile = "../peers.csv" },
		"absolute results dir": func(c *RunConfig) { c.ResultsDir = "/tmp" },
		"escaping results dir": func(c *RunConfig) { c.ResultsDir = "out/../../elsewhere" },
	} {
		config := DefaultRunConfig()
		mutate(config)
		if err := config.ConfineTo(base); !errors.Is(err, meritfed.ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}
}
