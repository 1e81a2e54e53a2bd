package florch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch/cost"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch/meritfed"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	localpeers "github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/peers/local"
	"gopkg.in/yaml.v3"
)

const CONSTANT_LR_SCHEDULE = "constant"
const COSINE_LR_SCHEDULE = "cosine"

// RunConfig is the configuration of one training run, read from YAML or from a JSON request.
type RunConfig struct {
	RunName  string  `yaml:"RUN_NAME" json:"runName"`
	Seed     int64   `yaml:"SEED" json:"seed"`
	MaxSteps int     `yaml:"MAX_STEPS" json:"maxSteps"`
	Epochs   int     `yaml:"EPOCHS" json:"epochs"`
	LR       float64 `yaml:"LR" json:"lr"`
	MinLR    float64 `yaml:"MIN_LR" json:"minLr"`
	Schedule string  `yaml:"LR_SCHEDULE" json:"lrSchedule"`
	Momentum float64 `yaml:"MOMENTUM" json:"momentum"`

	FL            bool    `yaml:"FL" json:"fl"`
	FLLR          float64 `yaml:"FL_LR" json:"flLr"`
	FLNIters      int     `yaml:"FL_NITERS" json:"flNiters"`
	AuxAdam       bool    `yaml:"AUX_ADAM" json:"auxAdam"`
	Parallel      bool    `yaml:"PARALLEL" json:"parallel"`
	FLBeta1       float64 `yaml:"FL_BETA_1" json:"flBeta1"`
	DropThreshold float64 `yaml:"DROP_THRESHOLD" json:"dropThreshold"`
	EnableFLEvery int     `yaml:"ENABLE_FL_EVERY" json:"enableFlEvery"`
	ClampNumerics bool    `yaml:"CLAMP_NUMERICS" json:"clampNumerics"`

	PeersFile string       `yaml:"PEERS_FILE" json:"peersFile"`
	Peers     []PeerConfig `yaml:"PEERS" json:"peers"`
	Dim       int          `yaml:"DIM" json:"dim"`
	ValSize   int          `yaml:"VAL_SIZE" json:"valSize"`
	BatchSize int          `yaml:"BATCH_SIZE" json:"batchSize"`

	ResultsDir           string  `yaml:"RESULTS_DIR" json:"resultsDir"`
	ReportEvery          string  `yaml:"REPORT_EVERY" json:"reportEvery"`
	SaveEvery            int     `yaml:"SAVE_EVERY" json:"saveEvery"`
	TargetValLoss        float64 `yaml:"TARGET_VAL_LOSS" json:"targetValLoss"`
	StopOnConvergence    bool    `yaml:"STOP_ON_CONVERGENCE" json:"stopOnConvergence"`
	ConvergenceThreshold float64 `yaml:"CONVERGENCE_THRESHOLD" json:"convergenceThreshold"`
	ConvergencePatience  int     `yaml:"CONVERGENCE_PATIENCE" json:"convergencePatience"`
	ConvergenceWindow    int     `yaml:"CONVERGENCE_WINDOW" json:"convergenceWindow"`

	Cost *cost.CostConfiguration `yaml:"COST" json:"costConfiguration"`
}

// PeerConfig describes a peer inline, as an alternative to the peers file.
type PeerConfig struct {
	Name       string  `yaml:"NAME" json:"name"`
	Samples    int     `yaml:"SAMPLES" json:"samples"`
	Noise      float64 `yaml:"NOISE" json:"noise"`
	Shift      float64 `yaml:"SHIFT" json:"shift"`
	LinkCost   float64 `yaml:"LINK_COST" json:"linkCost"`
	EnergyCost float64 `yaml:"ENERGY_COST" json:"energyCost"`
}

func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		RunName:              "meritfed",
		MaxSteps:             100,
		Epochs:               1,
		LR:                   common.DEFAULT_BASE_LR,
		Schedule:             CONSTANT_LR_SCHEDULE,
		FL:                   true,
		FLLR:                 0.01,
		FLNIters:             1,
		FLBeta1:              0.9,
		EnableFLEvery:        1,
		Dim:                  4,
		ValSize:              64,
		BatchSize:            16,
		ResultsDir:           "results",
		ConvergenceThreshold: 1e-4,
		ConvergencePatience:  5,
		ConvergenceWindow:    3,
	}
}

// ReadRunConfig reads a YAML run configuration on top of the defaults.
func ReadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read run config %s: %w", path, err)
	}
	config, err := ParseRunConfig(data)
	if err != nil {
		return nil, fmt.Errorf("run config %s: %w", path, err)
	}
	if config.PeersFile != "" && !filepath.IsAbs(config.PeersFile) {
		config.PeersFile = filepath.Join(filepath.Dir(path), config.PeersFile)
	}
	return config, nil
}

// ParseRunConfig accepts every key either as a scalar or as a one-element list (LR: [0.01]).
func ParseRunConfig(data []byte) (*RunConfig, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse YAML: %w", err)
	}
	for key, value := range raw {
		raw[key] = flattenSingleton(value)
	}

	flattened, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}

	config := DefaultRunConfig()
	if err := yaml.Unmarshal(flattened, config); err != nil {
		return nil, fmt.Errorf("unable to decode run config: %w", err)
	}
	return config, nil
}

func flattenSingleton(value interface{}) interface{} {
	list, ok := value.([]interface{})
	if !ok || len(list) != 1 {
		return value
	}
	switch list[0].(type) {
	case map[string]interface{}, []interface{}:
		return value
	default:
		return list[0]
	}
}

// ApplyEnvironment prefixes the results directory with SAVING_DIR when it is set.
func (rc *RunConfig) ApplyEnvironment() {
	if savingDir := os.Getenv("SAVING_DIR"); savingDir != "" && !filepath.IsAbs(rc.ResultsDir) {
		rc.ResultsDir = filepath.Join(savingDir, rc.ResultsDir)
	}
}

// ConfineTo resolves PEERS_FILE and RESULTS_DIR inside baseDir. Absolute paths and paths
// leaving baseDir are rejected.
func (rc *RunConfig) ConfineTo(baseDir string) error {
	if rc.ResultsDir == "" {
		rc.ResultsDir = "."
	}
	for _, path := range []*string{&rc.PeersFile, &rc.ResultsDir} {
		if *path == "" {
			continue
		}
		if !filepath.IsLocal(*path) {
			return fmt.Errorf("%w: path %q must be relative and stay inside the data directory", meritfed.ErrConfiguration, *path)
		}
		*path = filepath.Join(baseDir, *path)
	}
	return nil
}

func (rc *RunConfig) Validate() error {
	if rc.FL && rc.MaxSteps <= 0 {
		return fmt.Errorf("FL only works with max steps, got MAX_STEPS %d", rc.MaxSteps)
	}
	if rc.MaxSteps <= 0 && rc.Epochs < 1 {
		return fmt.Errorf("either MAX_STEPS or EPOCHS must be positive")
	}
	if rc.PeersFile == "" && len(rc.Peers) == 0 {
		return fmt.Errorf("no peers configured, set PEERS_FILE or PEERS")
	}
	if rc.Dim < 1 || rc.BatchSize < 1 || rc.ValSize < 1 {
		return fmt.Errorf("DIM, BATCH_SIZE and VAL_SIZE must be positive")
	}
	switch rc.Schedule {
	case "", CONSTANT_LR_SCHEDULE:
	case COSINE_LR_SCHEDULE:
		if rc.MinLR < 0 || rc.MinLR >= rc.LR {
			return fmt.Errorf("MIN_LR must be in [0, LR), got %v", rc.MinLR)
		}
	default:
		return fmt.Errorf("invalid LR_SCHEDULE: %q", rc.Schedule)
	}
	if rc.ReportEvery != "" {
		if _, err := reportScheduleParser.Parse(rc.ReportEvery); err != nil {
			return fmt.Errorf("invalid REPORT_EVERY %q: %w", rc.ReportEvery, err)
		}
	}
	if rc.SaveEvery < 0 {
		return fmt.Errorf("SAVE_EVERY must be non-negative, got %d", rc.SaveEvery)
	}
	if rc.StopOnConvergence && (rc.ConvergencePatience < 1 || rc.ConvergenceWindow < 1) {
		return fmt.Errorf("convergence detection needs positive patience and window")
	}
	if err := rc.Cost.Validate(); err != nil {
		return fmt.Errorf("invalid COST: %w", err)
	}
	return nil
}

// Variant picks the optimizer: AUX_ADAM wins over PARALLEL.
func (rc *RunConfig) Variant() string {
	switch {
	case rc.AuxAdam:
		return common.ADAM_MD_VARIANT
	case rc.Parallel:
		return common.PARALLEL_MD_VARIANT
	default:
		return common.MD_VARIANT
	}
}

func (rc *RunConfig) OptimizerConfig(numPeers int) meritfed.Config {
	config := meritfed.DefaultConfig(numPeers)
	config.Variant = rc.Variant()
	config.MDLR = rc.FLLR
	config.MDNIters = rc.FLNIters
	config.Beta1 = rc.FLBeta1
	config.DropThreshold = rc.DropThreshold
	config.FLEnabled = rc.FL
	config.EnableFLEvery = rc.EnableFLEvery
	config.BaseLR = rc.LR
	config.Momentum = rc.Momentum
	config.ClampNumerics = rc.ClampNumerics
	return config
}

// TotalSteps is MAX_STEPS, or EPOCHS passes over the shortest shard when no step budget is set.
func (rc *RunConfig) TotalSteps(stepsPerEpoch int) int {
	if rc.MaxSteps > 0 {
		return rc.MaxSteps
	}
	return rc.Epochs * stepsPerEpoch
}

func (rc *RunConfig) PeerSpecs() []*model.PeerSpec {
	specs := make([]*model.PeerSpec, len(rc.Peers))
	for i, p := range rc.Peers {
		specs[i] = &model.PeerSpec{
			Id:         i,
			Name:       p.Name,
			NumSamples: p.Samples,
			Noise:      p.Noise,
			Shift:      p.Shift,
			LinkCost:   defaultCost(p.LinkCost),
			EnergyCost: defaultCost(p.EnergyCost),
		}
	}
	return specs
}

// NewLocalPeerProvider builds the in-memory peer provider described by the run config.
func (rc *RunConfig) NewLocalPeerProvider() (*localpeers.LocalPeerProvider, error) {
	return localpeers.NewLocalPeerProvider(localpeers.Config{
		PeersFile: rc.PeersFile,
		Peers:     rc.PeerSpecs(),
		Seed:      rc.Seed,
		Dim:       rc.Dim,
		BatchSize: rc.BatchSize,
		ValSize:   rc.ValSize,
	})
}

func defaultCost(c float64) float64 {
	if c == 0 {
		return 1
	}
	return c
}

func (rc *RunConfig) resultsName(runId string) string {
	if rc.RunName != "" {
		return fmt.Sprintf("%s_seed%d", rc.RunName, rc.Seed)
	}
	return runId
}
