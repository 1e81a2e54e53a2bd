package meritfed

import (
	"context"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"github.com/hashicorp/go-hclog"
)

// Optimizer runs one training step of the shared model and, on federated rounds,
// revises how much each peer counts.
type Optimizer interface {
	Variant() string
	Step(ctx context.Context, step int) (*RoundReport, error)
	Weights() []float64
	Dropped() []int
	Params() []float64
	SetLearningRate(lr float64) error
}

// RoundReport holds the read-only observations of one step.
type RoundReport struct {
	Step          int
	Federated     bool
	Weights       []float64
	Dropped       []int
	NewlyDropped  []int
	ActivePeers   []int
	Contributors  []int
	PeerSamples   map[int]int // batch size each collected peer processed
	TrainLoss     float64
	ValLoss       float64 // only set on federated rounds
	Hypergradient []float64
}

type meritFed struct {
	config     Config
	params     []float64
	weights    *SimplexWeights
	collector  PeerUpdateCollector
	aggregator *Aggregator
	estimator  *HypergradientEstimator
	updater    WeightUpdater
	scheduler  *RoundScheduler
	logger     hclog.Logger
}

// MeritFedMD collects peers sequentially and revises weights with exponentiated gradient.
type MeritFedMD struct {
	*meritFed
}

// MeritFedParallelMD collects peers concurrently and revises weights with exponentiated gradient.
type MeritFedParallelMD struct {
	*meritFed
}

// MeritFedAdam steps the model with Adam and revises weights from a smoothed hypergradient.
type MeritFedAdam struct {
	*meritFed
	adam *AdamMirrorDescent
}

// NewOptimizer builds the configured variant. params is the shared model state owned by
// the caller; it is updated in place once per step.
func NewOptimizer(params []float64, m model.Model, loaders []model.Loader, val model.Loader, config Config,
	logger hclog.Logger) (Optimizer, error) {
	switch config.Variant {
	case common.MD_VARIANT:
		return NewMeritFedMD(params, m, loaders, val, config, logger)
	case common.PARALLEL_MD_VARIANT:
		return NewMeritFedParallelMD(params, m, loaders, val, config, logger)
	case common.ADAM_MD_VARIANT:
		return NewMeritFedAdam(params, m, loaders, val, config, logger)
	default:
		return nil, configErrorf("invalid optimizer variant: %q", config.Variant)
	}
}

func NewMeritFedMD(params []float64, m model.Model, loaders []model.Loader, val model.Loader, config Config,
	logger hclog.Logger) (*MeritFedMD, error) {
	config.Variant = common.MD_VARIANT
	base, err := newMeritFed(params, m, loaders, val, config, logger)
	if err != nil {
		return nil, err
	}
	base.collector = NewSequentialCollector(m, cyclic(loaders), base.logger)
	base.aggregator = NewAggregator(NewSGDStep(config.BaseLR, config.Momentum))
	base.updater = NewExponentiatedGradient(config.MDLR, config.MDNIters, config.DropThreshold, config.MaxExponent)
	return &MeritFedMD{base}, nil
}

func NewMeritFedParallelMD(params []float64, m model.Model, loaders []model.Loader, val model.Loader, config Config,
	logger hclog.Logger) (*MeritFedParallelMD, error) {
	config.Variant = common.PARALLEL_MD_VARIANT
	base, err := newMeritFed(params, m, loaders, val, config, logger)
	if err != nil {
		return nil, err
	}
	base.collector = NewParallelCollector(m, cyclic(loaders), 0, base.logger)
	base.aggregator = NewAggregator(NewSGDStep(config.BaseLR, config.Momentum))
	base.updater = NewExponentiatedGradient(config.MDLR, config.MDNIters, config.DropThreshold, config.MaxExponent)
	return &MeritFedParallelMD{base}, nil
}

func NewMeritFedAdam(params []float64, m model.Model, loaders []model.Loader, val model.Loader, config Config,
	logger hclog.Logger) (*MeritFedAdam, error) {
	config.Variant = common.ADAM_MD_VARIANT
	base, err := newMeritFed(params, m, loaders, val, config, logger)
	if err != nil {
		return nil, err
	}
	adam := NewAdamMirrorDescent(config.MDLR, config.MDNIters, config.Beta1, config.DropThreshold, config.MaxExponent,
		config.NumPeers)
	base.collector = NewSequentialCollector(m, cyclic(loaders), base.logger)
	base.aggregator = NewAggregator(NewAdamStep(config.BaseLR, config.Beta1, config.Beta2, config.Eps))
	base.updater = adam
	return &MeritFedAdam{meritFed: base, adam: adam}, nil
}

func newMeritFed(params []float64, m model.Model, loaders []model.Loader, val model.Loader, config Config,
	logger hclog.Logger) (*meritFed, error) {
	if err := config.Validate(len(loaders)); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, configErrorf("model is required")
	}
	if val == nil {
		return nil, configErrorf("validation loader is required")
	}
	if m.NumParams() != len(params) {
		return nil, configErrorf("model has %d parameters, shared state has %d", m.NumParams(), len(params))
	}
	for i, loader := range loaders {
		if loader == nil {
			return nil, configErrorf("loader of peer %d is nil", i)
		}
	}
	scheduler, err := NewRoundScheduler(config.FLEnabled, config.EnableFLEvery)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named(config.Variant)

	return &meritFed{
		config:    config,
		params:    params,
		weights:   NewSimplexWeights(config.NumPeers),
		estimator: NewHypergradientEstimator(m, NewCyclicLoader(val), config.ClampNumerics, config.HypergradClip, logger),
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

func cyclic(loaders []model.Loader) []*CyclicLoader {
	out := make([]*CyclicLoader, len(loaders))
	for i, loader := range loaders {
		out[i] = NewCyclicLoader(loader)
	}
	return out
}

func (mf *meritFed) Variant() string { return mf.config.Variant }

func (mf *meritFed) Weights() []float64 { return mf.weights.Get() }

func (mf *meritFed) Dropped() []int { return mf.weights.Dropped() }

// Params returns a copy of the shared parameters.
func (mf *meritFed) Params() []float64 { return append([]float64(nil), mf.params...) }

// SetLearningRate changes the base step's learning rate. The mirror-descent rate is unaffected.
func (mf *meritFed) SetLearningRate(lr float64) error {
	if err := mf.aggregator.SetLR(lr); err != nil {
		return err
	}
	mf.config.BaseLR = lr
	return nil
}

// Step runs collection, aggregation and, on federated rounds, weight revision.
// A failed collection leaves both the shared parameters and the weights untouched.
func (mf *meritFed) Step(ctx context.Context, step int) (*RoundReport, error) {
	federated := mf.scheduler.IsFederatedRound(step)
	active := mf.weights.Active()
	frozen := mf.weights.Get()

	acc := mf.aggregator.NewAccumulator(frozen, len(mf.params))
	updates, err := mf.collector.Collect(ctx, mf.params, active, acc.Add)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", step, err)
	}

	aggregate, trainLoss := acc.Sum()
	if err := mf.aggregator.Apply(mf.params, aggregate); err != nil {
		return nil, fmt.Errorf("step %d: %w", step, err)
	}

	report := &RoundReport{
		Step:         step,
		Federated:    federated,
		Weights:      frozen,
		Dropped:      mf.weights.Dropped(),
		NewlyDropped: []int{},
		ActivePeers:  active,
		Contributors: acc.Contributors(),
		PeerSamples:  make(map[int]int, len(updates)),
		TrainLoss:    trainLoss,
	}
	for peerId, update := range updates {
		report.PeerSamples[peerId] = update.NumSample
	}
	if !federated {
		return report, nil
	}

	hypergradient, valLoss, err := mf.estimator.Estimate(mf.params, updates, active)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", step, err)
	}

	result, err := mf.updater.Update(mf.weights, active, hypergradient)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", step, err)
	}

	report.Weights = result.Weights
	report.Dropped = mf.weights.Dropped()
	report.NewlyDropped = result.Dropped
	report.ValLoss = valLoss
	report.Hypergradient = hypergradient

	mf.logger.Debug("federated round", "step", step, "weights", common.FormatWeights(result.Weights),
		"val_loss", valLoss, "train_loss", trainLoss)
	for _, peerId := range result.Dropped {
		mf.logger.Info("peer dropped", "step", step, "peer", peerId, "threshold", mf.config.DropThreshold)
	}

	return report, nil
}

// Moments returns the smoothed hypergradient kept by the Adam variant.
func (mfa *MeritFedAdam) Moments() []float64 {
	return mfa.adam.Moments()
}
