package florch

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch/cost"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch/meritfed"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch/performance"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/peers"
	"github.com/hashicorp/go-hclog"
)

type FlOrchestrator struct {
	runId             string
	peerProvider      peers.IPeerProvider
	eventBus          *events.EventBus
	logger            hclog.Logger
	config            *RunConfig
	peers             []*model.PeerSpec
	dataShares        []float64
	optimizer         meritfed.Optimizer
	modelSize         int
	totalSteps        int
	costConfiguration *cost.CostConfiguration
	resultsFileName   string
	checkpointName    string

	mu       sync.Mutex
	progress *FlProgress
}

type FlProgress struct {
	step             int
	trainLoss        float64
	valSteps         []int
	valLosses        []float64
	weights          []float64
	dropped          []int
	currentCost      float64
	lr               float64
	lossHasConverged bool
	predictedStep    int
	finished         bool
	exitCode         int32
	exitMessage      string
}

// Snapshot is a read-only view of a run's progress.
type Snapshot struct {
	RunId         string    `json:"runId"`
	Variant       string    `json:"variant"`
	Step          int       `json:"step"`
	TotalSteps    int       `json:"totalSteps"`
	Weights       []float64 `json:"weights"`
	DataShares    []float64 `json:"dataShares"`
	DataShareKld  float64   `json:"dataShareKld"`
	Dropped       []int     `json:"dropped"`
	TrainLoss     float64   `json:"trainLoss"`
	ValLoss       float64   `json:"valLoss"`
	LR            float64   `json:"lr"`
	Cost          float64   `json:"cost"`
	Converged     bool      `json:"converged"`
	PredictedStep int       `json:"predictedStep"`
	Finished      bool      `json:"finished"`
	ExitCode      int32     `json:"exitCode"`
	ExitMessage   string    `json:"exitMessage"`
}

func NewFlOrchestrator(runId string, peerProvider peers.IPeerProvider, eventBus *events.EventBus, logger hclog.Logger,
	config *RunConfig) (*FlOrchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", meritfed.ErrConfiguration, err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	peerSpecs, err := peerProvider.GetAvailablePeers()
	if err != nil {
		return nil, err
	}
	if len(peerSpecs) == 0 {
		return nil, fmt.Errorf("%w: no peers available", meritfed.ErrConfiguration)
	}

	loaders := make([]model.Loader, len(peerSpecs))
	stepsPerEpoch := math.MaxInt
	for i, peer := range peerSpecs {
		loader, err := peerProvider.CreatePeerLoader(peer)
		if err != nil {
			return nil, fmt.Errorf("creating loader of peer %s: %w", peer.Name, err)
		}
		loaders[i] = loader
		stepsPerEpoch = min(stepsPerEpoch, loader.Len())
	}

	val, err := peerProvider.CreateValidationLoader()
	if err != nil {
		return nil, fmt.Errorf("creating validation loader: %w", err)
	}

	params := peerProvider.InitParams()
	optimizer, err := meritfed.NewOptimizer(params, peerProvider.GetModel(), loaders, val,
		config.OptimizerConfig(len(peerSpecs)), logger.Named("optimizer"))
	if err != nil {
		return nil, err
	}

	name := config.resultsName(runId)
	orch := &FlOrchestrator{
		runId:             runId,
		peerProvider:      peerProvider,
		eventBus:          eventBus,
		logger:            logger,
		config:            config,
		peers:             peerSpecs,
		dataShares:        getDataShares(peerSpecs),
		optimizer:         optimizer,
		modelSize:         len(params),
		totalSteps:        config.TotalSteps(stepsPerEpoch),
		costConfiguration: config.Cost,
		resultsFileName:   filepath.Join(config.ResultsDir, fmt.Sprintf("results_%s.csv", name)),
		checkpointName:    filepath.Join(config.ResultsDir, "checkpoints", name+".json"),
		progress: &FlProgress{
			weights:       optimizer.Weights(),
			dropped:       []int{},
			lr:            config.LR,
			predictedStep: -1,
		},
	}

	return orch, nil
}

func (orch *FlOrchestrator) RunId() string { return orch.runId }

// Run trains until the step budget is spent, a stop condition holds or ctx is cancelled.
// Cancellation is observed between rounds only; a round in flight always completes.
func (orch *FlOrchestrator) Run(ctx context.Context) error {
	orch.logger.Info(fmt.Sprintf("Starting run %s with %d peers, variant %s, %d steps", orch.runId, len(orch.peers),
		orch.optimizer.Variant(), orch.totalSteps))
	orch.printConfiguration()

	if err := createResultsFile(orch.resultsFileName); err != nil {
		orch.logger.Error("unable to create results file", "error", err)
		orch.finish(0, common.EXIT_ERROR, err.Error())
		return err
	}

	if orch.config.ReportEvery != "" {
		reporter, err := NewProgressReporter(orch.config.ReportEvery, orch.Snapshot, orch.logger.Named("progress"))
		if err != nil {
			orch.finish(0, common.EXIT_ERROR, err.Error())
			return err
		}
		reporter.Start()
		defer reporter.Stop()
	}

	roundCtx := context.WithoutCancel(ctx)
	for step := 0; step < orch.totalSteps; step++ {
		if ctx.Err() != nil {
			orch.logger.Info(fmt.Sprintf("Run %s stopped before step %d", orch.runId, step))
			orch.finish(step, common.EXIT_STOPPED, "stopped")
			return nil
		}

		if err := orch.scheduleLearningRate(step); err != nil {
			orch.finish(step, common.EXIT_ERROR, err.Error())
			return err
		}

		report, err := orch.optimizer.Step(roundCtx, step)
		if err != nil {
			orch.logger.Error("training step failed", "step", step, "error", err)
			orch.finish(step, common.EXIT_ERROR, err.Error())
			return err
		}

		if err := orch.recordRound(report); err != nil {
			orch.logger.Error("recording step failed", "step", step, "error", err)
			orch.finish(step, common.EXIT_ERROR, err.Error())
			return err
		}

		if orch.config.SaveEvery > 0 && (step+1)%orch.config.SaveEvery == 0 {
			if err := orch.saveCheckpoint(step); err != nil {
				orch.logger.Warn("unable to save checkpoint", "step", step, "error", err)
			}
		}

		if reason, stop := orch.shouldStop(report); stop {
			orch.logger.Info(fmt.Sprintf("Run %s finished at step %d: %s", orch.runId, step, reason))
			orch.finish(step+1, common.EXIT_OK, reason)
			return nil
		}
	}

	if orch.config.SaveEvery > 0 {
		if err := orch.saveCheckpoint(orch.totalSteps - 1); err != nil {
			orch.logger.Warn("unable to save checkpoint", "error", err)
		}
	}
	orch.logger.Info(fmt.Sprintf("Run %s finished after %d steps", orch.runId, orch.totalSteps))
	orch.finish(orch.totalSteps, common.EXIT_OK, "max steps reached")
	return nil
}

// scheduleLearningRate anneals the base rate from LR to MIN_LR over the run when the
// cosine schedule is selected.
func (orch *FlOrchestrator) scheduleLearningRate(step int) error {
	if orch.config.Schedule != COSINE_LR_SCHEDULE {
		return nil
	}
	lr := orch.config.MinLR + 0.5*(orch.config.LR-orch.config.MinLR)*
		(1+math.Cos(math.Pi*float64(step)/float64(orch.totalSteps)))
	if err := orch.optimizer.SetLearningRate(lr); err != nil {
		return err
	}
	orch.mu.Lock()
	orch.progress.lr = lr
	orch.mu.Unlock()
	return nil
}

func (orch *FlOrchestrator) recordRound(report *meritfed.RoundReport) error {
	roundCost, err := cost.GetRoundCost(orch.peers, report.Contributors, report.PeerSamples, orch.modelSize,
		orch.costSource())
	if err != nil {
		return err
	}
	weightKld := common.KlDivergence(report.Weights, common.UniformDistribution(len(report.Weights)))

	orch.mu.Lock()
	orch.progress.step = report.Step + 1
	orch.progress.trainLoss = report.TrainLoss
	orch.progress.weights = append([]float64(nil), report.Weights...)
	orch.progress.dropped = append([]int(nil), report.Dropped...)
	orch.progress.currentCost += roundCost
	totalCost := orch.progress.currentCost
	if report.Federated {
		orch.progress.valSteps = append(orch.progress.valSteps, report.Step)
		orch.progress.valLosses = append(orch.progress.valLosses, report.ValLoss)
		orch.progress.lossHasConverged = hasConverged(orch.progress.valLosses, orch.config.ConvergenceThreshold,
			orch.config.ConvergencePatience, orch.config.ConvergenceWindow)
		orch.updatePrediction()
	}
	orch.mu.Unlock()

	if err := writeResultsToFile(orch.resultsFileName, report, weightKld, roundCost, totalCost); err != nil {
		orch.logger.Warn("unable to write results", "step", report.Step, "error", err)
	}

	if orch.eventBus != nil {
		orch.eventBus.Publish(common.GetRoundFinishedEvent(events.RoundFinishedEvent{
			RunId:         orch.runId,
			Step:          report.Step,
			Federated:     report.Federated,
			Weights:       report.Weights,
			Dropped:       report.Dropped,
			TrainLoss:     report.TrainLoss,
			ValLoss:       report.ValLoss,
			WeightKld:     weightKld,
			RoundCost:     roundCost,
			HyperGradient: report.Hypergradient,
		}))
		if len(report.NewlyDropped) > 0 {
			orch.eventBus.Publish(common.GetPeerDroppedEvent(report.Step, report.NewlyDropped, report.Weights))
		}
	}

	return nil
}

// updatePrediction fits the validation-loss curve. Caller holds mu.
func (orch *FlOrchestrator) updatePrediction() {
	if orch.config.TargetValLoss <= 0 || len(orch.progress.valLosses) < 3 {
		return
	}
	prediction, err := performance.NewLossPrediction(orch.progress.valSteps, orch.progress.valLosses,
		performance.LogarithmicRegression_PredictionType)
	if err != nil {
		orch.logger.Debug("unable to fit validation loss", "error", err)
		return
	}
	orch.progress.predictedStep = prediction.PredictStepForLoss(orch.config.TargetValLoss)
	orch.logger.Debug("validation loss prediction", "function", prediction.PrintPrediction(),
		"target", orch.config.TargetValLoss, "predicted_step", orch.progress.predictedStep)
}

func (orch *FlOrchestrator) shouldStop(report *meritfed.RoundReport) (string, bool) {
	orch.mu.Lock()
	defer orch.mu.Unlock()

	if orch.costConfiguration.IsBudgetExhausted(orch.progress.currentCost) {
		return "budget exhausted", true
	}
	if orch.config.TargetValLoss > 0 && report.Federated && report.ValLoss <= orch.config.TargetValLoss {
		return "target validation loss reached", true
	}
	if orch.config.StopOnConvergence && orch.progress.lossHasConverged {
		return "validation loss converged", true
	}
	return "", false
}

func (orch *FlOrchestrator) costSource() cost.CostSource {
	if orch.costConfiguration == nil {
		return cost.COMMUNICATION
	}
	return orch.costConfiguration.Source
}

func (orch *FlOrchestrator) finish(step int, exitCode int32, exitMessage string) {
	orch.mu.Lock()
	orch.progress.finished = true
	orch.progress.exitCode = exitCode
	orch.progress.exitMessage = exitMessage
	orch.mu.Unlock()

	if orch.eventBus != nil {
		orch.eventBus.Publish(common.GetTrainingFinishedEvent(orch.runId, step, exitCode, exitMessage))
	}
}

func (orch *FlOrchestrator) Snapshot() Snapshot {
	orch.mu.Lock()
	defer orch.mu.Unlock()

	valLoss := 0.0
	if n := len(orch.progress.valLosses); n > 0 {
		valLoss = orch.progress.valLosses[n-1]
	}

	return Snapshot{
		RunId:         orch.runId,
		Variant:       orch.optimizer.Variant(),
		Step:          orch.progress.step,
		TotalSteps:    orch.totalSteps,
		Weights:       append([]float64(nil), orch.progress.weights...),
		DataShares:    append([]float64(nil), orch.dataShares...),
		DataShareKld:  getDataShareDivergence(orch.progress.weights, orch.dataShares),
		Dropped:       append([]int{}, orch.progress.dropped...),
		TrainLoss:     orch.progress.trainLoss,
		ValLoss:       valLoss,
		LR:            orch.progress.lr,
		Cost:          orch.progress.currentCost,
		Converged:     orch.progress.lossHasConverged,
		PredictedStep: orch.progress.predictedStep,
		Finished:      orch.progress.finished,
		ExitCode:      orch.progress.exitCode,
		ExitMessage:   orch.progress.exitMessage,
	}
}

func (orch *FlOrchestrator) printConfiguration() {
	for _, peer := range orch.peers {
		orch.logger.Debug(fmt.Sprintf("Peer %d (%s): %d samples (share %.3f), noise %.2f, shift %.2f", peer.Id,
			peer.Name, peer.NumSamples, orch.dataShares[peer.Id], peer.Noise, peer.Shift))
	}
}

func movingAverage(values []float64, windowSize int) []float64 {
	if windowSize <= 0 || len(values) < windowSize {
		return []float64{}
	}

	averages := make([]float64, 0, len(values)-windowSize+1)
	for i := 0; i <= len(values)-windowSize; i++ {
		averages = append(averages, common.CalculateAverageFloat64(values[i:i+windowSize]))
	}
	return averages
}

func hasConverged(losses []float64, threshold float64, patience int, windowSize int) bool {
	if patience < 1 {
		return false
	}
	averages := movingAverage(losses, windowSize)
	if len(averages) < patience+1 {
		return false // Not enough data to determine convergence
	}

	for i := len(averages) - patience; i < len(averages); i++ {
		improvement := averages[i] - averages[i-1]
		if math.Abs(improvement) > threshold {
			return false
		}
	}
	return true
}

var resultsHeader = []string{"step", "federated", "train_loss", "val_loss", "weight_kld", "round_cost", "total_cost",
	"weights", "dropped"}

func createResultsFile(fileName string) error {
	if err := os.MkdirAll(filepath.Dir(fileName), 0777); err != nil {
		return err
	}
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(resultsHeader); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func writeResultsToFile(fileName string, report *meritfed.RoundReport, weightKld float64, roundCost float64,
	totalCost float64) error {
	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	dropped := make([]string, len(report.Dropped))
	for i, peerId := range report.Dropped {
		dropped[i] = strconv.Itoa(peerId)
	}
	valLoss := ""
	if report.Federated {
		valLoss = fmt.Sprintf("%.6f", report.ValLoss)
	}

	record := []string{fmt.Sprintf("%d", report.Step), strconv.FormatBool(report.Federated),
		fmt.Sprintf("%.6f", report.TrainLoss), valLoss, fmt.Sprintf("%.6f", weightKld),
		fmt.Sprintf("%.2f", roundCost), fmt.Sprintf("%.2f", totalCost), common.FormatWeights(report.Weights),
		strings.Join(dropped, " ")}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	writer.Flush()
	return writer.Error()
}
