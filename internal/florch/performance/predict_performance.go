package performance

import (
	"fmt"
	"math"
)

const LogarithmicRegression_PredictionType = "log-reg"

// LossPrediction extrapolates the validation-loss curve of a run.
type LossPrediction struct {
	regression Regression
}

// NewLossPrediction fits losses observed at the given steps.
func NewLossPrediction(steps []int, losses []float64, predictionType string) (*LossPrediction, error) {
	if len(steps) != len(losses) {
		return nil, fmt.Errorf("got %d steps and %d losses", len(steps), len(losses))
	}

	xs := make([]float64, len(steps))
	for i, step := range steps {
		xs[i] = float64(step)
	}

	switch predictionType {
	case LogarithmicRegression_PredictionType:
		regression, err := NewLogarithmicRegression(xs, losses)
		if err != nil {
			return nil, err
		}
		return &LossPrediction{regression: regression}, nil
	default:
		return nil, fmt.Errorf("invalid prediction type: %s", predictionType)
	}
}

func (lp *LossPrediction) PredictLoss(step int) float64 {
	return lp.regression.PredictY(float64(step))
}

// PredictStepForLoss returns the first step at which the fitted curve reaches loss,
// or -1 when the curve never gets there.
func (lp *LossPrediction) PredictStepForLoss(loss float64) int {
	x := lp.regression.PredictX(loss)
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 || x > math.MaxInt32 {
		return -1
	}
	return int(math.Ceil(x))
}

func (lp *LossPrediction) PrintPrediction() string {
	return lp.regression.PrintFunction()
}
