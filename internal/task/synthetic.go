package task

import (
	"math/rand"
)

// LinearTask is the ground truth that peer shards are sampled from.
type LinearTask struct {
	Weights []float64
	Bias    float64
}

func NewLinearTask(rng *rand.Rand, dim int) *LinearTask {
	weights := make([]float64, dim)
	for i := range weights {
		weights[i] = rng.NormFloat64()
	}
	return &LinearTask{Weights: weights, Bias: rng.NormFloat64()}
}

// Sample draws n examples. shift biases every target, modelling a peer whose data is off the
// shared task; noise is the standard deviation of the target noise.
func (t *LinearTask) Sample(rng *rand.Rand, n int, noise float64, shift float64) ([][]float64, []float64) {
	inputs := make([][]float64, n)
	targets := make([]float64, n)
	for i := 0; i < n; i++ {
		x := make([]float64, len(t.Weights))
		y := t.Bias + shift
		for j := range x {
			x[j] = rng.NormFloat64()
			y += t.Weights[j] * x[j]
		}
		inputs[i] = x
		targets[i] = y + noise*rng.NormFloat64()
	}
	return inputs, targets
}
