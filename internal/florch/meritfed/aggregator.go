package meritfed

import (
	"fmt"
	"math"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"gonum.org/v1/gonum/floats"
)

// BaseStep turns an aggregated gradient into one in-place parameter update.
type BaseStep interface {
	Name() string
	Apply(params []float64, aggregate []float64)
	SetLR(lr float64)
}

// SGDStep is plain gradient descent with an optional momentum buffer.
type SGDStep struct {
	LR       float64
	Momentum float64
	buf      []float64
}

func NewSGDStep(lr, momentum float64) *SGDStep {
	return &SGDStep{LR: lr, Momentum: momentum}
}

func (s *SGDStep) Name() string { return "sgd" }

func (s *SGDStep) SetLR(lr float64) { s.LR = lr }

func (s *SGDStep) Apply(params []float64, aggregate []float64) {
	direction := aggregate
	if s.Momentum > 0 {
		if s.buf == nil {
			s.buf = append([]float64(nil), aggregate...)
		} else {
			floats.Scale(s.Momentum, s.buf)
			floats.Add(s.buf, aggregate)
		}
		direction = s.buf
	}
	floats.AddScaled(params, -s.LR, direction)
}

// AdamStep is the Adam update with bias-corrected first and second moments.
type AdamStep struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	m     []float64
	v     []float64
	t     int
}

func NewAdamStep(lr, beta1, beta2, eps float64) *AdamStep {
	return &AdamStep{LR: lr, Beta1: beta1, Beta2: beta2, Eps: eps}
}

func (s *AdamStep) Name() string { return "adam" }

func (s *AdamStep) SetLR(lr float64) { s.LR = lr }

func (s *AdamStep) Apply(params []float64, aggregate []float64) {
	if s.m == nil {
		s.m = make([]float64, len(params))
		s.v = make([]float64, len(params))
	}
	s.t++
	bc1 := 1 - math.Pow(s.Beta1, float64(s.t))
	bc2 := 1 - math.Pow(s.Beta2, float64(s.t))
	for i, g := range aggregate {
		s.m[i] = s.Beta1*s.m[i] + (1-s.Beta1)*g
		s.v[i] = s.Beta2*s.v[i] + (1-s.Beta2)*g*g
		mHat := s.m[i] / bc1
		vHat := s.v[i] / bc2
		params[i] -= s.LR * mHat / (math.Sqrt(vHat) + s.Eps)
	}
}

// Accumulator builds the weighted sum of peer gradients for one round.
// Peers with zero weight, including dropped peers, are skipped entirely.
type Accumulator struct {
	weights []float64
	dim     int
	sum     []float64
	loss    float64
	used    []int
}

func NewAccumulator(weights []float64, dim int) *Accumulator {
	return &Accumulator{weights: weights, dim: dim}
}

func (acc *Accumulator) Add(update model.PeerUpdate) error {
	if update.PeerId < 0 || update.PeerId >= len(acc.weights) {
		return fmt.Errorf("%w: update from unknown peer %d", ErrInvariantViolation, update.PeerId)
	}
	if len(update.Gradient) != acc.dim {
		return fmt.Errorf("%w: peer %d update has %d entries, expected %d", ErrPeerCollection, update.PeerId,
			len(update.Gradient), acc.dim)
	}

	w := acc.weights[update.PeerId]
	if w == 0 {
		return nil
	}
	if acc.sum == nil {
		acc.sum = make([]float64, acc.dim)
		floats.ScaleTo(acc.sum, w, update.Gradient)
	} else {
		floats.AddScaled(acc.sum, w, update.Gradient)
	}
	acc.loss += w * update.Loss
	acc.used = append(acc.used, update.PeerId)
	return nil
}

// Sum returns the aggregated gradient and the weighted training loss.
func (acc *Accumulator) Sum() ([]float64, float64) {
	if acc.sum == nil {
		return make([]float64, acc.dim), 0
	}
	return acc.sum, acc.loss
}

// Contributors returns the peers that entered the weighted sum.
func (acc *Accumulator) Contributors() []int {
	return acc.used
}

// Aggregator mixes peer updates with the current weights and steps the shared model.
// Apply is the single place where shared parameters change during a round.
type Aggregator struct {
	step BaseStep
}

func NewAggregator(step BaseStep) *Aggregator {
	return &Aggregator{step: step}
}

func (a *Aggregator) NewAccumulator(weights []float64, dim int) *Accumulator {
	return NewAccumulator(weights, dim)
}

// Aggregate computes Σ wᵢ·gradientᵢ over peers with non-zero weight in ascending peer order.
func (a *Aggregator) Aggregate(updates map[int]model.PeerUpdate, weights []float64, dim int) ([]float64, error) {
	acc := a.NewAccumulator(weights, dim)
	for peerId := 0; peerId < len(weights); peerId++ {
		update, ok := updates[peerId]
		if !ok {
			continue
		}
		if err := acc.Add(update); err != nil {
			return nil, err
		}
	}
	sum, _ := acc.Sum()
	return sum, nil
}

func (a *Aggregator) Apply(params []float64, aggregate []float64) error {
	if len(params) != len(aggregate) {
		return fmt.Errorf("%w: aggregate has %d entries, parameters %d", ErrInvariantViolation, len(aggregate), len(params))
	}
	if !allFinite(aggregate) {
		return fmt.Errorf("%w: aggregated update is not finite", ErrNumericInstability)
	}
	a.step.Apply(params, aggregate)
	if !allFinite(params) {
		return fmt.Errorf("%w: parameters are not finite after %s step", ErrNumericInstability, a.step.Name())
	}
	return nil
}

// SetLR changes the base learning rate from the next step on.
func (a *Aggregator) SetLR(lr float64) error {
	if !(lr > 0) || math.IsInf(lr, 0) {
		return configErrorf("base learning rate must be positive, got %v", lr)
	}
	a.step.SetLR(lr)
	return nil
}

func (a *Aggregator) StepName() string {
	return a.step.Name()
}
