package meritfed

import (
	"fmt"
	"math"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"gonum.org/v1/gonum/floats"
)

// WeightUpdater revises the peer weights from the round's hypergradient and commits them.
type WeightUpdater interface {
	Name() string
	Update(state *SimplexWeights, active []int, hypergradient []float64) (*WeightUpdate, error)
}

// WeightUpdate is the outcome of one federated round of weight revision.
type WeightUpdate struct {
	Weights []float64
	Dropped []int // peers dropped in this round
}

// exponentiatedStep applies wᵢ ← wᵢ·exp(exponentᵢ) over the active peers and renormalizes them.
// Exponents are clamped into [-maxExponent, maxExponent] and shifted by their maximum so no
// factor exceeds one. The shifted exponent is floored at -maxExponent so factors saturate
// near zero instead of underflowing.
func exponentiatedStep(weights []float64, active []int, exponent []float64, maxExponent float64) error {
	clamped := make([]float64, len(exponent))
	for k, e := range exponent {
		if math.IsNaN(e) {
			return fmt.Errorf("%w: exponent %v", ErrNumericInstability, exponent)
		}
		clamped[k] = math.Max(math.Min(e, maxExponent), -maxExponent)
	}

	shift := floats.Max(clamped)
	scaled := make([]float64, len(active))
	for k, peerId := range active {
		scaled[k] = weights[peerId] * math.Exp(math.Max(clamped[k]-shift, -maxExponent))
	}

	total := floats.Sum(scaled)
	if !(total > 0) || math.IsInf(total, 0) {
		return fmt.Errorf("%w: active weight mass %v after exponentiated update", ErrNumericInstability, total)
	}
	for k, peerId := range active {
		weights[peerId] = scaled[k] / total
	}
	return nil
}

type mirrorDescent struct {
	lr            float64
	iters         int
	dropThreshold float64
	maxExponent   float64
}

// commit stores the new weights and moves peers below the drop threshold to the drop set.
func (md *mirrorDescent) commit(state *SimplexWeights, active []int, weights []float64) (*WeightUpdate, error) {
	if err := state.Set(weights); err != nil {
		return nil, err
	}

	dropped := []int{}
	if md.dropThreshold > 0 {
		for _, peerId := range active {
			if weights[peerId] < md.dropThreshold {
				dropped = append(dropped, peerId)
			}
		}
		for _, peerId := range dropped {
			if err := state.Drop(peerId); err != nil {
				return nil, err
			}
		}
	}

	return &WeightUpdate{Weights: state.Get(), Dropped: dropped}, nil
}

func (md *mirrorDescent) validate(active []int, hypergradient []float64) error {
	if len(hypergradient) != len(active) {
		return fmt.Errorf("%w: hypergradient has %d entries for %d active peers", ErrInvariantViolation,
			len(hypergradient), len(active))
	}
	if !allFinite(hypergradient) {
		return fmt.Errorf("%w: hypergradient %v", ErrNumericInstability, hypergradient)
	}
	return nil
}

// ExponentiatedGradient is entropic mirror descent on the simplex.
type ExponentiatedGradient struct {
	mirrorDescent
}

func NewExponentiatedGradient(lr float64, iters int, dropThreshold float64, maxExponent float64) *ExponentiatedGradient {
	return &ExponentiatedGradient{mirrorDescent{lr: lr, iters: iters, dropThreshold: dropThreshold, maxExponent: maxExponent}}
}

func (eg *ExponentiatedGradient) Name() string { return common.MD_VARIANT }

func (eg *ExponentiatedGradient) Update(state *SimplexWeights, active []int, hypergradient []float64) (*WeightUpdate, error) {
	if err := eg.validate(active, hypergradient); err != nil {
		return nil, err
	}

	weights := state.Get()
	exponent := make([]float64, len(active))
	floats.ScaleTo(exponent, -eg.lr, hypergradient)
	for i := 0; i < eg.iters; i++ {
		if err := exponentiatedStep(weights, active, exponent, eg.maxExponent); err != nil {
			return nil, err
		}
	}

	return eg.commit(state, active, weights)
}

// AdamMirrorDescent smooths the hypergradient with a bias-corrected exponential moving
// average before using it in the exponent. The average is kept per peer across rounds.
type AdamMirrorDescent struct {
	mirrorDescent
	beta1 float64
	m     []float64
	t     int
}

func NewAdamMirrorDescent(lr float64, iters int, beta1 float64, dropThreshold float64, maxExponent float64, numPeers int) *AdamMirrorDescent {
	return &AdamMirrorDescent{
		mirrorDescent: mirrorDescent{lr: lr, iters: iters, dropThreshold: dropThreshold, maxExponent: maxExponent},
		beta1:         beta1,
		m:             make([]float64, numPeers),
	}
}

func (amd *AdamMirrorDescent) Name() string { return common.ADAM_MD_VARIANT }

func (amd *AdamMirrorDescent) Update(state *SimplexWeights, active []int, hypergradient []float64) (*WeightUpdate, error) {
	if err := amd.validate(active, hypergradient); err != nil {
		return nil, err
	}

	weights := state.Get()
	m := append([]float64(nil), amd.m...)
	t := amd.t
	exponent := make([]float64, len(active))
	for i := 0; i < amd.iters; i++ {
		t++
		correction := 1 - math.Pow(amd.beta1, float64(t))
		for k, peerId := range active {
			m[peerId] = amd.beta1*m[peerId] + (1-amd.beta1)*hypergradient[k]
			exponent[k] = -amd.lr * m[peerId] / correction
		}
		if err := exponentiatedStep(weights, active, exponent, amd.maxExponent); err != nil {
			return nil, err
		}
	}

	update, err := amd.commit(state, active, weights)
	if err != nil {
		return nil, err
	}
	amd.m, amd.t = m, t
	return update, nil
}

// Moments returns a copy of the smoothed hypergradient per peer.
func (amd *AdamMirrorDescent) Moments() []float64 {
	return append([]float64(nil), amd.m...)
}
