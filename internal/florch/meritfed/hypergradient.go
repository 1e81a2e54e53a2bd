package meritfed

import (
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"github.com/hashicorp/go-hclog"
	"gonum.org/v1/gonum/floats"
)

// HypergradientEstimator scores each peer's update against a held-out validation batch.
//
// The aggregate step is linear in the weights, so the first-order sensitivity of the
// validation loss to peer i's weight is <∇L_val(x_{k+1}), dᵢ> with dᵢ the peer's descent
// direction. Negative values mean the peer moved the model towards lower validation loss.
type HypergradientEstimator struct {
	model  model.Model
	val    *CyclicLoader
	clamp  bool
	clip   float64
	logger hclog.Logger
}

func NewHypergradientEstimator(m model.Model, val *CyclicLoader, clamp bool, clip float64, logger hclog.Logger) *HypergradientEstimator {
	return &HypergradientEstimator{model: m, val: val, clamp: clamp, clip: clip, logger: logger}
}

// Estimate returns one hypergradient entry per active peer, in the order of active,
// together with the validation loss at params.
func (e *HypergradientEstimator) Estimate(params []float64, updates map[int]model.PeerUpdate, active []int) ([]float64, float64, error) {
	batch, err := e.val.Next()
	if err != nil {
		return nil, 0, fmt.Errorf("loading validation batch: %w", err)
	}

	valGradient, valLoss, err := e.model.Gradient(params, batch)
	if err != nil {
		return nil, 0, fmt.Errorf("computing validation gradient: %w", err)
	}
	if len(valGradient) != len(params) {
		return nil, 0, fmt.Errorf("validation gradient has %d entries, expected %d", len(valGradient), len(params))
	}

	hypergradient := make([]float64, len(active))
	for k, peerId := range active {
		update, ok := updates[peerId]
		if !ok {
			return nil, 0, fmt.Errorf("%w: no update for active peer %d", ErrPeerCollection, peerId)
		}
		hypergradient[k] = floats.Dot(valGradient, update.Direction)
	}

	if !allFinite([]float64{valLoss}) {
		return nil, 0, fmt.Errorf("%w: validation loss %v", ErrNumericInstability, valLoss)
	}
	if !allFinite(hypergradient) {
		if !e.clamp {
			return nil, 0, fmt.Errorf("%w: hypergradient %v", ErrNumericInstability, hypergradient)
		}
		replaced := sanitize(hypergradient, e.clip)
		e.logger.Warn("clamped non-finite hypergradient entries", "replaced", replaced)
	}

	return hypergradient, valLoss, nil
}
