package florch

import (
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
)

// getDataShares returns each peer's fraction of all training samples, the weighting
// plain sample-proportional averaging would use.
func getDataShares(peers []*model.PeerSpec) []float64 {
	total := 0
	for _, peer := range peers {
		total += peer.NumSamples
	}

	shares := make([]float64, len(peers))
	if total == 0 {
		return common.UniformDistribution(len(peers))
	}
	for i, peer := range peers {
		shares[i] = float64(peer.NumSamples) / float64(total)
	}
	return shares
}

// getDataShareDivergence measures how far the learned weights moved from sample-proportional weights.
func getDataShareDivergence(weights []float64, dataShares []float64) float64 {
	if len(weights) != len(dataShares) {
		return 0
	}
	return common.KlDivergence(weights, dataShares)
}
