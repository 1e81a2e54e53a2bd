package cost

import (
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
)

// GetRoundCost returns what one step costs. Only peers that contribute to the aggregate
// are charged: with COMMUNICATION each uploads modelSize parameters over its link, with
// COMPUTE each pays its energy cost per sample of the batch it processed.
func GetRoundCost(peers []*model.PeerSpec, contributors []int, batchSizes map[int]int, modelSize int,
	costSource CostSource) (float64, error) {
	roundCost := 0.0
	for _, peerId := range contributors {
		if peerId < 0 || peerId >= len(peers) || peers[peerId] == nil {
			return 0, fmt.Errorf("unknown peer %d", peerId)
		}
		peer := peers[peerId]

		switch costSource {
		case COMMUNICATION:
			roundCost += peer.LinkCost * float64(modelSize)
		case COMPUTE:
			roundCost += peer.EnergyCost * float64(batchSizes[peerId])
		default:
			return 0, fmt.Errorf("invalid cost source %v", costSource)
		}
	}

	return roundCost, nil
}
