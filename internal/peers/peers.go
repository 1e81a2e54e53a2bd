package peers

import (
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
)

// IPeerProvider supplies everything a training run needs from its peers: who they are,
// the shared model, one loader per peer shard and the server's held-out validation loader.
type IPeerProvider interface {
	GetAvailablePeers() ([]*model.PeerSpec, error)
	GetModel() model.Model
	InitParams() []float64
	CreatePeerLoader(peer *model.PeerSpec) (model.Loader, error)
	CreateValidationLoader() (model.Loader, error)
}
