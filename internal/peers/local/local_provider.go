package localpeers

import (
	"fmt"
	"math/rand"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/task"
)

type Config struct {
	PeersFile string
	Peers     []*model.PeerSpec
	Seed      int64
	Dim       int
	BatchSize int
	ValSize   int
}

// LocalPeerProvider builds synthetic linear-regression shards in memory. Every shard is
// drawn from its own seeded source so the data does not depend on the order loaders
// are created in.
type LocalPeerProvider struct {
	config Config
	truth  *task.LinearTask
	model  *task.LinearRegression
}

func NewLocalPeerProvider(config Config) (*LocalPeerProvider, error) {
	if config.Dim < 1 {
		return nil, fmt.Errorf("model dimension must be at least 1, got %d", config.Dim)
	}
	if config.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", config.BatchSize)
	}
	if config.ValSize < 1 {
		return nil, fmt.Errorf("validation size must be at least 1, got %d", config.ValSize)
	}
	if config.PeersFile == "" && len(config.Peers) == 0 {
		return nil, fmt.Errorf("either a peers file or inline peers are required")
	}

	return &LocalPeerProvider{
		config: config,
		truth:  task.NewLinearTask(rand.New(rand.NewSource(config.Seed)), config.Dim),
		model:  task.NewLinearRegression(config.Dim),
	}, nil
}

func (p *LocalPeerProvider) GetAvailablePeers() ([]*model.PeerSpec, error) {
	if p.config.PeersFile != "" {
		return common.GetPeerSpecsFromFile(p.config.PeersFile)
	}

	peers := make([]*model.PeerSpec, len(p.config.Peers))
	for i, spec := range p.config.Peers {
		if spec == nil || spec.NumSamples <= 0 {
			return nil, fmt.Errorf("peer %d has no samples", i)
		}
		peer := *spec
		peer.Id = i
		if peer.Name == "" {
			peer.Name = fmt.Sprintf("peer-%d", i)
		}
		peers[i] = &peer
	}
	return peers, nil
}

func (p *LocalPeerProvider) GetModel() model.Model {
	return p.model
}

// InitParams draws the starting parameters from the run seed.
func (p *LocalPeerProvider) InitParams() []float64 {
	rng := rand.New(rand.NewSource(p.config.Seed + 1))
	params := make([]float64, p.model.NumParams())
	for i := range params {
		params[i] = 0.01 * rng.NormFloat64()
	}
	return params
}

func (p *LocalPeerProvider) CreatePeerLoader(peer *model.PeerSpec) (model.Loader, error) {
	if peer == nil || peer.NumSamples <= 0 {
		return nil, fmt.Errorf("peer has no samples")
	}
	rng := rand.New(rand.NewSource(p.config.Seed + 1000*int64(peer.Id+1)))
	inputs, targets := p.truth.Sample(rng, peer.NumSamples, peer.Noise, peer.Shift)
	return task.NewSliceLoader(task.Batches(inputs, targets, p.config.BatchSize)), nil
}

// CreateValidationLoader samples noise-free data from the shared task.
func (p *LocalPeerProvider) CreateValidationLoader() (model.Loader, error) {
	rng := rand.New(rand.NewSource(p.config.Seed - 1))
	inputs, targets := p.truth.Sample(rng, p.config.ValSize, 0, 0)
	return task.NewSliceLoader(task.Batches(inputs, targets, p.config.BatchSize)), nil
}
