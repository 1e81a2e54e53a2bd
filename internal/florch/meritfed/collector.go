package meritfed

import (
	"context"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// PeerUpdateCollector gathers one update per active peer at the current shared parameters.
// onUpdate is called once per peer in ascending peer order; params must not be written
// until Collect returns.
type PeerUpdateCollector interface {
	Discipline() string
	Collect(ctx context.Context, params []float64, active []int, onUpdate func(model.PeerUpdate) error) (map[int]model.PeerUpdate, error)
}

type peerSet struct {
	model   model.Model
	loaders []*CyclicLoader
	logger  hclog.Logger
}

func (ps *peerSet) computeUpdate(ctx context.Context, peerId int, params []float64) (model.PeerUpdate, error) {
	if err := ctx.Err(); err != nil {
		return model.PeerUpdate{}, &PeerCollectionError{PeerId: peerId, Err: err}
	}

	batch, err := ps.loaders[peerId].Next()
	if err != nil {
		return model.PeerUpdate{}, &PeerCollectionError{PeerId: peerId, Err: fmt.Errorf("loading batch: %w", err)}
	}

	gradient, loss, err := ps.model.Gradient(params, batch)
	if err != nil {
		return model.PeerUpdate{}, &PeerCollectionError{PeerId: peerId, Err: fmt.Errorf("computing gradient: %w", err)}
	}
	if len(gradient) != len(params) {
		return model.PeerUpdate{}, &PeerCollectionError{PeerId: peerId,
			Err: fmt.Errorf("gradient has %d entries, expected %d", len(gradient), len(params))}
	}
	if !allFinite(gradient) {
		return model.PeerUpdate{}, &PeerCollectionError{PeerId: peerId, Err: fmt.Errorf("non-finite gradient: %w", ErrNumericInstability)}
	}

	direction := make([]float64, len(gradient))
	floats.ScaleTo(direction, -1, gradient)

	return model.PeerUpdate{
		PeerId:    peerId,
		Gradient:  gradient,
		Direction: direction,
		Loss:      loss,
		NumSample: batch.Size(),
	}, nil
}

// SequentialCollector computes peers one after another in a single goroutine.
type SequentialCollector struct {
	peerSet
}

func NewSequentialCollector(m model.Model, loaders []*CyclicLoader, logger hclog.Logger) *SequentialCollector {
	return &SequentialCollector{peerSet{model: m, loaders: loaders, logger: logger}}
}

func (c *SequentialCollector) Discipline() string {
	return common.SEQUENTIAL_COLLECTION
}

func (c *SequentialCollector) Collect(ctx context.Context, params []float64, active []int,
	onUpdate func(model.PeerUpdate) error) (map[int]model.PeerUpdate, error) {
	updates := make(map[int]model.PeerUpdate, len(active))
	for _, peerId := range active {
		update, err := c.computeUpdate(ctx, peerId, params)
		if err != nil {
			return nil, err
		}
		if err := onUpdate(update); err != nil {
			return nil, err
		}
		updates[peerId] = update
	}

	c.logger.Trace("collected peer updates", "peers", len(updates))
	return updates, nil
}

// ParallelCollector runs one goroutine per active peer against a frozen parameter snapshot
// and hands the results over only after every peer of the round has finished.
type ParallelCollector struct {
	peerSet
	maxWorkers int
}

// NewParallelCollector limits concurrency to maxWorkers; zero or less means one goroutine per peer.
func NewParallelCollector(m model.Model, loaders []*CyclicLoader, maxWorkers int, logger hclog.Logger) *ParallelCollector {
	return &ParallelCollector{peerSet: peerSet{model: m, loaders: loaders, logger: logger}, maxWorkers: maxWorkers}
}

func (c *ParallelCollector) Discipline() string {
	return common.PARALLEL_COLLECTION
}

func (c *ParallelCollector) Collect(ctx context.Context, params []float64, active []int,
	onUpdate func(model.PeerUpdate) error) (map[int]model.PeerUpdate, error) {
	results := make([]model.PeerUpdate, len(active))

	g, gctx := errgroup.WithContext(ctx)
	if c.maxWorkers > 0 {
		g.SetLimit(c.maxWorkers)
	}
	for i, peerId := range active {
		i, peerId := i, peerId
		g.Go(func() error {
			update, err := c.computeUpdate(gctx, peerId, params)
			if err != nil {
				return err
			}
			results[i] = update
			return nil
		})
	}
	// barrier: nothing is aggregated until all peers of the round are done
	if err := g.Wait(); err != nil {
		return nil, err
	}

	updates := make(map[int]model.PeerUpdate, len(active))
	for _, update := range results {
		if err := onUpdate(update); err != nil {
			return nil, err
		}
		updates[update.PeerId] = update
	}

	c.logger.Trace("collected peer updates", "peers", len(updates))
	return updates, nil
}
