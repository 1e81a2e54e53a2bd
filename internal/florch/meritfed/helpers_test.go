package meritfed

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/task"
)

type shard struct {
	samples int
	noise   float64
	shift   float64
}

type fixture struct {
	model   *task.LinearRegression
	loaders []model.Loader
	val     model.Loader
	params  []float64
}

func newFixture(seed int64, dim int, batchSize int, shards ...shard) *fixture {
	rng := rand.New(rand.NewSource(seed))
	truth := task.NewLinearTask(rng, dim)

	loaders := make([]model.Loader, len(shards))
	for i, s := range shards {
		inputs, targets := truth.Sample(rng, s.samples, s.noise, s.shift)
		loaders[i] = task.NewSliceLoader(task.Batches(inputs, targets, batchSize))
	}
	valInputs, valTargets := truth.Sample(rng, 64, 0, 0)

	return &fixture{
		model:   task.NewLinearRegression(dim),
		loaders: loaders,
		val:     task.NewSliceLoader(task.Batches(valInputs, valTargets, batchSize)),
		params:  make([]float64, dim+1),
	}
}

type failingLoader struct {
	err error
}

func (l *failingLoader) Next() (model.Batch, error) { return model.Batch{}, l.err }
func (l *failingLoader) Reset() error               { return nil }
func (l *failingLoader) Len() int                   { return 0 }

// countingLoader counts how many times it has been rewound.
type countingLoader struct {
	model.Loader
	resets int
}

func (l *countingLoader) Reset() error {
	l.resets++
	return l.Loader.Reset()
}

// barrierModel blocks every Gradient call until `parties` calls are in flight.
type barrierModel struct {
	model.Model
	parties int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newBarrierModel(m model.Model, parties int) *barrierModel {
	return &barrierModel{Model: m, parties: parties, release: make(chan struct{})}
}

func (b *barrierModel) Gradient(params []float64, batch model.Batch) ([]float64, float64, error) {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.parties {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
		return b.Model.Gradient(params, batch)
	case <-time.After(2 * time.Second):
		return nil, 0, errors.New("peers were not computed concurrently")
	}
}
