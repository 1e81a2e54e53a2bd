package meritfed

import (
	"errors"
	"fmt"
	"io"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
)

// CyclicLoader turns a finite, restartable loader into an endless batch sequence.
// Peers with smaller shards simply wrap around more often.
type CyclicLoader struct {
	loader model.Loader
	epoch  int
}

func NewCyclicLoader(loader model.Loader) *CyclicLoader {
	return &CyclicLoader{loader: loader}
}

// Next returns the next batch, restarting the underlying loader when it is exhausted.
func (c *CyclicLoader) Next() (model.Batch, error) {
	batch, err := c.loader.Next()
	if !errors.Is(err, io.EOF) {
		return batch, err
	}

	if err := c.loader.Reset(); err != nil {
		return model.Batch{}, fmt.Errorf("restarting loader: %w", err)
	}
	c.epoch++

	batch, err = c.loader.Next()
	if errors.Is(err, io.EOF) {
		return model.Batch{}, errors.New("loader produced no batches after restart")
	}
	return batch, err
}

// Epoch returns how many times the loader has wrapped around.
func (c *CyclicLoader) Epoch() int {
	return c.epoch
}
