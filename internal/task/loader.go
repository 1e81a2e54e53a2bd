package task

import (
	"io"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
)

// SliceLoader serves pre-built batches in order and reports io.EOF at the end.
type SliceLoader struct {
	batches []model.Batch
	pos     int
}

func NewSliceLoader(batches []model.Batch) *SliceLoader {
	return &SliceLoader{batches: batches}
}

func (l *SliceLoader) Next() (model.Batch, error) {
	if l.pos >= len(l.batches) {
		return model.Batch{}, io.EOF
	}
	batch := l.batches[l.pos]
	l.pos++
	return batch, nil
}

func (l *SliceLoader) Reset() error {
	l.pos = 0
	return nil
}

func (l *SliceLoader) Len() int {
	return len(l.batches)
}

// Batches splits examples into consecutive batches of at most batchSize.
func Batches(inputs [][]float64, targets []float64, batchSize int) []model.Batch {
	if batchSize <= 0 {
		batchSize = len(targets)
	}
	batches := []model.Batch{}
	for start := 0; start < len(targets); start += batchSize {
		end := start + batchSize
		if end > len(targets) {
			end = len(targets)
		}
		batches = append(batches, model.Batch{Inputs: inputs[start:end], Targets: targets[start:end]})
	}
	return batches
}
