package model

// Batch is one local mini-batch of a peer or of the held-out validation set.
type Batch struct {
	Inputs  [][]float64
	Targets []float64
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	return len(b.Targets)
}

// Loader produces batches until it is exhausted (io.EOF) and can be rewound with Reset.
type Loader interface {
	Next() (Batch, error)
	Reset() error
	Len() int
}
