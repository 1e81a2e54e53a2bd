package model

// Model evaluates the loss and its gradient for a batch at the given parameters.
// Implementations must not mutate params: peers evaluate concurrently against one snapshot.
type Model interface {
	NumParams() int
	Gradient(params []float64, batch Batch) ([]float64, float64, error)
}
