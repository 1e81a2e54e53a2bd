package task

import (
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"gonum.org/v1/gonum/floats"
)

// LinearRegression is y = w·x + b trained with the mean squared error ½·mean(r²).
// The parameter layout is [w_0 .. w_{dim-1}, b].
type LinearRegression struct {
	dim int
}

func NewLinearRegression(dim int) *LinearRegression {
	return &LinearRegression{dim: dim}
}

func (lr *LinearRegression) NumParams() int {
	return lr.dim + 1
}

func (lr *LinearRegression) Predict(params []float64, x []float64) float64 {
	return floats.Dot(params[:lr.dim], x) + params[lr.dim]
}

func (lr *LinearRegression) Gradient(params []float64, batch model.Batch) ([]float64, float64, error) {
	if len(params) != lr.NumParams() {
		return nil, 0, fmt.Errorf("expected %d parameters, got %d", lr.NumParams(), len(params))
	}
	if batch.Size() == 0 || len(batch.Inputs) != batch.Size() {
		return nil, 0, fmt.Errorf("invalid batch: %d inputs, %d targets", len(batch.Inputs), batch.Size())
	}

	grad := make([]float64, lr.NumParams())
	loss := 0.0
	for i, x := range batch.Inputs {
		if len(x) != lr.dim {
			return nil, 0, fmt.Errorf("example %d has %d features, expected %d", i, len(x), lr.dim)
		}
		r := lr.Predict(params, x) - batch.Targets[i]
		loss += r * r
		floats.AddScaled(grad[:lr.dim], r, x)
		grad[lr.dim] += r
	}

	n := float64(batch.Size())
	floats.Scale(1/n, grad)
	return grad, loss / (2 * n), nil
}
