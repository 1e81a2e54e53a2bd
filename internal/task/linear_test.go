package task

import (
	"errors"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
)

func TestLinearRegressionGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lin := NewLinearRegression(3)
	inputs, targets := NewLinearTask(rng, 3).Sample(rng, 16, 0.1, 0)
	batch := model.Batch{Inputs: inputs, Targets: targets}
	params := []float64{0.3, -0.2, 0.5, 0.1}

	grad, _, err := lin.Gradient(params, batch)
	if err != nil {
		t.Fatalf("Gradient: %v", err)
	}

	const h = 1e-6
	for i := range params {
		plus := append([]float64(nil), params...)
		minus := append([]float64(nil), params...)
		plus[i] += h
		minus[i] -= h
		_, lp, _ := lin.Gradient(plus, batch)
		_, lm, _ := lin.Gradient(minus, batch)
		numeric := (lp - lm) / (2 * h)
		if math.Abs(numeric-grad[i]) > 1e-5 {
			t.Errorf("param %d: analytic %v, numeric %v", i, grad[i], numeric)
		}
	}
}

func TestLinearRegressionRejectsBadInput(t *testing.T) {
	lin := NewLinearRegression(2)
	cases := []struct {
		name   string
		params []float64
		batch  model.Batch
	}{
		{"wrong params", []float64{1, 2}, model.Batch{Inputs: [][]float64{{1, 2}}, Targets: []float64{1}}},
		{"empty batch", []float64{1, 2, 3}, model.Batch{}},
		{"wrong features", []float64{1, 2, 3}, model.Batch{Inputs: [][]float64{{1}}, Targets: []float64{1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := lin.Gradient(tc.params, tc.batch); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSliceLoaderExhaustsAndResets(t *testing.T) {
	inputs := [][]float64{{1}, {2}, {3}, {4}, {5}}
	targets := []float64{1, 2, 3, 4, 5}
	loader := NewSliceLoader(Batches(inputs, targets, 2))
	if loader.Len() != 3 {
		t.Fatalf("expected 3 batches, got %d", loader.Len())
	}

	sizes := []int{}
	for {
		batch, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sizes = append(sizes, batch.Size())
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[2] != 1 {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}

	if err := loader.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	batch, err := loader.Next()
	if err != nil || batch.Targets[0] != 1 {
		t.Fatalf("expected first batch after reset, got %v, %v", batch, err)
	}
}

func TestSampleIsDeterministicForSeed(t *testing.T) {
	a := NewLinearTask(rand.New(rand.NewSource(1)), 4)
	b := NewLinearTask(rand.New(rand.NewSource(1)), 4)
	for i := range a.Weights {
		if a.Weights[i] != b.Weights[i] {
			t.Fatalf("weights differ at %d", i)
		}
	}
}
