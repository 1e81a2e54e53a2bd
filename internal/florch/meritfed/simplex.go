package meritfed

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"gonum.org/v1/gonum/floats"
)

// SimplexWeights holds one non-negative weight per peer summing to one over the active peers.
// Dropped peers keep weight exactly zero and are never re-admitted.
type SimplexWeights struct {
	mu        sync.RWMutex
	weights   []float64
	dropped   []bool
	tolerance float64
}

// NewSimplexWeights starts from the uniform distribution over n peers.
func NewSimplexWeights(n int) *SimplexWeights {
	return &SimplexWeights{
		weights:   common.UniformDistribution(n),
		dropped:   make([]bool, n),
		tolerance: common.SIMPLEX_TOLERANCE,
	}
}

func (s *SimplexWeights) Len() int {
	return len(s.weights)
}

// Get returns a copy of the current weight vector.
func (s *SimplexWeights) Get() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.weights...)
}

// Set replaces the weight vector after checking the simplex invariant.
func (s *SimplexWeights) Set(weights []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(weights); err != nil {
		return err
	}
	copy(s.weights, weights)
	return nil
}

func (s *SimplexWeights) check(weights []float64) error {
	if len(weights) != len(s.weights) {
		return fmt.Errorf("%w: weight vector has %d entries, expected %d", ErrInvariantViolation, len(weights), len(s.weights))
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight of peer %d is not finite: %v", ErrInvariantViolation, i, w)
		}
		if w < 0 {
			return fmt.Errorf("%w: weight of peer %d is negative: %v", ErrInvariantViolation, i, w)
		}
		if s.dropped[i] && w != 0 {
			return fmt.Errorf("%w: dropped peer %d has weight %v", ErrInvariantViolation, i, w)
		}
	}
	if sum := floats.Sum(weights); math.Abs(sum-1) > s.tolerance {
		return fmt.Errorf("%w: weights sum to %v", ErrInvariantViolation, sum)
	}
	return nil
}

// Drop excludes a peer, zeroes its weight and renormalizes the remaining mass.
// Dropping an already dropped peer is a no-op.
func (s *SimplexWeights) Drop(peerId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if peerId < 0 || peerId >= len(s.weights) {
		return fmt.Errorf("%w: unknown peer %d", ErrInvariantViolation, peerId)
	}
	if s.dropped[peerId] {
		return nil
	}

	remaining := 0
	for i := range s.weights {
		if i != peerId && !s.dropped[i] {
			remaining++
		}
	}
	if remaining == 0 {
		return fmt.Errorf("%w: cannot drop peer %d, it is the last active peer", ErrInvariantViolation, peerId)
	}

	s.dropped[peerId] = true
	s.weights[peerId] = 0

	mass := floats.Sum(s.weights)
	for i := range s.weights {
		if s.dropped[i] {
			continue
		}
		if mass > 0 {
			s.weights[i] /= mass
		} else {
			s.weights[i] = 1 / float64(remaining)
		}
	}

	return s.check(s.weights)
}

func (s *SimplexWeights) IsDropped(peerId int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return peerId >= 0 && peerId < len(s.dropped) && s.dropped[peerId]
}

// Active returns the ids of peers that still take part in aggregation, ascending.
func (s *SimplexWeights) Active() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := make([]int, 0, len(s.weights))
	for i, dropped := range s.dropped {
		if !dropped {
			active = append(active, i)
		}
	}
	return active
}

// Dropped returns the ids of excluded peers, ascending.
func (s *SimplexWeights) Dropped() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dropped := []int{}
	for i, d := range s.dropped {
		if d {
			dropped = append(dropped, i)
		}
	}
	sort.Ints(dropped)
	return dropped
}
