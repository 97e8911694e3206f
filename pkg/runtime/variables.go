// Package runtime drives particle effects: it owns live emitters, steps them
// at a fixed rate and evaluates their formulas for every particle.
package runtime

import (
	"fmt"
	"math"
	"sync"

	"github.com/lemonberrylabs/particlefx/pkg/types"
)

// MaxVariables bounds the size of a VariableStore.
const MaxVariables = 4096

// VariableStore is the host's indexed numeric variable table, read by the
// var() formula function. It is safe for concurrent use.
type VariableStore struct {
	mu   sync.RWMutex
	vars []float64
}

// NewVariableStore creates a store with size zeroed slots.
func NewVariableStore(size int) *VariableStore {
	if size < 0 {
		size = 0
	}
	return &VariableStore{vars: make([]float64, size)}
}

// Variable returns the value at index. Indices outside the store are an
// IndexError.
func (s *VariableStore) Variable(index int) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.vars) {
		return 0, types.NewIndexError(fmt.Sprintf("variable index %d out of range [0, %d)", index, len(s.vars)))
	}
	return s.vars[index], nil
}

// Set stores value at index, growing the store as needed.
func (s *VariableStore) Set(index int, value float64) error {
	if index < 0 || index >= MaxVariables {
		return types.NewIndexError(fmt.Sprintf("variable index %d out of range [0, %d)", index, MaxVariables))
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("variable %d: value must be finite", index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= len(s.vars) {
		grown := make([]float64, index+1)
		copy(grown, s.vars)
		s.vars = grown
	}
	s.vars[index] = value
	return nil
}

// Len returns the number of slots.
func (s *VariableStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

// Snapshot returns a copy of all slots.
func (s *VariableStore) Snapshot() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.vars))
	copy(out, s.vars)
	return out
}
