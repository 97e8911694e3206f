// Package store provides in-memory storage for effect definitions.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lemonberrylabs/particlefx/pkg/effect"
)

// ErrNotFound is returned when an effect does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating an effect whose ID is taken.
var ErrAlreadyExists = errors.New("already exists")

// Effect is a stored effect definition together with its compiled form.
type Effect struct {
	ID         string
	Name       string
	RevisionID string
	CreateTime time.Time
	UpdateTime time.Time
	Source     string
	Compiled   *effect.Effect
}

// Store is a thread-safe in-memory library of effects. Stored effects are
// replaced, never mutated, so callers may keep the pointers they receive.
type Store struct {
	mu      sync.RWMutex
	effects map[string]*Effect

	// Counter for generating revision IDs
	revCounter int64
}

// New creates a new empty store.
func New() *Store {
	return &Store{
		effects: make(map[string]*Effect),
	}
}

// CreateEffect compiles source and stores it under id. Parse and compile
// failures are returned as *effect.ParseError or *effect.CompileError.
func (s *Store) CreateEffect(id, source string) (*Effect, error) {
	compiled, err := effect.Load([]byte(source))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.effects[id]; exists {
		return nil, fmt.Errorf("effect '%s' %w", id, ErrAlreadyExists)
	}

	s.revCounter++
	now := time.Now().UTC()
	e := &Effect{
		ID:         id,
		Name:       displayName(id, compiled),
		RevisionID: fmt.Sprintf("%06d", s.revCounter),
		CreateTime: now,
		UpdateTime: now,
		Source:     source,
		Compiled:   compiled,
	}
	s.effects[id] = e
	return e, nil
}

// GetEffect retrieves an effect by ID.
func (s *Store) GetEffect(id string) (*Effect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.effects[id]
	if !ok {
		return nil, fmt.Errorf("effect '%s' %w", id, ErrNotFound)
	}
	return e, nil
}

// ListEffects returns all effects ordered by ID.
func (s *Store) ListEffects() []*Effect {
	s.mu.RLock()
	result := make([]*Effect, 0, len(s.effects))
	for _, e := range s.effects {
		result = append(result, e)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// UpdateEffect replaces an effect's source with a new revision. Running
// instances keep the revision they started with.
func (s *Store) UpdateEffect(id, source string) (*Effect, error) {
	compiled, err := effect.Load([]byte(source))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.effects[id]
	if !ok {
		return nil, fmt.Errorf("effect '%s' %w", id, ErrNotFound)
	}

	s.revCounter++
	e := &Effect{
		ID:         id,
		Name:       displayName(id, compiled),
		RevisionID: fmt.Sprintf("%06d", s.revCounter),
		CreateTime: old.CreateTime,
		UpdateTime: time.Now().UTC(),
		Source:     source,
		Compiled:   compiled,
	}
	s.effects[id] = e
	return e, nil
}

// DeleteEffect removes an effect.
func (s *Store) DeleteEffect(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.effects[id]; !ok {
		return fmt.Errorf("effect '%s' %w", id, ErrNotFound)
	}
	delete(s.effects, id)
	return nil
}

// displayName is the effect's declared name, falling back to its ID.
func displayName(id string, compiled *effect.Effect) string {
	if compiled.Def.Name != "" {
		return compiled.Def.Name
	}
	return id
}
