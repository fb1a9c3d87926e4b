// Package memory provides in-memory implementations of store interfaces.
// The PositionStore implementation uses a map[string]*Position with
// sync.RWMutex for thread-safe CRUD operations. It is suitable for examples,
// testing, and demos without persistent storage requirements; production
// callers implement stellarswap.PositionStore against their own database.
package memory

import (
	"context"
	"errors"
	"sync"

	stellarswap "github.com/stellar-connect/swap-sdk-go"
)

// PositionStore is an in-memory implementation of stellarswap.PositionStore.
// All positions are keyed by their ID field.
type PositionStore struct {
	positions map[string]*stellarswap.Position
	mu        sync.RWMutex
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[string]*stellarswap.Position),
	}
}

// Save persists a new position record.
// Returns an error if a position with the same ID already exists.
func (s *PositionStore) Save(ctx context.Context, position *stellarswap.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[position.ID]; exists {
		return errors.New("position already exists")
	}

	s.positions[position.ID] = position
	return nil
}

// FindByID retrieves a position by its unique identifier.
// Returns an error if the position is not found.
func (s *PositionStore) FindByID(ctx context.Context, id string) (*stellarswap.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	position, exists := s.positions[id]
	if !exists {
		return nil, errors.New("position not found")
	}

	return position, nil
}

// FindByAccount returns all positions for a given Stellar account.
// Returns a slice of matching positions (or empty slice if none found).
func (s *PositionStore) FindByAccount(ctx context.Context, account string) ([]*stellarswap.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*stellarswap.Position
	for _, position := range s.positions {
		if position.Account == account {
			result = append(result, position)
		}
	}

	return result, nil
}

// Delete removes a closed position.
// Returns an error if the position does not exist.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[id]; !exists {
		return errors.New("position not found")
	}

	delete(s.positions, id)
	return nil
}

// Verify that PositionStore implements stellarswap.PositionStore
var _ stellarswap.PositionStore = (*PositionStore)(nil)
