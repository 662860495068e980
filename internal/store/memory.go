package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/perpetua/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]*model.Pool
	custodies map[string]*model.Custody
	positions map[string]*model.Position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]*model.Pool),
		custodies: make(map[string]*model.Custody),
		positions: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; ok {
		return fmt.Errorf("pool %s already exists", p.ID)
	}
	// Store a copy to avoid external mutation.
	cp := *p
	cp.CustodyIDs = append([]string(nil), p.CustodyIDs...)
	s.pools[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, id)
	}
	cp := *p
	cp.CustodyIDs = append([]string(nil), p.CustodyIDs...)
	return &cp, nil
}

func (s *MemoryStore) UpdatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; !ok {
		return fmt.Errorf("%w: pool %s", ErrNotFound, p.ID)
	}
	cp := *p
	cp.CustodyIDs = append([]string(nil), p.CustodyIDs...)
	s.pools[p.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateCustody(_ context.Context, c *model.Custody) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.custodies[c.ID]; ok {
		return fmt.Errorf("custody %s already exists", c.ID)
	}
	cp := *c
	s.custodies[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCustody(_ context.Context, id string) (*model.Custody, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.custodies[id]
	if !ok {
		return nil, fmt.Errorf("%w: custody %s", ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCustodies(_ context.Context, poolID string) ([]model.Custody, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var custodies []model.Custody
	for _, c := range s.custodies {
		if c.PoolID == poolID {
			custodies = append(custodies, *c)
		}
	}
	return custodies, nil
}

func (s *MemoryStore) UpdateCustody(_ context.Context, c *model.Custody) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.custodies[c.ID]; !ok {
		return fmt.Errorf("%w: custody %s", ErrNotFound, c.ID)
	}
	cp := *c
	s.custodies[c.ID] = &cp
	return nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositionsByOwner(_ context.Context, owner string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.Owner == owner {
			positions = append(positions, *p)
		}
	}
	return positions, nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("%w: position %s", ErrNotFound, p.ID)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[id]; !ok {
		return fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	delete(s.positions, id)
	return nil
}
