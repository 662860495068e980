// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/perpetua/settlement-engine/internal/model"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// The engine works on record copies; callers persist mutated copies through
// the Update methods only after an operation fully succeeds.
type Store interface {
	// --- Pool records ---

	// CreatePool persists a new pool.
	CreatePool(ctx context.Context, p *model.Pool) error

	// GetPool retrieves a pool by its ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// UpdatePool overwrites a pool's mutable state: custody membership,
	// share supply, and permissions.
	UpdatePool(ctx context.Context, p *model.Pool) error

	// --- Custody records ---

	// CreateCustody persists a new custody.
	CreateCustody(ctx context.Context, c *model.Custody) error

	// GetCustody retrieves a custody by its ID.
	GetCustody(ctx context.Context, id string) (*model.Custody, error)

	// ListCustodies returns all custodies of one pool.
	ListCustodies(ctx context.Context, poolID string) ([]model.Custody, error)

	// UpdateCustody overwrites a custody's mutable state: balances, stats,
	// and collected fees.
	UpdateCustody(ctx context.Context, c *model.Custody) error

	// --- Position records ---

	// CreatePosition persists a new position.
	CreatePosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositionsByOwner returns all positions of one owner.
	ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error)

	// UpdatePosition overwrites a position's mutable state.
	UpdatePosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a closed position.
	DeletePosition(ctx context.Context, id string) error
}
