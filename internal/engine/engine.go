// Package engine sequences settlement operations over pool, custody, and
// position records: read-only valuation queries plus the two mutating
// operations, liquidation and collateral withdrawal.
//
// Every mutating operation is all-or-nothing: it works on copies of the
// passed records, runs every check and every piece of checked arithmetic
// before any token moves, and returns the mutated copies for the caller to
// persist. On any failure nothing is transferred and nothing is returned to
// persist. The engine never reads the wall clock; callers pass now.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/perpetua/settlement-engine/internal/model"
	"github.com/perpetua/settlement-engine/internal/oracle"
	"github.com/perpetua/settlement-engine/internal/pool"
)

var (
	// ErrInstructionNotAllowed is returned when a pool or custody permission
	// flag gates the operation off.
	ErrInstructionNotAllowed = errors.New("engine: instruction not allowed")

	// ErrInvalidPositionState is returned when liquidation is requested for
	// a position still within its leverage bound.
	ErrInvalidPositionState = errors.New("engine: invalid position state")

	// ErrCustodyAmountLimit is returned when the custody lacks free capacity
	// to cover a settlement payout.
	ErrCustodyAmountLimit = errors.New("engine: custody amount limit exceeded")

	// ErrMaxLeverage is returned when a withdrawal would push the position
	// past the initial leverage bound.
	ErrMaxLeverage = errors.New("engine: max leverage exceeded")

	// ErrInsufficientFunds is returned when a withdrawal exceeds the
	// position's posted collateral.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")

	// ErrInvalidArgument is returned for numeric inputs outside an
	// operation's domain.
	ErrInvalidArgument = errors.New("engine: invalid argument")
)

// TokenMover moves a fixed amount from a custody-owned balance to a
// destination under delegated authority. Implementations must be atomic per
// call: either the full amount moves or none of it.
type TokenMover interface {
	Transfer(ctx context.Context, custody *model.Custody, destination string, amount uint64) error
}

// NopMover satisfies TokenMover without moving anything. Used in tests and
// in deployments where transfers settle out of band.
type NopMover struct{}

func (NopMover) Transfer(context.Context, *model.Custody, string, uint64) error { return nil }

// Engine sequences settlement operations. It is stateless between calls;
// exclusivity over the records touched by one call is the caller's job.
type Engine struct {
	policy pool.Policy
	mover  TokenMover
	log    *slog.Logger
}

// New creates an engine over the given policy and token mover.
func New(policy pool.Policy, mover TokenMover, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{policy: policy, mover: mover, log: log}
}

// Records bundles the record set one settlement call operates on. Custody is
// the traded asset, CollateralCustody the asset backing the position; the
// two may denote the same instrument.
type Records struct {
	Pool              *model.Pool
	Position          *model.Position
	Custody           *model.Custody
	CollateralCustody *model.Custody
}

// Bands bundles the resolved price bands for one settlement call.
type Bands struct {
	Asset      oracle.Band
	Collateral oracle.Band
}

// sameInstrument reports whether the asset and collateral custody copies
// must be kept byte-identical after mutation. Long positions on a
// non-virtual asset are collateralized in the asset itself, so the two
// records are one logical entity stored twice. Record identity is checked
// rather than assumed so a position referencing two distinct custodies
// never routes asset-side telemetry to the collateral record.
func sameInstrument(pos *model.Position, custody *model.Custody) bool {
	return pos.Side == model.Long && !custody.IsVirtual &&
		pos.CollateralCustodyID == pos.CustodyID
}
