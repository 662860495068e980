// Package model defines the persisted domain records shared across the
// settlement engine: pools, custodies, and positions, plus the plain value
// results returned by read-only valuation operations.
//
// Balance and payout fields are integer base units (uint64); display
// conversion to decimals happens at the HTTP boundary only.
package model

import (
	"github.com/perpetua/settlement-engine/internal/fixedpoint"
	"github.com/perpetua/settlement-engine/internal/oracle"
)

// Side is the direction of a leveraged position.
type Side uint8

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// Permissions gate which operations a pool or custody accepts.
type Permissions struct {
	AllowOpenPosition         bool `json:"allow_open_position"`
	AllowClosePosition        bool `json:"allow_close_position"`
	AllowCollateralWithdrawal bool `json:"allow_collateral_withdrawal"`
	AllowRemoveLiquidity      bool `json:"allow_remove_liquidity"`
}

// Fees is a custody's fee schedule in basis points.
type Fees struct {
	OpenPositionBps    uint64 `json:"open_position_bps"`
	ClosePositionBps   uint64 `json:"close_position_bps"`
	WithdrawalBps      uint64 `json:"withdrawal_bps"`
	LiquidationBps     uint64 `json:"liquidation_bps"`
	RemoveLiquidityBps uint64 `json:"remove_liquidity_bps"`
	ProtocolShareBps   uint64 `json:"protocol_share_bps"`
}

// Pricing holds a custody's leverage bounds in basis points
// (10_000 bps = 1x).
type Pricing struct {
	// MaxLeverageBps is the liquidation threshold; positions past it are
	// force-closed.
	MaxLeverageBps uint64 `json:"max_leverage_bps"`
	// MaxInitialLeverageBps is the tighter bound applied to voluntary
	// risk-increasing changes such as collateral withdrawal.
	MaxInitialLeverageBps uint64 `json:"max_initial_leverage_bps"`
}

// Assets tracks a custody's token balances in base units.
type Assets struct {
	// Owned is the pool-owned balance backing positions and redemptions.
	Owned uint64 `json:"owned" db:"owned"`
	// Collateral is the sum of collateral posted by open positions.
	Collateral uint64 `json:"collateral" db:"collateral"`
	// Locked is the owned capacity reserved against open positions.
	Locked uint64 `json:"locked" db:"locked"`
	// ProtocolFees is the protocol's accrued fee share awaiting sweep.
	ProtocolFees uint64 `json:"protocol_fees" db:"protocol_fees"`
}

// TradeStats carries rolling trade telemetry. Open-interest counters hold
// notional size in asset-token units and use saturating arithmetic; profit
// and loss counters wrap.
type TradeStats struct {
	OILong    uint64 `json:"oi_long"`
	OIShort   uint64 `json:"oi_short"`
	ProfitUSD uint64 `json:"profit_usd"`
	LossUSD   uint64 `json:"loss_usd"`
}

// VolumeStats accumulates settled notional per operation, checked.
type VolumeStats struct {
	LiquidationUSD uint64 `json:"liquidation_usd"`
}

// CollectedFees accumulates fee revenue per operation, wrapping.
type CollectedFees struct {
	ClosePositionUSD uint64 `json:"close_position_usd"`
	LiquidationUSD   uint64 `json:"liquidation_usd"`
}

// Custody is the per-asset record inside a pool: balances, oracle policy,
// fee schedule, permissions, and telemetry.
type Custody struct {
	ID            string        `json:"id" db:"id"`
	PoolID        string        `json:"pool_id" db:"pool_id"`
	Mint          string        `json:"mint" db:"mint"`
	Decimals      uint8         `json:"decimals" db:"decimals"`
	IsStable      bool          `json:"is_stable" db:"is_stable"`
	IsVirtual     bool          `json:"is_virtual" db:"is_virtual"`
	Oracle        oracle.Config `json:"oracle"`
	Fees          Fees          `json:"fees"`
	Pricing       Pricing       `json:"pricing"`
	Permissions   Permissions   `json:"permissions"`
	Assets        Assets        `json:"assets"`
	TradeStats    TradeStats    `json:"trade_stats"`
	VolumeStats   VolumeStats   `json:"volume_stats"`
	CollectedFees CollectedFees `json:"collected_fees"`
}

// UnlockFunds releases owned capacity previously reserved for a position.
func (c *Custody) UnlockFunds(amount uint64) error {
	locked, err := fixedpoint.CheckedSub(c.Assets.Locked, amount)
	if err != nil {
		return err
	}
	c.Assets.Locked = locked
	return nil
}

// AvailableAmount reports whether the custody can pay out the given amount
// from owned balance net of locked reservations.
func (c *Custody) AvailableAmount(amount uint64) bool {
	if c.Assets.Owned < c.Assets.Locked {
		return false
	}
	return c.Assets.Owned-c.Assets.Locked >= amount
}

// Position is one leveraged position against a pool custody. The position
// references two custodies: the traded asset and the collateral asset. They
// may denote the same instrument, in which case both stored records must be
// kept byte-identical after every mutation.
type Position struct {
	ID                  string           `json:"id" db:"id"`
	Owner               string           `json:"owner" db:"owner"`
	PoolID              string           `json:"pool_id" db:"pool_id"`
	CustodyID           string           `json:"custody_id" db:"custody_id"`
	CollateralCustodyID string           `json:"collateral_custody_id" db:"collateral_custody_id"`
	Side                Side             `json:"side" db:"side"`
	SizeUSD             uint64           `json:"size_usd" db:"size_usd"`
	CollateralUSD       uint64           `json:"collateral_usd" db:"collateral_usd"`
	CollateralAmount    uint64           `json:"collateral_amount" db:"collateral_amount"`
	EntryPrice          fixedpoint.Price `json:"entry_price"`
	LockedAmount        uint64           `json:"locked_amount" db:"locked_amount"`
	OpenTime            int64            `json:"open_time" db:"open_time"`
	UpdateTime          int64            `json:"update_time" db:"update_time"`
}

// Pool aggregates custodies and owns the share supply for liquidity
// accounting. Valuation formulas live in the pool package; this record is
// plain state.
type Pool struct {
	ID          string      `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	CustodyIDs  []string    `json:"custody_ids"`
	LPSupply    uint64      `json:"lp_supply" db:"lp_supply"`
	Permissions Permissions `json:"permissions"`
}

// PriceAndFee is the result of an exit-price query. Fee is in token base
// units of the fee-bearing custody.
type PriceAndFee struct {
	Price fixedpoint.Price `json:"price"`
	Fee   uint64           `json:"fee"`
}

// ProfitAndLoss is the result of a PnL query in USD base units. At most one
// of the two fields is non-zero.
type ProfitAndLoss struct {
	ProfitUSD uint64 `json:"profit_usd"`
	LossUSD   uint64 `json:"loss_usd"`
}

// AmountAndFee is the result of a redemption quote in token base units.
type AmountAndFee struct {
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
}
