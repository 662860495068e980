// Package pool supplies the pool-level policy functions the settlement
// engine sequences: side-aware exit pricing, fee schedules, PnL, forced-close
// settlement, leverage checks, and AUM valuation.
//
// Everything here is a pure function of the passed records and bands. The
// engine decides when to call what and which mutations to persist; the policy
// only computes.
package pool

import (
	"errors"
	"fmt"

	"github.com/perpetua/settlement-engine/internal/fixedpoint"
	"github.com/perpetua/settlement-engine/internal/model"
	"github.com/perpetua/settlement-engine/internal/oracle"
)

// ErrInvalidArgument is returned for numeric inputs a policy function cannot
// price, such as a zero entry price or an empty share supply.
var ErrInvalidArgument = errors.New("pool: invalid argument")

// AUMMode selects which side of each custody's price band values the pool.
type AUMMode uint8

const (
	// AUMMin values every custody at its band minimum. Conservative for
	// redeemers: a lower AUM means fewer tokens per share.
	AUMMin AUMMode = iota
	// AUMMax values every custody at its band maximum.
	AUMMax
)

// Policy is the set of pure valuation and risk functions the engine invokes.
// Implementations must be deterministic and side-effect free.
type Policy interface {
	// ExitPrice picks the band side a closing trade executes at.
	ExitPrice(side model.Side, band oracle.Band) fixedpoint.Price

	// FeeAmount applies a basis-point rate to an amount, flooring.
	FeeAmount(rateBps, amount uint64) (uint64, error)

	// ExitFeeUSD is the close-position fee on a position's notional.
	ExitFeeUSD(custody *model.Custody, sizeUSD uint64) (uint64, error)

	// CollateralFeeUSD is the withdrawal fee on a collateral amount.
	CollateralFeeUSD(custody *model.Custody, collateralUSD uint64) (uint64, error)

	// LiquidationFeeUSD is the liquidator reward on a position's notional.
	LiquidationFeeUSD(custody *model.Custody, sizeUSD uint64) (uint64, error)

	// RemoveLiquidityFee is the redemption fee on a gross token amount.
	RemoveLiquidityFee(custody *model.Custody, amount uint64) (uint64, error)

	// PnLUSD values a position at the given exit price. At most one of the
	// returned values is non-zero.
	PnLUSD(pos *model.Position, exitPrice fixedpoint.Price) (profitUSD, lossUSD uint64, err error)

	// CloseAmount computes the forced-close settlement: the owner payout in
	// collateral-token units net of fee, the exit fee in asset-token units,
	// and the realized PnL.
	CloseAmount(pos *model.Position, custody, collateralCustody *model.Custody,
		assetBand, collateralBand oracle.Band) (totalOut, fee, profitUSD, lossUSD uint64, err error)

	// CheckLeverage reports whether the position's current leverage is
	// within bound. initial applies the tighter bound used for voluntary
	// risk-increasing changes.
	CheckLeverage(pos *model.Position, custody *model.Custody,
		profitUSD, lossUSD uint64, initial bool) (bool, error)

	// AvailableAmount reports whether a custody can pay out the amount from
	// owned balance net of locked reservations.
	AvailableAmount(custody *model.Custody, amount uint64) bool

	// AUMUSD values the pool's custody balances in USD under the given
	// valuation mode. bands[i] prices custodies[i].
	AUMUSD(mode AUMMode, custodies []*model.Custody, bands []oracle.Band) (uint64, error)
}

// BasicPolicy is the reference Policy: longs exit at the band minimum,
// shorts at the maximum, linear PnL against the entry price, flat
// basis-point fee schedules.
type BasicPolicy struct{}

var _ Policy = BasicPolicy{}

func (BasicPolicy) ExitPrice(side model.Side, band oracle.Band) fixedpoint.Price {
	if side == model.Long {
		return band.Min
	}
	return band.Max
}

func (BasicPolicy) FeeAmount(rateBps, amount uint64) (uint64, error) {
	return fixedpoint.MulDiv(amount, rateBps, fixedpoint.BpsPower)
}

func (p BasicPolicy) ExitFeeUSD(custody *model.Custody, sizeUSD uint64) (uint64, error) {
	return p.FeeAmount(custody.Fees.ClosePositionBps, sizeUSD)
}

func (p BasicPolicy) CollateralFeeUSD(custody *model.Custody, collateralUSD uint64) (uint64, error) {
	return p.FeeAmount(custody.Fees.WithdrawalBps, collateralUSD)
}

func (p BasicPolicy) LiquidationFeeUSD(custody *model.Custody, sizeUSD uint64) (uint64, error) {
	return p.FeeAmount(custody.Fees.LiquidationBps, sizeUSD)
}

func (p BasicPolicy) RemoveLiquidityFee(custody *model.Custody, amount uint64) (uint64, error) {
	return p.FeeAmount(custody.Fees.RemoveLiquidityBps, amount)
}

// PnLUSD scales the notional by the relative move between entry and exit:
// pnl = size_usd * |exit - entry| / entry, profit or loss by side.
func (BasicPolicy) PnLUSD(pos *model.Position, exitPrice fixedpoint.Price) (uint64, uint64, error) {
	if pos.EntryPrice.IsZero() {
		return 0, 0, fmt.Errorf("%w: zero entry price on position %s", ErrInvalidArgument, pos.ID)
	}
	entryM, exitM, err := alignMantissas(pos.EntryPrice, exitPrice)
	if err != nil {
		return 0, 0, err
	}
	moved := exitM >= entryM
	delta := exitM - entryM
	if !moved {
		delta = entryM - exitM
	}
	pnl, err := fixedpoint.MulDiv(pos.SizeUSD, delta, entryM)
	if err != nil {
		return 0, 0, err
	}
	// Price up favors longs, price down favors shorts.
	if moved == (pos.Side == model.Long) {
		return pnl, 0, nil
	}
	return 0, pnl, nil
}

func (p BasicPolicy) CloseAmount(pos *model.Position, custody, collateralCustody *model.Custody,
	assetBand, collateralBand oracle.Band) (uint64, uint64, uint64, uint64, error) {

	exitPrice := p.ExitPrice(pos.Side, assetBand)
	profit, loss, err := p.PnLUSD(pos, exitPrice)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	feeUSD, err := p.ExitFeeUSD(custody, pos.SizeUSD)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	fee, err := assetBand.Max.USDToAssetAmount(feeUSD, custody.Decimals)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	grossUSD, err := fixedpoint.CheckedAdd(pos.CollateralUSD, profit)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	owedUSD, err := fixedpoint.CheckedAdd(loss, feeUSD)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	// An underwater position can owe more than it holds; the payout floors
	// at zero rather than failing the close.
	var payoutUSD uint64
	if grossUSD > owedUSD {
		payoutUSD = grossUSD - owedUSD
	}
	totalOut, err := collateralBand.Min.USDToAssetAmount(payoutUSD, collateralCustody.Decimals)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return totalOut, fee, profit, loss, nil
}

// CheckLeverage compares size_usd * 10000 / equity against the custody's
// bound, where equity = collateral_usd + profit - loss. An insolvent
// position (loss covering all equity) is over any bound.
func (BasicPolicy) CheckLeverage(pos *model.Position, custody *model.Custody,
	profitUSD, lossUSD uint64, initial bool) (bool, error) {

	gross, err := fixedpoint.CheckedAdd(pos.CollateralUSD, profitUSD)
	if err != nil {
		return false, err
	}
	if lossUSD >= gross {
		return false, nil
	}
	equity := gross - lossUSD
	leverageBps, err := fixedpoint.MulDiv(pos.SizeUSD, fixedpoint.BpsPower, equity)
	if err != nil {
		return false, err
	}
	bound := custody.Pricing.MaxLeverageBps
	if initial {
		bound = custody.Pricing.MaxInitialLeverageBps
	}
	return leverageBps <= bound, nil
}

func (BasicPolicy) AvailableAmount(custody *model.Custody, amount uint64) bool {
	return custody.AvailableAmount(amount)
}

func (BasicPolicy) AUMUSD(mode AUMMode, custodies []*model.Custody, bands []oracle.Band) (uint64, error) {
	if len(custodies) != len(bands) {
		return 0, fmt.Errorf("%w: %d custodies, %d bands", ErrInvalidArgument, len(custodies), len(bands))
	}
	var aum uint64
	for i, custody := range custodies {
		price := bands[i].Min
		if mode == AUMMax {
			price = bands[i].Max
		}
		usd, err := price.AssetAmountToUSD(custody.Assets.Owned, custody.Decimals)
		if err != nil {
			return 0, err
		}
		aum, err = fixedpoint.CheckedAdd(aum, usd)
		if err != nil {
			return 0, err
		}
	}
	return aum, nil
}

// alignMantissas re-expresses two prices at a common exponent, rescaling the
// larger-exponent operand down (the lossless direction).
func alignMantissas(a, b fixedpoint.Price) (uint64, uint64, error) {
	switch {
	case a.Exponent == b.Exponent:
		return a.Mantissa, b.Mantissa, nil
	case a.Exponent < b.Exponent:
		scaled, err := b.ScaleToExponent(a.Exponent)
		if err != nil {
			return 0, 0, err
		}
		return a.Mantissa, scaled.Mantissa, nil
	default:
		scaled, err := a.ScaleToExponent(b.Exponent)
		if err != nil {
			return 0, 0, err
		}
		return scaled.Mantissa, b.Mantissa, nil
	}
}
