package engine

import (
	"context"
	"fmt"

	"github.com/perpetua/settlement-engine/internal/fixedpoint"
	"github.com/perpetua/settlement-engine/internal/model"
)

// LiquidationResult carries the mutated record copies and the settlement
// amounts of a completed liquidation. The caller persists the custodies and
// deletes the position.
type LiquidationResult struct {
	Custody           model.Custody
	CollateralCustody model.Custody

	// Reward is the liquidator payout in collateral-token units. Remaining
	// is the residual owner value, computed but not transferred.
	Reward    uint64
	Remaining uint64
	Fee       uint64
	ProfitUSD uint64
	LossUSD   uint64
}

// Liquidate force-closes a position past its leverage bound and pays the
// liquidator reward to receiver. Close-only bands do not block it; oracle
// uncertainty alone must never protect an under-collateralized position.
func (e *Engine) Liquidate(ctx context.Context, rec Records, bands Bands,
	receiver string, now int64) (*LiquidationResult, error) {

	pos := rec.Position
	if !rec.Pool.Permissions.AllowClosePosition || !rec.Custody.Permissions.AllowClosePosition {
		return nil, fmt.Errorf("%w: close position disabled", ErrInstructionNotAllowed)
	}

	exitPrice := e.policy.ExitPrice(pos.Side, bands.Asset)
	profit, loss, err := e.policy.PnLUSD(pos, exitPrice)
	if err != nil {
		return nil, err
	}
	withinBound, err := e.policy.CheckLeverage(pos, rec.Custody, profit, loss, false)
	if err != nil {
		return nil, err
	}
	if withinBound {
		return nil, fmt.Errorf("%w: position %s is within its leverage bound", ErrInvalidPositionState, pos.ID)
	}

	totalOut, fee, profit, loss, err := e.policy.CloseAmount(pos, rec.Custody, rec.CollateralCustody, bands.Asset, bands.Collateral)
	if err != nil {
		return nil, err
	}
	if pos.Side == model.Short || rec.Custody.IsVirtual {
		fee, err = convertFee(fee, rec.Custody, rec.CollateralCustody, bands.Asset.Max, bands.Collateral.Min)
		if err != nil {
			return nil, err
		}
	}

	rewardUSD, err := e.policy.LiquidationFeeUSD(rec.Custody, pos.SizeUSD)
	if err != nil {
		return nil, err
	}
	reward, err := bands.Collateral.Max.USDToAssetAmount(rewardUSD, rec.CollateralCustody.Decimals)
	if err != nil {
		return nil, err
	}
	remaining, err := fixedpoint.CheckedSub(totalOut, reward)
	if err != nil {
		return nil, err
	}

	// All bookkeeping happens on copies. When asset and collateral denote
	// the same instrument every mutation lands on the collateral copy, which
	// is replicated into the asset slot at the end.
	asset := *rec.Custody
	coll := *rec.CollateralCustody
	stats := &asset
	if sameInstrument(pos, rec.Custody) {
		stats = &coll
	}

	if err := coll.UnlockFunds(pos.LockedAmount); err != nil {
		return nil, err
	}
	if !e.policy.AvailableAmount(&coll, totalOut) {
		return nil, fmt.Errorf("%w: custody %s cannot cover %d", ErrCustodyAmountLimit, coll.ID, totalOut)
	}

	feeUSD, err := e.policy.ExitFeeUSD(rec.Custody, pos.SizeUSD)
	if err != nil {
		return nil, err
	}
	coll.CollectedFees.LiquidationUSD = fixedpoint.WrappingAdd(coll.CollectedFees.LiquidationUSD, feeUSD)

	// Owned moves by the signed difference between what the position posted
	// and what it takes out.
	if pos.CollateralAmount > totalOut {
		coll.Assets.Owned, err = fixedpoint.CheckedAdd(coll.Assets.Owned, pos.CollateralAmount-totalOut)
	} else {
		coll.Assets.Owned, err = fixedpoint.CheckedSub(coll.Assets.Owned, totalOut-pos.CollateralAmount)
	}
	if err != nil {
		return nil, err
	}
	coll.Assets.Collateral, err = fixedpoint.CheckedSub(coll.Assets.Collateral, pos.CollateralAmount)
	if err != nil {
		return nil, err
	}

	// Protocol fee skim is best-effort here: skipped without error when the
	// custody lacks free capacity. The skimmed amount moves out of owned.
	protocolFee, err := e.policy.FeeAmount(rec.Custody.Fees.ProtocolShareBps, fee)
	if err != nil {
		return nil, err
	}
	if e.policy.AvailableAmount(&coll, protocolFee) {
		coll.Assets.ProtocolFees, err = fixedpoint.CheckedAdd(coll.Assets.ProtocolFees, protocolFee)
		if err != nil {
			return nil, err
		}
		coll.Assets.Owned, err = fixedpoint.CheckedSub(coll.Assets.Owned, protocolFee)
		if err != nil {
			return nil, err
		}
	}

	sizeTokens, err := pos.EntryPrice.USDToAssetAmount(pos.SizeUSD, rec.Custody.Decimals)
	if err != nil {
		return nil, err
	}
	if pos.Side == model.Long {
		stats.TradeStats.OILong = fixedpoint.SaturatingSub(stats.TradeStats.OILong, sizeTokens)
	} else {
		stats.TradeStats.OIShort = fixedpoint.SaturatingSub(stats.TradeStats.OIShort, sizeTokens)
	}
	stats.TradeStats.ProfitUSD = fixedpoint.WrappingAdd(stats.TradeStats.ProfitUSD, profit)
	stats.TradeStats.LossUSD = fixedpoint.WrappingAdd(stats.TradeStats.LossUSD, loss)
	stats.VolumeStats.LiquidationUSD, err = fixedpoint.CheckedAdd(stats.VolumeStats.LiquidationUSD, pos.SizeUSD)
	if err != nil {
		return nil, err
	}

	if sameInstrument(pos, rec.Custody) {
		asset = coll
	}

	// Only the liquidator reward moves; the residual stays with the pool.
	if err := e.mover.Transfer(ctx, &coll, receiver, reward); err != nil {
		return nil, err
	}

	e.log.Info("position liquidated",
		"position", pos.ID,
		"side", pos.Side.String(),
		"size_usd", pos.SizeUSD,
		"reward", reward,
		"remaining", remaining,
		"profit_usd", profit,
		"loss_usd", loss,
		"time", now,
	)

	return &LiquidationResult{
		Custody:           asset,
		CollateralCustody: coll,
		Reward:            reward,
		Remaining:         remaining,
		Fee:               fee,
		ProfitUSD:         profit,
		LossUSD:           loss,
	}, nil
}
