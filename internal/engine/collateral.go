package engine

import (
	"context"
	"fmt"

	"github.com/perpetua/settlement-engine/internal/fixedpoint"
	"github.com/perpetua/settlement-engine/internal/model"
	"github.com/perpetua/settlement-engine/internal/oracle"
)

// WithdrawalResult carries the mutated record copies and the settlement
// amounts of a completed collateral withdrawal.
type WithdrawalResult struct {
	Position          model.Position
	Custody           model.Custody
	CollateralCustody model.Custody

	// Gross is the collateral-token amount removed from the position; Net is
	// what the owner receives after the fee.
	Gross uint64
	Net   uint64
	Fee   uint64
}

// RemoveCollateral withdraws part of a position's posted collateral. It is
// gated more conservatively than liquidation: a close-only band on either
// feed rejects the call, and the post-withdrawal position must stay within
// the initial leverage bound.
func (e *Engine) RemoveCollateral(ctx context.Context, rec Records, bands Bands,
	requestedUSD uint64, now int64) (*WithdrawalResult, error) {

	pos := rec.Position
	if !rec.Pool.Permissions.AllowCollateralWithdrawal || !rec.Custody.Permissions.AllowCollateralWithdrawal {
		return nil, fmt.Errorf("%w: collateral withdrawal disabled", ErrInstructionNotAllowed)
	}
	if requestedUSD == 0 || requestedUSD >= pos.CollateralUSD {
		return nil, fmt.Errorf("%w: requested %d of %d posted collateral",
			ErrInvalidArgument, requestedUSD, pos.CollateralUSD)
	}
	if bands.Asset.CloseOnly || bands.Collateral.CloseOnly {
		return nil, fmt.Errorf("%w: close-only price band blocks withdrawal", oracle.ErrInvalidPrice)
	}

	feeUSD, err := e.policy.CollateralFeeUSD(rec.CollateralCustody, requestedUSD)
	if err != nil {
		return nil, err
	}
	fee, err := bands.Collateral.Min.USDToAssetAmount(feeUSD, rec.CollateralCustody.Decimals)
	if err != nil {
		return nil, err
	}
	gross, err := bands.Collateral.Max.USDToAssetAmount(requestedUSD, rec.CollateralCustody.Decimals)
	if err != nil {
		return nil, err
	}
	net, err := fixedpoint.CheckedSub(gross, fee)
	if err != nil {
		return nil, err
	}
	if gross > pos.CollateralAmount {
		return nil, fmt.Errorf("%w: gross %d exceeds posted %d", ErrInsufficientFunds, gross, pos.CollateralAmount)
	}

	updated := *pos
	updated.UpdateTime = now
	updated.CollateralUSD, err = fixedpoint.CheckedSub(updated.CollateralUSD, requestedUSD)
	if err != nil {
		return nil, err
	}
	updated.CollateralAmount, err = fixedpoint.CheckedSub(updated.CollateralAmount, gross)
	if err != nil {
		return nil, err
	}

	exitPrice := e.policy.ExitPrice(pos.Side, bands.Asset)
	profit, loss, err := e.policy.PnLUSD(&updated, exitPrice)
	if err != nil {
		return nil, err
	}
	withinBound, err := e.policy.CheckLeverage(&updated, rec.Custody, profit, loss, true)
	if err != nil {
		return nil, err
	}
	if !withinBound {
		return nil, fmt.Errorf("%w: position %s after withdrawing %d", ErrMaxLeverage, pos.ID, requestedUSD)
	}

	asset := *rec.Custody
	coll := *rec.CollateralCustody

	coll.CollectedFees.ClosePositionUSD = fixedpoint.WrappingAdd(coll.CollectedFees.ClosePositionUSD, feeUSD)
	coll.Assets.Collateral, err = fixedpoint.CheckedSub(coll.Assets.Collateral, gross)
	if err != nil {
		return nil, err
	}

	// Unlike liquidation, the protocol fee skim is unconditional here and
	// does not draw down owned.
	protocolFee, err := e.policy.FeeAmount(rec.Custody.Fees.ProtocolShareBps, fee)
	if err != nil {
		return nil, err
	}
	coll.Assets.ProtocolFees, err = fixedpoint.CheckedAdd(coll.Assets.ProtocolFees, protocolFee)
	if err != nil {
		return nil, err
	}

	if sameInstrument(pos, rec.Custody) {
		asset = coll
	}

	if err := e.mover.Transfer(ctx, &coll, pos.Owner, net); err != nil {
		return nil, err
	}

	e.log.Info("collateral withdrawn",
		"position", pos.ID,
		"owner", pos.Owner,
		"requested_usd", requestedUSD,
		"gross", gross,
		"net", net,
		"fee", fee,
		"time", now,
	)

	return &WithdrawalResult{
		Position:          updated,
		Custody:           asset,
		CollateralCustody: coll,
		Gross:             gross,
		Net:               net,
		Fee:               fee,
	}, nil
}
