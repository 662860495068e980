package engine

import (
	"fmt"

	"github.com/perpetua/settlement-engine/internal/fixedpoint"
	"github.com/perpetua/settlement-engine/internal/model"
	"github.com/perpetua/settlement-engine/internal/oracle"
	"github.com/perpetua/settlement-engine/internal/pool"
)

// ExitPriceAndFee quotes the price a close would execute at and its fee.
//
// The fee starts in asset-token units. Short positions and virtual assets
// settle fees in collateral terms, so the fee is re-expressed at the
// collateral band maximum, the conversion that yields the larger fee.
func (e *Engine) ExitPriceAndFee(rec Records, bands Bands) (model.PriceAndFee, error) {
	price := e.policy.ExitPrice(rec.Position.Side, bands.Asset)

	feeUSD, err := e.policy.ExitFeeUSD(rec.Custody, rec.Position.SizeUSD)
	if err != nil {
		return model.PriceAndFee{}, err
	}
	fee, err := bands.Asset.Max.USDToAssetAmount(feeUSD, rec.Custody.Decimals)
	if err != nil {
		return model.PriceAndFee{}, err
	}
	if rec.Position.Side == model.Short || rec.Custody.IsVirtual {
		fee, err = convertFee(fee, rec.Custody, rec.CollateralCustody, bands.Asset.Max, bands.Collateral.Max)
		if err != nil {
			return model.PriceAndFee{}, err
		}
	}
	return model.PriceAndFee{Price: price, Fee: fee}, nil
}

// PnL values the position at its side-aware exit price, in USD base units.
func (e *Engine) PnL(rec Records, bands Bands) (model.ProfitAndLoss, error) {
	exitPrice := e.policy.ExitPrice(rec.Position.Side, bands.Asset)
	profit, loss, err := e.policy.PnLUSD(rec.Position, exitPrice)
	if err != nil {
		return model.ProfitAndLoss{}, err
	}
	return model.ProfitAndLoss{ProfitUSD: profit, LossUSD: loss}, nil
}

// RemoveLiquidityAmountAndFee quotes a share redemption against one pool
// custody: gross tokens from the redeemer's pro-rata slice of AUM, valued
// conservatively, minus the redemption fee.
//
// custodies and custodyBands cover the whole pool for the AUM computation;
// band prices the redeemed asset itself.
func (e *Engine) RemoveLiquidityAmountAndFee(p *model.Pool, custody *model.Custody,
	band oracle.Band, custodies []*model.Custody, custodyBands []oracle.Band,
	lpAmountIn uint64) (model.AmountAndFee, error) {

	if lpAmountIn == 0 {
		return model.AmountAndFee{}, fmt.Errorf("%w: zero share amount", ErrInvalidArgument)
	}
	if p.LPSupply == 0 {
		return model.AmountAndFee{}, fmt.Errorf("%w: pool %s has no share supply", ErrInvalidArgument, p.ID)
	}

	aumUSD, err := e.policy.AUMUSD(pool.AUMMin, custodies, custodyBands)
	if err != nil {
		return model.AmountAndFee{}, err
	}
	removeUSD, err := fixedpoint.MulDiv(aumUSD, lpAmountIn, p.LPSupply)
	if err != nil {
		return model.AmountAndFee{}, err
	}
	gross, err := band.Max.USDToAssetAmount(removeUSD, custody.Decimals)
	if err != nil {
		return model.AmountAndFee{}, err
	}
	fee, err := e.policy.RemoveLiquidityFee(custody, gross)
	if err != nil {
		return model.AmountAndFee{}, err
	}
	net, err := fixedpoint.CheckedSub(gross, fee)
	if err != nil {
		return model.AmountAndFee{}, err
	}
	return model.AmountAndFee{Amount: net, Fee: fee}, nil
}

// convertFee re-expresses an asset-token fee in collateral-token units via
// USD, using the supplied band side of each feed.
func convertFee(fee uint64, custody, collateralCustody *model.Custody,
	assetPrice, collateralPrice fixedpoint.Price) (uint64, error) {

	feeUSD, err := assetPrice.AssetAmountToUSD(fee, custody.Decimals)
	if err != nil {
		return 0, err
	}
	return collateralPrice.USDToAssetAmount(feeUSD, collateralCustody.Decimals)
}
