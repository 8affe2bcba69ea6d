package rpc

import (
	"errors"

	"github.com/nimasrn/anchor-platform/internal/asset"
	"github.com/nimasrn/anchor-platform/internal/model"
)

func feeAssetOf(txn *model.Transaction) string {
	if txn.Fee != nil && txn.Fee.Asset != "" {
		return txn.Fee.Asset
	}
	return assetOf(txn.AmountIn)
}

func validateAmountsUpdated(c *Change, p *AmountsUpdatedParams) error {
	if (p.AmountFee == nil) == (p.FeeDetails == nil) {
		return errors.New("Either amount_fee or fee_details must be set")
	}
	if p.AmountOut == nil {
		return errors.New("amount_out is required")
	}
	if err := c.amounts.AmountOnly("amount_out", p.AmountOut.Amount, assetOf(c.Prev.AmountOut), asset.Positive); err != nil {
		return err
	}
	if p.AmountFee != nil {
		return c.amounts.AmountOnly("amount_fee", p.AmountFee.Amount, feeAssetOf(c.Prev), asset.NonNegative)
	}
	return c.amounts.FeeDetails(p.FeeDetails, c.Prev.Kind)
}

func applyAmountsUpdated(c *Change, p *AmountsUpdatedParams) (model.Status, error) {
	c.Txn.AmountOut = &model.Amount{Amount: p.AmountOut.Amount, Asset: assetOf(c.Prev.AmountOut)}
	if p.AmountFee != nil {
		c.Txn.Fee = &model.Fee{Total: p.AmountFee.Amount, Asset: feeAssetOf(c.Prev)}
	} else {
		c.Txn.Fee = model.FeeFromDetails(p.FeeDetails)
	}
	return "", nil
}

// validateAmountsAssetsUpdated accepts a new asset pair, so only asset support
// and precision are checked here.
func validateAmountsAssetsUpdated(c *Change, p *AmountsAssetsUpdatedParams) error {
	if err := c.amounts.Amount("amount_in", p.AmountIn, asset.Positive); err != nil {
		return err
	}
	if err := c.amounts.Amount("amount_out", p.AmountOut, asset.Positive); err != nil {
		return err
	}
	switch {
	case p.AmountFee != nil && p.FeeDetails != nil:
		return errFeeBothForms
	case p.AmountFee != nil:
		return c.amounts.Amount("amount_fee", p.AmountFee, asset.NonNegative)
	case p.FeeDetails != nil:
		return c.amounts.Amount("fee_details", &model.Amount{Amount: p.FeeDetails.Total, Asset: p.FeeDetails.Asset}, asset.NonNegative)
	}
	return errors.New("amount_fee is required")
}

func applyAmountsAssetsUpdated(c *Change, p *AmountsAssetsUpdatedParams) (model.Status, error) {
	c.Txn.AmountIn = cloneAmount(p.AmountIn)
	c.Txn.AmountOut = cloneAmount(p.AmountOut)
	if p.FeeDetails != nil {
		c.Txn.Fee = model.FeeFromDetails(p.FeeDetails)
	} else {
		c.Txn.Fee = model.FeeFromAmount(p.AmountFee)
	}
	return "", nil
}
