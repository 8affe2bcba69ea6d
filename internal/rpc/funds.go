package rpc

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/anchor-platform/internal/asset"
	"github.com/nimasrn/anchor-platform/internal/model"
)

var (
	errFundsRequestCombination = errors.New("All (amount_out is optional) or none of the amount_in, amount_out, and (fee_details or amount_fee) should be set")
	errFeeBothForms            = errors.New("Either fee_details or amount_fee should be set")
	errReceivedCombination     = errors.New("Invalid amounts combination provided: all, none or only amount_in should be set")
)

func assetOf(a *model.Amount) string {
	if a == nil {
		return ""
	}
	return a.Asset
}

func cloneAmount(a *model.Amount) *model.Amount {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// checkAmount validates a full {amount, asset} value and its slot schema.
func (c *Change) checkAmount(field string, a *model.Amount, sign asset.Sign, slot asset.Slot) error {
	if err := c.amounts.Amount(field, a, sign); err != nil {
		return err
	}
	return c.amounts.Schema(field, a.Asset, c.Txn.Kind, slot)
}

// checkFee validates whichever fee form is present.
func (c *Change) checkFee(a AmountsParams) error {
	if a.AmountFee != nil && a.FeeDetails != nil {
		return errFeeBothForms
	}
	if a.AmountFee != nil {
		return c.checkAmount("amount_fee", a.AmountFee, asset.NonNegative, asset.SlotFee)
	}
	if a.FeeDetails != nil {
		return c.amounts.FeeDetails(a.FeeDetails, c.Txn.Kind)
	}
	return nil
}

func validateInteractiveFlowCompleted(c *Change, p *InteractiveFlowCompletedParams) error {
	if err := c.checkAmount("amount_in", p.AmountIn, asset.Positive, asset.SlotIn); err != nil {
		return err
	}
	if err := c.checkAmount("amount_out", p.AmountOut, asset.Positive, asset.SlotOut); err != nil {
		return err
	}
	if !p.hasFee() {
		return errors.New("fee_details or amount_fee is required")
	}
	if err := c.checkFee(p.AmountsParams); err != nil {
		return err
	}
	if p.AmountExpected != nil {
		return c.amounts.AmountOnly("amount_expected", p.AmountExpected.Amount, p.AmountIn.Asset, asset.Positive)
	}
	return nil
}

func applyInteractiveFlowCompleted(c *Change, p *InteractiveFlowCompletedParams) (model.Status, error) {
	setRequestedAmounts(c.Txn, p.AmountsParams)
	return "", nil
}

// setRequestedAmounts copies the amounts present in a, amount_expected
// defaulting to amount_in.
func setRequestedAmounts(txn *model.Transaction, a AmountsParams) {
	if a.AmountIn != nil {
		txn.AmountIn = cloneAmount(a.AmountIn)
	}
	if a.AmountOut != nil {
		txn.AmountOut = cloneAmount(a.AmountOut)
	}
	if a.hasFee() {
		txn.Fee = a.fee()
	}
	switch {
	case a.AmountExpected != nil:
		txn.AmountExpected = &model.Amount{Amount: a.AmountExpected.Amount, Asset: assetOf(txn.AmountIn)}
	case a.AmountIn != nil:
		txn.AmountExpected = cloneAmount(a.AmountIn)
	}
}

// validateFundsRequest holds the amount rules shared by request_offchain_funds
// and request_onchain_funds.
func validateFundsRequest(c *Change, a AmountsParams) error {
	none := a.AmountIn == nil && a.AmountOut == nil && !a.hasFee() && a.AmountExpected == nil
	all := a.AmountIn != nil && a.hasFee()
	if !none && !all {
		return errFundsRequestCombination
	}
	if a.AmountIn != nil {
		if err := c.checkAmount("amount_in", a.AmountIn, asset.Positive, asset.SlotIn); err != nil {
			return err
		}
	}
	if a.AmountOut != nil {
		if err := c.checkAmount("amount_out", a.AmountOut, asset.Positive, asset.SlotOut); err != nil {
			return err
		}
	}
	if err := c.checkFee(a); err != nil {
		return err
	}
	if a.AmountExpected != nil {
		if err := c.amounts.AmountOnly("amount_expected", a.AmountExpected.Amount, a.AmountIn.Asset, asset.Positive); err != nil {
			return err
		}
	}

	prev := c.Prev
	if a.AmountIn == nil && prev.AmountIn == nil {
		return errors.New("amount_in is required")
	}
	if a.AmountOut == nil && prev.AmountOut == nil && assetOf(prev.AmountIn) == assetOf(prev.AmountOut) {
		return errors.New("amount_out is required for non-exchange transactions")
	}
	if !a.hasFee() && prev.Fee == nil {
		return errors.New("fee_details or amount_fee is required")
	}
	return nil
}

func validateOffchainFundsRequest(c *Change, p *OffchainFundsRequestParams) error {
	return validateFundsRequest(c, p.AmountsParams)
}

func applyOffchainFundsRequest(c *Change, p *OffchainFundsRequestParams) (model.Status, error) {
	setRequestedAmounts(c.Txn, p.AmountsParams)
	if p.UserActionRequiredBy != nil {
		t := p.UserActionRequiredBy.UTC()
		c.Txn.UserActionRequiredBy = &t
	}
	return "", nil
}

func validateOnchainFundsRequest(c *Change, p *OnchainFundsRequestParams) error {
	if err := validateFundsRequest(c, p.AmountsParams); err != nil {
		return err
	}
	if p.Memo == "" || p.MemoType == "" {
		return errors.New("memo and memo_type are required")
	}
	if p.MemoType == "id" {
		if _, err := strconv.ParseUint(p.Memo, 10, 64); err != nil {
			return fmt.Errorf("Invalid memo or memo_type: %s is not a valid id memo", p.Memo)
		}
	}
	if p.DestinationAccount == "" {
		return errors.New("destination_account is required")
	}
	return nil
}

func applyOnchainFundsRequest(c *Change, p *OnchainFundsRequestParams) (model.Status, error) {
	setRequestedAmounts(c.Txn, p.AmountsParams)
	if p.UserActionRequiredBy != nil {
		t := p.UserActionRequiredBy.UTC()
		c.Txn.UserActionRequiredBy = &t
	}
	c.Txn.Memo = p.Memo
	c.Txn.MemoType = p.MemoType
	c.Txn.DestinationAccount = p.DestinationAccount
	return "", nil
}

// validateReceivedAmounts checks the optional amount revision carried by the
// funds received methods. Values reuse the assets already on the transaction.
func validateReceivedAmounts(c *Change, a AmountsParams) error {
	if a.AmountFee != nil && a.FeeDetails != nil {
		return errFeeBothForms
	}
	none := a.AmountIn == nil && a.AmountOut == nil && !a.hasFee()
	onlyIn := a.AmountIn != nil && a.AmountOut == nil && !a.hasFee()
	all := a.AmountIn != nil && a.AmountOut != nil && a.hasFee()
	if !none && !onlyIn && !all {
		return errReceivedCombination
	}
	txn := c.Prev
	if a.AmountIn != nil {
		if err := c.amounts.AmountOnly("amount_in", a.AmountIn.Amount, assetOf(txn.AmountIn), asset.Positive); err != nil {
			return err
		}
	}
	if a.AmountOut != nil {
		if err := c.amounts.AmountOnly("amount_out", a.AmountOut.Amount, assetOf(txn.AmountOut), asset.Positive); err != nil {
			return err
		}
	}
	if a.AmountFee != nil {
		feeAsset := assetOf(txn.AmountIn)
		if txn.Fee != nil {
			feeAsset = txn.Fee.Asset
		}
		if err := c.amounts.AmountOnly("amount_fee", a.AmountFee.Amount, feeAsset, asset.NonNegative); err != nil {
			return err
		}
	}
	if a.FeeDetails != nil {
		return c.amounts.FeeDetails(a.FeeDetails, txn.Kind)
	}
	return nil
}

// setReceivedAmounts applies a revision accepted by validateReceivedAmounts.
func setReceivedAmounts(txn *model.Transaction, a AmountsParams) {
	if a.AmountIn != nil {
		txn.AmountIn = &model.Amount{Amount: a.AmountIn.Amount, Asset: assetOf(txn.AmountIn)}
	}
	if a.AmountOut != nil {
		txn.AmountOut = &model.Amount{Amount: a.AmountOut.Amount, Asset: assetOf(txn.AmountOut)}
	}
	switch {
	case a.FeeDetails != nil:
		txn.Fee = model.FeeFromDetails(a.FeeDetails)
	case a.AmountFee != nil:
		feeAsset := assetOf(txn.AmountIn)
		if txn.Fee != nil {
			feeAsset = txn.Fee.Asset
		}
		txn.Fee = &model.Fee{Total: a.AmountFee.Amount, Asset: feeAsset}
	}
}

func validateOffchainFundsReceived(c *Change, p *OffchainFundsReceivedParams) error {
	return validateReceivedAmounts(c, p.AmountsParams)
}

func applyOffchainFundsReceived(c *Change, p *OffchainFundsReceivedParams) (model.Status, error) {
	setReceivedAmounts(c.Txn, p.AmountsParams)
	markTransferReceived(c, p.FundsReceivedAt)
	if p.ExternalTransactionID != "" {
		c.Txn.ExternalTransactionID = p.ExternalTransactionID
	}
	return "", nil
}

func validateOnchainFundsReceived(c *Change, p *OnchainFundsReceivedParams) error {
	return validateReceivedAmounts(c, p.AmountsParams)
}

func applyOnchainFundsReceived(c *Change, p *OnchainFundsReceivedParams) (model.Status, error) {
	setReceivedAmounts(c.Txn, p.AmountsParams)
	markTransferReceived(c, p.FundsReceivedAt)
	appendStellarTransaction(c, p.StellarTransactionID)
	return "", nil
}

func applyOnchainFundsSent(c *Change, p *OnchainFundsSentParams) (model.Status, error) {
	appendStellarTransaction(c, p.StellarTransactionID)
	return "", nil
}

func applyOffchainFunds(c *Change, p *OffchainFundsParams) (model.Status, error) {
	if p.ExternalTransactionID != "" {
		c.Txn.ExternalTransactionID = p.ExternalTransactionID
	}
	return "", nil
}

// applyOffchainFundsSent records the external payment. For deposits the funds
// sent by the user are received at the same moment.
func applyOffchainFundsSent(c *Change, p *OffchainFundsParams) (model.Status, error) {
	if _, err := applyOffchainFunds(c, p); err != nil {
		return "", err
	}
	if c.Txn.Kind.IsDeposit() {
		markTransferReceived(c, p.FundsReceivedAt)
	}
	return "", nil
}

// markTransferReceived stamps the first receipt of the user's funds only.
func markTransferReceived(c *Change, at *time.Time) {
	if c.Prev.TransferReceivedAt != nil {
		return
	}
	t := c.Now
	if at != nil {
		t = at.UTC()
	}
	c.Txn.TransferReceivedAt = &t
}

func appendStellarTransaction(c *Change, id string) {
	createdAt := c.Now
	c.Txn.StellarTransactions = append(c.Txn.StellarTransactions, model.StellarTransaction{
		ID:        id,
		Memo:      c.Txn.Memo,
		MemoType:  c.Txn.MemoType,
		CreatedAt: &createdAt,
	})
}
