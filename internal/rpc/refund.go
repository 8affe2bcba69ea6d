package rpc

import (
	"errors"
	"slices"

	"github.com/nimasrn/anchor-platform/internal/asset"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/shopspring/decimal"
)

var (
	errRefundExceeds = errors.New("Refund amount exceeds amount_in")
	errRefundID      = errors.New("Invalid refund id")
)

// RefundTotals sums the amounts and fees of payments.
func RefundTotals(payments []model.RefundPayment) (refunded, fee decimal.Decimal) {
	refunded, fee = decimal.Zero, decimal.Zero
	for _, p := range payments {
		refunded = refunded.Add(asset.MustDecimal(p.Amount.Amount))
		fee = fee.Add(asset.MustDecimal(p.Fee.Amount))
	}
	return refunded, fee
}

// NewRefunds rebuilds the refunds summary from the full payment list.
func NewRefunds(payments []model.RefundPayment, assetID string) *model.Refunds {
	refunded, fee := RefundTotals(payments)
	return &model.Refunds{
		AmountRefunded: model.Amount{Amount: refunded.String(), Asset: assetID},
		AmountFee:      model.Amount{Amount: fee.String(), Asset: assetID},
		Payments:       payments,
	}
}

func refundPayments(txn *model.Transaction) []model.RefundPayment {
	if txn.Refunds == nil {
		return nil
	}
	return slices.Clone(txn.Refunds.Payments)
}

func refundIDType(kind model.Kind) string {
	if kind.IsDeposit() {
		return model.RefundIDTypeExternal
	}
	return model.RefundIDTypeStellar
}

// validateRefund checks a single refund leg against the transaction's amount_in asset.
func validateRefund(c *Change, r *RefundParam) error {
	inAsset := assetOf(c.Prev.AmountIn)
	if inAsset == "" {
		return errors.New("amount_in is required")
	}
	if err := c.amounts.AmountOnly("refund", r.Amount.Amount, inAsset, asset.NonNegative); err != nil {
		return err
	}
	if err := c.amounts.AmountOnly("refund.amount_fee", r.AmountFee.Amount, inAsset, asset.NonNegative); err != nil {
		return err
	}
	if r.Amount.Asset != inAsset {
		return errors.New("refund.amount.asset does not match transaction amount_in_asset")
	}
	if r.AmountFee.Asset != inAsset {
		return errors.New("refund.amount_fee.asset does not match transaction amount_in_asset")
	}
	return nil
}

func (r *RefundParam) payment(kind model.Kind) model.RefundPayment {
	return model.RefundPayment{
		ID:     r.ID,
		IDType: refundIDType(kind),
		Amount: r.Amount,
		Fee:    r.AmountFee,
	}
}

// settle compares the refunded total with amount_in: equal means refunded,
// below means the refund is partial.
func settle(txn *model.Transaction, payments []model.RefundPayment) (model.Status, error) {
	if txn.AmountIn == nil {
		return "", InvalidParams("amount_in is required")
	}
	refunded, fee := RefundTotals(payments)
	total := refunded.Add(fee)
	amountIn := asset.MustDecimal(txn.AmountIn.Amount)
	switch total.Cmp(amountIn) {
	case 1:
		return "", InvalidParams("%s", errRefundExceeds.Error())
	case 0:
		return model.StatusRefunded, nil
	}
	return model.StatusPendingAnchor, nil
}

func validateRefundPending(c *Change, p *RefundParams) error {
	if !c.Prev.Kind.IsDeposit() {
		return nil
	}
	if p.Refund == nil {
		return errors.New("refund must not be null")
	}
	if err := validateRefund(c, p.Refund); err != nil {
		return err
	}
	refunded, fee := RefundTotals(refundPayments(c.Prev))
	total := refunded.Add(fee).
		Add(asset.MustDecimal(p.Refund.Amount.Amount)).
		Add(asset.MustDecimal(p.Refund.AmountFee.Amount))
	if total.GreaterThan(asset.MustDecimal(c.Prev.AmountIn.Amount)) {
		return errRefundExceeds
	}
	return nil
}

// applyRefundPending records the outgoing refund for deposits. Withdrawal
// refunds are only announced here and recorded by notify_refund_sent.
func applyRefundPending(c *Change, p *RefundParams) (model.Status, error) {
	if !c.Txn.Kind.IsDeposit() {
		return "", nil
	}
	payments := append(refundPayments(c.Prev), p.Refund.payment(c.Txn.Kind))
	c.Txn.Refunds = NewRefunds(payments, c.Txn.AmountIn.Asset)
	return "", nil
}

func validateRefundSent(c *Change, p *RefundParams) error {
	txn := c.Prev
	switch txn.Protocol {
	case model.ProtocolSEP31:
		if p.Refund == nil {
			return errors.New("refund is required")
		}
		if txn.Status == model.StatusPendingReceiver && len(refundPayments(txn)) > 0 {
			return InvalidRequest("Multiple refunds aren't supported for kind[%s], protocol[%s] and action[%s]",
				txn.Kind, txn.Protocol, NotifyRefundSent)
		}
	default:
		if p.Refund == nil && txn.Status == model.StatusPendingAnchor {
			return errors.New("refund is required")
		}
	}
	if p.Refund == nil {
		return nil
	}
	return validateRefund(c, p.Refund)
}

// applyRefundSent appends the refund while the anchor is still refunding and
// confirms a previously announced leg once the refund is in flight.
func applyRefundSent(c *Change, p *RefundParams) (model.Status, error) {
	payments := refundPayments(c.Prev)
	if p.Refund != nil {
		payment := p.Refund.payment(c.Txn.Kind)
		idx := slices.IndexFunc(payments, func(rp model.RefundPayment) bool { return rp.ID == payment.ID })
		switch {
		case c.Prev.Status == model.StatusPendingAnchor || len(payments) == 0:
			payments = append(payments, payment)
		case idx < 0:
			return "", InvalidParams("%s", errRefundID.Error())
		default:
			payments[idx] = payment
		}
	}

	status, err := settle(c.Txn, payments)
	if err != nil {
		return "", err
	}
	if len(payments) > 0 {
		c.Txn.Refunds = NewRefunds(payments, c.Txn.AmountIn.Asset)
	}
	return status, nil
}
