package rpc

import (
	"fmt"
	"testing"

	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refundingDeposit() *model.Transaction {
	txn := newTxn(model.ProtocolSEP24, model.KindDeposit, model.StatusPendingAnchor)
	txn.FundsReceived = true
	txn.AmountIn = &model.Amount{Amount: "1000.11", Asset: fiatUSD}
	txn.AmountOut = &model.Amount{Amount: "990", Asset: stellarUSDC}
	txn.Fee = &model.Fee{Total: "10.11", Asset: fiatUSD}
	return txn
}

func refund(id, value, fee, assetID string) map[string]any {
	return map[string]any{
		"refund": map[string]any{
			"id":         id,
			"amount":     amount(value, assetID),
			"amount_fee": amount(fee, assetID),
		},
	}
}

func TestRefundSent_AccumulatesAcrossPayments(t *testing.T) {
	m := newTestMachine()
	txn := refundingDeposit()
	txn.Refunds = NewRefunds([]model.RefundPayment{{
		ID: "r0", IDType: model.RefundIDTypeExternal,
		Amount: model.Amount{Amount: "0", Asset: fiatUSD},
		Fee:    model.Amount{Amount: "0", Asset: fiatUSD},
	}}, fiatUSD)

	next, err := m.Apply(NotifyRefundSent, txn, rawParams(t, refund("r1", "989.11", "1", fiatUSD)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAnchor, next.Status)
	assert.Equal(t, model.Amount{Amount: "989.11", Asset: fiatUSD}, next.Refunds.AmountRefunded)
	assert.Equal(t, model.Amount{Amount: "1", Asset: fiatUSD}, next.Refunds.AmountFee)
	assert.Len(t, next.Refunds.Payments, 2)
	assert.Equal(t, model.RefundIDTypeExternal, next.Refunds.Payments[1].IDType)

	_, err = m.Apply(NotifyRefundSent, next, rawParams(t, refund("r2", "10", "0.01", fiatUSD)))
	requireRPCError(t, err, CodeInvalidParams, "Refund amount exceeds amount_in")

	done, err := m.Apply(NotifyRefundSent, next, rawParams(t, refund("r2", "10", "0", fiatUSD)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, "999.11", done.Refunds.AmountRefunded.Amount)
}

func TestRefundSent_AssetMismatchLeavesRefundsUntouched(t *testing.T) {
	m := newTestMachine()
	txn := refundingDeposit()
	txn.Refunds = NewRefunds([]model.RefundPayment{{
		ID: "r0", Amount: model.Amount{Amount: "1", Asset: fiatUSD}, Fee: model.Amount{Amount: "0", Asset: fiatUSD},
	}}, fiatUSD)
	before := txn.Clone()

	_, err := m.Apply(NotifyRefundSent, txn, rawParams(t, map[string]any{
		"refund": map[string]any{
			"id":         "r1",
			"amount":     amount("5", stellarUSDC),
			"amount_fee": amount("0", fiatUSD),
		},
	}))
	requireRPCError(t, err, CodeInvalidParams, "refund.amount.asset does not match transaction amount_in_asset")
	assert.Equal(t, before.Refunds, txn.Refunds)

	_, err = m.Apply(NotifyRefundSent, txn, rawParams(t, map[string]any{
		"refund": map[string]any{
			"id":         "r1",
			"amount":     amount("5", fiatUSD),
			"amount_fee": amount("0", stellarUSDC),
		},
	}))
	requireRPCError(t, err, CodeInvalidParams, "refund.amount_fee.asset does not match transaction amount_in_asset")
}

func TestRefundSent_RequiresRefundInPendingAnchor(t *testing.T) {
	m := newTestMachine()
	_, err := m.Apply(NotifyRefundSent, refundingDeposit(), rawParams(t, map[string]any{}))
	requireRPCError(t, err, CodeInvalidParams, "refund is required")
}

func TestRefundPendingThenSent_ConfirmsLeg(t *testing.T) {
	m := newTestMachine()

	pending, err := m.Apply(NotifyRefundPending, refundingDeposit(), rawParams(t, refund("leg-1", "1000", "0.11", fiatUSD)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingExternal, pending.Status)
	require.Len(t, pending.Refunds.Payments, 1)

	_, err = m.Apply(NotifyRefundSent, pending, rawParams(t, refund("other", "1000", "0.11", fiatUSD)))
	requireRPCError(t, err, CodeInvalidParams, "Invalid refund id")

	partial, err := m.Apply(NotifyRefundSent, pending, rawParams(t, refund("leg-1", "500", "0.11", fiatUSD)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAnchor, partial.Status)
	require.Len(t, partial.Refunds.Payments, 1)
	assert.Equal(t, "500", partial.Refunds.AmountRefunded.Amount)

	full, err := m.Apply(NotifyRefundSent, pending, rawParams(t, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, full.Status)
}

func TestRefundPending_Validation(t *testing.T) {
	m := newTestMachine()

	_, err := m.Apply(NotifyRefundPending, refundingDeposit(), rawParams(t, map[string]any{}))
	requireRPCError(t, err, CodeInvalidParams, "refund must not be null")

	_, err = m.Apply(NotifyRefundPending, refundingDeposit(), rawParams(t, refund("r", "1000.11", "0.01", fiatUSD)))
	requireRPCError(t, err, CodeInvalidParams, "Refund amount exceeds amount_in")
}

func TestRefundPending_WithdrawalOnlyMovesStatus(t *testing.T) {
	m := newTestMachine()
	txn := newTxn(model.ProtocolSEP6, model.KindWithdrawal, model.StatusPendingExternal)
	txn.FundsReceived = true
	txn.AmountIn = &model.Amount{Amount: "10", Asset: stellarUSDC}

	next, err := m.Apply(NotifyRefundPending, txn, rawParams(t, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAnchor, next.Status)
	assert.Nil(t, next.Refunds)

	done, err := m.Apply(NotifyRefundSent, next, rawParams(t, refund("tx-hash", "9.5", "0.5", stellarUSDC)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, done.Status)
	assert.Equal(t, model.RefundIDTypeStellar, done.Refunds.Payments[0].IDType)
}

func TestRefundSent_ReceiveSingleRefund(t *testing.T) {
	m := newTestMachine()
	txn := newTxn(model.ProtocolSEP31, model.KindReceive, model.StatusPendingReceiver)
	txn.FundsReceived = true
	txn.AmountIn = &model.Amount{Amount: "10", Asset: stellarUSDC}
	txn.Refunds = NewRefunds([]model.RefundPayment{{
		ID: "a", Amount: model.Amount{Amount: "1", Asset: stellarUSDC}, Fee: model.Amount{Amount: "0", Asset: stellarUSDC},
	}}, stellarUSDC)

	_, err := m.Apply(NotifyRefundSent, txn, rawParams(t, refund("b", "1", "0", stellarUSDC)))
	requireRPCError(t, err, CodeInvalidRequest,
		"Multiple refunds aren't supported for kind[receive], protocol[31] and action[notify_refund_sent]")

	_, err = m.Apply(NotifyRefundSent, txn, rawParams(t, map[string]any{}))
	requireRPCError(t, err, CodeInvalidParams, "refund is required")
}

func TestRefundLedger_TotalsMatchPayments(t *testing.T) {
	m := newTestMachine()
	txn := refundingDeposit()
	amountIn := decimal.RequireFromString(txn.AmountIn.Amount)

	legs := [][2]string{{"0", "0"}, {"100.5", "0.5"}, {"250", "1"}, {"700", "0"}, {"300", "0"}, {"348.11", "0"}}
	for i, leg := range legs {
		next, err := m.Apply(NotifyRefundSent, txn, rawParams(t, refund(fmt.Sprintf("r%d", i), leg[0], leg[1], fiatUSD)))
		if err != nil {
			requireRPCError(t, err, CodeInvalidParams, "Refund amount exceeds amount_in")
			continue
		}
		txn = next

		sumAmount, sumFee := decimal.Zero, decimal.Zero
		for _, p := range txn.Refunds.Payments {
			sumAmount = sumAmount.Add(decimal.RequireFromString(p.Amount.Amount))
			sumFee = sumFee.Add(decimal.RequireFromString(p.Fee.Amount))
		}
		assert.True(t, sumAmount.Equal(decimal.RequireFromString(txn.Refunds.AmountRefunded.Amount)))
		assert.True(t, sumFee.Equal(decimal.RequireFromString(txn.Refunds.AmountFee.Amount)))
		assert.True(t, sumAmount.Add(sumFee).LessThanOrEqual(amountIn))
		if txn.Status == model.StatusRefunded {
			break
		}
	}
	assert.Equal(t, model.StatusRefunded, txn.Status)
}
