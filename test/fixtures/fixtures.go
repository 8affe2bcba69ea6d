package fixtures

import (
	"encoding/json"
	"time"

	"github.com/nimasrn/anchor-platform/internal/model"
)

const (
	FiatUSD     = "iso4217:USD"
	StellarUSDC = "stellar:USDC:GDQOE23CFSUMSVQK4Y5JHPPYK73VYCNHZHA7ENKCV37P6SUEO6XQBKPP"
	StellarXLM  = "stellar:native"
)

// NewTransaction returns a transaction started an hour ago in the initial
// status of its kind.
func NewTransaction(id string, sep model.Protocol, kind model.Kind) *model.Transaction {
	return &model.Transaction{
		ID:        id,
		Protocol:  sep,
		Kind:      kind,
		Status:    kind.InitialStatus(),
		StartedAt: time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
	}
}

func NewDeposit(id string) *model.Transaction {
	return NewTransaction(id, model.ProtocolSEP24, model.KindDeposit)
}

func NewWithdrawal(id string) *model.Transaction {
	return NewTransaction(id, model.ProtocolSEP6, model.KindWithdrawal)
}

// NewReceive is a SEP-31 receive already carrying the on-chain amount the
// sender is expected to pay.
func NewReceive(id string) *model.Transaction {
	txn := NewTransaction(id, model.ProtocolSEP31, model.KindReceive)
	txn.AmountIn = &model.Amount{Amount: "10", Asset: StellarUSDC}
	txn.AmountExpected = &model.Amount{Amount: "10", Asset: StellarUSDC}
	txn.Memo = "42"
	txn.MemoType = "id"
	return txn
}

func Amount(value, assetID string) map[string]any {
	return map[string]any{"amount": value, "asset": assetID}
}

// Request builds one JSON-RPC envelope as it would arrive on the wire.
func Request(id any, method string, params map[string]any) map[string]any {
	req := map[string]any{"jsonrpc": model.JSONRPCVersion, "method": method}
	if id != nil {
		req["id"] = id
	}
	if params != nil {
		req["params"] = params
	}
	return req
}

func Batch(reqs ...map[string]any) []byte {
	b, err := json.Marshal(reqs)
	if err != nil {
		panic(err)
	}
	return b
}

// DepositFlow drives a SEP-24 deposit from incomplete to completed.
func DepositFlow(txnID string) []byte {
	return Batch(
		Request(1, "request_offchain_funds", map[string]any{
			"transaction_id": txnID,
			"amount_in":      Amount("100", FiatUSD),
			"amount_out":     Amount("95", StellarUSDC),
			"amount_fee":     Amount("5", FiatUSD),
		}),
		Request(2, "notify_offchain_funds_received", map[string]any{
			"transaction_id":          txnID,
			"external_transaction_id": "bank-1",
		}),
		Request(3, "notify_onchain_funds_sent", map[string]any{
			"transaction_id":         txnID,
			"stellar_transaction_id": "stellar-hash-1",
		}),
	)
}
