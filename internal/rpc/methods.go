package rpc

type Method string

const (
	NotifyInteractiveFlowCompleted Method = "notify_interactive_flow_completed"
	RequestOffchainFunds           Method = "request_offchain_funds"
	RequestOnchainFunds            Method = "request_onchain_funds"
	RequestCustomerInfoUpdate      Method = "request_customer_info_update"
	NotifyCustomerInfoUpdated      Method = "notify_customer_info_updated"
	NotifyOffchainFundsReceived    Method = "notify_offchain_funds_received"
	NotifyOnchainFundsReceived     Method = "notify_onchain_funds_received"
	RequestTrust                   Method = "request_trust"
	NotifyTrustSet                 Method = "notify_trust_set"
	NotifyOffchainFundsPending     Method = "notify_offchain_funds_pending"
	NotifyOffchainFundsAvailable   Method = "notify_offchain_funds_available"
	NotifyOffchainFundsSent        Method = "notify_offchain_funds_sent"
	NotifyOnchainFundsSent         Method = "notify_onchain_funds_sent"
	NotifyRefundPending            Method = "notify_refund_pending"
	NotifyRefundSent               Method = "notify_refund_sent"
	NotifyTransactionError         Method = "notify_transaction_error"
	NotifyTransactionExpired       Method = "notify_transaction_expired"
	NotifyTransactionRecovery      Method = "notify_transaction_recovery"
	NotifyTransactionOnHold        Method = "notify_transaction_on_hold"
	NotifyAmountsUpdated           Method = "notify_amounts_updated"
	NotifyAmountsAssetsUpdated     Method = "notify_amounts_assets_updated"

	GetTransaction  Method = "get_transaction"
	GetTransactions Method = "get_transactions"
)

// MutatingMethods lists every method driven through the state machine.
var MutatingMethods = []Method{
	NotifyInteractiveFlowCompleted,
	RequestOffchainFunds,
	RequestOnchainFunds,
	RequestCustomerInfoUpdate,
	NotifyCustomerInfoUpdated,
	NotifyOffchainFundsReceived,
	NotifyOnchainFundsReceived,
	RequestTrust,
	NotifyTrustSet,
	NotifyOffchainFundsPending,
	NotifyOffchainFundsAvailable,
	NotifyOffchainFundsSent,
	NotifyOnchainFundsSent,
	NotifyRefundPending,
	NotifyRefundSent,
	NotifyTransactionError,
	NotifyTransactionExpired,
	NotifyTransactionRecovery,
	NotifyTransactionOnHold,
	NotifyAmountsUpdated,
	NotifyAmountsAssetsUpdated,
}

var knownMethods = func() map[Method]struct{} {
	m := map[Method]struct{}{GetTransaction: {}, GetTransactions: {}}
	for _, method := range MutatingMethods {
		m[method] = struct{}{}
	}
	return m
}()

func (m Method) Known() bool {
	_, ok := knownMethods[m]
	return ok
}

func (m Method) ReadOnly() bool {
	return m == GetTransaction || m == GetTransactions
}

// FundsRequest reports the methods that ask the user to send funds.
func (m Method) FundsRequest() bool {
	return m == RequestOffchainFunds || m == RequestOnchainFunds
}
