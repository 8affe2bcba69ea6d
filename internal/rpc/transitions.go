package rpc

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/nimasrn/anchor-platform/internal/model"
)

type fundsCond int

const (
	fundsAny fundsCond = iota
	fundsYes
	fundsNo
)

func (c fundsCond) matches(received bool) bool {
	switch c {
	case fundsYes:
		return received
	case fundsNo:
		return !received
	}
	return true
}

// rule declares one family of legal transitions. Unsupported protocol and kind
// pairs are dropped when the table is expanded.
type rule struct {
	method    Method
	protocols []model.Protocol
	kinds     []model.Kind
	from      []model.Status
	funds     fundsCond
	to        []model.Status
	// reentry marks edges that return to an earlier point of the flow
	// (recovery, trust, customer info and refund detours).
	reentry bool
}

var (
	sep6       = []model.Protocol{model.ProtocolSEP6}
	sep24      = []model.Protocol{model.ProtocolSEP24}
	sep31      = []model.Protocol{model.ProtocolSEP31}
	sep6and24  = []model.Protocol{model.ProtocolSEP6, model.ProtocolSEP24}
	allSeps    = []model.Protocol{model.ProtocolSEP6, model.ProtocolSEP24, model.ProtocolSEP31}
	deposits   = []model.Kind{model.KindDeposit, model.KindDepositExchange}
	withdraws  = []model.Kind{model.KindWithdrawal, model.KindWithdrawalExchange}
	receives   = []model.Kind{model.KindReceive}
	transfers  = []model.Kind{model.KindDeposit, model.KindDepositExchange, model.KindWithdrawal, model.KindWithdrawalExchange}
	everyKind  = append(slices.Clone(transfers), model.KindReceive)
	errorables = func() []model.Status {
		var out []model.Status
		for _, s := range model.AllStatuses {
			if !s.IsTerminal() && !s.IsError() {
				out = append(out, s)
			}
		}
		return out
	}()
)

// supportedKinds lists the transaction kinds each protocol can create.
var supportedKinds = map[model.Protocol][]model.Kind{
	model.ProtocolSEP6:  transfers,
	model.ProtocolSEP24: {model.KindDeposit, model.KindWithdrawal},
	model.ProtocolSEP31: receives,
}

func statuses(s ...model.Status) []model.Status { return s }

var rules = []rule{
	{method: NotifyInteractiveFlowCompleted, protocols: sep24, kinds: transfers,
		from: statuses(model.StatusIncomplete), to: statuses(model.StatusPendingAnchor)},

	{method: RequestOffchainFunds, protocols: sep6and24, kinds: deposits, funds: fundsNo,
		from: statuses(model.StatusIncomplete, model.StatusPendingAnchor), to: statuses(model.StatusPendingUserTransferStart)},
	{method: RequestOffchainFunds, protocols: sep6, kinds: deposits, funds: fundsNo,
		from: statuses(model.StatusPendingCustomerInfoUpdate), to: statuses(model.StatusPendingUserTransferStart)},

	{method: RequestOnchainFunds, protocols: sep6and24, kinds: withdraws, funds: fundsNo,
		from: statuses(model.StatusIncomplete, model.StatusPendingAnchor), to: statuses(model.StatusPendingUserTransferStart)},
	{method: RequestOnchainFunds, protocols: sep6, kinds: withdraws, funds: fundsNo,
		from: statuses(model.StatusPendingCustomerInfoUpdate), to: statuses(model.StatusPendingUserTransferStart)},
	{method: RequestOnchainFunds, protocols: sep31, kinds: receives, funds: fundsNo,
		from: statuses(model.StatusPendingReceiver), to: statuses(model.StatusPendingSender)},

	{method: RequestCustomerInfoUpdate, protocols: sep6, kinds: transfers, reentry: true,
		from: statuses(model.StatusIncomplete, model.StatusPendingUserTransferStart, model.StatusPendingAnchor),
		to:   statuses(model.StatusPendingCustomerInfoUpdate)},
	{method: RequestCustomerInfoUpdate, protocols: sep31, kinds: receives, reentry: true,
		from: statuses(model.StatusPendingReceiver), to: statuses(model.StatusPendingCustomerInfoUpdate)},

	{method: NotifyCustomerInfoUpdated, protocols: sep6, kinds: transfers,
		from: statuses(model.StatusIncomplete, model.StatusPendingAnchor),
		to:   statuses(model.StatusPendingAnchor, model.StatusPendingCustomerInfoUpdate, model.StatusError)},
	{method: NotifyCustomerInfoUpdated, protocols: sep6, kinds: transfers, reentry: true,
		from: statuses(model.StatusPendingCustomerInfoUpdate),
		to:   statuses(model.StatusPendingAnchor, model.StatusPendingCustomerInfoUpdate, model.StatusError)},
	{method: NotifyCustomerInfoUpdated, protocols: sep31, kinds: receives, reentry: true,
		from: statuses(model.StatusPendingReceiver, model.StatusPendingCustomerInfoUpdate),
		to:   statuses(model.StatusPendingReceiver, model.StatusPendingCustomerInfoUpdate, model.StatusError)},

	{method: NotifyOffchainFundsReceived, protocols: sep6and24, kinds: deposits,
		from: statuses(model.StatusPendingUserTransferStart, model.StatusOnHold, model.StatusPendingExternal),
		to:   statuses(model.StatusPendingAnchor)},

	{method: NotifyOnchainFundsReceived, protocols: sep6and24, kinds: withdraws, funds: fundsNo,
		from: statuses(model.StatusPendingUserTransferStart, model.StatusOnHold), to: statuses(model.StatusPendingAnchor)},
	{method: NotifyOnchainFundsReceived, protocols: sep31, kinds: receives, funds: fundsNo,
		from: statuses(model.StatusPendingSender), to: statuses(model.StatusPendingReceiver)},

	{method: RequestTrust, protocols: sep24, kinds: deposits, funds: fundsYes,
		from: statuses(model.StatusPendingAnchor), to: statuses(model.StatusPendingTrust)},
	{method: NotifyTrustSet, protocols: sep24, kinds: deposits, reentry: true,
		from: statuses(model.StatusPendingTrust), to: statuses(model.StatusPendingAnchor)},

	{method: NotifyOffchainFundsPending, protocols: sep6and24, kinds: withdraws, funds: fundsYes,
		from: statuses(model.StatusPendingAnchor), to: statuses(model.StatusPendingExternal)},
	{method: NotifyOffchainFundsPending, protocols: sep31, kinds: receives,
		from: statuses(model.StatusPendingReceiver), to: statuses(model.StatusPendingExternal)},

	{method: NotifyOffchainFundsAvailable, protocols: sep6and24, kinds: withdraws, funds: fundsYes,
		from: statuses(model.StatusPendingAnchor, model.StatusOnHold), to: statuses(model.StatusPendingUserTransferComplete)},

	{method: NotifyOffchainFundsSent, protocols: sep6and24, kinds: deposits,
		from: statuses(model.StatusPendingUserTransferStart), to: statuses(model.StatusPendingExternal)},
	{method: NotifyOffchainFundsSent, protocols: sep6and24, kinds: withdraws, funds: fundsYes,
		from: statuses(model.StatusPendingAnchor), to: statuses(model.StatusCompleted)},
	{method: NotifyOffchainFundsSent, protocols: sep6and24, kinds: withdraws,
		from: statuses(model.StatusPendingUserTransferComplete, model.StatusPendingExternal), to: statuses(model.StatusCompleted)},
	{method: NotifyOffchainFundsSent, protocols: sep31, kinds: receives,
		from: statuses(model.StatusPendingReceiver, model.StatusPendingExternal), to: statuses(model.StatusCompleted)},

	{method: NotifyOnchainFundsSent, protocols: sep6and24, kinds: deposits,
		from: statuses(model.StatusPendingStellar), to: statuses(model.StatusCompleted)},
	{method: NotifyOnchainFundsSent, protocols: sep6and24, kinds: deposits, funds: fundsYes,
		from: statuses(model.StatusPendingAnchor), to: statuses(model.StatusCompleted)},

	{method: NotifyRefundPending, protocols: sep6and24, kinds: deposits, funds: fundsYes, reentry: true,
		from: statuses(model.StatusPendingAnchor), to: statuses(model.StatusPendingExternal)},
	{method: NotifyRefundPending, protocols: sep6and24, kinds: withdraws, reentry: true,
		from: statuses(model.StatusPendingUserTransferComplete, model.StatusPendingExternal), to: statuses(model.StatusPendingAnchor)},

	{method: NotifyRefundSent, protocols: sep6and24, kinds: deposits, funds: fundsYes, reentry: true,
		from: statuses(model.StatusPendingExternal, model.StatusPendingAnchor),
		to:   statuses(model.StatusPendingAnchor, model.StatusRefunded)},
	{method: NotifyRefundSent, protocols: sep6and24, kinds: withdraws, reentry: true,
		from: statuses(model.StatusPendingStellar), to: statuses(model.StatusPendingAnchor, model.StatusRefunded)},
	{method: NotifyRefundSent, protocols: sep6and24, kinds: withdraws, funds: fundsYes, reentry: true,
		from: statuses(model.StatusPendingAnchor), to: statuses(model.StatusPendingAnchor, model.StatusRefunded)},
	{method: NotifyRefundSent, protocols: sep31, kinds: receives, reentry: true,
		from: statuses(model.StatusPendingStellar, model.StatusPendingReceiver),
		to:   statuses(model.StatusPendingAnchor, model.StatusRefunded)},

	{method: NotifyTransactionOnHold, protocols: sep6and24, kinds: transfers,
		from: statuses(model.StatusPendingUserTransferStart), to: statuses(model.StatusOnHold)},
	{method: NotifyTransactionOnHold, protocols: sep6and24, kinds: withdraws,
		from: statuses(model.StatusPendingAnchor), to: statuses(model.StatusOnHold)},

	{method: NotifyAmountsUpdated, protocols: sep6and24, kinds: withdraws, funds: fundsYes,
		from: statuses(model.StatusPendingAnchor), to: statuses(model.StatusPendingAnchor)},

	{method: NotifyAmountsAssetsUpdated, protocols: sep6, kinds: transfers,
		from: statuses(model.StatusIncomplete, model.StatusPendingAnchor), to: statuses(model.StatusPendingAnchor)},
	{method: NotifyAmountsAssetsUpdated, protocols: sep6, kinds: transfers, reentry: true,
		from: statuses(model.StatusPendingCustomerInfoUpdate), to: statuses(model.StatusPendingAnchor)},

	{method: NotifyTransactionError, protocols: allSeps, kinds: everyKind,
		from: errorables, to: statuses(model.StatusError)},
	{method: NotifyTransactionExpired, protocols: allSeps, kinds: everyKind,
		from: errorables, to: statuses(model.StatusExpired)},

	{method: NotifyTransactionRecovery, protocols: sep6and24, kinds: transfers, funds: fundsYes, reentry: true,
		from: statuses(model.StatusError, model.StatusExpired), to: statuses(model.StatusPendingAnchor)},
	{method: NotifyTransactionRecovery, protocols: sep31, kinds: receives, funds: fundsYes, reentry: true,
		from: statuses(model.StatusError, model.StatusExpired), to: statuses(model.StatusPendingReceiver)},
}

type guardKey struct {
	method   Method
	protocol model.Protocol
	kind     model.Kind
	status   model.Status
	funds    bool
}

type guardEntry struct {
	to      []model.Status
	reentry bool
}

// Transition is one legal edge of the table.
type Transition struct {
	Method        Method
	Protocol      model.Protocol
	Kind          model.Kind
	From          model.Status
	FundsReceived bool
	To            model.Status
	Reentry       bool
}

var guard = buildGuard(rules)

func buildGuard(rs []rule) map[guardKey]guardEntry {
	table := make(map[guardKey]guardEntry)
	for _, r := range rs {
		for _, p := range r.protocols {
			for _, k := range r.kinds {
				if !slices.Contains(supportedKinds[p], k) {
					continue
				}
				for _, from := range r.from {
					for _, funds := range []bool{false, true} {
						if !r.funds.matches(funds) {
							continue
						}
						key := guardKey{method: r.method, protocol: p, kind: k, status: from, funds: funds}
						if _, dup := table[key]; dup {
							panic(fmt.Sprintf("duplicate transition rule %+v", key))
						}
						table[key] = guardEntry{to: r.to, reentry: r.reentry}
					}
				}
			}
		}
	}
	return table
}

// Allowed reports whether method is legal for the given transaction state.
func Allowed(method Method, protocol model.Protocol, kind model.Kind, status model.Status, fundsReceived bool) bool {
	return len(Targets(method, protocol, kind, status, fundsReceived)) > 0
}

// Targets returns the statuses method may move the transaction to, nil when illegal.
func Targets(method Method, protocol model.Protocol, kind model.Kind, status model.Status, fundsReceived bool) []model.Status {
	e, ok := guard[guardKey{method: method, protocol: protocol, kind: kind, status: status, funds: fundsReceived}]
	if !ok {
		return nil
	}
	return e.to
}

// Transitions enumerates every legal edge in a stable order.
func Transitions() []Transition {
	out := make([]Transition, 0, len(guard))
	for key, e := range guard {
		for _, to := range e.to {
			out = append(out, Transition{
				Method:        key.method,
				Protocol:      key.protocol,
				Kind:          key.kind,
				From:          key.status,
				FundsReceived: key.funds,
				To:            to,
				Reentry:       e.reentry,
			})
		}
	}
	slices.SortFunc(out, func(a, b Transition) int {
		return cmp.Or(
			cmp.Compare(a.Protocol, b.Protocol),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Method, b.Method),
			cmp.Compare(a.From, b.From),
			cmp.Compare(boolRank(a.FundsReceived), boolRank(b.FundsReceived)),
			cmp.Compare(a.To, b.To),
		)
	})
	return out
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// fundsDesignation names, per kind, the methods that mark funds as received.
var fundsDesignation = map[model.Kind][]Method{
	model.KindDeposit:            {NotifyOffchainFundsReceived, NotifyOffchainFundsSent},
	model.KindDepositExchange:    {NotifyOffchainFundsReceived, NotifyOffchainFundsSent},
	model.KindWithdrawal:         {NotifyOnchainFundsReceived},
	model.KindWithdrawalExchange: {NotifyOnchainFundsReceived},
	model.KindReceive:            {NotifyOnchainFundsReceived},
}

// MarksFundsReceived reports whether method is the funds receipt event for kind.
func MarksFundsReceived(kind model.Kind, method Method) bool {
	return slices.Contains(fundsDesignation[kind], method)
}

func notSupported(method Method, txn *model.Transaction) *Error {
	return InvalidRequest("RPC method[%s] is not supported. Status[%s], kind[%s], protocol[%s], funds received[%t]",
		method, txn.Status, txn.Kind, txn.Protocol, txn.FundsReceived)
}
