package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Protocol is the SEP variant that created the transaction, serialized as "sep".
type Protocol string

const (
	ProtocolSEP6  Protocol = "6"
	ProtocolSEP24 Protocol = "24"
	ProtocolSEP31 Protocol = "31"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSEP6, ProtocolSEP24, ProtocolSEP31:
		return true
	}
	return false
}

type Kind string

const (
	KindDeposit            Kind = "deposit"
	KindDepositExchange    Kind = "deposit-exchange"
	KindWithdrawal         Kind = "withdrawal"
	KindWithdrawalExchange Kind = "withdrawal-exchange"
	KindReceive            Kind = "receive"
)

func (k Kind) IsDeposit() bool    { return k == KindDeposit || k == KindDepositExchange }
func (k Kind) IsWithdrawal() bool { return k == KindWithdrawal || k == KindWithdrawalExchange }
func (k Kind) IsExchange() bool   { return k == KindDepositExchange || k == KindWithdrawalExchange }
func (k Kind) IsReceive() bool    { return k == KindReceive }

func (k Kind) Valid() bool {
	return k.IsDeposit() || k.IsWithdrawal() || k.IsReceive()
}

// InitialStatus is the status a freshly created transaction of this kind starts in.
func (k Kind) InitialStatus() Status {
	if k.IsReceive() {
		return StatusPendingSender
	}
	return StatusIncomplete
}

type Status string

const (
	StatusIncomplete                  Status = "incomplete"
	StatusPendingSender               Status = "pending_sender"
	StatusPendingCustomerInfoUpdate   Status = "pending_customer_info_update"
	StatusPendingUserTransferStart    Status = "pending_user_transfer_start"
	StatusPendingUserTransferComplete Status = "pending_user_transfer_complete"
	StatusPendingAnchor               Status = "pending_anchor"
	StatusPendingTrust                Status = "pending_trust"
	StatusPendingStellar              Status = "pending_stellar"
	StatusPendingExternal             Status = "pending_external"
	StatusPendingReceiver             Status = "pending_receiver"
	StatusOnHold                      Status = "on_hold"
	StatusCompleted                   Status = "completed"
	StatusRefunded                    Status = "refunded"
	StatusExpired                     Status = "expired"
	StatusError                       Status = "error"
)

var AllStatuses = []Status{
	StatusIncomplete,
	StatusPendingSender,
	StatusPendingCustomerInfoUpdate,
	StatusPendingUserTransferStart,
	StatusPendingUserTransferComplete,
	StatusPendingAnchor,
	StatusPendingTrust,
	StatusPendingStellar,
	StatusPendingExternal,
	StatusPendingReceiver,
	StatusOnHold,
	StatusCompleted,
	StatusRefunded,
	StatusExpired,
	StatusError,
}

func (s Status) Valid() bool { return slices.Contains(AllStatuses, s) }

// IsTerminal reports statuses no method may leave.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusRefunded }

// IsError reports the recoverable failure statuses.
func (s Status) IsError() bool { return s == StatusError || s == StatusExpired }

type Amount struct {
	Amount string `json:"amount"`
	Asset  string `json:"asset,omitempty"`
}

type FeeDetail struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Amount      string  `json:"amount"`
}

// Fee is the single stored fee value; amount_fee and fee_details are views of it.
type Fee struct {
	Total   string
	Asset   string
	Details []FeeDetail
}

type FeeDetails struct {
	Total   string      `json:"total"`
	Asset   string      `json:"asset"`
	Details []FeeDetail `json:"details,omitempty"`
}

func (f *Fee) AmountFee() *Amount {
	if f == nil {
		return nil
	}
	return &Amount{Amount: f.Total, Asset: f.Asset}
}

func (f *Fee) FeeDetails() *FeeDetails {
	if f == nil {
		return nil
	}
	return &FeeDetails{Total: f.Total, Asset: f.Asset, Details: slices.Clone(f.Details)}
}

func FeeFromAmount(a *Amount) *Fee {
	if a == nil {
		return nil
	}
	return &Fee{Total: a.Amount, Asset: a.Asset}
}

func FeeFromDetails(d *FeeDetails) *Fee {
	if d == nil {
		return nil
	}
	return &Fee{Total: d.Total, Asset: d.Asset, Details: slices.Clone(d.Details)}
}

type RefundPayment struct {
	ID     string `json:"id"`
	IDType string `json:"id_type"`
	Amount Amount `json:"amount"`
	Fee    Amount `json:"fee"`
}

const (
	RefundIDTypeStellar  = "stellar"
	RefundIDTypeExternal = "external"
)

type Refunds struct {
	AmountRefunded Amount          `json:"amount_refunded"`
	AmountFee      Amount          `json:"amount_fee"`
	Payments       []RefundPayment `json:"payments,omitempty"`
}

type StellarPayment struct {
	ID                 string `json:"id"`
	Amount             Amount `json:"amount"`
	PaymentType        string `json:"payment_type"`
	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`
}

type StellarTransaction struct {
	ID        string           `json:"id"`
	Memo      string           `json:"memo,omitempty"`
	MemoType  string           `json:"memo_type,omitempty"`
	CreatedAt *time.Time       `json:"created_at,omitempty"`
	Envelope  string           `json:"envelope,omitempty"`
	Payments  []StellarPayment `json:"payments,omitempty"`
}

type StellarID struct {
	ID      string `json:"id,omitempty"`
	Account string `json:"account,omitempty"`
	Memo    string `json:"memo,omitempty"`
}

type Customers struct {
	Sender   *StellarID `json:"sender,omitempty"`
	Receiver *StellarID `json:"receiver,omitempty"`
}

type Transaction struct {
	ID                    string               `json:"id"`
	Protocol              Protocol             `json:"sep"`
	Kind                  Kind                 `json:"kind"`
	Status                Status               `json:"status"`
	FundsReceived         bool                 `json:"funds_received"`
	AmountExpected        *Amount              `json:"amount_expected,omitempty"`
	AmountIn              *Amount              `json:"amount_in,omitempty"`
	AmountOut             *Amount              `json:"amount_out,omitempty"`
	Fee                   *Fee                 `json:"-"`
	StartedAt             time.Time            `json:"started_at"`
	UpdatedAt             *time.Time           `json:"updated_at,omitempty"`
	CompletedAt           *time.Time           `json:"completed_at,omitempty"`
	TransferReceivedAt    *time.Time           `json:"transfer_received_at,omitempty"`
	UserActionRequiredBy  *time.Time           `json:"user_action_required_by,omitempty"`
	Message               string               `json:"message,omitempty"`
	Refunds               *Refunds             `json:"refunds,omitempty"`
	StellarTransactions   []StellarTransaction `json:"stellar_transactions,omitempty"`
	SourceAccount         string               `json:"source_account,omitempty"`
	DestinationAccount    string               `json:"destination_account,omitempty"`
	ExternalTransactionID string               `json:"external_transaction_id,omitempty"`
	Memo                  string               `json:"memo,omitempty"`
	MemoType              string               `json:"memo_type,omitempty"`
	ClientName            string               `json:"client_name,omitempty"`
	Customers             *Customers           `json:"customers,omitempty"`
	Creator               *StellarID           `json:"creator,omitempty"`

	RequiredCustomerInfoMessage string   `json:"required_customer_info_message,omitempty"`
	RequiredCustomerInfoUpdates []string `json:"required_customer_info_updates,omitempty"`

	// Version is the optimistic lock counter, bumped by every save.
	Version int64 `json:"-"`
}

type transactionAlias Transaction

type transactionJSON struct {
	*transactionAlias
	AmountFee  *Amount     `json:"amount_fee,omitempty"`
	FeeDetails *FeeDetails `json:"fee_details,omitempty"`
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		transactionAlias: (*transactionAlias)(&t),
		AmountFee:        t.Fee.AmountFee(),
		FeeDetails:       t.Fee.FeeDetails(),
	})
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	aux := transactionJSON{transactionAlias: (*transactionAlias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.FeeDetails != nil:
		t.Fee = FeeFromDetails(aux.FeeDetails)
	case aux.AmountFee != nil:
		t.Fee = FeeFromAmount(aux.AmountFee)
	default:
		t.Fee = nil
	}
	return nil
}

func cloneAmount(a *Amount) *Amount {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneStellarID(s *StellarID) *StellarID {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Clone returns a deep copy, so a method can build the next snapshot without
// touching the one it was given.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.AmountExpected = cloneAmount(t.AmountExpected)
	c.AmountIn = cloneAmount(t.AmountIn)
	c.AmountOut = cloneAmount(t.AmountOut)
	if t.Fee != nil {
		c.Fee = &Fee{Total: t.Fee.Total, Asset: t.Fee.Asset, Details: slices.Clone(t.Fee.Details)}
	}
	c.UpdatedAt = cloneTime(t.UpdatedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.TransferReceivedAt = cloneTime(t.TransferReceivedAt)
	c.UserActionRequiredBy = cloneTime(t.UserActionRequiredBy)
	if t.Refunds != nil {
		r := *t.Refunds
		r.Payments = slices.Clone(t.Refunds.Payments)
		c.Refunds = &r
	}
	if t.StellarTransactions != nil {
		c.StellarTransactions = make([]StellarTransaction, len(t.StellarTransactions))
		for i, st := range t.StellarTransactions {
			st.CreatedAt = cloneTime(st.CreatedAt)
			st.Payments = slices.Clone(st.Payments)
			c.StellarTransactions[i] = st
		}
	}
	if t.Customers != nil {
		c.Customers = &Customers{
			Sender:   cloneStellarID(t.Customers.Sender),
			Receiver: cloneStellarID(t.Customers.Receiver),
		}
	}
	c.Creator = cloneStellarID(t.Creator)
	c.RequiredCustomerInfoUpdates = slices.Clone(t.RequiredCustomerInfoUpdates)
	return &c
}

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"

	OrderByCreatedAt          = "created_at"
	OrderByUpdatedAt          = "updated_at"
	OrderByTransferReceived   = "transfer_received_at"
	OrderByUserActionRequired = "user_action_required_by"
)

// TransactionPage is one page of a List query.
type TransactionPage struct {
	Records []*Transaction `json:"records"`
	Total   int64          `json:"total"`
}

// TransactionFilter controls List queries.
type TransactionFilter struct {
	Protocol   Protocol
	Statuses   []Status
	OrderBy    string // default created_at
	Order      string // asc | desc, default asc
	PageNumber int    // zero based
	PageSize   int    // default 20
}

// SortValid reports whether OrderBy and Order name a supported sort.
func (f TransactionFilter) SortValid() bool {
	switch f.OrderBy {
	case "", OrderByCreatedAt, OrderByUpdatedAt, OrderByTransferReceived, OrderByUserActionRequired:
	default:
		return false
	}
	return f.Order == "" || f.Order == OrderAsc || f.Order == OrderDesc
}
