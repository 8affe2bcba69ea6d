package rpc

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nimasrn/anchor-platform/internal/asset"
	"github.com/nimasrn/anchor-platform/internal/model"
)

// Change is the working state of a single method application. Prev is the
// stored snapshot and must not be modified, Txn is the next snapshot.
type Change struct {
	Method  Method
	Prev    *model.Transaction
	Txn     *model.Transaction
	Targets []model.Status
	Now     time.Time

	amounts *asset.Validator
}

type handler struct {
	newParams func() params
	validate  func(c *Change, p params) error
	apply     func(c *Change, p params) (model.Status, error)
}

// handle adapts typed validate and apply funcs to the handler table. Either
// may be nil; a nil apply keeps the first target status.
func handle[T any, P interface {
	*T
	params
}](validate func(*Change, P) error, apply func(*Change, P) (model.Status, error)) handler {
	return handler{
		newParams: func() params { return P(new(T)) },
		validate: func(c *Change, p params) error {
			if validate == nil {
				return nil
			}
			return validate(c, p.(P))
		},
		apply: func(c *Change, p params) (model.Status, error) {
			if apply == nil {
				return "", nil
			}
			return apply(c, p.(P))
		},
	}
}

type Machine struct {
	amounts  *asset.Validator
	structs  *validator.Validate
	handlers map[Method]handler
	now      func() time.Time
}

type Option func(*Machine)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

func NewMachine(registry asset.Registry, opts ...Option) *Machine {
	m := &Machine{
		amounts: asset.NewValidator(registry),
		structs: newStructValidator(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	m.handlers = map[Method]handler{
		NotifyInteractiveFlowCompleted: handle[InteractiveFlowCompletedParams](validateInteractiveFlowCompleted, applyInteractiveFlowCompleted),
		RequestOffchainFunds:           handle[OffchainFundsRequestParams](validateOffchainFundsRequest, applyOffchainFundsRequest),
		RequestOnchainFunds:            handle[OnchainFundsRequestParams](validateOnchainFundsRequest, applyOnchainFundsRequest),
		RequestCustomerInfoUpdate:      handle[CustomerInfoUpdateParams](nil, applyCustomerInfoUpdate),
		NotifyCustomerInfoUpdated:      handle[CustomerInfoUpdatedParams](nil, applyCustomerInfoUpdated),
		NotifyOffchainFundsReceived:    handle[OffchainFundsReceivedParams](validateOffchainFundsReceived, applyOffchainFundsReceived),
		NotifyOnchainFundsReceived:     handle[OnchainFundsReceivedParams](validateOnchainFundsReceived, applyOnchainFundsReceived),
		RequestTrust:                   handle[BaseParams](nil, nil),
		NotifyTrustSet:                 handle[BaseParams](nil, nil),
		NotifyOffchainFundsPending:     handle[OffchainFundsParams](nil, applyOffchainFunds),
		NotifyOffchainFundsAvailable:   handle[OffchainFundsParams](nil, applyOffchainFunds),
		NotifyOffchainFundsSent:        handle[OffchainFundsParams](nil, applyOffchainFundsSent),
		NotifyOnchainFundsSent:         handle[OnchainFundsSentParams](nil, applyOnchainFundsSent),
		NotifyRefundPending:            handle[RefundParams](validateRefundPending, applyRefundPending),
		NotifyRefundSent:               handle[RefundParams](validateRefundSent, applyRefundSent),
		NotifyTransactionError:         handle[BaseParams](nil, nil),
		NotifyTransactionExpired:       handle[BaseParams](nil, nil),
		NotifyTransactionRecovery:      handle[BaseParams](nil, nil),
		NotifyTransactionOnHold:        handle[BaseParams](nil, nil),
		NotifyAmountsUpdated:           handle[AmountsUpdatedParams](validateAmountsUpdated, applyAmountsUpdated),
		NotifyAmountsAssetsUpdated:     handle[AmountsAssetsUpdatedParams](validateAmountsAssetsUpdated, applyAmountsAssetsUpdated),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply runs method against txn and returns the next snapshot. txn itself is
// never modified; on error the stored state stays as it was.
func (m *Machine) Apply(method Method, txn *model.Transaction, raw json.RawMessage) (*model.Transaction, error) {
	h, ok := m.handlers[method]
	if !ok {
		return nil, MethodNotFound("No matching RPC method[%s]", method).WithTransaction(txn.ID)
	}

	p := h.newParams()
	if err := unmarshalParams(raw, p); err != nil {
		return nil, AsError(err).WithTransaction(txn.ID)
	}

	targets := Targets(method, txn.Protocol, txn.Kind, txn.Status, txn.FundsReceived)
	if len(targets) == 0 {
		return nil, notSupported(method, txn).WithTransaction(txn.ID)
	}

	if err := validateStruct(m.structs, p); err != nil {
		return nil, AsError(err).WithTransaction(txn.ID)
	}

	now := m.now()
	c := &Change{
		Method:  method,
		Prev:    txn,
		Txn:     txn.Clone(),
		Targets: targets,
		Now:     now,
		amounts: m.amounts,
	}

	if err := h.validate(c, p); err != nil {
		return nil, invalidParams(err).WithTransaction(txn.ID)
	}

	status, err := h.apply(c, p)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return nil, rpcErr.WithTransaction(txn.ID)
		}
		return nil, InternalError("%s", err.Error()).WithTransaction(txn.ID)
	}
	if status == "" {
		status = targets[0]
	}
	if !slices.Contains(targets, status) {
		return nil, InternalError("invalid next status[%s] for RPC method[%s]", status, method).WithTransaction(txn.ID)
	}

	message := p.common().Message
	if status.IsError() && message == "" {
		return nil, InvalidParams("message is required").WithTransaction(txn.ID)
	}

	next := c.Txn
	next.Status = status
	next.UpdatedAt = &now
	if status.IsTerminal() {
		next.CompletedAt = &now
	}
	switch {
	case message != "":
		next.Message = message
	case txn.Status.IsError() && !status.IsError():
		next.Message = ""
	}
	if MarksFundsReceived(next.Kind, method) {
		next.FundsReceived = true
	}
	return next, nil
}
