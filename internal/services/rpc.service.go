package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/internal/repository"
	"github.com/nimasrn/anchor-platform/internal/rpc"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/prom"
)

const DefaultBatchLimit = 100

type TransactionStore interface {
	Get(ctx context.Context, id string) (*model.Transaction, error)
	Save(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) // results, totalCount
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher announces saved transactions. Failures never fail the request.
type EventPublisher interface {
	Publish(ctx context.Context, event *model.TransactionEvent) error
}

type RpcService struct {
	store      TransactionStore
	machine    *rpc.Machine
	locker     Locker
	events     EventPublisher
	batchLimit int
	now        func() time.Time
}

func NewRpcService(store TransactionStore, machine *rpc.Machine, locker Locker, events EventPublisher, batchLimit int) *RpcService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &RpcService{
		store:      store,
		machine:    machine,
		locker:     locker,
		events:     events,
		batchLimit: batchLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes the batch items one after another; every item sees the
// state left by the items before it.
func (s *RpcService) Handle(ctx context.Context, reqs []model.RpcRequest) []model.RpcResponse {
	if len(reqs) == 0 {
		return []model.RpcResponse{model.NewRpcError(nil, rpc.InvalidRequest("RPC batch is empty").Body())}
	}
	if len(reqs) > s.batchLimit {
		return []model.RpcResponse{model.NewRpcError(nil,
			rpc.InvalidRequest("RPC batch size limit[%d] exceeded", s.batchLimit).Body())}
	}
	prom.ObserveRPCBatch(len(reqs))

	out := make([]model.RpcResponse, len(reqs))
	for i, req := range reqs {
		out[i] = s.handleOne(ctx, req)
	}
	return out
}

func (s *RpcService) handleOne(ctx context.Context, req model.RpcRequest) model.RpcResponse {
	start := time.Now()
	txnID := rpc.TransactionID(req.Params)

	result, err := s.dispatch(ctx, req, txnID)

	var id json.RawMessage
	if req.HasID() {
		id = req.ID
	}
	if err == nil {
		prom.ObserveRPCRequest(req.Method, "ok", time.Since(start))
		return model.NewRpcResult(id, result)
	}

	rpcErr := rpc.AsError(err)
	if rpcErr.TransactionID == "" && txnID != "" {
		rpcErr = rpcErr.WithTransaction(txnID)
	}
	if rpcErr.Code == rpc.CodeInternalError {
		logger.Error("rpc request failed", "method", req.Method, "transaction_id", txnID, "error", err)
	} else {
		logger.Debug("rpc request rejected", "method", req.Method, "transaction_id", txnID,
			"code", rpcErr.Code, "message", rpcErr.Message)
	}
	prom.ObserveRPCRequest(req.Method, "error", time.Since(start))
	return model.NewRpcError(id, rpcErr.Body())
}

func (s *RpcService) dispatch(ctx context.Context, req model.RpcRequest, txnID string) (any, error) {
	if req.Malformed != "" {
		return nil, rpc.InvalidRequest("Invalid JSON-RPC request: %s", req.Malformed).WithTransaction(txnID)
	}
	if req.Version() != model.JSONRPCVersion {
		return nil, rpc.InvalidRequest("Unsupported JSON-RPC protocol version[%s]", req.Version()).WithTransaction(txnID)
	}
	if !req.HasID() {
		return nil, rpc.InvalidRequest("Id can't be NULL").WithTransaction(txnID)
	}
	method := rpc.Method(req.Method)
	if !method.Known() {
		return nil, rpc.MethodNotFound("No matching RPC method[%s]", req.Method).WithTransaction(txnID)
	}

	switch method {
	case rpc.GetTransaction:
		return s.getTransaction(ctx, req)
	case rpc.GetTransactions:
		return s.getTransactions(ctx, req)
	}
	return s.apply(ctx, method, txnID, req)
}

func (s *RpcService) apply(ctx context.Context, method rpc.Method, txnID string, req model.RpcRequest) (*model.Transaction, error) {
	if txnID == "" {
		return nil, rpc.InvalidParams("transaction_id is required")
	}

	var prev model.Status
	var saved *model.Transaction
	err := s.locker.WithLock(ctx, txnID, func(ctx context.Context) error {
		return s.store.WithinTransaction(ctx, func(ctx context.Context) error {
			txn, err := s.load(ctx, txnID)
			if err != nil {
				return err
			}
			next, err := s.machine.Apply(method, txn, req.Params)
			if err != nil {
				return err
			}
			saved, err = s.store.Save(ctx, next)
			if err != nil {
				return err
			}
			prev = txn.Status
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, txnID, err)
	}

	prom.IncStatusTransition(string(prev), string(saved.Status))
	s.publish(ctx, saved)
	return saved, nil
}

func (s *RpcService) load(ctx context.Context, id string) (*model.Transaction, error) {
	txn, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, rpc.InvalidRequest("Transaction with id[%s] is not found", id).WithTransaction(id)
	}
	return txn, err
}

func (s *RpcService) publish(ctx context.Context, txn *model.Transaction) {
	if s.events == nil {
		return
	}
	event := &model.TransactionEvent{
		ID:          uuid.NewString(),
		Type:        model.EventTypeFor(txn.Status),
		Sep:         txn.Protocol,
		Timestamp:   s.now(),
		Transaction: txn,
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("failed to publish transaction event", "transaction_id", txn.ID, "type", event.Type, "error", err)
	}
}

func (s *RpcService) getTransaction(ctx context.Context, req model.RpcRequest) (*model.Transaction, error) {
	var p rpc.BaseParams
	if err := s.machine.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	return s.GetTransaction(ctx, p.TransactionID)
}

func (s *RpcService) getTransactions(ctx context.Context, req model.RpcRequest) (*model.TransactionPage, error) {
	var p rpc.GetTransactionsParams
	if err := s.machine.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	page, err := s.ListTransactions(ctx, model.TransactionFilter{
		Protocol:   p.Sep,
		Statuses:   p.Statuses,
		OrderBy:    p.OrderBy,
		Order:      p.Order,
		PageNumber: p.PageNumber,
		PageSize:   p.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetTransaction returns the stored snapshot. A missing transaction is reported
// as an rpc Invalid Request error.
func (s *RpcService) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	txn, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return txn, nil
}

func (s *RpcService) ListTransactions(ctx context.Context, f model.TransactionFilter) (*model.TransactionPage, error) {
	records, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if records == nil {
		records = []*model.Transaction{}
	}
	return &model.TransactionPage{Records: records, Total: total}, nil
}
