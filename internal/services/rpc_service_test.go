package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/anchor-platform/internal/asset"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/internal/repository"
	"github.com/nimasrn/anchor-platform/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event *model.TransactionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func setupRpcService(t *testing.T, limit int, events EventPublisher) (*RpcService, *repository.TransactionRepository) {
	t.Helper()
	repo := repository.NewTransactionRepository(repository.NewTestDB(t))
	svc := NewRpcService(repo, rpc.NewMachine(asset.Default()), NewLocalLocker(), events, limit)
	return svc, repo
}

func seedTransaction(t *testing.T, repo *repository.TransactionRepository, id string, sep model.Protocol, kind model.Kind, status model.Status) {
	t.Helper()
	_, err := repo.Create(context.Background(), &model.Transaction{
		ID:        id,
		Protocol:  sep,
		Kind:      kind,
		Status:    status,
		StartedAt: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
}

func rpcRequest(t *testing.T, id any, method string, params map[string]any) model.RpcRequest {
	t.Helper()
	version := model.JSONRPCVersion
	req := model.RpcRequest{Method: method, JSONRPC: &version}
	if id != nil {
		raw, err := json.Marshal(id)
		require.NoError(t, err)
		req.ID = raw
	}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		req.Params = raw
	}
	return req
}

func requireResponseError(t *testing.T, resp model.RpcResponse, code int, message string) {
	t.Helper()
	require.NotNil(t, resp.Error, "expected error response, got result %v", resp.Result)
	assert.Nil(t, resp.Result)
	assert.Equal(t, code, resp.Error.Code)
	assert.Equal(t, message, resp.Error.Message)
}

func resultTransaction(t *testing.T, resp model.RpcResponse) *model.Transaction {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error %+v", resp.Error)
	txn, ok := resp.Result.(*model.Transaction)
	require.True(t, ok, "result is %T", resp.Result)
	return txn
}

func TestRpcService_Handle_BatchItemsAreIndependent(t *testing.T) {
	events := new(MockEventPublisher)
	events.On("Publish", mock.Anything, mock.Anything).Return(nil)
	svc, repo := setupRpcService(t, 10, events)
	seedTransaction(t, repo, "dep-1", model.ProtocolSEP24, model.KindDeposit, model.StatusPendingUserTransferStart)

	badVersion := rpcRequest(t, 2, "notify_offchain_funds_received", map[string]any{"transaction_id": "dep-1"})
	v := "1.0"
	badVersion.JSONRPC = &v

	resps := svc.Handle(context.Background(), []model.RpcRequest{
		rpcRequest(t, 1, "notify_offchain_funds_received", map[string]any{"transaction_id": "dep-1"}),
		badVersion,
		rpcRequest(t, nil, "notify_offchain_funds_received", map[string]any{"transaction_id": "dep-1"}),
		rpcRequest(t, "4", "do_something", map[string]any{"transaction_id": "dep-1"}),
		rpcRequest(t, 5, "notify_offchain_funds_received", map[string]any{"transaction_id": "missing"}),
		rpcRequest(t, 6, "notify_onchain_funds_sent", map[string]any{"transaction_id": "dep-1", "stellar_transaction_id": "abc"}),
	})
	require.Len(t, resps, 6)

	first := resultTransaction(t, resps[0])
	assert.Equal(t, model.StatusPendingAnchor, first.Status)
	assert.True(t, first.FundsReceived)
	assert.JSONEq(t, "1", string(resps[0].ID))

	requireResponseError(t, resps[1], rpc.CodeInvalidRequest, "Unsupported JSON-RPC protocol version[1.0]")
	assert.JSONEq(t, "2", string(resps[1].ID))

	requireResponseError(t, resps[2], rpc.CodeInvalidRequest, "Id can't be NULL")
	assert.Empty(t, resps[2].ID)

	requireResponseError(t, resps[3], rpc.CodeMethodNotFound, "No matching RPC method[do_something]")
	assert.JSONEq(t, `"4"`, string(resps[3].ID))

	requireResponseError(t, resps[4], rpc.CodeInvalidRequest, "Transaction with id[missing] is not found")
	require.NotNil(t, resps[4].Error.ID)
	assert.Equal(t, "missing", *resps[4].Error.ID)

	last := resultTransaction(t, resps[5])
	assert.Equal(t, model.StatusCompleted, last.Status)
	require.Len(t, last.StellarTransactions, 1)

	stored, err := repo.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	events.AssertNumberOfCalls(t, "Publish", 2)
}

func TestRpcService_Handle_MistypedEnvelopeDoesNotStopSiblings(t *testing.T) {
	svc, repo := setupRpcService(t, 10, nil)
	seedTransaction(t, repo, "dep-1", model.ProtocolSEP24, model.KindDeposit, model.StatusPendingUserTransferStart)

	reqs, single, err := model.DecodeRpcBody([]byte(`[
		{"jsonrpc":"2.0","id":1,"method":"notify_offchain_funds_received","params":{"transaction_id":"dep-1"}},
		{"jsonrpc":2.0,"id":2,"method":"notify_transaction_error","params":{"transaction_id":"dep-1","message":"x"}},
		42,
		{"jsonrpc":"2.0","id":"3","method":123},
		{"jsonrpc":"2.0","id":4,"method":"notify_onchain_funds_sent","params":{"transaction_id":"dep-1","stellar_transaction_id":"abc"}}
	]`))
	require.NoError(t, err)
	require.False(t, single)

	resps := svc.Handle(context.Background(), reqs)
	require.Len(t, resps, 5)

	assert.Equal(t, model.StatusPendingAnchor, resultTransaction(t, resps[0]).Status)

	require.NotNil(t, resps[1].Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resps[1].Error.Code)
	assert.JSONEq(t, "2", string(resps[1].ID))
	require.NotNil(t, resps[1].Error.ID)
	assert.Equal(t, "dep-1", *resps[1].Error.ID)

	require.NotNil(t, resps[2].Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resps[2].Error.Code)
	assert.Empty(t, resps[2].ID)
	assert.Nil(t, resps[2].Error.ID)

	require.NotNil(t, resps[3].Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resps[3].Error.Code)
	assert.JSONEq(t, `"3"`, string(resps[3].ID))

	assert.Equal(t, model.StatusCompleted, resultTransaction(t, resps[4]).Status)

	stored, err := repo.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
}

func TestRpcService_Handle_EmptyBatch(t *testing.T) {
	svc, _ := setupRpcService(t, 10, nil)

	resps := svc.Handle(context.Background(), nil)

	require.Len(t, resps, 1)
	requireResponseError(t, resps[0], rpc.CodeInvalidRequest, "RPC batch is empty")
}

func TestRpcService_Handle_BatchLimit(t *testing.T) {
	svc, repo := setupRpcService(t, 2, nil)
	seedTransaction(t, repo, "dep-1", model.ProtocolSEP24, model.KindDeposit, model.StatusPendingUserTransferStart)

	req := rpcRequest(t, 1, "notify_offchain_funds_received", map[string]any{"transaction_id": "dep-1"})
	resps := svc.Handle(context.Background(), []model.RpcRequest{req, req, req})

	require.Len(t, resps, 1)
	requireResponseError(t, resps[0], rpc.CodeInvalidRequest, "RPC batch size limit[2] exceeded")

	stored, err := repo.Get(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingUserTransferStart, stored.Status)
}

func TestRpcService_Handle_RejectedItemLeavesTransactionUnchanged(t *testing.T) {
	events := new(MockEventPublisher)
	svc, repo := setupRpcService(t, 10, events)
	seedTransaction(t, repo, "wd-1", model.ProtocolSEP6, model.KindWithdrawal, model.StatusPendingAnchor)

	resps := svc.Handle(context.Background(), []model.RpcRequest{
		rpcRequest(t, 1, "notify_transaction_error", map[string]any{"transaction_id": "wd-1"}),
		rpcRequest(t, 2, "notify_offchain_funds_sent", map[string]any{"transaction_id": "wd-1"}),
	})

	requireResponseError(t, resps[0], rpc.CodeInvalidParams, "message is required")
	require.NotNil(t, resps[0].Error.ID)
	assert.Equal(t, "wd-1", *resps[0].Error.ID)
	requireResponseError(t, resps[1], rpc.CodeInvalidRequest,
		"RPC method[notify_offchain_funds_sent] is not supported. Status[pending_anchor], kind[withdrawal], protocol[6], funds received[false]")

	stored, err := repo.Get(context.Background(), "wd-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAnchor, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	events.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRpcService_Handle_PublishFailureDoesNotFailRequest(t *testing.T) {
	events := new(MockEventPublisher)
	events.On("Publish", mock.Anything, mock.MatchedBy(func(e *model.TransactionEvent) bool {
		return e.Type == model.EventTransactionError && e.Transaction.ID == "dep-1" && e.ID != ""
	})).Return(errors.New("broker down"))
	svc, repo := setupRpcService(t, 10, events)
	seedTransaction(t, repo, "dep-1", model.ProtocolSEP24, model.KindDeposit, model.StatusPendingAnchor)

	resps := svc.Handle(context.Background(), []model.RpcRequest{
		rpcRequest(t, 1, "notify_transaction_error", map[string]any{"transaction_id": "dep-1", "message": "bank rejected"}),
	})

	txn := resultTransaction(t, resps[0])
	assert.Equal(t, model.StatusError, txn.Status)
	assert.Equal(t, "bank rejected", txn.Message)
	events.AssertExpectations(t)
}

func TestRpcService_Handle_MissingTransactionID(t *testing.T) {
	svc, _ := setupRpcService(t, 10, nil)

	resps := svc.Handle(context.Background(), []model.RpcRequest{
		rpcRequest(t, 1, "notify_transaction_expired", map[string]any{"message": "late"}),
	})

	requireResponseError(t, resps[0], rpc.CodeInvalidParams, "transaction_id is required")
	assert.Nil(t, resps[0].Error.ID)
}

func TestRpcService_Handle_ReadOnlyMethods(t *testing.T) {
	svc, repo := setupRpcService(t, 10, nil)
	seedTransaction(t, repo, "dep-1", model.ProtocolSEP24, model.KindDeposit, model.StatusPendingAnchor)
	seedTransaction(t, repo, "dep-2", model.ProtocolSEP24, model.KindDeposit, model.StatusCompleted)
	seedTransaction(t, repo, "wd-1", model.ProtocolSEP6, model.KindWithdrawal, model.StatusPendingAnchor)

	resps := svc.Handle(context.Background(), []model.RpcRequest{
		rpcRequest(t, 1, "get_transaction", map[string]any{"transaction_id": "dep-2"}),
		rpcRequest(t, 2, "get_transactions", map[string]any{"sep": "24", "statuses": []string{"pending_anchor"}}),
		rpcRequest(t, 3, "get_transactions", map[string]any{"sep": "12"}),
		rpcRequest(t, 4, "get_transaction", map[string]any{"transaction_id": "nope"}),
	})

	assert.Equal(t, model.StatusCompleted, resultTransaction(t, resps[0]).Status)

	require.Nil(t, resps[1].Error)
	page, ok := resps[1].Result.(*model.TransactionPage)
	require.True(t, ok)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "dep-1", page.Records[0].ID)

	require.NotNil(t, resps[2].Error)
	assert.Equal(t, rpc.CodeInvalidParams, resps[2].Error.Code)

	requireResponseError(t, resps[3], rpc.CodeInvalidRequest, "Transaction with id[nope] is not found")
}

func TestRpcService_Handle_ConcurrentBatchesSerializePerTransaction(t *testing.T) {
	events := new(MockEventPublisher)
	events.On("Publish", mock.Anything, mock.Anything).Return(nil)
	svc, repo := setupRpcService(t, 10, events)
	seedTransaction(t, repo, "dep-1", model.ProtocolSEP24, model.KindDeposit, model.StatusPendingUserTransferStart)

	var wg sync.WaitGroup
	results := make([][]model.RpcResponse, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Handle(context.Background(), []model.RpcRequest{
				rpcRequest(t, i, "notify_offchain_funds_received", map[string]any{"transaction_id": "dep-1"}),
			})
		}(i)
	}
	wg.Wait()

	var ok int
	for _, r := range results {
		if r[0].Error == nil {
			ok++
		}
	}
	// pust -> pending_anchor happens once; the rest find the transaction already past it.
	assert.Equal(t, 1, ok)
}

func TestLocalLocker_ReleasesEntries(t *testing.T) {
	l := NewLocalLocker()
	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, l.entries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = l.WithLock(ctx, "k", func(ctx context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLocalLocker_WaiterHonoursCancellation(t *testing.T) {
	l := NewLocalLocker()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := l.WithLock(ctx, "k", func(ctx context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	close(release)
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.entries) == 0
	}, time.Second, 5*time.Millisecond)
}
