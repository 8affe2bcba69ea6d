package e2e

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/anchor-platform/internal/asset"
	"github.com/nimasrn/anchor-platform/internal/audit"
	"github.com/nimasrn/anchor-platform/internal/events"
	gateway "github.com/nimasrn/anchor-platform/internal/gateways"
	"github.com/nimasrn/anchor-platform/internal/handlers"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/internal/processor"
	"github.com/nimasrn/anchor-platform/internal/queue"
	"github.com/nimasrn/anchor-platform/internal/repository"
	"github.com/nimasrn/anchor-platform/internal/rpc"
	"github.com/nimasrn/anchor-platform/internal/services"
	xhttp "github.com/nimasrn/anchor-platform/pkg/http"
	"github.com/nimasrn/anchor-platform/pkg/pg"
	"github.com/nimasrn/anchor-platform/test/fixtures"
	"github.com/nimasrn/anchor-platform/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// businessServer records the callbacks the processor delivers.
type businessServer struct {
	mu       sync.Mutex
	received []model.TransactionEvent
}

func (b *businessServer) handle(ctx *fasthttp.RequestCtx) {
	var evt model.TransactionEvent
	if err := json.Unmarshal(ctx.PostBody(), &evt); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.received = append(b.received, evt)
	b.mu.Unlock()

	body, _ := json.Marshal(gateway.CallbackResponse{EventID: evt.ID, Accepted: true, ReceivedAt: time.Now().UTC()})
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

func (b *businessServer) statuses(txnID string) []model.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Status
	for _, e := range b.received {
		if e.Transaction != nil && e.Transaction.ID == txnID {
			out = append(out, e.Transaction.Status)
		}
	}
	return out
}

type memoryAudit struct {
	mu      sync.Mutex
	entries map[string]audit.Entry
}

func (m *memoryAudit) Record(_ context.Context, entry audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.EventID]; !ok {
		m.entries[entry.EventID] = entry
	}
	return nil
}

func (m *memoryAudit) count(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}

type TestEnvironment struct {
	DB       *pg.DB
	Repo     *repository.TransactionRepository
	Queue    *queue.Queue
	Business *businessServer
	Audit    *memoryAudit
	client   *fasthttp.Client
}

func serve(t *testing.T, handler fasthttp.RequestHandler) fasthttp.DialFunc {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return func(string) (net.Conn, error) { return ln.Dial() }
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	db := helpers.SetupTestDB(t)
	_, redisAdapter := helpers.SetupTestRedis(t)

	q, err := queue.NewQueue(redisAdapter, queue.QueueConfig{
		Name:              "transaction:events",
		ConsumerGroup:     "event-processor",
		ConsumerName:      "e2e",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	})
	require.NoError(t, err)

	repo := repository.NewTransactionRepository(db)
	rpcService := services.NewRpcService(repo, rpc.NewMachine(asset.Default()), services.NewLocalLocker(), events.NewStreamPublisher(q), 10)

	engine := xhttp.NewServer(xhttp.DefaultServerOption)
	engine.Use(xhttp.RecoverMiddleware)
	g := engine.Router.Group("/api/v1")
	handlers.RegisterRpcRoutes(g, handlers.NewRpcHandler(rpcService))
	handlers.RegisterTransactionRoutes(g, handlers.NewTransactionHandler(rpcService))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.HealthChecker{
		"postgres": db,
		"redis":    redisAdapter,
	}))
	apiDial := serve(t, engine.DoRouting())

	business := &businessServer{}
	callbacks, err := gateway.NewClient(gateway.Config{
		URLs:            []string{"http://business.local"},
		Timeout:         time.Second,
		MaxRetries:      1,
		RetryDelay:      10 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  time.Second,
		Dial:            serve(t, business.handle),
	})
	require.NoError(t, err)

	recorder := &memoryAudit{entries: map[string]audit.Entry{}}
	idem := processor.NewIdempotencyService(redisAdapter, processor.DefaultIdempotencyConfig())
	svc := processor.NewProcessorService(
		events.NewStreamSource(q),
		processor.NewCallbackProcessor(callbacks, recorder, idem),
		nil,
		processor.Options{Workers: 2, BufferSize: 10, Timeout: 2 * time.Second},
	)
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)

	return &TestEnvironment{
		DB:       db,
		Repo:     repo,
		Queue:    q,
		Business: business,
		Audit:    recorder,
		client:   &fasthttp.Client{Dial: apiDial},
	}
}

func (env *TestEnvironment) do(t *testing.T, method, path string, body []byte) (int, []byte) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://anchor.local" + path)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	require.NoError(t, env.client.DoTimeout(req, resp, 5*time.Second))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

type rpcReply struct {
	ID     json.RawMessage    `json:"id"`
	Result *model.Transaction `json:"result"`
	Error  *struct {
		Code    int     `json:"code"`
		Message string  `json:"message"`
		ID      *string `json:"id"`
	} `json:"error"`
}

func TestE2E_DepositFlowDeliversCallbacks(t *testing.T) {
	env := setupE2EEnvironment(t)
	helpers.CreateTestTransaction(t, env.DB, fixtures.NewDeposit("dep-1"))

	status, body := env.do(t, fasthttp.MethodPost, "/api/v1/rpc", fixtures.DepositFlow("dep-1"))
	require.Equal(t, fasthttp.StatusOK, status)

	var replies []rpcReply
	require.NoError(t, json.Unmarshal(body, &replies))
	require.Len(t, replies, 3)
	for i, r := range replies {
		require.Nil(t, r.Error, "item %d failed: %+v", i, r.Error)
	}
	assert.Equal(t, model.StatusPendingUserTransferStart, replies[0].Result.Status)
	assert.Equal(t, model.StatusPendingAnchor, replies[1].Result.Status)
	assert.Equal(t, model.StatusCompleted, replies[2].Result.Status)
	assert.Equal(t, "bank-1", replies[2].Result.ExternalTransactionID)

	helpers.AssertEventually(t, 5*time.Second, func() bool {
		return len(env.Business.statuses("dep-1")) == 3
	}, "business server did not receive all callbacks")

	assert.ElementsMatch(t, []model.Status{
		model.StatusPendingUserTransferStart,
		model.StatusPendingAnchor,
		model.StatusCompleted,
	}, env.Business.statuses("dep-1"))
	helpers.AssertEventually(t, 2*time.Second, func() bool {
		return env.Audit.count(audit.OutcomeDelivered) == 3
	}, "deliveries were not audited")

	status, body = env.do(t, fasthttp.MethodGet, "/api/v1/transactions/dep-1", nil)
	require.Equal(t, fasthttp.StatusOK, status)
	var stored model.Transaction
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, model.StatusCompleted, stored.Status)
	assert.True(t, stored.FundsReceived)
	require.Len(t, stored.StellarTransactions, 1)
	assert.Equal(t, "stellar-hash-1", stored.StellarTransactions[0].ID)
}

func TestE2E_RejectedItemsPublishNothing(t *testing.T) {
	env := setupE2EEnvironment(t)
	helpers.CreateTestTransaction(t, env.DB, fixtures.NewWithdrawal("wd-1"))

	status, body := env.do(t, fasthttp.MethodPost, "/api/v1/rpc", fixtures.Batch(
		fixtures.Request(1, "notify_onchain_funds_sent", map[string]any{
			"transaction_id":         "wd-1",
			"stellar_transaction_id": "x",
		}),
		fixtures.Request(2, "notify_offchain_funds_received", map[string]any{"transaction_id": "nope"}),
		fixtures.Request(nil, "notify_transaction_error", map[string]any{"transaction_id": "wd-1", "message": "m"}),
	))
	require.Equal(t, fasthttp.StatusOK, status)

	var replies []rpcReply
	require.NoError(t, json.Unmarshal(body, &replies))
	require.Len(t, replies, 3)
	require.NotNil(t, replies[0].Error)
	assert.Equal(t, rpc.CodeInvalidRequest, replies[0].Error.Code)
	require.NotNil(t, replies[1].Error)
	assert.Equal(t, "Transaction with id[nope] is not found", replies[1].Error.Message)
	require.NotNil(t, replies[2].Error)
	assert.Equal(t, "Id can't be NULL", replies[2].Error.Message)

	stored, err := env.Repo.Get(context.Background(), "wd-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIncomplete, stored.Status)

	stats, err := env.Queue.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalMessages)
}

func TestE2E_ReceiveRefundFlow(t *testing.T) {
	env := setupE2EEnvironment(t)
	helpers.CreateTestTransaction(t, env.DB, fixtures.NewReceive("rcv-1"))

	status, body := env.do(t, fasthttp.MethodPost, "/api/v1/rpc", fixtures.Batch(
		fixtures.Request("a", "notify_onchain_funds_received", map[string]any{
			"transaction_id":         "rcv-1",
			"stellar_transaction_id": "in-1",
		}),
		fixtures.Request("b", "notify_refund_sent", map[string]any{
			"transaction_id": "rcv-1",
			"refund": map[string]any{
				"id":         "refund-1",
				"amount":     fixtures.Amount("9", fixtures.StellarUSDC),
				"amount_fee": fixtures.Amount("1", fixtures.StellarUSDC),
			},
		}),
	))
	require.Equal(t, fasthttp.StatusOK, status)

	var replies []rpcReply
	require.NoError(t, json.Unmarshal(body, &replies))
	require.Len(t, replies, 2)
	require.Nil(t, replies[0].Error)
	assert.Equal(t, model.StatusPendingReceiver, replies[0].Result.Status)
	require.Nil(t, replies[1].Error, "%+v", replies[1].Error)
	assert.Equal(t, model.StatusRefunded, replies[1].Result.Status)
	assert.JSONEq(t, `"b"`, string(replies[1].ID))

	helpers.AssertEventually(t, 5*time.Second, func() bool {
		return len(env.Business.statuses("rcv-1")) == 2
	}, "refund callbacks not delivered")
}

func TestE2E_MalformedBody(t *testing.T) {
	env := setupE2EEnvironment(t)

	status, body := env.do(t, fasthttp.MethodPost, "/api/v1/rpc", []byte(`[{"jsonrpc":`))
	require.Equal(t, fasthttp.StatusOK, status)

	var reply rpcReply
	require.NoError(t, json.Unmarshal(body, &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, rpc.CodeParseError, reply.Error.Code)
}

func TestE2E_MistypedItemKeepsBatchShape(t *testing.T) {
	env := setupE2EEnvironment(t)
	helpers.CreateTestTransaction(t, env.DB, fixtures.NewDeposit("dep-1"))

	status, body := env.do(t, fasthttp.MethodPost, "/api/v1/rpc", []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"request_offchain_funds","params":{"transaction_id":"dep-1",
			"amount_in":{"amount":"100","asset":"iso4217:USD"},
			"amount_out":{"amount":"95","asset":"`+fixtures.StellarUSDC+`"},
			"amount_fee":{"amount":"5","asset":"iso4217:USD"}}},
		{"jsonrpc":2.0,"id":2,"method":"notify_transaction_error","params":{"transaction_id":"dep-1","message":"x"}},
		{"jsonrpc":"2.0","id":3,"method":"notify_offchain_funds_received","params":{"transaction_id":"dep-1"}}
	]`))
	require.Equal(t, fasthttp.StatusOK, status)

	var replies []rpcReply
	require.NoError(t, json.Unmarshal(body, &replies))
	require.Len(t, replies, 3)

	require.Nil(t, replies[0].Error)
	assert.Equal(t, model.StatusPendingUserTransferStart, replies[0].Result.Status)

	require.NotNil(t, replies[1].Error)
	assert.Equal(t, rpc.CodeInvalidRequest, replies[1].Error.Code)
	assert.JSONEq(t, "2", string(replies[1].ID))

	require.Nil(t, replies[2].Error)
	assert.Equal(t, model.StatusPendingAnchor, replies[2].Result.Status)
}

func TestE2E_ListAndHealth(t *testing.T) {
	env := setupE2EEnvironment(t)
	for _, id := range []string{"d1", "d2"} {
		helpers.CreateTestTransaction(t, env.DB, fixtures.NewDeposit(id))
	}
	helpers.CreateTestTransaction(t, env.DB, fixtures.NewWithdrawal("w1"))

	status, body := env.do(t, fasthttp.MethodGet, "/api/v1/transactions?sep=24&statuses=incomplete", nil)
	require.Equal(t, fasthttp.StatusOK, status)
	var page model.TransactionPage
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Records, 2)

	status, _ = env.do(t, fasthttp.MethodGet, "/api/v1/transactions/missing", nil)
	assert.Equal(t, fasthttp.StatusNotFound, status)

	status, _ = env.do(t, fasthttp.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, fasthttp.StatusOK, status)
}
