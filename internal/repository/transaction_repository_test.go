package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransaction(id string, status model.Status) *model.Transaction {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.Transaction{
		ID:        id,
		Protocol:  model.ProtocolSEP24,
		Kind:      model.KindDeposit,
		Status:    status,
		StartedAt: started,
		AmountIn:  &model.Amount{Amount: "100", Asset: "iso4217:USD"},
		AmountOut: &model.Amount{Amount: "95", Asset: "stellar:native"},
		Fee: &model.Fee{Total: "5", Asset: "iso4217:USD", Details: []model.FeeDetail{
			{Name: "service", Amount: "5"},
		}},
		AmountExpected: &model.Amount{Amount: "100", Asset: "iso4217:USD"},
		Customers:      &model.Customers{Sender: &model.StellarID{ID: "cust-1"}},
	}
}

func TestTransactionRepository_CreateAndGet(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, sampleTransaction("t1", model.StatusIncomplete))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIncomplete, got.Status)
	assert.Equal(t, &model.Amount{Amount: "100", Asset: "iso4217:USD"}, got.AmountIn)
	assert.Equal(t, &model.Amount{Amount: "100", Asset: "iso4217:USD"}, got.AmountExpected)
	require.NotNil(t, got.Fee)
	assert.Equal(t, "5", got.Fee.Total)
	assert.Len(t, got.Fee.Details, 1)
	assert.Equal(t, "cust-1", got.Customers.Sender.ID)
	assert.Nil(t, got.Refunds)
	assert.Empty(t, got.StellarTransactions)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransactionRepository_SaveChecksVersion(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, sampleTransaction("t1", model.StatusIncomplete))
	require.NoError(t, err)

	loaded, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	stale := loaded.Clone()

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	loaded.Status = model.StatusPendingAnchor
	loaded.FundsReceived = true
	loaded.UpdatedAt = &now
	loaded.Refunds = &model.Refunds{
		AmountRefunded: model.Amount{Amount: "1", Asset: "iso4217:USD"},
		AmountFee:      model.Amount{Amount: "0", Asset: "iso4217:USD"},
		Payments: []model.RefundPayment{{
			ID: "r1", IDType: model.RefundIDTypeExternal,
			Amount: model.Amount{Amount: "1", Asset: "iso4217:USD"},
			Fee:    model.Amount{Amount: "0", Asset: "iso4217:USD"},
		}},
	}
	loaded.StellarTransactions = []model.StellarTransaction{{ID: "H"}}

	saved, err := repo.Save(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAnchor, got.Status)
	assert.True(t, got.FundsReceived)
	assert.Equal(t, loaded.Refunds, got.Refunds)
	assert.Equal(t, "H", got.StellarTransactions[0].ID)
	assert.Equal(t, int64(2), got.Version)

	stale.Status = model.StatusError
	_, err = repo.Save(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	ghost := sampleTransaction("ghost", model.StatusIncomplete)
	ghost.Version = 1
	_, err = repo.Save(ctx, ghost)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransactionRepository_SaveClearsFields(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()

	txn := sampleTransaction("t1", model.StatusError)
	txn.Message = "failed"
	created, err := repo.Create(ctx, txn)
	require.NoError(t, err)

	created.Status = model.StatusPendingAnchor
	created.Message = ""
	_, err = repo.Save(ctx, created)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.Message)
}

func TestTransactionRepository_List(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		txn := sampleTransaction(fmt.Sprintf("t%d", i), model.StatusPendingAnchor)
		txn.StartedAt = txn.StartedAt.Add(time.Duration(i) * time.Minute)
		if i%2 == 1 {
			txn.Status = model.StatusCompleted
		}
		_, err := repo.Create(ctx, txn)
		require.NoError(t, err)
	}
	other := sampleTransaction("sep6", model.StatusPendingAnchor)
	other.Protocol = model.ProtocolSEP6
	_, err := repo.Create(ctx, other)
	require.NoError(t, err)

	t.Run("filter by sep", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.TransactionFilter{Protocol: model.ProtocolSEP24})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, items, 5)
		assert.Equal(t, "t0", items[0].ID)
	})

	t.Run("filter by status and order desc", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.TransactionFilter{
			Protocol: model.ProtocolSEP24,
			Statuses: []model.Status{model.StatusPendingAnchor},
			Order:    model.OrderDesc,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, items, 3)
		assert.Equal(t, "t4", items[0].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.TransactionFilter{
			Protocol:   model.ProtocolSEP24,
			PageNumber: 1,
			PageSize:   2,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, items, 2)
		assert.Equal(t, "t2", items[0].ID)
	})

	t.Run("unknown order column", func(t *testing.T) {
		_, _, err := repo.List(ctx, model.TransactionFilter{OrderBy: "amount"})
		assert.Error(t, err)
	})
}

func TestTransactionRepository_WithinTransactionRollsBack(t *testing.T) {
	db := NewTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, sampleTransaction("t1", model.StatusIncomplete))
	require.NoError(t, err)

	boom := fmt.Errorf("boom")
	err = db.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := repo.Get(ctx, "t1")
		if err != nil {
			return err
		}
		txn.Status = model.StatusPendingAnchor
		if _, err := repo.Save(ctx, txn); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIncomplete, got.Status)
	assert.Equal(t, int64(1), got.Version)
}
