package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrVersionConflict means the row changed since it was loaded.
	ErrVersionConflict = errors.New("transaction version conflict")
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

var orderColumns = map[string]string{
	"":                              "started_at",
	model.OrderByCreatedAt:          "started_at",
	model.OrderByUpdatedAt:          "updated_at",
	model.OrderByTransferReceived:   "transfer_received_at",
	model.OrderByUserActionRequired: "user_action_required_by",
}

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get %s: %w", id, ErrTransactionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)
	entity.Version = 1

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

// Save writes txn if the stored version still equals txn.Version and returns
// the saved snapshot with the bumped version.
func (r *TransactionRepository) Save(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)
	expected := entity.Version
	entity.Version = expected + 1

	res := r.Write(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND version = ?", entity.ID, expected).
		Select("*").
		Omit("id", "started_at").
		Updates(entity)
	if res.Error != nil {
		return nil, fmt.Errorf("save %s: %w", entity.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.Write(ctx).Model(&TransactionEntity{}).Where("id = ?", entity.ID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("save %s: %w", entity.ID, err)
		}
		if count == 0 {
			return nil, fmt.Errorf("save %s: %w", entity.ID, ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("save %s at version %d: %w", entity.ID, expected, ErrVersionConflict)
	}

	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).Model(&TransactionEntity{})

	if f.Protocol != "" {
		q = q.Where("sep = ?", string(f.Protocol))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := orderColumns[f.OrderBy]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported order_by %q", f.OrderBy)
	}
	order := column + " ASC"
	if f.Order == model.OrderDesc {
		order = column + " DESC"
	}

	size := f.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page := max(f.PageNumber, 0)

	var entities []*TransactionEntity
	if err := q.Order(order).Order("id ASC").Limit(size).Offset(page * size).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toTransactionModels(entities), total, nil
}
