package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nimasrn/anchor-platform/internal/model"
)

// jsonText stores a nested value as a JSON text column. A nil value is NULL.
type jsonText[T any] struct {
	V *T
}

func (j jsonText[T]) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *jsonText[T]) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		j.V = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonText: unsupported source %T", src)
	}
	if len(b) == 0 {
		j.V = nil
		return nil
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	j.V = &out
	return nil
}

func (jsonText[T]) GormDataType() string { return "text" }

func jsonOf[T any](v *T) jsonText[T] { return jsonText[T]{V: v} }

type TransactionEntity struct {
	ID                    string                               `gorm:"primaryKey;column:id"`
	Sep                   string                               `gorm:"column:sep;not null;index:idx_transactions_sep_status"`
	Kind                  string                               `gorm:"column:kind;not null"`
	Status                string                               `gorm:"column:status;not null;index:idx_transactions_sep_status"`
	FundsReceived         bool                                 `gorm:"column:funds_received;not null;default:false"`
	AmountIn              *string                              `gorm:"column:amount_in"`
	AmountInAsset         *string                              `gorm:"column:amount_in_asset"`
	AmountOut             *string                              `gorm:"column:amount_out"`
	AmountOutAsset        *string                              `gorm:"column:amount_out_asset"`
	AmountExpected        *string                              `gorm:"column:amount_expected"`
	AmountFee             *string                              `gorm:"column:amount_fee"`
	AmountFeeAsset        *string                              `gorm:"column:amount_fee_asset"`
	FeeDetails            jsonText[[]model.FeeDetail]          `gorm:"column:fee_details"`
	StartedAt             time.Time                            `gorm:"column:started_at;not null"`
	UpdatedAt             *time.Time                           `gorm:"column:updated_at;autoUpdateTime:false"`
	CompletedAt           *time.Time                           `gorm:"column:completed_at"`
	TransferReceivedAt    *time.Time                           `gorm:"column:transfer_received_at"`
	UserActionRequiredBy  *time.Time                           `gorm:"column:user_action_required_by"`
	Message               string                               `gorm:"column:message"`
	Refunds               jsonText[model.Refunds]              `gorm:"column:refunds"`
	StellarTransactions   jsonText[[]model.StellarTransaction] `gorm:"column:stellar_transactions"`
	SourceAccount         string                               `gorm:"column:source_account"`
	DestinationAccount    string                               `gorm:"column:destination_account"`
	ExternalTransactionID string                               `gorm:"column:external_transaction_id"`
	Memo                  string                               `gorm:"column:memo"`
	MemoType              string                               `gorm:"column:memo_type"`
	ClientName            string                               `gorm:"column:client_name"`
	Customers             jsonText[model.Customers]            `gorm:"column:customers"`
	Creator               jsonText[model.StellarID]            `gorm:"column:creator"`
	RequiredInfoMessage   string                               `gorm:"column:required_customer_info_message"`
	RequiredInfoUpdates   jsonText[[]string]                   `gorm:"column:required_customer_info_updates"`
	Version               int64                                `gorm:"column:version;not null;default:1"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func amountValue(a *model.Amount) (value, asset *string) {
	if a == nil {
		return nil, nil
	}
	v, as := a.Amount, a.Asset
	return &v, &as
}

func amountOf(value, asset *string) *model.Amount {
	if value == nil {
		return nil
	}
	a := &model.Amount{Amount: *value}
	if asset != nil {
		a.Asset = *asset
	}
	return a
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	e := &TransactionEntity{
		ID:                    m.ID,
		Sep:                   string(m.Protocol),
		Kind:                  string(m.Kind),
		Status:                string(m.Status),
		FundsReceived:         m.FundsReceived,
		StartedAt:             m.StartedAt,
		UpdatedAt:             m.UpdatedAt,
		CompletedAt:           m.CompletedAt,
		TransferReceivedAt:    m.TransferReceivedAt,
		UserActionRequiredBy:  m.UserActionRequiredBy,
		Message:               m.Message,
		Refunds:               jsonOf(m.Refunds),
		SourceAccount:         m.SourceAccount,
		DestinationAccount:    m.DestinationAccount,
		ExternalTransactionID: m.ExternalTransactionID,
		Memo:                  m.Memo,
		MemoType:              m.MemoType,
		ClientName:            m.ClientName,
		Customers:             jsonOf(m.Customers),
		Creator:               jsonOf(m.Creator),
		RequiredInfoMessage:   m.RequiredCustomerInfoMessage,
		Version:               m.Version,
	}
	e.AmountIn, e.AmountInAsset = amountValue(m.AmountIn)
	e.AmountOut, e.AmountOutAsset = amountValue(m.AmountOut)
	if m.AmountExpected != nil {
		v := m.AmountExpected.Amount
		e.AmountExpected = &v
	}
	if m.Fee != nil {
		e.AmountFee, e.AmountFeeAsset = amountValue(m.Fee.AmountFee())
		if len(m.Fee.Details) > 0 {
			e.FeeDetails = jsonOf(&m.Fee.Details)
		}
	}
	if len(m.StellarTransactions) > 0 {
		e.StellarTransactions = jsonOf(&m.StellarTransactions)
	}
	if len(m.RequiredCustomerInfoUpdates) > 0 {
		e.RequiredInfoUpdates = jsonOf(&m.RequiredCustomerInfoUpdates)
	}
	return e
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	m := &model.Transaction{
		ID:                          e.ID,
		Protocol:                    model.Protocol(e.Sep),
		Kind:                        model.Kind(e.Kind),
		Status:                      model.Status(e.Status),
		FundsReceived:               e.FundsReceived,
		AmountIn:                    amountOf(e.AmountIn, e.AmountInAsset),
		AmountOut:                   amountOf(e.AmountOut, e.AmountOutAsset),
		StartedAt:                   e.StartedAt,
		UpdatedAt:                   e.UpdatedAt,
		CompletedAt:                 e.CompletedAt,
		TransferReceivedAt:          e.TransferReceivedAt,
		UserActionRequiredBy:        e.UserActionRequiredBy,
		Message:                     e.Message,
		Refunds:                     e.Refunds.V,
		Customers:                   e.Customers.V,
		Creator:                     e.Creator.V,
		SourceAccount:               e.SourceAccount,
		DestinationAccount:          e.DestinationAccount,
		ExternalTransactionID:       e.ExternalTransactionID,
		Memo:                        e.Memo,
		MemoType:                    e.MemoType,
		ClientName:                  e.ClientName,
		RequiredCustomerInfoMessage: e.RequiredInfoMessage,
		Version:                     e.Version,
	}
	if e.AmountExpected != nil {
		m.AmountExpected = amountOf(e.AmountExpected, e.AmountInAsset)
	}
	if e.AmountFee != nil {
		m.Fee = &model.Fee{Total: *e.AmountFee}
		if e.AmountFeeAsset != nil {
			m.Fee.Asset = *e.AmountFeeAsset
		}
		if e.FeeDetails.V != nil {
			m.Fee.Details = *e.FeeDetails.V
		}
	}
	if e.StellarTransactions.V != nil {
		m.StellarTransactions = *e.StellarTransactions.V
	}
	if e.RequiredInfoUpdates.V != nil {
		m.RequiredCustomerInfoUpdates = *e.RequiredInfoUpdates.V
	}
	return m
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
