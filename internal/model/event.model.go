package model

import "time"

type EventType string

const (
	EventTransactionCreated       EventType = "transaction_created"
	EventTransactionStatusChanged EventType = "transaction_status_changed"
	EventTransactionError         EventType = "transaction_error"
)

// TransactionEvent announces a saved change of a transaction.
type TransactionEvent struct {
	ID          string       `json:"id"`
	Type        EventType    `json:"type"`
	Sep         Protocol     `json:"sep"`
	Timestamp   time.Time    `json:"timestamp"`
	Transaction *Transaction `json:"transaction"`
}

// EventTypeFor picks the event announced after a transaction reaches status.
func EventTypeFor(status Status) EventType {
	if status.IsError() {
		return EventTransactionError
	}
	return EventTransactionStatusChanged
}
