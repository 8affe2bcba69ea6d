// Package events carries saved transaction changes from the RPC service to
// the event processor over a Redis stream or a RabbitMQ exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimasrn/anchor-platform/internal/model"
)

// Handler processes one decoded event. A nil return acknowledges it.
type Handler func(ctx context.Context, event *model.TransactionEvent) error

// Source feeds events to a handler until stopped.
type Source interface {
	Consume(handler Handler) error
	Stop(ctx context.Context) error
}

func metadata(event *model.TransactionEvent) map[string]string {
	m := map[string]string{
		"event_id": event.ID,
		"type":     string(event.Type),
		"sep":      string(event.Sep),
	}
	if event.Transaction != nil {
		m["transaction_id"] = event.Transaction.ID
		m["status"] = string(event.Transaction.Status)
	}
	return m
}

func decode(body []byte) (*model.TransactionEvent, error) {
	var event model.TransactionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if event.ID == "" || event.Transaction == nil {
		return nil, fmt.Errorf("decode event: id and transaction are required")
	}
	return &event, nil
}

// NopPublisher drops events, for EVENTS_BACKEND=none.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *model.TransactionEvent) error { return nil }
