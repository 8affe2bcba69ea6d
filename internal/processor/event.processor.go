package processor

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/anchor-platform/internal/audit"
	gateway "github.com/nimasrn/anchor-platform/internal/gateways"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/prom"
)

type Notifier interface {
	SendEvent(ctx context.Context, event *model.TransactionEvent) (*gateway.CallbackResponse, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// CallbackProcessor delivers each event to the business server at most once
// successfully and records the outcome in the audit trail.
type CallbackProcessor struct {
	notifier    Notifier
	audit       AuditRecorder
	idempotency *IdempotencyService
}

func NewCallbackProcessor(notifier Notifier, recorder AuditRecorder, idempotency *IdempotencyService) *CallbackProcessor {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &CallbackProcessor{
		notifier:    notifier,
		audit:       recorder,
		idempotency: idempotency,
	}
}

func (p *CallbackProcessor) GetType() string {
	return "callback"
}

func (p *CallbackProcessor) Process(ctx context.Context, event *model.TransactionEvent) error {
	start := time.Now()
	log := logger.With("event_id", event.ID, "type", event.Type, "transaction_id", event.Transaction.ID)

	pc, err := p.idempotency.AcquireProcessingLock(ctx, event.ID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		log.Debug("event already delivered, skipping")
		prom.ObserveEventProcessed(string(event.Type), "duplicate", time.Since(start))
		return nil
	case errors.Is(err, ErrMaxRetriesExceeded):
		log.Error("giving up on event", "error", err)
		p.record(ctx, event, audit.OutcomeFailed, 0, err)
		prom.ObserveEventProcessed(string(event.Type), "exhausted", time.Since(start))
		return nil
	case err != nil:
		// another consumer holds it or redis is down, let the source redeliver
		return err
	}
	defer func() {
		_ = p.idempotency.ReleaseLock(ctx, pc)
	}()

	_, err = p.notifier.SendEvent(ctx, event)
	if errors.Is(err, gateway.ErrRejected) {
		log.Warn("business server rejected event", "error", err)
		p.record(ctx, event, audit.OutcomeRejected, pc.RetryCount+1, err)
		if markErr := p.idempotency.MarkSuccess(ctx, pc); markErr != nil {
			log.Error("failed to mark event processed", "error", markErr)
		}
		prom.ObserveEventProcessed(string(event.Type), "rejected", time.Since(start))
		return nil
	}
	if err != nil {
		if markErr := p.idempotency.MarkFailure(ctx, pc, err); markErr != nil {
			log.Error("failed to mark event failure", "error", markErr)
		}
		prom.ObserveEventProcessed(string(event.Type), "error", time.Since(start))
		return err
	}

	log.Info("event delivered", "retry_count", pc.RetryCount)
	p.record(ctx, event, audit.OutcomeDelivered, pc.RetryCount+1, nil)
	if markErr := p.idempotency.MarkSuccess(ctx, pc); markErr != nil {
		log.Error("failed to mark event processed", "error", markErr)
	}
	prom.ObserveEventProcessed(string(event.Type), "ok", time.Since(start))
	return nil
}

func (p *CallbackProcessor) record(ctx context.Context, event *model.TransactionEvent, outcome string, attempts int, cause error) {
	entry := audit.NewEntry(event, outcome)
	entry.Attempts = attempts
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		logger.Error("failed to record audit entry", "event_id", event.ID, "error", err)
	}
}
