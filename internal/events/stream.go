package events

import (
	"context"
	"time"

	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/internal/queue"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/prom"
)

const BackendRedis = "redis"

type StreamPublisher struct {
	q *queue.Queue
}

func NewStreamPublisher(q *queue.Queue) *StreamPublisher {
	return &StreamPublisher{q: q}
}

func (p *StreamPublisher) Publish(ctx context.Context, event *model.TransactionEvent) error {
	id, err := p.q.PublishJSON(ctx, event, metadata(event))
	if err != nil {
		prom.IncEventPublished(string(event.Type), BackendRedis, "error")
		return err
	}
	prom.IncEventPublished(string(event.Type), BackendRedis, "ok")
	logger.Debug("event published", "stream", p.q.Name(), "entry_id", id, "event_id", event.ID, "type", event.Type)
	return nil
}

// StreamSource consumes events from one or more consumers of the same stream group.
type StreamSource struct {
	queues []*queue.Queue
}

func NewStreamSource(queues ...*queue.Queue) *StreamSource {
	return &StreamSource{queues: queues}
}

func (s *StreamSource) Consume(handler Handler) error {
	fn := func(ctx context.Context, msg *queue.Message) error {
		event, err := decode(msg.Data)
		if err != nil {
			// poison entries are acked, retrying cannot fix them
			logger.Error("dropping undecodable stream entry", "entry_id", msg.ID, "error", err)
			return nil
		}
		return handler(ctx, event)
	}
	for _, q := range s.queues {
		if err := q.Consume(fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamSource) Stop(ctx context.Context) error {
	timeout := 30 * time.Second
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}
	var firstErr error
	for _, q := range s.queues {
		if err := q.Stop(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats reports the shared stream as seen by the consumer group.
func (s *StreamSource) Stats(ctx context.Context) (*queue.QueueStats, error) {
	if len(s.queues) == 0 {
		return &queue.QueueStats{}, nil
	}
	return s.queues[0].GetStats(ctx)
}
