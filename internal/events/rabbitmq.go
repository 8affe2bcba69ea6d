package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/prom"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	BackendRabbitMQ = "rabbitmq"

	RoutingPrefix = "transaction."
	BindingKey    = "transaction.#"
)

// Channel is the subset of *amqp.Channel used here.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
}

// Dial opens a named connection and channel.
func Dial(url, name string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Properties: amqp.Table{"connection_name": name},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return conn, ch, nil
}

func declareExchange(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

type RabbitPublisher struct {
	ch       Channel
	exchange string
	mu       sync.Mutex
}

func NewRabbitPublisher(ch Channel, exchange string) (*RabbitPublisher, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}
	return &RabbitPublisher{ch: ch, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, event *model.TransactionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := amqp.Table{}
	for k, v := range metadata(event) {
		headers[k] = v
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingPrefix+string(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Headers:      headers,
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		prom.IncEventPublished(string(event.Type), BackendRabbitMQ, "error")
		return fmt.Errorf("failed to publish message: %w", err)
	}
	prom.IncEventPublished(string(event.Type), BackendRabbitMQ, "ok")
	return nil
}

// RabbitSource consumes a durable queue bound to every transaction routing key.
type RabbitSource struct {
	ch       Channel
	queue    string
	consumer string
	prefetch int
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewRabbitSource(ch Channel, exchange, queueName, consumer string, prefetch int) (*RabbitSource, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := ch.QueueBind(q.Name, BindingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitSource{ch: ch, queue: q.Name, consumer: consumer, prefetch: prefetch, done: make(chan struct{})}, nil
}

func (s *RabbitSource) Consume(handler Handler) error {
	deliveries, err := s.ch.Consume(s.queue, s.consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.queue, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.done
		cancel()
	}()

	for i := 0; i < s.prefetch; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for d := range deliveries {
				s.handle(ctx, handler, d)
			}
		}()
	}
	return nil
}

func (s *RabbitSource) handle(ctx context.Context, handler Handler, d amqp.Delivery) {
	event, err := decode(d.Body)
	if err != nil {
		logger.Error("dropping undecodable delivery", "message_id", d.MessageId, "error", err)
		if err := d.Nack(false, false); err != nil {
			logger.Warn("nack failed", "message_id", d.MessageId, "error", err)
		}
		return
	}
	if err := handler(ctx, event); err != nil {
		if err := d.Nack(false, true); err != nil {
			logger.Warn("nack failed", "message_id", d.MessageId, "error", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		logger.Warn("ack failed", "message_id", d.MessageId, "error", err)
	}
}

// Stop cancels the consumer and waits for in-flight deliveries.
func (s *RabbitSource) Stop(ctx context.Context) error {
	err := s.ch.Cancel(s.consumer, false)
	close(s.done)

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
