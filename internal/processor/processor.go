package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/anchor-platform/internal/events"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/worker"
)

const (
	ProcessingTimeout = 10 * time.Second
	HealthInterval    = 30 * time.Second
	ReportInterval    = 30 * time.Second
	ShutdownTimeout   = time.Minute
)

type Processor interface {
	Process(ctx context.Context, event *model.TransactionEvent) error
	GetType() string
}

// HealthChecker is pinged periodically, *pg.DB and the redis client satisfy it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
}

// ProcessorService pulls events from the source and runs them on a worker pool.
type ProcessorService struct {
	source    events.Source
	processor Processor
	checkers  map[string]HealthChecker
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	timeout   time.Duration
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewProcessorService(source events.Source, processor Processor, checkers map[string]HealthChecker, opts Options) *ProcessorService {
	if opts.Timeout <= 0 {
		opts.Timeout = ProcessingTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		source:    source,
		processor: processor,
		checkers:  checkers,
		metrics:   NewServiceMetrics(),
		worker:    worker.NewWorkerManager(opts.BufferSize, opts.Workers, nil),
		timeout:   opts.Timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *ProcessorService) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *ProcessorService) Start() error {
	logger.Info("starting processor service", "processor", s.processor.GetType())

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(s.ctx); err != nil && err != worker.ErrStopped {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	if err := s.source.Consume(s.handleEvent); err != nil {
		s.cancel()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	s.wg.Add(2)
	go s.every(ReportInterval, s.reportMetrics)
	go s.every(HealthInterval, s.performHealthCheck)

	logger.Info("processor service started")
	return nil
}

func (s *ProcessorService) every(interval time.Duration, fn func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("processor metrics",
		"total_processed", stats.Processed,
		"total_failed", stats.Failed,
		"rate_per_second", stats.RatePerSecond,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
		"queued", s.worker.GetUnreadCount())
}

func (s *ProcessorService) performHealthCheck() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	for name, c := range s.checkers {
		if err := c.Ping(ctx); err != nil {
			logger.Error("health check failed", "dependency", name, "error", err)
		}
	}
}

func (s *ProcessorService) Stop() {
	logger.Info("shutting down processor service")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.source.Stop(ctx); err != nil {
		logger.Error("error stopping event source", "error", err)
	}

	s.cancel()
	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()
	logger.Info("processor service stopped")
}

type job struct {
	event  *model.TransactionEvent
	result chan error
	ctx    context.Context
}

// handleEvent hands the event to the pool and waits for its outcome, so the
// source acks only processed events.
func (s *ProcessorService) handleEvent(ctx context.Context, event *model.TransactionEvent) error {
	jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	j := &job{event: event, result: make(chan error, 1), ctx: jobCtx}
	if err := s.worker.Enqueue(jobCtx, j); err != nil {
		return fmt.Errorf("enqueue event %s: %w", event.ID, err)
	}

	select {
	case err := <-j.result:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process event: %w", jobCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, v interface{}) {
	j, ok := v.(*job)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}
	if j.ctx.Err() != nil {
		logger.Warn("job expired before processing started", "worker", workerIndex, "event_id", j.event.ID)
		return
	}

	start := time.Now()
	err := s.processor.Process(j.ctx, j.event)
	if err != nil {
		s.metrics.RecordFailure()
		logger.Warn("failed to process event", "worker", workerIndex, "event_id", j.event.ID, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}
	// result is buffered, the waiter may already be gone
	j.result <- err
}
