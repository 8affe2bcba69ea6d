package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/anchor-platform/internal/events"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	in      chan *model.TransactionEvent
	results chan error
	wg      sync.WaitGroup
	stopped bool
}

func newChanSource() *chanSource {
	return &chanSource{in: make(chan *model.TransactionEvent), results: make(chan error, 10)}
}

func (s *chanSource) Consume(handler events.Handler) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range s.in {
			s.results <- handler(context.Background(), e)
		}
	}()
	return nil
}

func (s *chanSource) Stop(context.Context) error {
	close(s.in)
	s.wg.Wait()
	s.stopped = true
	return nil
}

type funcProcessor func(ctx context.Context, e *model.TransactionEvent) error

func (f funcProcessor) Process(ctx context.Context, e *model.TransactionEvent) error {
	return f(ctx, e)
}
func (f funcProcessor) GetType() string { return "test" }

func TestProcessorService_RoutesOutcomesToSource(t *testing.T) {
	src := newChanSource()
	proc := funcProcessor(func(ctx context.Context, e *model.TransactionEvent) error {
		if e.ID == "bad" {
			return errors.New("callback down")
		}
		return nil
	})
	svc := NewProcessorService(src, proc, nil, Options{Workers: 2, BufferSize: 4, Timeout: time.Second})
	require.NoError(t, svc.Start())

	src.in <- statusEvent("good")
	assert.NoError(t, <-src.results)
	src.in <- statusEvent("bad")
	assert.Error(t, <-src.results)

	svc.Stop()
	assert.True(t, src.stopped)

	stats := svc.Metrics().GetStats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestProcessorService_TimesOutSlowEvents(t *testing.T) {
	src := newChanSource()
	release := make(chan struct{})
	proc := funcProcessor(func(ctx context.Context, e *model.TransactionEvent) error {
		<-release
		return nil
	})
	svc := NewProcessorService(src, proc, nil, Options{Workers: 1, BufferSize: 1, Timeout: 50 * time.Millisecond})
	require.NoError(t, svc.Start())

	src.in <- statusEvent("slow")
	err := <-src.results
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	svc.Stop()
}
