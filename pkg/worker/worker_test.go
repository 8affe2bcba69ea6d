package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesJobs(t *testing.T) {
	wm := NewWorkerManager(10, 3, nil)

	var handled atomic.Int64
	done := make(chan struct{}, 5)
	wm.SetWorker(func(_ int, job interface{}) {
		handled.Add(int64(job.(int)))
		done <- struct{}{}
	})

	stopped := make(chan error, 1)
	go func() { stopped <- wm.Start(context.Background()) }()

	for i := 1; i <= 5; i++ {
		require.NoError(t, wm.Enqueue(context.Background(), i))
	}
	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("job not handled")
		}
	}
	assert.Equal(t, int64(15), handled.Load())

	wm.Exit()
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}

	assert.ErrorIs(t, wm.Enqueue(context.Background(), 6), ErrStopped)
}

func TestWorkerManager_StartWithoutHandler(t *testing.T) {
	wm := NewWorkerManager(1, 1, nil)
	assert.Error(t, wm.Start(context.Background()))
}

func TestWorkerManager_EnqueueHonoursContext(t *testing.T) {
	wm := NewWorkerManager(0, 1, make(chan interface{}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, wm.Enqueue(ctx, 1), context.DeadlineExceeded)
}
