package uploader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushprof/agent-go/profiler/common"
)

type blockingDelivery struct {
	mu      sync.Mutex
	order   []string
	release chan struct{}
	started chan string
}

func (d *blockingDelivery) Upload(ctx context.Context, task *common.UploadTask) error {
	d.started <- task.UploadID
	select {
	case <-d.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.mu.Lock()
	d.order = append(d.order, task.UploadID)
	d.mu.Unlock()
	return nil
}

func newBlockingDelivery() *blockingDelivery {
	return &blockingDelivery{release: make(chan struct{}), started: make(chan string, 4)}
}

func TestLane_SerializesUploads(t *testing.T) {
	d := newBlockingDelivery()
	results := make(chan string, 4)
	lane := NewLane(context.Background(), d, func(task *common.UploadTask, err error) {
		assert.NoError(t, err)
		results <- task.UploadID
	})

	ctx := context.Background()
	require.NoError(t, lane.Acquire(ctx))
	lane.Submit(&common.UploadTask{UploadID: "w1"})
	assert.Equal(t, "w1", <-d.started)

	// the slot is held by w1
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, lane.Acquire(short), context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, lane.Acquire(ctx))
		close(acquired)
		lane.Submit(&common.UploadTask{UploadID: "w2"})
	}()

	d.release <- struct{}{}
	assert.Equal(t, "w1", <-results)
	<-acquired
	assert.Equal(t, "w2", <-d.started)
	d.release <- struct{}{}
	assert.Equal(t, "w2", <-results)

	require.NoError(t, lane.Wait(ctx))
	assert.Equal(t, []string{"w1", "w2"}, d.order)
}

func TestLane_WaitBoundedByContext(t *testing.T) {
	d := newBlockingDelivery()
	var gotErr error
	done := make(chan struct{})
	lane := NewLane(context.Background(), d, func(_ *common.UploadTask, err error) {
		gotErr = err
		close(done)
	})

	require.NoError(t, lane.Acquire(context.Background()))
	lane.Submit(&common.UploadTask{UploadID: "w1"})
	<-d.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, lane.Wait(ctx), context.DeadlineExceeded)

	lane.Abandon()
	<-done
	assert.ErrorIs(t, gotErr, context.Canceled)
}
