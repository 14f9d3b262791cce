package uploader

import (
	"context"
	"sync"

	"github.com/pushprof/agent-go/profiler/common"
)

// Delivery is what a Lane runs for each task.
type Delivery interface {
	Upload(ctx context.Context, task *common.UploadTask) error
}

// Lane serializes the uploads of one session: it holds a single task slot, so
// a submitted task waits until the previous upload has finished. The server
// therefore sees the windows of a session in flush order and never overlapping.
type Lane struct {
	delivery Delivery
	slot     chan struct{}
	onResult func(*common.UploadTask, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLane creates a lane whose uploads run under ctx. onResult, if not nil, is
// called from the upload goroutine with the outcome of every task.
func NewLane(ctx context.Context, d Delivery, onResult func(*common.UploadTask, error)) *Lane {
	ctx, cancel := context.WithCancel(ctx)
	return &Lane{
		delivery: d,
		slot:     make(chan struct{}, 1),
		onResult: onResult,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Acquire takes the task slot, waiting for the in-flight upload to finish.
// Every successful Acquire must be followed by Submit or Release.
func (l *Lane) Acquire(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lane) Release() {
	<-l.slot
}

// Submit runs task in its own goroutine. The caller must hold the slot; it is
// released when the upload returns.
func (l *Lane) Submit(task *common.UploadTask) {
	l.wg.Add(1)
	go func() {
		defer func() {
			l.Release()
			l.wg.Done()
		}()
		err := l.delivery.Upload(l.ctx, task)
		if l.onResult != nil {
			l.onResult(task, err)
		}
	}()
}

// Wait blocks until no upload is in flight or ctx is done.
func (l *Lane) Wait(ctx context.Context) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	l.Release()
	return nil
}

// Abandon cancels in-flight uploads and waits for their goroutines to return.
func (l *Lane) Abandon() {
	l.cancel()
	l.wg.Wait()
}
