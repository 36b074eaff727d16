package worker_manager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/fornellas/slogxt/log"
)

type workerType struct {
	name       string
	fn         func(context.Context) error
	cancelFunc context.CancelFunc
	errCh      chan error
}

// WorkerManager runs a chain of workers. Workers are stopped in the reverse order they were added:
// when any worker returns, the last added worker is cancelled, and each worker is cancelled only
// after all workers added after it have returned. This lets consumers (eg: a UI) stop before the
// producers they depend on (eg: a transport).
type WorkerManager struct {
	workers []*workerType
}

func NewWorkerManager() *WorkerManager {
	return &WorkerManager{}
}

func (wm *WorkerManager) AddWorker(name string, fn func(context.Context) error) {
	wm.workers = append([]*workerType{{name: name, fn: fn}}, wm.workers...)
}

// Names returns worker names, in shutdown order.
func (wm *WorkerManager) Names() []string {
	names := make([]string, len(wm.workers))
	for i, worker := range wm.workers {
		names[i] = worker.name
	}
	return names
}

func (wm *WorkerManager) Start(ctx context.Context) {
	ctx, logger := log.MustWithGroup(ctx, "Worker Manager")
	logger.Debug("Starting workers", "names", wm.Names())
	for _, worker := range wm.workers {
		workerCtx, workerLogger := log.MustWithGroup(ctx, worker.name)
		workerCtx, worker.cancelFunc = context.WithCancel(workerCtx)
		worker.errCh = make(chan error, 1)
		go func() {
			var err error
			defer func() {
				if r := recover(); r != nil {
					workerLogger.Error("Panic", "recovered", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("panic: %v", r)
				}
				workerLogger.Debug("Finished", "err", err)
				wm.Cancel(workerCtx)
				worker.errCh <- err
			}()
			workerLogger.Debug("Starting")
			err = worker.fn(workerCtx)
		}()
	}
}

// Cancel starts the shutdown chain.
func (wm *WorkerManager) Cancel(ctx context.Context) {
	if len(wm.workers) == 0 {
		return
	}
	worker := wm.workers[0]
	log.MustLogger(ctx).Debug("Cancelling", "name", worker.name)
	worker.cancelFunc()
}

// Wait blocks until all workers have returned, following the shutdown chain, and returns the
// errors of all workers that failed. Workers returning context.Canceled are not failures.
func (wm *WorkerManager) Wait(ctx context.Context) error {
	_, logger := log.MustWithGroup(ctx, "Worker Manager")
	logger.Debug("Waiting for all workers")
	var err error
	for i, worker := range wm.workers {
		if i > 0 {
			worker.cancelFunc()
		}
		workerErr := <-worker.errCh
		if workerErr != nil && !errors.Is(workerErr, context.Canceled) {
			err = errors.Join(err, fmt.Errorf("%s: %w", worker.name, workerErr))
		}
	}
	wm.workers = nil
	logger.Debug("All workers returned", "err", err)
	return err
}
