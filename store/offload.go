package store

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// offloader runs operations on background goroutines, at most `workers` at
// a time. A nil offloader runs everything inline.
type offloader struct {
	sem    *semaphore.Weighted
	logger *zap.Logger
}

func newOffloader(workers int64, logger *zap.Logger) *offloader {
	if workers <= 0 {
		workers = int64(runtime.GOMAXPROCS(0))
	}
	return &offloader{sem: semaphore.NewWeighted(workers), logger: logger}
}

type taskResult[T any] struct {
	val T
	err error
}

// offload runs fn through o. The task itself is never interrupted: once it
// has started it runs to completion even if the caller gives up waiting.
func offload[T any](ctx context.Context, o *offloader, op, key string, fn func() T) (T, error) {
	if o == nil {
		return fn(), nil
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, taskFailure(op, key, err)
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return zero, taskFailure(op, key, err)
	}

	done := make(chan taskResult[T], 1)
	go func() {
		defer o.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("store task panicked",
					zap.String("op", op),
					zap.String("key", key),
					zap.Any("panic", r),
				)
				done <- taskResult[T]{err: taskFailure(op, key, fmt.Errorf("panic: %v", r))}
			}
		}()
		done <- taskResult[T]{val: fn()}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, taskFailure(op, key, ctx.Err())
	}
}
