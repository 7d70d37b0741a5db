// Package runtime serializes every state-touching call of a session onto one
// goroutine and runs the periodic transcript flush through the same queue.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("runtime: queue closed")

type Func func(ctx context.Context) (any, error)

type result struct {
	v   any
	err error
}

type job struct {
	ctx  context.Context
	fn   Func
	resp chan result
}

// Queue runs submitted functions one at a time in submission order.
type Queue struct {
	log  *zap.Logger
	jobs chan job

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewQueue(log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		log:  log,
		jobs: make(chan job, 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		case j := <-q.jobs:
			if err := j.ctx.Err(); err != nil {
				j.resp <- result{err: err}
				continue
			}
			j.resp <- q.run(j)
		}
	}
}

func (q *Queue) run(j job) (r result) {
	defer func() {
		if p := recover(); p != nil {
			q.log.Error("runtime: job panicked", zap.Any("panic", p))
			r = result{err: fmt.Errorf("runtime: job panicked: %v", p)}
		}
	}()
	v, err := j.fn(j.ctx)
	return result{v: v, err: err}
}

// Do enqueues fn and waits for its result. If ctx ends first the caller gets
// ctx.Err() and whatever fn later returns is discarded.
func (q *Queue) Do(ctx context.Context, fn Func) (any, error) {
	j := job{ctx: ctx, fn: fn, resp: make(chan result, 1)}
	select {
	case <-q.stop:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case q.jobs <- j:
	}
	select {
	case r := <-j.resp:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrClosed
	}
}

// Close stops the loop after the running job and waits for it to exit.
// Jobs still queued are abandoned.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done
}

// Flusher periodically submits a flush to a Queue.
type Flusher struct {
	q        *Queue
	interval time.Duration
	flush    func(ctx context.Context) error
	log      *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewFlusher(q *Queue, interval time.Duration, flush func(ctx context.Context) error, log *zap.Logger) *Flusher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Flusher{
		q:        q,
		interval: interval,
		flush:    flush,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (f *Flusher) Start() {
	go f.loop()
}

func (f *Flusher) loop() {
	defer close(f.doneCh)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.runOnce()
		}
	}
}

func (f *Flusher) runOnce() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-f.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	_, err := f.q.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, f.flush(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		f.log.Error("runtime: periodic flush failed", zap.Error(err))
	}
}

// Stop halts the ticker and waits for an in-flight flush to return. It must
// be called after Start.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.doneCh
}
