// Package loop runs tasks on a single goroutine in submission order.
//
// janus keeps all registry, reconciler and host state on one loop. Anything
// that blocks (surface evaluation, native SDK calls, closing surfaces) runs
// elsewhere and posts its result back.
package loop

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/logger"
)

// ErrStopped is returned when a task is submitted to a loop that has stopped.
var ErrStopped = errors.New("loop stopped")

// Loop is a FIFO task queue drained by one goroutine. Post never blocks.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool

	done     chan struct{} // closed by Stop
	stopped  chan struct{} // closed when Run returns
	stopOnce sync.Once
	started  bool

	logger *zap.SugaredLogger
}

// New creates a loop. Call Run to start draining it.
func New(log *zap.SugaredLogger) *Loop {
	if log == nil {
		log = logger.ComponentLogger("loop")
	}
	return &Loop{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  log,
	}
}

// Start runs the loop on a new goroutine until ctx ends or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	go l.Run(ctx)
}

// Run drains the queue until ctx ends or Stop is called. Tasks still queued
// at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	defer close(l.stopped)
	defer l.close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.run(task)

			select {
			case <-l.done:
				return
			default:
			}
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// run executes one task. A panicking task is logged and the loop keeps going.
func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("Loop task panicked", "panic", r)
		}
	}()
	task()
}

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
}

// Post queues fn. It returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do queues fn and waits for it to finish. It must not be called from a task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		// fn may have completed just before the loop exited
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop ends Run and waits for it to return. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		<-l.stopped
	} else {
		l.close()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}
