package router

import (
	"context"
	"sync"
)

// Loop is a Dispatcher that runs posted functions one at a time on the
// goroutine that calls Run. The queue is unbounded so Post never blocks.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending reports the number of queued functions.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// RunPending executes everything queued so far, including functions posted
// by the functions it runs, and returns how many ran. It must not be called
// concurrently with Run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn := l.next()
		if fn == nil {
			return n
		}
		fn()
		n++
	}
}

// Run executes posted functions until ctx is done. Functions still queued
// at that point are discarded.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.queue = nil
			l.mu.Unlock()
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}
