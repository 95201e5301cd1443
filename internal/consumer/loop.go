package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
)

var ErrLoopClosed = errors.New("consumer loop closed")

// Loop is the single-owner execution context. Closures run one at a time in
// submission order on the goroutine that called Run, so state touched only
// from the loop needs no locking. A closure must not call Do on its own loop.
type Loop struct {
	jobs chan func()
	done chan struct{}
}

func NewLoop(buffer int) *Loop {
	if buffer < 0 {
		buffer = 0
	}
	return &Loop{
		jobs: make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// Run executes closures until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.jobs:
			l.exec(fn)
		}
	}
}

// Do runs fn on the loop and waits for it to finish. If ctx ends first Do
// returns ctx.Err() and fn may still run later.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}
}

// Post queues fn without waiting for it. It reports false once the loop has
// stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case l.jobs <- fn:
		return true
	case <-l.done:
		return false
	}
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic on consumer loop", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()
	fn()
}
