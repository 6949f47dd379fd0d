// Package actor runs jobs one at a time on a single owner goroutine.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned by Do after Stop.
var ErrStopped = errors.New("actor loop stopped")

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Loop serialises every mutation of the state it owns. Jobs must not call
// Do on the same loop; network calls belong outside the job.
type Loop struct {
	log   *zap.Logger
	jobs  chan job
	quit  chan struct{}
	wg    sync.WaitGroup
	start sync.Once
	stop  sync.Once
}

// New creates a stopped loop.
func New(log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		log:  log,
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
}

// Start launches the owner goroutine. Extra calls are no-ops.
func (l *Loop) Start() {
	l.start.Do(func() {
		l.wg.Add(1)
		go l.run()
	})
}

// Stop ends the loop after the running job finishes.
func (l *Loop) Stop() {
	l.stop.Do(func() { close(l.quit) })
	l.wg.Wait()
}

// Do runs fn on the owner goroutine and waits for its result.
// If ctx ends before the job is picked up, fn never runs.
func (l *Loop) Do(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quit:
		return ErrStopped
	}
	return <-j.done
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case j := <-l.jobs:
			j.done <- l.exec(j)
		case <-l.quit:
			return
		}
	}
}

func (l *Loop) exec(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("actor job panic", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("actor job panic: %v", r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn(j.ctx)
}
