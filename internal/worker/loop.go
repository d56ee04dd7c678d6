package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// loop runs fn on a ticker until the context ends or Stop is called.
type loop struct {
	name      string
	interval  time.Duration
	immediate bool
	fn        func(ctx context.Context)
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func newLoop(name string, interval time.Duration, immediate bool, fn func(ctx context.Context)) *loop {
	return &loop{
		name:      name,
		interval:  interval,
		immediate: immediate,
		fn:        fn,
		stopCh:    make(chan struct{}),
	}
}

func (l *loop) setInterval(interval time.Duration) {
	if interval > 0 {
		l.interval = interval
	}
}

// Start blocks and runs fn at the configured interval.
func (l *loop) Start(ctx context.Context) {
	zap.L().Info("worker starting", zap.String("worker", l.name), zap.Duration("interval", l.interval))
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.immediate {
		l.fn(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", l.name))
			return
		case <-l.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", l.name))
			return
		case <-ticker.C:
			l.fn(ctx)
		}
	}
}

// Stop stops the running worker loop. Safe to call more than once.
func (l *loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (l *loop) Run(ctx context.Context) func() {
	go l.Start(ctx)
	return l.Stop
}
