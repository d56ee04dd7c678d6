package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsImmediatelyAndOnTicks(t *testing.T) {
	var runs atomic.Int32
	l := newLoop("test", 10*time.Millisecond, true, func(ctx context.Context) { runs.Add(1) })

	stop := l.Run(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	stop()
	stop()

	settled := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), settled+1)
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	l := newLoop("test", time.Hour, false, func(ctx context.Context) {})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestSetIntervalIgnoresNonPositive(t *testing.T) {
	l := newLoop("test", time.Minute, false, func(ctx context.Context) {})
	l.setInterval(0)
	assert.Equal(t, time.Minute, l.interval)
	l.setInterval(time.Second)
	assert.Equal(t, time.Second, l.interval)
}
