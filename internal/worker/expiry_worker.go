package worker

import (
	"context"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"go.uber.org/zap"
)

// ExpiryWorker sweeps sell orders whose payment or proof window elapsed.
type ExpiryWorker struct {
	*loop
	svc       *service.ExpiryService
	batchSize int32
}

func NewExpiryWorker(svc *service.ExpiryService) *ExpiryWorker {
	w := &ExpiryWorker{svc: svc, batchSize: 100}
	w.loop = newLoop("expiry", time.Minute, true, w.runOnce)
	return w
}

// WithInterval updates the sweep interval.
func (w *ExpiryWorker) WithInterval(interval time.Duration) *ExpiryWorker {
	w.setInterval(interval)
	return w
}

func (w *ExpiryWorker) WithBatchSize(size int32) *ExpiryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// SweepOnce runs a single pass immediately.
func (w *ExpiryWorker) SweepOnce(ctx context.Context) (*service.SweepSummary, error) {
	return w.svc.Sweep(ctx, w.batchSize)
}

func (w *ExpiryWorker) runOnce(ctx context.Context) {
	summary, err := w.SweepOnce(ctx)
	if err != nil {
		observability.IncrementWorkerRun("expiry", "failed")
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}
	result := "success"
	if summary.Errors > 0 {
		result = "partial"
	}
	observability.IncrementWorkerRun("expiry", result)
}
