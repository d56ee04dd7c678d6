package worker

import (
	"context"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"go.uber.org/zap"
)

// IntegrityWorker runs periodic saldo journal checks.
type IntegrityWorker struct {
	*loop
	svc *service.IntegrityService
}

// NewIntegrityWorker constructs a worker with a default hourly interval.
func NewIntegrityWorker(svc *service.IntegrityService) *IntegrityWorker {
	w := &IntegrityWorker{svc: svc}
	w.loop = newLoop("integrity", time.Hour, true, w.runOnce)
	return w
}

// WithInterval updates the run interval.
func (w *IntegrityWorker) WithInterval(interval time.Duration) *IntegrityWorker {
	w.setInterval(interval)
	return w
}

func (w *IntegrityWorker) runOnce(ctx context.Context) {
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("integrity", "failed")
		zap.L().Error("integrity check failed", zap.Error(err))
		return
	}
	if !report.Clean() {
		observability.IncrementWorkerRun("integrity", "violations")
		return
	}
	observability.IncrementWorkerRun("integrity", "success")
}
