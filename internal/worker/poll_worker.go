package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"go.uber.org/zap"
)

// PollWorker asks the gateway about outstanding orders whose IPN may have been lost.
type PollWorker struct {
	*loop
	svc       *service.PollService
	batchSize int32
}

func NewPollWorker(svc *service.PollService) *PollWorker {
	w := &PollWorker{svc: svc, batchSize: 10}
	w.loop = newLoop("gateway_poll", 5*time.Minute, false, w.processBatch)
	return w
}

// WithPollInterval sets the poll interval for the worker.
func (w *PollWorker) WithPollInterval(interval time.Duration) *PollWorker {
	w.setInterval(interval)
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *PollWorker) WithBatchSize(size int32) *PollWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// ProcessOnce polls a single batch immediately.
func (w *PollWorker) ProcessOnce(ctx context.Context) (*service.PollSummary, error) {
	return w.svc.CheckOutstanding(ctx, w.batchSize)
}

func (w *PollWorker) processBatch(ctx context.Context) {
	summary, err := w.ProcessOnce(ctx)
	if err != nil {
		observability.IncrementWorkerRun("gateway_poll", "failed")
		zap.L().Error("gateway poll failed", zap.Error(err))
		return
	}
	if summary.Checked > 0 {
		zap.L().Info("gateway poll finished",
			zap.Int("checked", summary.Checked),
			zap.Int("applied", summary.Applied),
			zap.Int("errors", summary.Errors))
	}
	observability.IncrementWorkerRun("gateway_poll", "success")
}

func (w *PollWorker) String() string {
	return fmt.Sprintf("PollWorker(interval=%v, batch=%d)", w.interval, w.batchSize)
}
