// internal/usecase/webhook/drainer.go
package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"ledger-service/pkg/cache"

	"go.uber.org/zap"
)

// Drainer is a bounded worker pool consuming the pending-transaction list.
// Workers block on a ticker rather than busy-polling the queue.
type Drainer struct {
	engine   *Engine
	workers  int
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDrainer(engine *Engine, workers int, interval time.Duration, logger *zap.Logger) *Drainer {
	if workers <= 0 {
		workers = 4
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Drainer{engine: engine, workers: workers, interval: interval, logger: logger}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (d *Drainer) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	work := make(chan string)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(work)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.dispatch(ctx, work)
			}
		}
	}()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for txID := range work {
				if err := d.engine.ProcessQueue(ctx, txID); err != nil {
					d.logger.Error("drain pass failed",
						zap.String("transaction_id", txID),
						zap.Error(err))
				}
			}
		}()
	}

	d.logger.Info("webhook drainer started",
		zap.Int("workers", d.workers),
		zap.Duration("interval", d.interval))
}

// dispatch feeds one batch of pending transaction ids to the workers.
func (d *Drainer) dispatch(ctx context.Context, work chan<- string) {
	for i := 0; i < d.workers; i++ {
		txID, err := d.engine.cache.LPop(ctx, dlqNamespace, pendingKey)
		if err != nil {
			if !errors.Is(err, cache.Nil) && !errors.Is(err, cache.ErrCircuitOpen) {
				d.logger.Warn("failed to pop pending transaction", zap.Error(err))
			}
			return
		}
		select {
		case work <- txID:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Drainer) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("webhook drainer stopped")
}
