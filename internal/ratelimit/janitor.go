package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Janitor periodically prunes expired records from stores that keep them
// until deleted. Redis expires keys on its own and needs no janitor.
type Janitor struct {
	pruner   Pruner
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewJanitor returns a Janitor for store, or nil when store does not
// implement Pruner or interval is not positive.
func NewJanitor(store Store, interval time.Duration, logger *slog.Logger) *Janitor {
	pruner, ok := store.(Pruner)
	if !ok || interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		pruner:   pruner,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Start runs the prune loop until ctx is cancelled. Use Wait to block until
// the loop has returned.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.run(ctx)
	j.logger.Info("rate limit janitor started", "interval", j.interval)
}

// Wait blocks until the loop started by Start has exited.
func (j *Janitor) Wait() {
	j.wg.Wait()
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.PruneOnce(ctx)
		case <-ctx.Done():
			j.logger.Info("rate limit janitor stopped")
			return
		}
	}
}

// PruneOnce runs a single prune pass and returns the number of removed
// records. Failures are logged and reported as zero.
func (j *Janitor) PruneOnce(ctx context.Context) int {
	pctx, cancel := context.WithTimeout(ctx, j.interval)
	defer cancel()

	n, err := j.pruner.Prune(pctx, j.now())
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Error("failed to prune rate records", "error", err)
		}
		return 0
	}
	if n > 0 {
		j.logger.Debug("pruned expired rate records", "removed", n)
	}
	return n
}
