package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/specd/internal/docstore"
)

// Run advances every eligible Specification until ctx is done.
//
// Specifications are scanned every PollInterval. At most MaxConcurrent
// Advance calls run at once and their starts are paced by a rate limiter.
// Locked Specifications, and those whose last outcome needs an operator
// and have not changed since, are skipped.
func (c *Coordinator) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(c.cfg.RatePerSecond), c.cfg.Burst)
	sem := make(chan struct{}, c.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.logger.Info("auto-advance started",
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.Int("max_concurrent", c.cfg.MaxConcurrent),
		zap.Float64("rate_per_second", c.cfg.RatePerSecond),
	)
	for {
		if err := c.sweep(ctx, limiter, sem, &wg); err != nil && ctx.Err() == nil {
			c.logger.Warn("auto-advance sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			c.logger.Info("auto-advance stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context, limiter *rate.Limiter, sem chan struct{}, wg *sync.WaitGroup) error {
	specs, err := c.store.ListSpecifications(ctx)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if !c.eligible(spec) {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := c.Advance(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("auto-advance failed", zap.String("spec.id", id), zap.Error(err))
			}
		}(spec.ID)
	}
	return nil
}

func (c *Coordinator) eligible(spec *docstore.Specification) bool {
	if spec.Status == docstore.StatusLocked {
		return false
	}
	c.mu.Lock()
	_, running := c.active[spec.ID]
	c.mu.Unlock()
	return !running && !c.held(spec)
}
