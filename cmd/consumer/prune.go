package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type prunable interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// pruner periodically drops offers that departed more than grace ago, so the
// pool stays bounded even when remove events are lost.
type pruner struct {
	cron   *cron.Cron
	pool   prunable
	spec   string
	grace  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func newPruner(pool prunable, spec string, grace time.Duration, logger *slog.Logger) *pruner {
	return &pruner{
		cron:   cron.New(),
		pool:   pool,
		spec:   spec,
		grace:  grace,
		logger: logger,
		now:    time.Now,
	}
}

func (p *pruner) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc(p.spec, func() { p.run(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	p.cron.Start()
	p.logger.Info("prune schedule started", "spec", p.spec, "grace", p.grace)
	return nil
}

func (p *pruner) Stop() {
	<-p.cron.Stop().Done()
}

func (p *pruner) run(ctx context.Context) int {
	cutoff := p.now().Add(-p.grace)
	n, err := p.pool.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Error("prune failed", "cutoff", cutoff, "err", err)
		return 0
	}
	prunedOffers.Add(float64(n))
	if n > 0 {
		p.logger.Info("pruned offers", "count", n, "cutoff", cutoff)
	}
	return n
}
