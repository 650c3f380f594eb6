package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/supervisor"
)

// Feed поток тиков биржи. Run переподключается сам и возвращается
// только после отмены ctx.
type Feed interface {
	Run(ctx context.Context, handle func(domain.Ticker)) error
}

// Controller собирает конвейер цен из независимых частей.
type Controller struct {
	Feed       Feed
	Processor  *Processor
	Publisher  *Publisher
	Persister  *Persister
	Backfiller *Backfiller
	Refreshers []*Refresher

	BackfillTimeout time.Duration
	Log             zerolog.Logger
}

// Start выполняет бэкфилл и запускает циклы в группе задач.
// Бэкфилл идёт до подключения к фиду, чтобы буфер оставался хронологичным.
func (c *Controller) Start(ctx context.Context, group *supervisor.Group) {
	if c.Backfiller != nil {
		timeout := c.BackfillTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		bctx, cancel := context.WithTimeout(ctx, timeout)
		c.Backfiller.Run(bctx)
		cancel()
	}

	for _, r := range c.Refreshers {
		group.Go("refresh:"+r.Name, r.Run)
	}
	group.Go("feed", func(ctx context.Context) error {
		return c.Feed.Run(ctx, c.Processor.HandleTicker)
	})
	if c.Publisher != nil {
		group.Go("publisher", c.Publisher.Run)
	}
	if c.Persister != nil {
		group.Go("persister", c.Persister.Run)
	}
	c.Log.Info().Int("refreshers", len(c.Refreshers)).Msg("controller: конвейер цен запущен")
}
