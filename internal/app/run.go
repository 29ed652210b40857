package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// run starts every wired loop under one errgroup and blocks until the first
// loop fails or the context is cancelled. All loops treat ctx cancellation as
// a clean stop, so a SIGINT surfaces here as context.Canceled.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Allocator.Run(ctx)
	})

	g.Go(func() error {
		return deps.Scanner.Run(ctx)
	})

	g.Go(func() error {
		return deps.Liquidator.Run(ctx)
	})

	if deps.Arbitrage != nil {
		g.Go(func() error {
			return deps.Arbitrage.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	if deps.Hub != nil {
		g.Go(func() error {
			return deps.Hub.Run(ctx)
		})
	}

	if deps.Server != nil {
		g.Go(func() error {
			a.logger.InfoContext(ctx, "status server listening",
				slog.Int("port", a.cfg.Server.Port))
			return deps.Server.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.logger.InfoContext(ctx, "status server shutting down")
			return deps.Server.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}
