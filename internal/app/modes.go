package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leverfi/leverbot/internal/notify"
	"github.com/leverfi/leverbot/internal/server"
	"github.com/leverfi/leverbot/internal/server/handler"
	"github.com/leverfi/leverbot/internal/server/ws"
)

// ServeMode runs the HTTP + WebSocket API without resuming background
// position monitoring. Positions opened through the API are still watched
// in-process; the external cron drives sweep evaluation via check-all.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifyListener(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// MonitorMode resumes watching all open positions and evaluates them on
// the configured interval. The HTTP server is not started.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := deps.Scheduler.Resume(ctx); err != nil {
		return err
	}

	a.startNotifyListener(ctx, g, deps)

	g.Go(func() error {
		<-ctx.Done()
		deps.Scheduler.Shutdown()
		return ctx.Err()
	})

	return g.Wait()
}

// FullMode runs everything: the API server, resumed position monitoring,
// notifications, and periodic history archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := deps.Scheduler.Resume(ctx); err != nil {
		return err
	}

	a.startNotifyListener(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		deps.Scheduler.Shutdown()
		return ctx.Err()
	})

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to
// the errgroup. The server is shut down gracefully on context cancel.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}
	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty; API authentication is DISABLED")
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(
			deps.Positions, a.cfg.Position.CronSecret, a.logger,
		),
		RFQ: handler.NewRFQHandler(deps.Engine, a.logger),
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startNotifyListener bridges position lifecycle events to the configured
// notification channels.
func (a *App) startNotifyListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	listener := notify.NewListener(deps.SignalBus, deps.Notifier, "positions", a.logger)
	g.Go(func() error {
		err := listener.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// runArchiveLoop exports terminal position history on a fixed interval.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := deps.Archiver.ArchiveClosedPositions(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "history archival failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "history archived",
					slog.Int("positions", count),
				)
			}
		}
	}
}
