package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/outcomebook/internal/server"
	"github.com/alanyoungcy/outcomebook/internal/server/handler"
	"github.com/alanyoungcy/outcomebook/internal/server/ws"
	"github.com/alanyoungcy/outcomebook/internal/service"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the websocket stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode only runs the settled-market archive sweep.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startArchive(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and, when enabled, the archive sweep.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if deps.Archiver != nil {
		a.startArchive(ctx, g, deps)
	}
	return g.Wait()
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	svc := service.NewArchiveService(deps.Markets, deps.Archiver, a.cfg.Archive.Interval.Duration, deps.Outputs)
	g.Go(func() error {
		return svc.Run(ctx)
	})
}

// newServer builds the HTTP server over the wired services.
func (a *App) newServer(deps *Dependencies) (*server.Server, *ws.Hub) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:        a.cfg.Mode,
			BookAddress: deps.Book.Hex(),
			StartedAt:   time.Now().UTC(),
		})
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.logger),
		Markets:    handler.NewMarketHandler(deps.Markets, a.logger),
		Orders:     handler.NewOrderHandler(deps.Orders, a.logger),
		Collateral: handler.NewCollateralHandler(deps.Collateral, a.logger),
		Batches:    handler.NewBatchHandler(deps.Batches, a.logger),
		Claims:     handler.NewClaimHandler(deps.Claims, a.logger),
		Metrics:    deps.Metrics.Handler(),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)
	return srv, hub
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv, hub := a.newServer(deps)
	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "app: server.api_key is empty; caller headers are trusted from any client")
	}

	if hub != nil {
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Error("app: http shutdown failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
