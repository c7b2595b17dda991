package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/notify"
)

// DefaultArchiveInterval is the pause between archive sweeps.
const DefaultArchiveInterval = time.Hour

// ArchiveService periodically copies settled markets to object storage.
type ArchiveService struct {
	markets  *MarketService
	archiver domain.MarketArchiver
	interval time.Duration
	out      emitter
}

// NewArchiveService creates an ArchiveService sweeping every interval.
func NewArchiveService(markets *MarketService, archiver domain.MarketArchiver, interval time.Duration, out Outputs) *ArchiveService {
	if interval <= 0 {
		interval = DefaultArchiveInterval
	}
	return &ArchiveService{markets: markets, archiver: archiver, interval: interval, out: newEmitter(out, "archive_service")}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *ArchiveService) Run(ctx context.Context) error {
	s.out.log.InfoContext(ctx, "archive_service: started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.out.log.ErrorContext(ctx, "archive_service: sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			s.out.log.InfoContext(ctx, "archive_service: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep archives every settled market and returns the records written.
// One market failing does not stop the others.
func (s *ArchiveService) Sweep(ctx context.Context) (int64, error) {
	markets, err := s.markets.List(ctx, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("archive_service: sweep: %w", err)
	}
	var (
		total  int64
		failed int
	)
	for _, m := range markets {
		if !m.Settled {
			continue
		}
		n, err := s.archiver.ArchiveMarket(ctx, m.ID)
		if err != nil {
			failed++
			s.out.log.WarnContext(ctx, "archive_service: archive market failed",
				slog.Int64("market_id", int64(m.ID)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			total += n
			s.out.log.InfoContext(ctx, "archive_service: market archived",
				slog.Int64("market_id", int64(m.ID)),
				slog.Int64("records", n),
			)
			s.out.alert(ctx, notify.EventArchive, "market archived", fmt.Sprintf("market %d: %d records", m.ID, n))
		}
	}
	if failed > 0 {
		return total, fmt.Errorf("archive_service: sweep: %d market(s) failed", failed)
	}
	return total, nil
}
