package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/leverage"
	"github.com/alanyoungcy/outcomebook/internal/matching"
)

// DefaultBatchLockTTL bounds how long a crashed runner can hold the batch
// lock.
const DefaultBatchLockTTL = 30 * time.Second

// BatchService runs matching and leverage batches. A distributed lock keeps
// at most one batch of a book running across processes.
type BatchService struct {
	engine  *matching.Engine
	desk    *leverage.Desk
	markets *MarketService
	locks   domain.LockManager
	lockKey string
	lockTTL time.Duration
	out     emitter
}

// NewBatchService creates a BatchService for the book at bookAddr. locks and
// markets may be nil.
func NewBatchService(engine *matching.Engine, desk *leverage.Desk, markets *MarketService, locks domain.LockManager, bookAddr common.Address, out Outputs) *BatchService {
	return &BatchService{
		engine:  engine,
		desk:    desk,
		markets: markets,
		locks:   locks,
		lockKey: "batch:" + bookAddr.Hex(),
		lockTTL: DefaultBatchLockTTL,
		out:     newEmitter(out, "batch_service"),
	}
}

// WithLockTTL overrides the batch lock TTL.
func (s *BatchService) WithLockTTL(ttl time.Duration) *BatchService {
	s.lockTTL = ttl
	return s
}

func (s *BatchService) lock(ctx context.Context) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, s.lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("batch_service: acquire %s: %w", s.lockKey, err)
	}
	return unlock, nil
}

// MatchLimit runs a limit-order batch.
func (s *BatchService) MatchLimit(ctx context.Context, caller common.Address, batch []matching.Instruction) ([]matching.Result, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	defer s.out.Metrics.ObserveBatch("limit", start)

	results, err := s.engine.MatchLimit(ctx, caller, batch)
	if err != nil {
		return nil, fmt.Errorf("batch_service: limit: %w", err)
	}
	for _, r := range results {
		s.afterMatch(ctx, "limit", r)
	}
	s.out.log.InfoContext(ctx, "batch_service: limit batch done",
		slog.Int("instructions", len(batch)),
		slog.Int("failed", countFailed(results)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// MatchMarket fills one signed market order.
func (s *BatchService) MatchMarket(ctx context.Context, caller common.Address, mi matching.MarketIntent, sig []byte) (matching.Result, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return matching.Result{}, err
	}
	defer unlock()

	start := time.Now()
	defer s.out.Metrics.ObserveBatch("market", start)

	res, err := s.engine.MatchMarket(ctx, caller, mi, sig)
	if err != nil {
		s.out.Metrics.BatchItem("market", err)
		s.out.integrity(ctx, "market order", err)
		return matching.Result{}, fmt.Errorf("batch_service: market: %w", err)
	}
	s.afterMatch(ctx, "market", res)
	return res, nil
}

func (s *BatchService) afterMatch(ctx context.Context, batch string, r matching.Result) {
	s.out.Metrics.BatchItem(batch, r.Err)
	if r.Err != nil {
		s.out.integrity(ctx, fmt.Sprintf("%s taker %d", batch, r.TakerID), r.Err)
	}

	touched := make(map[uint32]bool)
	for _, f := range r.Fills {
		s.out.Metrics.Fill(f)
		touched[f.MarketID] = true

		payload, err := domain.EncodeEvent("fill", f)
		if err != nil {
			continue
		}
		if s.out.Bus == nil {
			continue
		}
		if err := s.out.Bus.Publish(ctx, domain.ChannelFills, payload); err != nil {
			s.out.log.WarnContext(ctx, "batch_service: publish fill failed",
				slog.String("fill_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.out.Bus.StreamAppend(ctx, domain.StreamFills, payload); err != nil {
			s.out.log.WarnContext(ctx, "batch_service: stream fill failed",
				slog.String("fill_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	for id := range touched {
		s.markets.Invalidate(ctx, id)
	}
}

// OpenLeverage runs a leveraged open batch.
func (s *BatchService) OpenLeverage(ctx context.Context, caller common.Address, items []leverage.OpenItem) ([]leverage.ItemResult, error) {
	return s.runLeverage(ctx, "leverage_open", func() ([]leverage.ItemResult, error) {
		return s.desk.OpenBatch(ctx, caller, items)
	})
}

// CloseLeverage runs a leveraged close batch.
func (s *BatchService) CloseLeverage(ctx context.Context, caller common.Address, items []leverage.CloseItem) ([]leverage.ItemResult, error) {
	return s.runLeverage(ctx, "leverage_close", func() ([]leverage.ItemResult, error) {
		return s.desk.CloseBatch(ctx, caller, items)
	})
}

func (s *BatchService) runLeverage(ctx context.Context, batch string, run func() ([]leverage.ItemResult, error)) ([]leverage.ItemResult, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	defer s.out.Metrics.ObserveBatch(batch, start)

	results, err := run()
	if err != nil {
		return nil, fmt.Errorf("batch_service: %s: %w", batch, err)
	}
	for _, r := range results {
		s.out.Metrics.BatchItem(batch, r.Err)
		if r.Err != nil {
			s.out.integrity(ctx, fmt.Sprintf("%s position %d", batch, r.ID), r.Err)
			continue
		}
		s.out.publish(ctx, domain.ChannelLeverage, batch, r.Position)
	}
	return results, nil
}

func countFailed(results []matching.Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
