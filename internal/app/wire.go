package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomebook/internal/access"
	s3blob "github.com/alanyoungcy/outcomebook/internal/blob/s3"
	"github.com/alanyoungcy/outcomebook/internal/cache/redis"
	"github.com/alanyoungcy/outcomebook/internal/claim"
	"github.com/alanyoungcy/outcomebook/internal/collateral"
	"github.com/alanyoungcy/outcomebook/internal/config"
	"github.com/alanyoungcy/outcomebook/internal/crypto"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/leverage"
	"github.com/alanyoungcy/outcomebook/internal/market"
	"github.com/alanyoungcy/outcomebook/internal/matching"
	"github.com/alanyoungcy/outcomebook/internal/metrics"
	"github.com/alanyoungcy/outcomebook/internal/notify"
	"github.com/alanyoungcy/outcomebook/internal/orderbook"
	"github.com/alanyoungcy/outcomebook/internal/server/handler"
	"github.com/alanyoungcy/outcomebook/internal/service"
	"github.com/alanyoungcy/outcomebook/internal/store/memory"
	"github.com/alanyoungcy/outcomebook/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Book       common.Address
	Authorizer common.Address

	// Storage
	Ledger domain.Ledger
	Audit  domain.AuditStore

	// Redis-backed; nil when redis.addr is empty.
	MarketCache domain.MarketCache
	RateCache   domain.RateCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Set only when the archive runs.
	Archiver domain.MarketArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Outputs  service.Outputs

	// Health lists the reachable backends for /api/health.
	Health map[string]handler.Pinger

	Markets    *service.MarketService
	Orders     *service.OrderService
	Collateral *service.CollateralService
	Batches    *service.BatchService
	Claims     *service.ClaimService
}

// needsS3 returns true for modes that write the archive.
func needsS3(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Mode)
	return mode == "archive" || (mode == "full" && cfg.Archive.Enabled)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Book:    common.HexToAddress(cfg.Engine.BookAddress),
		Metrics: metrics.New(),
		Health:  map[string]handler.Pinger{},
	}

	// --- Authorizer ---
	if cfg.Engine.AuthorizerAddress != "" {
		deps.Authorizer = common.HexToAddress(cfg.Engine.AuthorizerAddress)
	} else {
		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w", err))
		}
		deps.Authorizer = signer.Address()
	}

	// --- Ledger ---
	switch cfg.Engine.Store {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Ledger = postgres.NewLedger(pgClient, cfg.Engine.LedgerRetries)
		deps.Audit = postgres.NewAuditStore(pgClient)
		deps.Health["postgres"] = pgClient
	default:
		logger.WarnContext(ctx, "wire: using in-memory ledger; state is lost on exit")
		deps.Ledger = memory.NewLedger()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Engine.MarketCacheTTL.Duration)
		deps.RateCache = redis.NewRateCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, redis.DefaultStreamMaxLen)
		deps.Health["redis"] = redisClient
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- S3 archive ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(deps.Ledger, s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.Audit)
	}

	if err := wireEngine(deps, cfg, logger); err != nil {
		return fail(err)
	}
	return deps, cleanup, nil
}

// wireEngine builds the exchange components over the wired storage.
func wireEngine(deps *Dependencies, cfg *config.Config, logger *slog.Logger) error {
	addresses := map[string]string{}
	for name, addr := range cfg.Access.Addresses {
		addresses[name] = addr
	}
	addresses[access.AddressOrderbook] = deps.Book.Hex()
	addresses[access.AddressAuthorizer] = deps.Authorizer.Hex()
	reg, err := access.NewStatic(cfg.Access.Roles, addresses)
	if err != nil {
		return fmt.Errorf("wire: access: %w", err)
	}

	strategy, err := claim.StrategyByName(cfg.Engine.PayoutStrategy)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}

	fallback := domain.Rate{Num: cfg.Collateral.RateNum, Den: cfg.Collateral.RateDen}
	var rates collateral.RateSource = collateral.FixedRate(fallback)
	if deps.RateCache != nil {
		rates = collateral.NewCachedRate(deps.RateCache, cfg.Collateral.AssetSymbol, cfg.Collateral.RateMaxAge.Duration, fallback)
	}

	coll := collateral.NewEngine(deps.Ledger, reg, rates, collateral.Config{
		AssetDecimals: cfg.Collateral.AssetDecimals,
		DailyCap:      cfg.Collateral.DailyCap,
	})
	book := orderbook.NewBook(deps.Ledger, crypto.NewAuthorizer(), orderbook.Config{
		Book:       deps.Book,
		Authorizer: deps.Authorizer,
		FeeBps:     cfg.Engine.FeeBps,
	})
	desk := leverage.NewDesk(deps.Ledger, coll, reg, leverage.Config{
		MaxLeverage: cfg.Leverage.MaxLeverage,
		MinValue:    cfg.Leverage.MinValue,
	}, logger)

	deps.Outputs = service.Outputs{
		Bus:      deps.SignalBus,
		Audit:    deps.Audit,
		Metrics:  deps.Metrics,
		Notifier: deps.Notifier,
		Logger:   logger,
	}
	out := deps.Outputs
	deps.Markets = service.NewMarketService(market.NewRegistry(deps.Ledger, reg), deps.MarketCache, out)
	deps.Orders = service.NewOrderService(book, out)
	deps.Collateral = service.NewCollateralService(coll, out)
	deps.Batches = service.NewBatchService(
		matching.NewEngine(deps.Ledger, book, reg, logger), desk, deps.Markets,
		deps.LockManager, deps.Book, out,
	)
	if ttl := cfg.Engine.BatchLockTTL.Duration; ttl > 0 {
		deps.Batches.WithLockTTL(ttl)
	}
	deps.Claims = service.NewClaimService(claim.NewCalculator(deps.Ledger, book, strategy), deps.Markets, out)
	return nil
}
