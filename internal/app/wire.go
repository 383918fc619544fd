package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	s3blob "github.com/leverfi/leverbot/internal/blob/s3"
	"github.com/leverfi/leverbot/internal/cache/redis"
	"github.com/leverfi/leverbot/internal/config"
	"github.com/leverfi/leverbot/internal/crypto"
	"github.com/leverfi/leverbot/internal/domain"
	"github.com/leverfi/leverbot/internal/gateway/zeroex"
	"github.com/leverfi/leverbot/internal/monitor"
	"github.com/leverfi/leverbot/internal/notify"
	"github.com/leverfi/leverbot/internal/rfq"
	"github.com/leverfi/leverbot/internal/service"
	"github.com/leverfi/leverbot/internal/store/postgres"
	"github.com/leverfi/leverbot/internal/wallet"
)

// Dependencies bundles everything the application modes need to operate.
// It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	UserStore     domain.UserStore
	PositionStore domain.PositionStore
	TradeStore    domain.TradeStore
	AuditStore    domain.AuditStore

	// Redis
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Execution
	Signer  *crypto.Signer
	Gateway *zeroex.Client
	Engine  *rfq.Engine
	Wallet  *wallet.Wallet // nil in confirm-flow deployments

	// Services
	Scheduler *monitor.Scheduler
	Positions *service.PositionService

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Signing key ---
	keyHex, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: load signing key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}
	deps.Signer = signer

	// --- 0x gateway ---
	gwOpts := []zeroex.Option{zeroex.WithTimeout(cfg.ZeroEx.Timeout.Duration)}
	for chain, host := range cfg.ZeroEx.ChainHosts {
		id, err := strconv.ParseInt(chain, 10, 64)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: zeroex chain_hosts key %q: %w", chain, err)
		}
		gwOpts = append(gwOpts, zeroex.WithHost(id, host))
	}
	deps.Gateway = zeroex.NewClient(cfg.ZeroEx.APIKey, gwOpts...)

	// --- RFQ engine ---
	engine, err := rfq.NewEngine(deps.Gateway, signer, rfq.Options{
		SpreadBps: cfg.RFQ.SpreadBps,
		ExpiryFor: cfg.VenueExpiry,
		Logger:    logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: rfq engine: %w", err)
	}
	deps.Engine = engine

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.UserStore = postgres.NewUserStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MaxRetries:   cfg.Redis.MaxRetries,
		TLSEnabled:   cfg.Redis.TLSEnabled,
		StreamMaxLen: int64(cfg.Redis.StreamMaxLen),
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (archiver) ---
	if cfg.S3.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.PositionStore, deps.TradeStore, deps.AuditStore)
	}

	// --- Broadcasting wallet ---
	// Wired whenever an RPC endpoint is configured. Confirm-flow
	// deployments still need it: opens are caller-executed, but monitor
	// triggered closes are executed by the bot wallet.
	var broadcaster service.Broadcaster
	if cfg.Wallet.RPCURL != "" {
		w, err := wallet.New(cfg.Wallet.RPCURL, keyHex, int64(cfg.Position.ChainID))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		closers = append(closers, w.Close)
		deps.Wallet = w
		broadcaster = w
	}

	// --- Monitor scheduler + position service ---
	deps.Scheduler = monitor.NewScheduler(deps.PositionStore, deps.Gateway, monitor.Config{
		Interval:      cfg.Position.CheckInterval.Duration,
		ChainID:       int64(cfg.Position.ChainID),
		QuoteToken:    cfg.Position.QuoteToken,
		QuoteDecimals: cfg.Position.QuoteTokenDecimals,
	}, logger)
	closers = append(closers, deps.Scheduler.Shutdown)

	deps.Positions = service.NewPositionService(
		deps.UserStore, deps.PositionStore, deps.TradeStore, deps.AuditStore,
		deps.SignalBus, deps.LockManager, deps.Gateway, broadcaster, deps.Scheduler,
		service.Settings{
			ConfirmFlow:        cfg.Position.ConfirmFlow,
			ChainID:            int64(cfg.Position.ChainID),
			CollateralToken:    cfg.Position.CollateralToken,
			QuoteToken:         cfg.Position.QuoteToken,
			QuoteTokenDecimals: cfg.Position.QuoteTokenDecimals,
			MaxLeverage:        cfg.Position.MaxLeverage,
			CloseLockTTL:       cfg.Position.CloseLockTTL.Duration,
		},
		logger,
	)
	deps.Scheduler.SetCloser(deps.Positions)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// archiveInterval is how often the background archiver runs in full mode.
const archiveInterval = 6 * time.Hour
