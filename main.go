package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"perp-trade-engine/config"
	"perp-trade-engine/internal/api"
	"perp-trade-engine/internal/approval"
	"perp-trade-engine/internal/engine"
	"perp-trade-engine/internal/exchange"
	"perp-trade-engine/internal/intent"
	"perp-trade-engine/internal/ledger"
	"perp-trade-engine/internal/leverage"
	"perp-trade-engine/internal/reconcile"
	"perp-trade-engine/internal/snapshot"
	"perp-trade-engine/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credentials: Vault when enabled, environment otherwise.
	vaultClient, err := vault.NewClient(cfg.Vault, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Vault client")
	}
	apiKey, secretKey := cfg.Exchange.APIKey, cfg.Exchange.SecretKey
	if vaultClient.IsEnabled() {
		creds, err := vaultClient.LoadCredentials(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load credentials from Vault")
		}
		apiKey, secretKey = creds.APIKey, creds.SecretKey
	}

	var client exchange.Client
	if cfg.Exchange.MockMode {
		logger.Warn().Msg("Mock mode enabled, no real orders will be placed")
		client = exchange.NewMockClient()
	} else {
		if apiKey == "" || secretKey == "" {
			logger.Fatal().Msg("Exchange credentials missing; set BINANCE_API_KEY/BINANCE_API_SECRET or enable Vault")
		}
		client = exchange.NewRESTClient(apiKey, secretKey, cfg.Exchange.BaseURL,
			cfg.Exchange.TestNet, cfg.Exchange.CallTimeout, logger)
	}

	symbols := exchange.NewSymbolTable(client)
	if err := symbols.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load exchange symbol metadata")
	}

	// Ledger: PostgreSQL when configured, in-memory otherwise.
	var store ledger.Store
	var checkers []api.HealthChecker
	if cfg.Database.Enabled {
		pg, err := ledger.NewPostgresStore(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect ledger store")
		}
		store = pg
		checkers = append(checkers, api.HealthChecker{Name: "postgres", Check: pg.HealthCheck})
	} else {
		logger.Warn().Msg("DB_ENABLED=false, audit ledger is in-memory and lost on restart")
		store = ledger.NewMemoryStore()
	}
	defer store.Close()

	// Approval tickets: Redis when configured, in-memory otherwise.
	var gate approval.Store
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		gate = approval.NewRedisStore(redisClient, logger)
		checkers = append(checkers, api.HealthChecker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	} else {
		gate = approval.NewMemoryStore()
	}
	if vaultClient.IsEnabled() {
		checkers = append(checkers, api.HealthChecker{Name: "vault", Check: vaultClient.Health})
	}

	lev := leverage.NewManager(client, logger)
	tracker := snapshot.NewTracker(client, cfg.Engine.SnapshotInterval, func(positions []exchange.Position) {
		for _, p := range positions {
			lev.Seed(p.Symbol, p.Leverage)
		}
	}, logger)
	tracker.Start(ctx)
	defer tracker.Stop()

	parser := intent.NewParser(symbols, intent.Limits{
		MaxNotionalUSDT: cfg.Engine.MaxNotionalUSDT,
		MinNotionalUSDT: cfg.Engine.MinNotionalUSDT,
	}, logger)
	reconciler := reconcile.New(tracker, tracker, symbols, logger)
	coordinator := engine.NewCoordinator(client, lev, store,
		cfg.Engine.MaxBatchSize, cfg.Engine.ChunkRetryDelay, cfg.Engine.BatchBudget, logger)
	eng := engine.New(parser, reconciler, coordinator, gate, store, client, tracker,
		cfg.Engine.DefaultLeverage, logger)

	// Push order lifecycle updates into the ledger.
	if !cfg.Exchange.MockMode {
		stream := exchange.NewUserStream(client, cfg.Exchange.TestNet, eng.OnOrderUpdate, logger)
		stream.Start(ctx)
		defer stream.Stop()
	}

	server := api.NewServer(cfg.Server, eng, tracker, store, checkers, logger)
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("API server failed")
	}
	logger.Info().Msg("Shutdown complete")
}

// newLogger builds the root zerolog logger from config.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out)
	if cfg.Console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
