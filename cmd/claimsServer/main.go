package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/cache"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/claims"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/config"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/persistence/factory"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/server"
)

func main() {
	app := &cli.App{
		Name:  "claims-server",
		Usage: "Airdrop allocation claims server",
		Description: `Serves eligibility lookups and merkle proof verification for the active allocation tree.

This server implements:
- Per-wallet eligibility with amount, leaf index and merkle proof
- Proof verification against the active root or an explicit root
- Token-guarded tree creation and activation
- Prometheus metrics on /metrics`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvClaimsPort},
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "Bearer token for tree creation and activation (empty disables the admin routes)",
				EnvVars: []string{config.EnvClaimsAdminToken},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Usage:   "Allocation tree store: badger, redis or memory",
				Value:   config.PersistenceTypeBadger.String(),
				EnvVars: []string{config.EnvClaimsPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				Value:   config.DefaultDataPath,
				EnvVars: []string{config.EnvClaimsDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port) for redis persistence and the redis proof cache",
				Value:   "localhost:6379",
				EnvVars: []string{config.EnvClaimsRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvClaimsRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvClaimsRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix prepended to every Redis key",
				EnvVars: []string{config.EnvClaimsRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "cache-type",
				Usage:   "Proof cache: memory, redis or none",
				Value:   config.CacheTypeMemory.String(),
				EnvVars: []string{config.EnvClaimsCacheType},
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "Proof cache entry lifetime",
				Value:   config.DefaultCacheTTL,
				EnvVars: []string{config.EnvClaimsCacheTTL},
			},
			&cli.IntFlag{
				Name:    "cache-max-size",
				Usage:   "Maximum number of cached proofs in the memory cache (0 for unbounded)",
				Value:   config.DefaultCacheMaxSize,
				EnvVars: []string{config.EnvClaimsCacheMaxSize},
			},
			&cli.Float64Flag{
				Name:    "rate-limit-rps",
				Usage:   "Claim API requests per second per client IP (0 disables rate limiting)",
				Value:   config.DefaultRateLimitRPS,
				EnvVars: []string{config.EnvClaimsRateLimitRPS},
			},
			&cli.IntFlag{
				Name:    "rate-limit-burst",
				Usage:   "Claim API burst size per client IP",
				Value:   config.DefaultRateLimitBurst,
				EnvVars: []string{config.EnvClaimsRateLimitBurst},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvClaimsDebug},
			},
		},
		Action: runClaimsServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runClaimsServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	serverConfig, err := parseClaimsConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := factory.NewPersistence(&serverConfig.Persistence, l)
	if err != nil {
		return fmt.Errorf("failed to create persistence: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close persistence", "error", err)
		}
	}()

	proofCache, err := cache.NewProofCache(&serverConfig.Cache, l)
	if err != nil {
		return fmt.Errorf("failed to create proof cache: %w", err)
	}

	m := metrics.New()
	engine := claims.NewEngine(store, proofCache, m, l)

	if c.Bool("verbose") {
		l.Sugar().Infow("Claims Server Configuration",
			"port", serverConfig.Port,
			"persistence", serverConfig.Persistence.Type,
			"cache", serverConfig.Cache.Type,
			"cache_ttl", serverConfig.Cache.TTL,
			"rate_limit_rps", serverConfig.RateLimit.RequestsPerSecond,
			"admin_api", serverConfig.AdminToken != "")
	}

	// Warm the active tree so the first claims don't pay for the load
	if active, err := engine.GetActiveSummary(c.Context); err != nil {
		l.Sugar().Warnw("Failed to load active allocation tree", "error", err)
	} else if active != nil {
		l.Sugar().Infow("Active allocation tree", "id", active.ID, "name", active.Name, "root", active.Root.Hex())
	} else {
		l.Sugar().Infow("No active allocation tree, all wallets are ineligible until one is activated")
	}

	srv := server.NewServer(engine, serverConfig, m, l)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Claims Server running", "port", serverConfig.Port)
	l.Sugar().Infow("Available endpoints",
		"eligibility", "GET /eligibility/{wallet}",
		"verify", "POST /verify",
		"trees", "GET|POST /trees/*",
		"metrics", "GET /metrics")
	l.Sugar().Info("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Sugar().Info("Shutting down claims server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func parseClaimsConfig(c *cli.Context) (*config.ClaimsServerConfig, error) {
	persistenceType, err := config.ParsePersistenceType(c.String("persistence-type"))
	if err != nil {
		return nil, err
	}
	cacheType, err := config.ParseCacheType(c.String("cache-type"))
	if err != nil {
		return nil, err
	}

	redisConfig := config.RedisConnectionConfig{
		Address:   c.String("redis-address"),
		Password:  c.String("redis-password"),
		DB:        c.Int("redis-db"),
		KeyPrefix: c.String("redis-key-prefix"),
	}

	return &config.ClaimsServerConfig{
		Port:       c.Int("port"),
		Debug:      c.Bool("verbose"),
		AdminToken: c.String("admin-token"),
		Persistence: config.PersistenceConfig{
			Type:     persistenceType,
			DataPath: c.String("data-path"),
			Redis:    redisConfig,
		},
		Cache: config.CacheConfig{
			Type:    cacheType,
			TTL:     c.Duration("cache-ttl"),
			MaxSize: c.Int("cache-max-size"),
			Redis:   redisConfig,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: c.Float64("rate-limit-rps"),
			Burst:             c.Int("rate-limit-burst"),
		},
	}, nil
}
