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
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/migration-release-go/pkg/api"
	"github.com/Layr-Labs/migration-release-go/pkg/config"
	"github.com/Layr-Labs/migration-release-go/pkg/logger"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence/badger"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence/memory"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence/redis"
	"github.com/Layr-Labs/migration-release-go/pkg/release"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "release-server",
		Usage: "Merkle whitelist release server",
		Description: `Serves instant and vested releases for a Merkle-committed whitelist.

Each (address, epoch) claim is paid at most once per phase: amount times the
instant multiplier after proof verification, then amount times the vested
multiplier once the vesting delay has elapsed. The operator rotates roots and
funds the account with signed admin messages.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional TOML config file; flags and env vars override it",
				EnvVars: []string{config.EnvReleaseConfigFile},
			},
			&cli.StringFlag{
				Name:    "operator-address",
				Aliases: []string{"addr"},
				Usage:   "Address allowed to rotate roots and add funds",
				EnvVars: []string{config.EnvReleaseOperatorAddress},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvReleasePort},
			},
			&cli.Uint64Flag{
				Name:    "instant-multiplier",
				Value:   release.DefaultInstantMultiplier,
				Usage:   "Payout per whitelisted unit at instant release",
				EnvVars: []string{config.EnvReleaseInstantMultiplier},
			},
			&cli.Uint64Flag{
				Name:    "vested-multiplier",
				Value:   release.DefaultVestedMultiplier,
				Usage:   "Payout per whitelisted unit at vested release",
				EnvVars: []string{config.EnvReleaseVestedMultiplier},
			},
			&cli.DurationFlag{
				Name:    "vesting-delay",
				Value:   release.DefaultVestingDelay,
				Usage:   "Minimum time between instant and vested release",
				EnvVars: []string{config.EnvReleaseVestingDelay},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Value:   config.DefaultRateLimit,
				Usage:   "Release requests per second per remote IP",
				EnvVars: []string{config.EnvReleaseRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Value:   config.DefaultRateBurst,
				Usage:   "Release request burst per remote IP",
				EnvVars: []string{config.EnvReleaseRateBurst},
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origins",
				Usage:   "CORS allowed origins",
				EnvVars: []string{config.EnvReleaseAllowedOrigins},
			},
			&cli.DurationFlag{
				Name:    "admin-message-ttl",
				Value:   config.DefaultAdminMessageTTL,
				Usage:   "Longest accepted admin message lifetime",
				EnvVars: []string{config.EnvReleaseAdminMessageTTL},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Value:   config.PersistenceTypeBadger.String(),
				Usage:   "Ledger store: memory, badger or redis",
				EnvVars: []string{config.EnvReleasePersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Value:   config.DefaultDataPath,
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvReleaseDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis host:port",
				EnvVars: []string{config.EnvReleaseRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvReleaseRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvReleaseRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every Redis key",
				EnvVars: []string{config.EnvReleaseRedisKeyPrefix},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvReleaseDebug},
			},
		},
		Action: runReleaseServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runReleaseServer(c *cli.Context) error {
	cfg, err := parseReleaseConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	store, err := newStore(&cfg.Persistence, l)
	if err != nil {
		return fmt.Errorf("failed to open %s persistence: %w", cfg.Persistence.Type, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close persistence", "error", err)
		}
	}()

	ledger, err := release.NewLedger(&release.LedgerConfig{
		Policy: release.Policy{
			InstantMultiplier: cfg.InstantMultiplier,
			VestedMultiplier:  cfg.VestedMultiplier,
			VestingDelay:      cfg.VestingDelay.Duration,
		},
		Operator: cfg.Operator(),
	}, store, l)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}

	payouts := make(chan *types.PayoutEvent, 64)
	sub := ledger.SubscribePayouts(payouts)
	go logPayouts(payouts, sub.Err(), l)

	server := api.NewServer(&api.ServerConfig{
		Port:            cfg.Port,
		RateLimit:       rate.Limit(cfg.RateLimit),
		RateBurst:       cfg.RateBurst,
		AllowedOrigins:  cfg.AllowedOrigins,
		AdminMessageTTL: cfg.AdminMessageTTL.Duration,
	}, ledger, l)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Release server running",
		"port", cfg.Port,
		"persistence", cfg.Persistence.Type,
		"root", ledger.CurrentRoot().Root.Hex(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	l.Sugar().Infow("Shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		l.Sugar().Errorw("HTTP server shutdown failed", "error", err)
	}
	sub.Unsubscribe()
	return nil
}

// logPayouts records each committed payout until the subscription ends.
func logPayouts(ch <-chan *types.PayoutEvent, done <-chan error, l *zap.Logger) {
	for {
		select {
		case ev := <-ch:
			l.Sugar().Infow("Payout committed",
				"id", ev.ID,
				"phase", ev.Phase,
				"recipient", ev.Recipient.Hex(),
				"payout", ev.Payout.Dec(),
			)
		case <-done:
			return
		}
	}
}

func parseReleaseConfig(c *cli.Context) (*config.ReleaseServerConfig, error) {
	cfg := config.NewDefaultReleaseServerConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Without a file every flag applies, defaults included; with one, only
	// flags that were set explicitly override it.
	fromFile := c.String("config") != ""
	apply := func(name string) bool { return !fromFile || c.IsSet(name) }

	if apply("operator-address") {
		cfg.OperatorAddress = c.String("operator-address")
	}
	if apply("port") {
		cfg.Port = c.Int("port")
	}
	if apply("instant-multiplier") {
		cfg.InstantMultiplier = c.Uint64("instant-multiplier")
	}
	if apply("vested-multiplier") {
		cfg.VestedMultiplier = c.Uint64("vested-multiplier")
	}
	if apply("vesting-delay") {
		cfg.VestingDelay = config.Duration{Duration: c.Duration("vesting-delay")}
	}
	if apply("rate-limit") {
		cfg.RateLimit = c.Float64("rate-limit")
	}
	if apply("rate-burst") {
		cfg.RateBurst = c.Int("rate-burst")
	}
	if apply("allowed-origins") {
		cfg.AllowedOrigins = c.StringSlice("allowed-origins")
	}
	if apply("admin-message-ttl") {
		cfg.AdminMessageTTL = config.Duration{Duration: c.Duration("admin-message-ttl")}
	}
	if apply("persistence-type") {
		cfg.Persistence.Type = config.PersistenceType(c.String("persistence-type"))
	}
	if apply("data-path") {
		cfg.Persistence.DataPath = c.String("data-path")
	}
	if apply("redis-address") {
		cfg.Persistence.RedisAddress = c.String("redis-address")
	}
	if apply("redis-password") {
		cfg.Persistence.RedisPassword = c.String("redis-password")
	}
	if apply("redis-db") {
		cfg.Persistence.RedisDB = c.Int("redis-db")
	}
	if apply("redis-key-prefix") {
		cfg.Persistence.RedisKeyPrefix = c.String("redis-key-prefix")
	}
	if apply("verbose") {
		cfg.Debug = c.Bool("verbose")
	}
	return cfg, nil
}

func newStore(cfg *config.PersistenceConfig, l *zap.Logger) (persistence.IReleasePersistence, error) {
	switch cfg.Type {
	case config.PersistenceTypeMemory:
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceTypeBadger:
		return badger.NewBadgerPersistence(cfg.DataPath, l)
	case config.PersistenceTypeRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Type)
	}
}
