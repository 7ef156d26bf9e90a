package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dmitrymomot/entitlements/pkg/config"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/entitlement/pgstore"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/keylock"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/pg"
	"github.com/dmitrymomot/entitlements/pkg/redis"
)

type appConfig struct {
	Logger logger.Config
	PG     pg.Config
	Redis  redis.Config
	HTTP   httpserver.Config
	Paddle entitlement.PaddleConfig

	// PlansPath points to a YAML plan catalog; empty falls back to the
	// built-in defaults.
	PlansPath string `env:"PLANS_PATH"`

	// RedisLocks switches per-user serialization from in-process mutexes to
	// Redis locks. Required when running more than one replica.
	RedisLocks bool `env:"REDIS_LOCKS_ENABLED" envDefault:"false"`
}

func main() {
	ctx := context.Background()

	var cfg appConfig
	config.MustLoad(&cfg)
	log := logger.NewFromConfig(cfg.Logger)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("entitlementd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.MigrateFS(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, log); err != nil {
		return err
	}

	var plans entitlement.PlanSource
	if cfg.PlansPath != "" {
		plans = entitlement.NewYAMLPlanSource(cfg.PlansPath)
	} else {
		plans = entitlement.NewInMemPlanSource(entitlement.DefaultPlans())
	}
	catalog, err := plans.Load(ctx)
	if err != nil {
		return err
	}

	provider, err := entitlement.NewPaddleProvider(cfg.Paddle,
		entitlement.WithTierResolver(entitlement.TierResolverFromPlans(catalog)))
	if err != nil {
		return err
	}

	opts := []entitlement.ServiceOption{entitlement.WithLogger(log)}
	if cfg.RedisLocks {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, entitlement.WithLocker(keylock.NewRedisLocker(rdb)))
	}

	svc, err := entitlement.NewService(ctx, plans, provider, pgstore.New(pool), opts...)
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.HTTP, log)
	return srv.Run(ctx, entitlement.Router(svc, log))
}
