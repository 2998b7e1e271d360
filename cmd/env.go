package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgate/internal/dedupe"
	"github.com/sells-group/leadgate/internal/delivery"
	"github.com/sells-group/leadgate/internal/intake"
	"github.com/sells-group/leadgate/internal/kv"
	"github.com/sells-group/leadgate/internal/otp"
	"github.com/sells-group/leadgate/internal/ratelimit"
	"github.com/sells-group/leadgate/internal/resilience"
	"github.com/sells-group/leadgate/internal/route"
	"github.com/sells-group/leadgate/internal/store"
	"github.com/sells-group/leadgate/internal/validate"
	"github.com/sells-group/leadgate/pkg/twilio"
)

// env bundles the wired pipeline for a running command.
type env struct {
	store  store.Store
	kv     kv.Store
	intake *intake.Service
	queue  *delivery.Queue
	worker *delivery.Worker
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgate.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initKV selects redis when configured, otherwise the in-process store.
// The in-process store is per-instance: rate limits and codes do not
// survive a restart and are not shared across replicas.
func initKV(ctx context.Context) (kv.Store, error) {
	if cfg.Redis.Addr == "" {
		zap.L().Warn("redis not configured, using in-process ephemeral store")
		mem := kv.NewMemory()
		mem.StartJanitor(ctx, time.Minute)
		return mem, nil
	}
	return kv.NewRedis(ctx, kv.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	kvStore, err := initKV(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	limiter := ratelimit.New(kvStore, map[ratelimit.Class]ratelimit.Rule{
		ratelimit.ClassIP: {
			Limit:  cfg.RateLimit.IP.Limit,
			Window: cfg.RateLimit.IP.WindowDuration(),
		},
		ratelimit.ClassPhone: {
			Limit:  cfg.RateLimit.Phone.Limit,
			Window: cfg.RateLimit.Phone.WindowDuration(),
		},
		ratelimit.ClassOTPVerify: {
			Limit:      cfg.RateLimit.OTPVerify.Limit,
			Window:     cfg.RateLimit.OTPVerify.WindowDuration(),
			FailClosed: true,
		},
	})

	executor := delivery.NewExecutor(st, route.New(st),
		delivery.WithTimeout(time.Duration(cfg.Delivery.TimeoutSecs)*time.Second),
	)

	e := &env{store: st, kv: kvStore}

	intakeOpts := []intake.Option{
		intake.WithAntifraud(validatePolicy()),
	}
	if cfg.Twilio.AccountSID != "" {
		intakeOpts = append(intakeOpts, intake.WithSMSSender(
			twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber),
		))
	}
	if cfg.Delivery.Async {
		e.queue = delivery.NewQueue(cfg.Delivery.QueueSize)
		e.worker = delivery.NewWorker(e.queue, executor, st,
			delivery.WithWorkers(cfg.Delivery.Workers),
			delivery.WithBuyerRPS(cfg.Delivery.BuyerRPS),
			delivery.WithRetryConfig(resilience.RetryConfig{
				MaxAttempts: cfg.Delivery.MaxAttempts,
			}),
		)
		intakeOpts = append(intakeOpts, intake.WithQueue(e.queue))
	}

	e.intake = intake.New(
		st,
		limiter,
		otp.New(kvStore, cfg.OTP.OTPTTL()),
		dedupe.New(st, time.Duration(cfg.Dedupe.WindowDays)*24*time.Hour),
		executor,
		intakeOpts...,
	)
	return e, nil
}

func validatePolicy() validate.Antifraud {
	return validate.Antifraud{
		MinFormTime: time.Duration(cfg.Antifraud.MinFormMillis) * time.Millisecond,
	}
}

func (e *env) Close() {
	if err := e.kv.Close(); err != nil {
		zap.L().Warn("close kv store", zap.Error(err))
	}
	if err := e.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
