package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/llmgate"
	"github.com/ineyio/llmgate/forward/anthropic"
	"github.com/ineyio/llmgate/license/remote"
	"github.com/ineyio/llmgate/license/signed"
	"github.com/ineyio/llmgate/license/static"
	"github.com/ineyio/llmgate/meter"
	"github.com/ineyio/llmgate/quota"
	"github.com/ineyio/llmgate/quota/postgres"
	quotaredis "github.com/ineyio/llmgate/quota/redis"
	"github.com/ineyio/llmgate/quota/sqlite"
	"github.com/ineyio/llmgate/secret"
	"github.com/ineyio/llmgate/secret/awssm"
)

type app struct {
	Handler http.Handler
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg llmgate.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	store, err := newStore(ctx, cfg.Store, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	ledger, err := llmgate.NewLedger(store, llmgate.WithMaxAttempts(cfg.Ledger.MaxAttempts))
	if err != nil {
		a.Close()
		return nil, err
	}

	validator, err := newValidator(cfg.License, cfg.Tiers)
	if err != nil {
		a.Close()
		return nil, err
	}

	secrets, err := newSecrets(ctx, cfg.Secrets)
	if err != nil {
		a.Close()
		return nil, err
	}

	forwarder := anthropic.New(
		anthropic.WithBaseURL(cfg.Upstream.BaseURL),
		anthropic.WithAPIVersion(cfg.Upstream.APIVersion),
		anthropic.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout}),
	)

	health := meter.NewHealthTracker()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMeter, err := meter.NewPrometheusMeter(registry)
	if err != nil {
		a.Close()
		return nil, err
	}

	gateway, err := llmgate.NewGateway(validator, ledger, secrets, forwarder,
		llmgate.WithLimits(cfg.Tiers),
		llmgate.WithSecretName(cfg.SecretName),
		llmgate.WithMaxBodyBytes(cfg.MaxBody),
		llmgate.WithLogger(logger),
		llmgate.WithMeter(meter.Multi{meter.NewLogMeter(logger), promMeter, health}),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Handler = newRouter(gateway, store, health, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return a, nil
}

func newRouter(gateway *llmgate.Gateway, store llmgate.QuotaStore, health *meter.HealthTracker, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/api/completion", gateway)
	r.Handle("/api/usage", gateway.UsageHandler())
	r.Handle("/metrics", metrics).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		report := health.Snapshot()
		report["status"] = "ok"
		status := http.StatusOK

		// Only a failed ping takes the instance out of rotation.
		if p, ok := store.(llmgate.Pinger); ok {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				report["status"] = "unavailable"
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}).Methods(http.MethodGet)
	return r
}

func newStore(ctx context.Context, cfg llmgate.StoreConfig, a *app) (llmgate.QuotaStore, error) {
	switch cfg.Driver {
	case "memory":
		return quota.NewMemoryStore(), nil
	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		client := goredis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		var storeOpts []quotaredis.Option
		if cfg.KeyPrefix != "" {
			storeOpts = append(storeOpts, quotaredis.WithKeyPrefix(cfg.KeyPrefix))
		}
		return quotaredis.New(client, storeOpts...), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		var storeOpts []postgres.Option
		if cfg.KeyPrefix != "" {
			storeOpts = append(storeOpts, postgres.WithTablePrefix(cfg.KeyPrefix))
		}
		s := postgres.New(pool, storeOpts...)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newValidator(cfg llmgate.LicenseConfig, limits llmgate.Limits) (llmgate.LicenseValidator, error) {
	switch cfg.Mode {
	case "static":
		v := static.New(cfg.StaticTier)
		v.Limits = limits
		return v, nil
	case "signed":
		return signed.New([]byte(cfg.SigningKey), signed.WithIssuer(cfg.Issuer), signed.WithLeeway(30*time.Second))
	case "remote":
		opts := []remote.Option{remote.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})}
		if cfg.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(cfg.APIKey))
		}
		return remote.New(cfg.URL, opts...), nil
	default:
		return nil, fmt.Errorf("unknown license mode %q", cfg.Mode)
	}
}

func newSecrets(ctx context.Context, cfg llmgate.SecretsConfig) (llmgate.SecretProvider, error) {
	var provider llmgate.SecretProvider
	switch cfg.Source {
	case "env":
		provider = secret.NewEnv(nil)
	case "aws":
		p, err := awssm.NewFromDefaultConfig(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown secrets source %q", cfg.Source)
	}

	if cfg.CacheTTL > 0 {
		return secret.NewCache(provider, 16, cfg.CacheTTL)
	}
	return provider, nil
}

func newLogger(cfg llmgate.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
