package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/accesslog"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := readConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		accesslog.FromContext(r.Context()).Error("proxy error", "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := infra.NewPromStats(reg)

	trust := infra.NewTrustStore(os.Getenv(infra.EnvTrustedProxies), logger)
	runtimeCfg := infra.NewEnvConfig(
		infra.WithRefreshInterval(cfg.ConfigRefresh),
		infra.WithConfigLogger(logger),
		infra.OnReload(func(c domain.RuntimeConfig) { trust.Sync(c.TrustedProxies) }),
	)
	store := infra.NewBucketStore(infra.WithStoreLogger(logger))
	reaper := infra.NewReaper(store, runtimeCfg,
		infra.WithReaperInterval(cfg.ReaperInterval),
		infra.WithReaperLogger(logger),
		infra.WithEvictionObserver(prom),
	)

	stats := infra.MultiStats{prom}
	if cfg.Stats.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Stats.RedisAddr,
			Password: cfg.Stats.RedisPassword,
			DB:       cfg.Stats.RedisDB,
			// stats são best-effort: Redis lento não pode acumular conexões
			DialTimeout:  time.Second,
			ReadTimeout:  200 * time.Millisecond,
			WriteTimeout: 200 * time.Millisecond,
			PoolTimeout:  200 * time.Millisecond,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping error: %w", err)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	reaper.Start(ctx)

	// cadeia de admissão (de fora para dentro):
	// rate limit -> concorrência/timeout -> IP do cliente para o upstream -> proxy
	h := http.Handler(proxy)
	h = ratelimit.ProxyMiddleware(ratelimit.ProxyOptions{
		Trust:         trust,
		ForwardHeader: cfg.ForwardClientIPHeader,
	})(h)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.Concurrency.Timeout,
		HandlerTimeout: cfg.Concurrency.HandlerTimeout,
	})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Store:      store,
		Config:     runtimeCfg,
		Trust:      trust,
		Stats:      stats,
		Logger:     logger,
		RetryAfter: cfg.RetryAfter,
	})(h)

	debug := ratelimit.IntrospectionHandler(ratelimit.IntrospectionOptions{
		Store:    store,
		Config:   runtimeCfg,
		Reaper:   reaper,
		Trust:    trust,
		Logger:   logger,
		Throttle: rate.NewLimiter(rate.Limit(cfg.Admin.RPS), cfg.Admin.Burst),
	})

	r := chi.NewRouter()
	r.Use(accesslog.Middleware(logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Handle("/debug/rate_limiter", debug)
	r.Handle("/*", h)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second + cfg.Concurrency.HandlerTimeout,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	rc := runtimeCfg.Current()
	logger.Info("gateway listening", "addr", cfg.ListenAddr, "upstream", target.String())
	logger.Info("rate limit",
		"rate", rc.Rate,
		"burst", rc.Burst,
		"key_policy", string(rc.KeyPolicy),
		"action", string(rc.Action),
		"ttl", rc.TTL,
		"request_cost", rc.RequestCost,
		"trusted_proxies", trust.Prefixes(),
		"debug", rc.Debug,
	)
	logger.Info("rate stats", "redis", cfg.Stats.Enabled, "redis_addr", cfg.Stats.RedisAddr, "bucket", cfg.Stats.Bucket, "ttl", cfg.Stats.TTL, "track_keys", cfg.Stats.TrackKeys)
	logger.Info("concurrency", "max", cfg.Concurrency.Max, "acquire_timeout", cfg.Concurrency.Timeout, "handler_timeout", cfg.Concurrency.HandlerTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
