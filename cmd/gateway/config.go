package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// config do processo gateway. Os parâmetros do rate limiter (RATE_LIMIT_*,
// TRUSTED_PROXIES) não ficam aqui: são lidos a quente por infra.EnvConfig.
//
// Precedência: variável de ambiente > arquivo GATEWAY_CONFIG (yaml) > padrão.
type config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	UpstreamURL    string        `yaml:"upstream_url"`
	RetryAfter     time.Duration `yaml:"retry_after"`
	ReaperInterval time.Duration `yaml:"reaper_interval"`
	ConfigRefresh  time.Duration `yaml:"config_refresh"`
	// ForwardClientIPHeader recebe o IP resolvido antes de ir para o upstream.
	ForwardClientIPHeader string `yaml:"forward_client_ip_header"`

	Concurrency struct {
		Max            int           `yaml:"max"`
		Timeout        time.Duration `yaml:"timeout"`
		HandlerTimeout time.Duration `yaml:"handler_timeout"`
	} `yaml:"concurrency"`

	Admin struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"admin"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Stats struct {
		Enabled       bool          `yaml:"enabled"`
		RedisAddr     string        `yaml:"redis_addr"`
		RedisPassword string        `yaml:"redis_password"`
		RedisDB       int           `yaml:"redis_db"`
		Prefix        string        `yaml:"prefix"`
		TTL           time.Duration `yaml:"ttl"`
		Bucket        string        `yaml:"bucket"`
		TrackKeys     bool          `yaml:"track_keys"`
	} `yaml:"stats"`
}

func defaultConfig() config {
	cfg := config{
		ListenAddr:            ":8080",
		RetryAfter:            1 * time.Second,
		ReaperInterval:        30 * time.Second,
		ConfigRefresh:         1 * time.Second,
		ForwardClientIPHeader: "X-Client-IP",
	}
	cfg.Concurrency.Max = 100
	cfg.Concurrency.HandlerTimeout = 30 * time.Second
	cfg.Admin.RPS = 5
	cfg.Admin.Burst = 10
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Stats.Prefix = "admission:stats"
	cfg.Stats.TTL = 24 * time.Hour
	cfg.Stats.Bucket = "minute"
	return cfg
}

func readConfig() (config, error) {
	// .env é opcional
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return config{}, err
		}
	}

	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", cfg.ListenAddr)
	cfg.UpstreamURL = getenvDefault("UPSTREAM_URL", cfg.UpstreamURL)
	cfg.RetryAfter = getenvDurationDefault("RETRY_AFTER", cfg.RetryAfter)
	cfg.ReaperInterval = getenvDurationDefault("REAPER_INTERVAL", cfg.ReaperInterval)
	cfg.ConfigRefresh = getenvDurationDefault("CONFIG_REFRESH", cfg.ConfigRefresh)
	cfg.ForwardClientIPHeader = getenvDefault("FORWARD_CLIENT_IP_HEADER", cfg.ForwardClientIPHeader)

	cfg.Concurrency.Max = getenvIntDefault("CONCURRENCY_MAX", cfg.Concurrency.Max)
	cfg.Concurrency.Timeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", cfg.Concurrency.Timeout)
	cfg.Concurrency.HandlerTimeout = getenvDurationDefault("HANDLER_TIMEOUT", cfg.Concurrency.HandlerTimeout)

	cfg.Admin.RPS = getenvFloatDefault("ADMIN_RPS", cfg.Admin.RPS)
	cfg.Admin.Burst = getenvIntDefault("ADMIN_BURST", cfg.Admin.Burst)

	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)

	cfg.Stats.Enabled = getenvBoolDefault("RATE_STATS_ENABLED", cfg.Stats.Enabled)
	cfg.Stats.RedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", cfg.Stats.RedisAddr)
	cfg.Stats.RedisPassword = getenvDefault("RATE_STATS_REDIS_PASSWORD", cfg.Stats.RedisPassword)
	cfg.Stats.RedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", cfg.Stats.RedisDB)
	cfg.Stats.Prefix = getenvDefault("RATE_STATS_PREFIX", cfg.Stats.Prefix)
	cfg.Stats.TTL = getenvDurationDefault("RATE_STATS_TTL", cfg.Stats.TTL)
	cfg.Stats.Bucket = getenvDefault("RATE_STATS_BUCKET", cfg.Stats.Bucket)
	cfg.Stats.TrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", cfg.Stats.TrackKeys)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error loading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("invalid config syntax: %w", err)
	}
	return nil
}

func (c config) validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if c.Stats.Enabled && strings.TrimSpace(c.Stats.RedisAddr) == "" {
		return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if c.Concurrency.Max < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.Admin.RPS <= 0 || c.Admin.Burst <= 0 {
		return errors.New("ADMIN_RPS and ADMIN_BURST must be > 0")
	}
	return nil
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
