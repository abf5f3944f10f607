package infra

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Variáveis de ambiente lidas pelo EnvConfig.
const (
	EnvRate           = "RATE_LIMIT_RPS"
	EnvBurst          = "RATE_LIMIT_BURST"
	EnvKeyPriority    = "RATE_LIMIT_KEY_PRIORITY"
	EnvAction         = "RATE_LIMIT_ACTION"
	EnvBucketTTLSecs  = "RATE_LIMIT_BUCKET_TTL_SECS"
	EnvRequestCost    = "RATE_LIMIT_REQUEST_COST"
	EnvTrustedProxies = "TRUSTED_PROXIES"
	EnvDebug          = "RATE_LIMIT_DEBUG"
	EnvDebugToken     = "RATE_LIMIT_DEBUG_TOKEN"
	EnvTestMode       = "RATE_LIMIT_TEST_MODE"
)

const (
	idxRate = iota
	idxBurst
	idxKeyPriority
	idxAction
	idxBucketTTL
	idxRequestCost
	idxTrustedProxies
	idxDebug
	idxDebugToken
	idxTestMode
	envCount
)

var envKeys = [envCount]string{
	idxRate:           EnvRate,
	idxBurst:          EnvBurst,
	idxKeyPriority:    EnvKeyPriority,
	idxAction:         EnvAction,
	idxBucketTTL:      EnvBucketTTLSecs,
	idxRequestCost:    EnvRequestCost,
	idxTrustedProxies: EnvTrustedProxies,
	idxDebug:          EnvDebug,
	idxDebugToken:     EnvDebugToken,
	idxTestMode:       EnvTestMode,
}

const DefaultRefreshInterval = 1 * time.Second

// LookupFunc tem a assinatura de os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envSnapshot struct {
	cfg domain.RuntimeConfig
	raw [envCount]string
	at  time.Time
}

// EnvConfig é o cache de configuração lido do ambiente.
//
// Leitores pegam o snapshot por ponteiro atômico e nunca bloqueiam. O cache é
// refeito quando passa RefreshInterval ou quando qualquer valor cru muda.
// No modo fresh (testes) o ambiente é relido em toda chamada.
type EnvConfig struct {
	lookup   LookupFunc
	refresh  time.Duration
	fresh    bool
	now      func() time.Time
	onReload []func(domain.RuntimeConfig)
	logger   *slog.Logger

	mu   sync.Mutex
	snap atomic.Pointer[envSnapshot]
}

type EnvConfigOption func(*EnvConfig)

// WithLookup troca a fonte de variáveis (padrão: os.LookupEnv).
func WithLookup(fn LookupFunc) EnvConfigOption {
	return func(c *EnvConfig) {
		if fn != nil {
			c.lookup = fn
		}
	}
}

func WithRefreshInterval(d time.Duration) EnvConfigOption {
	return func(c *EnvConfig) {
		if d > 0 {
			c.refresh = d
		}
	}
}

// WithFreshReads desliga o cache.
func WithFreshReads() EnvConfigOption {
	return func(c *EnvConfig) { c.fresh = true }
}

func WithConfigClock(now func() time.Time) EnvConfigOption {
	return func(c *EnvConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// OnReload registra um callback chamado a cada snapshot novo
// (ex.: sincronizar o TrustStore com TRUSTED_PROXIES).
func OnReload(fn func(domain.RuntimeConfig)) EnvConfigOption {
	return func(c *EnvConfig) {
		if fn != nil {
			c.onReload = append(c.onReload, fn)
		}
	}
}

func WithConfigLogger(l *slog.Logger) EnvConfigOption {
	return func(c *EnvConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewEnvConfig(opts ...EnvConfigOption) *EnvConfig {
	c := &EnvConfig{
		lookup:  os.LookupEnv,
		refresh: DefaultRefreshInterval,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *EnvConfig) readRaw() [envCount]string {
	var raw [envCount]string
	for i, k := range envKeys {
		if v, ok := c.lookup(k); ok {
			raw[i] = v
		}
	}
	return raw
}

// Current implementa domain.ConfigSource.
func (c *EnvConfig) Current() domain.RuntimeConfig {
	raw := c.readRaw()
	now := c.now()

	cacheable := !c.fresh && !parseBool(raw[idxTestMode], false)

	if cacheable {
		if s := c.snap.Load(); c.valid(s, raw, now) {
			return s.cfg
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// outra goroutine pode ter recarregado enquanto esperávamos o lock.
	if cacheable {
		if s := c.snap.Load(); c.valid(s, raw, now) {
			return s.cfg
		}
	}

	prev := c.snap.Load()
	next := &envSnapshot{cfg: parseRuntimeConfig(raw), raw: raw, at: now}
	c.snap.Store(next)

	if prev == nil || prev.raw != raw {
		c.logger.Debug("config recarregada",
			"rate", next.cfg.Rate,
			"burst", next.cfg.Burst,
			"key_policy", string(next.cfg.KeyPolicy),
			"action", string(next.cfg.Action),
			"ttl", next.cfg.TTL,
			"request_cost", next.cfg.RequestCost,
		)
	}
	for _, fn := range c.onReload {
		fn(next.cfg)
	}
	return next.cfg
}

func (c *EnvConfig) valid(s *envSnapshot, raw [envCount]string, now time.Time) bool {
	return s != nil && s.raw == raw && now.Sub(s.at) < c.refresh
}

// LoadRuntimeConfig lê o ambiente uma vez, sem cache.
func LoadRuntimeConfig(lookup LookupFunc) domain.RuntimeConfig {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return NewEnvConfig(WithLookup(lookup), WithFreshReads()).Current()
}

func parseRuntimeConfig(raw [envCount]string) domain.RuntimeConfig {
	cfg := domain.DefaultRuntimeConfig()

	cfg.Rate = parsePositiveFloat(raw[idxRate], domain.DefaultRate)
	cfg.Burst = parsePositiveFloat(raw[idxBurst], 2*cfg.Rate)
	if p, ok := domain.ParseKeyPolicy(raw[idxKeyPriority]); ok {
		cfg.KeyPolicy = p
	}
	if a, ok := domain.ParseAction(raw[idxAction]); ok {
		cfg.Action = a
	}
	if secs := parsePositiveFloat(raw[idxBucketTTL], 0); secs > 0 {
		cfg.TTL = time.Duration(secs * float64(time.Second))
	}
	cfg.RequestCost = parsePositiveFloat(raw[idxRequestCost], domain.DefaultRequestCost)
	cfg.TrustedProxies = raw[idxTrustedProxies]
	cfg.Debug = parseBool(raw[idxDebug], false)
	cfg.DebugToken = strings.TrimSpace(raw[idxDebugToken])
	return cfg
}

func parsePositiveFloat(v string, def float64) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return def
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return def
	}
}
