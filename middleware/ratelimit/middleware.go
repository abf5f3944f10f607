package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderKeySource = "X-Key-Source"
	HeaderKeyType   = "X-Key-Type"
)

// KeyFunc resolve a identidade do cliente para a política corrente.
type KeyFunc func(r *http.Request, policy domain.KeyPolicy) domain.ClientIdentity

// RouteFunc dá o rótulo de rota gravado nas estatísticas. Deve ter
// cardinalidade limitada (padrão de rota, nunca o path cru).
type RouteFunc func(r *http.Request) string

type Options struct {
	Store  domain.BucketStore
	Config domain.ConfigSource
	Trust  domain.ProxyTrust
	Stats  domain.StatsStore
	KeyFn  KeyFunc
	Logger *slog.Logger

	RetryAfter time.Duration
	// DenyLogInterval amostra os logs de negação (no máximo um por intervalo).
	DenyLogInterval time.Duration

	// Stats é gravado fora da requisição: fila de StatsBuffer eventos
	// (cheia = descarta) e prazo de StatsTimeout por Record.
	StatsBuffer  int
	StatsTimeout time.Duration
	RouteFn      RouteFunc
}

// Middleware aplica a decisão de admissão antes do próximo handler.
//
// Em toda resposta (permitida ou negada) escreve X-RateLimit-Limit,
// X-RateLimit-Remaining, X-Key-Source e X-Key-Type. Negado com "block"
// responde 429 + Retry-After + envelope JSON; com "drop" responde 204 sem
// corpo e fecha a conexão.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.DenyLogInterval == 0 {
		opts.DenyLogInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KeyFn == nil {
		opts.KeyFn = KeyResolver{IPs: ClientIPResolver{Trust: opts.Trust}}.Resolve
	}
	if opts.RouteFn == nil {
		opts.RouteFn = RoutePattern
	}
	if opts.StatsBuffer <= 0 {
		opts.StatsBuffer = DefaultStatsBuffer
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = DefaultStatsTimeout
	}

	svc := application.Service{
		Store:      opts.Store,
		RetryAfter: opts.RetryAfter,
	}
	denyLog := &rate.Sometimes{First: 1, Interval: opts.DenyLogInterval}

	var stats *statsQueue
	if opts.Stats != nil {
		stats = newStatsQueue(opts.Stats, opts.StatsBuffer, opts.StatsTimeout, opts.Logger)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := domain.DefaultRuntimeConfig()
			if opts.Config != nil {
				cfg = opts.Config.Current()
			}

			id := opts.KeyFn(r, cfg.KeyPolicy)
			dec := svc.Decide(id.Key, cfg)

			h := w.Header()
			h.Set(HeaderLimit, formatInt64(dec.Limit))
			h.Set(HeaderRemaining, formatInt64(dec.Remaining))
			h.Set(HeaderKeySource, string(id.Source))
			h.Set(HeaderKeyType, string(id.Type))

			if stats != nil {
				stats.push(domain.StatsEvent{
					Key:     id.Key,
					Type:    id.Type,
					Source:  id.Source,
					Allowed: dec.Allowed,
					Action:  dec.Action,
					Method:  r.Method,
					Route:   opts.RouteFn(r),
					At:      time.Now(),
				})
			}

			if dec.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			denyLog.Do(func() {
				opts.Logger.Warn("rate limit excedido",
					"key_type", string(id.Type),
					"key_source", string(id.Source),
					"action", string(dec.Action),
					"path", r.URL.Path,
				)
			})

			if dec.Action == domain.ActionDrop {
				h.Set("Connection", "close")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.Set("Retry-After", formatInt(retryAfterSeconds(dec.RetryAfter)))
			writeJSON(w, http.StatusTooManyRequests, apiResponse{
				Success: false,
				Message: "Too Many Requests",
				Data:    map[string]string{"error": "Rate limit exceeded"},
			})
		})
	}
}

// retryAfterSeconds arredonda para cima; Retry-After nunca sai menor que 1.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// RoutePattern usa o padrão de rota do chi ("/users/{id}") quando houver.
// Fora do chi, ou antes do roteamento, devolve "*".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "*"
}
