package ratelimit

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

const (
	DefaultIntrospectionSample = 10
	maxIntrospectionSample     = 1000
	maxAdminBody               = 1 << 20
)

// TrustAdmin é a parte administrativa do conjunto de proxies confiáveis.
type TrustAdmin interface {
	Replace(csv string) int
	Prefixes() []string
}

type IntrospectionOptions struct {
	Store  domain.BucketInspector
	Config domain.ConfigSource
	Reaper domain.Purger // opcional: habilita a ação "purge"
	Trust  TrustAdmin    // opcional: habilita a ação "trust"
	Logger *slog.Logger

	Sample int
	// Throttle limita as chamadas já autenticadas. nil usa 5 req/s com burst 10.
	Throttle *rate.Limiter
	// AuthFailThrottle só é cobrado em falhas de autenticação, então um peer
	// sem credencial não esgota a cota de quem tem. nil usa 1 req/s com burst 5.
	AuthFailThrottle *rate.Limiter
}

type configView struct {
	Rate           float64  `json:"rate"`
	Burst          float64  `json:"burst"`
	KeyPriority    string   `json:"key_priority"`
	Action         string   `json:"action"`
	BucketTTLSecs  float64  `json:"bucket_ttl_secs"`
	RequestCost    float64  `json:"request_cost"`
	TrustedProxies []string `json:"trusted_proxies"`
}

type introspectionView struct {
	Buckets int                 `json:"buckets"`
	Top     []domain.BucketView `json:"top"`
	Bottom  []domain.BucketView `json:"bottom"`
	Config  configView          `json:"config"`
}

type keyRef struct {
	Key string `json:"key"`
}

type adminRequest struct {
	Action  string   `json:"action"`
	Keys    []string `json:"keys"`
	Top     []keyRef `json:"top"`
	Bottom  []keyRef `json:"bottom"`
	TTLSecs *float64 `json:"ttl_secs"`
	Proxies *string  `json:"proxies"`
}

// IntrospectionHandler expõe o estado do limiter para diagnóstico.
//
// Só responde com RATE_LIMIT_DEBUG ligado (senão 404). Com token configurado
// exige "Authorization: Bearer <token>" exato; sem token aceita apenas peers
// de loopback (RemoteAddr, nunca headers). Falhas de autenticação e chamadas
// autenticadas têm limitadores separados (429 quando esgotam).
//
//	GET  -> {"buckets":N,"top":[...],"bottom":[...],"config":{...}}
//	POST {"action":"drop","keys":[...],"top":[{"key":..}],"bottom":[{"key":..}]} -> {"removed":N}
//	POST {"action":"purge","ttl_secs":0} -> {"removed":N}
//	POST {"action":"trust","proxies":"10.0.0.0/8,..."} -> {"trusted":N}
func IntrospectionHandler(opts IntrospectionOptions) http.Handler {
	if opts.Sample <= 0 {
		opts.Sample = DefaultIntrospectionSample
	}
	if opts.Throttle == nil {
		opts.Throttle = rate.NewLimiter(5, 10)
	}
	if opts.AuthFailThrottle == nil {
		opts.AuthFailThrottle = rate.NewLimiter(1, 5)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := domain.DefaultRuntimeConfig()
		if opts.Config != nil {
			cfg = opts.Config.Current()
		}
		if !cfg.Debug || opts.Store == nil {
			http.NotFound(w, r)
			return
		}
		if !introspectionAuthorized(r, cfg.DebugToken) {
			if !opts.AuthFailThrottle.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "admin rate limit exceeded")
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !opts.Throttle.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "admin rate limit exceeded")
			return
		}

		switch r.Method {
		case http.MethodGet:
			serveSnapshot(w, r, opts, cfg)
		case http.MethodPost:
			serveAdminAction(w, r, opts, cfg)
		default:
			w.Header().Set("Allow", "GET, POST")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

func introspectionAuthorized(r *http.Request, token string) bool {
	if token != "" {
		got, ok := BearerToken(r)
		return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
	}
	peer, ok := PeerAddr(r)
	return ok && peer.IsLoopback()
}

func serveSnapshot(w http.ResponseWriter, r *http.Request, opts IntrospectionOptions, cfg domain.RuntimeConfig) {
	sample := opts.Sample
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sample = min(n, maxIntrospectionSample)
		}
	}

	snap := opts.Store.Snapshot(sample)
	proxies := []string{}
	if opts.Trust != nil {
		proxies = opts.Trust.Prefixes()
	}

	writeJSON(w, http.StatusOK, introspectionView{
		Buckets: snap.Buckets,
		Top:     nonNil(snap.Top),
		Bottom:  nonNil(snap.Bottom),
		Config: configView{
			Rate:           cfg.Rate,
			Burst:          cfg.Burst,
			KeyPriority:    string(cfg.KeyPolicy),
			Action:         string(cfg.Action),
			BucketTTLSecs:  cfg.TTL.Seconds(),
			RequestCost:    cfg.RequestCost,
			TrustedProxies: proxies,
		},
	})
}

func serveAdminAction(w http.ResponseWriter, r *http.Request, opts IntrospectionOptions, cfg domain.RuntimeConfig) {
	var req adminRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", domain.ErrInvalidAdminPayload, err).Error())
		return
	}

	result, err := runAdminAction(req, opts, cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if isAdminError(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	opts.Logger.Info("introspecção: ação administrativa", "action", req.Action, "result", result)
	writeJSON(w, http.StatusOK, result)
}

func runAdminAction(req adminRequest, opts IntrospectionOptions, cfg domain.RuntimeConfig) (map[string]int, error) {
	switch req.Action {
	case "drop":
		keys := make([]domain.Key, 0, len(req.Keys)+len(req.Top)+len(req.Bottom))
		for _, k := range req.Keys {
			keys = append(keys, domain.Key(k))
		}
		for _, ref := range append(req.Top, req.Bottom...) {
			keys = append(keys, domain.Key(ref.Key))
		}
		return map[string]int{"removed": opts.Store.Evict(dedupe(keys)...)}, nil

	case "purge":
		if opts.Reaper == nil {
			return nil, fmt.Errorf("%w: purge not available", domain.ErrUnknownAdminAction)
		}
		ttl := cfg.TTL
		if req.TTLSecs != nil {
			if *req.TTLSecs < 0 {
				return nil, fmt.Errorf("%w: ttl_secs must be >= 0", domain.ErrInvalidAdminPayload)
			}
			ttl = time.Duration(*req.TTLSecs * float64(time.Second))
		}
		return map[string]int{"removed": opts.Reaper.PurgeNow(ttl)}, nil

	case "trust":
		if opts.Trust == nil {
			return nil, fmt.Errorf("%w: trust not available", domain.ErrUnknownAdminAction)
		}
		if req.Proxies == nil {
			return nil, fmt.Errorf("%w: proxies is required", domain.ErrInvalidAdminPayload)
		}
		return map[string]int{"trusted": opts.Trust.Replace(*req.Proxies)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAdminAction, req.Action)
	}
}

func dedupe(keys []domain.Key) []domain.Key {
	seen := make(map[domain.Key]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func nonNil(v []domain.BucketView) []domain.BucketView {
	if v == nil {
		return []domain.BucketView{}
	}
	return v
}

// isAdminError: erro de payload/ação inválidos (400).
func isAdminError(err error) bool {
	return errors.Is(err, domain.ErrUnknownAdminAction) || errors.Is(err, domain.ErrInvalidAdminPayload)
}
