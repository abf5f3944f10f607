package infra

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

const DefaultReaperInterval = 30 * time.Second

// EvictionObserver recebe o resultado de cada varredura (ex.: métricas).
type EvictionObserver interface {
	ObserveEvictions(n int)
	ObserveBuckets(n int)
}

// Reaper remove buckets ociosos há pelo menos o TTL corrente.
//
// A varredura nunca segura o lock de um bucket enquanto pede o lock do shard:
// primeiro lê lastAccess sob o lock do bucket, solta, e só então remove sob o
// lock do shard (conferindo que a entrada ainda é a mesma).
type Reaper struct {
	store    *BucketStore
	cfg      domain.ConfigSource
	interval time.Duration
	logger   *slog.Logger
	observer EvictionObserver

	started atomic.Bool
}

type ReaperOption func(*Reaper)

func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithReaperLogger(l *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithEvictionObserver(o EvictionObserver) ReaperOption {
	return func(r *Reaper) { r.observer = o }
}

func NewReaper(store *BucketStore, cfg domain.ConfigSource, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:    store,
		cfg:      cfg,
		interval: DefaultReaperInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start inicia a goroutine de varredura. Só a primeira chamada tem efeito;
// as demais retornam false. Pare cancelando o contexto.
func (r *Reaper) Start(ctx context.Context) bool {
	if !r.started.CompareAndSwap(false, true) {
		return false
	}

	t := time.NewTicker(r.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				ttl := domain.DefaultTTL
				if r.cfg != nil {
					ttl = r.cfg.Current().TTL
				}
				r.PurgeNow(ttl)
			}
		}
	}()
	return true
}

// PurgeNow faz uma varredura síncrona e retorna quantos buckets saíram.
// Com ttl=0 remove todos.
func (r *Reaper) PurgeNow(ttl time.Duration) int {
	now := r.store.now()
	removed := 0

	for _, e := range r.store.entries() {
		last, dead := e.b.idleSince()
		if dead || !isIdle(last, now, ttl) {
			continue
		}
		if r.store.removeIfIdle(e.key, e.b, now, ttl) {
			removed++
		}
	}

	if removed > 0 {
		r.logger.Debug("reaper: buckets ociosos removidos", "removed", removed, "ttl", ttl)
	}
	if r.observer != nil {
		r.observer.ObserveEvictions(removed)
		r.observer.ObserveBuckets(r.store.Len())
	}
	return removed
}
