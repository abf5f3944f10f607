package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes, para o example-server e para desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byRoute  map[string]Counters
	byType   map[domain.KeyType]Counters
	bySource map[domain.KeySource]Counters
	byKey    map[string]Counters

	routes    *routeSet
	maxRoutes int
	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxRoutes limita as rotas distintas contadas (padrão DefaultMaxRoutes).
func WithMaxRoutes(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.maxRoutes = n }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:  make(map[string]Counters),
		byType:   make(map[domain.KeyType]Counters),
		bySource: make(map[domain.KeySource]Counters),
		byKey:    make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes = newRouteSet(s.maxRoutes)
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := s.routes.label(ev.Method + " " + ev.Route)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)
	bump(s.byRoute, route, ev.Allowed)
	if ev.Type != "" {
		bump(s.byType, ev.Type, ev.Allowed)
	}
	if ev.Source != "" {
		bump(s.bySource, ev.Source, ev.Allowed)
	}
	if s.trackKeys {
		bump(s.byKey, string(ev.Key), ev.Allowed)
	}
	return nil
}

func bump[K comparable](m map[K]Counters, k K, allowed bool) {
	c := m[k]
	c.add(allowed)
	m[k] = c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.byRoute)
}

func (s *MemoryStatsStore) ByType() map[domain.KeyType]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.byType)
}

func (s *MemoryStatsStore) BySource() map[domain.KeySource]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.bySource)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.byKey)
}

func clone[K comparable](m map[K]Counters) map[K]Counters {
	out := make(map[K]Counters, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
