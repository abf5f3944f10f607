package infra

import "sync"

const (
	// OtherRoute agrupa as rotas que passam do limite de cardinalidade.
	OtherRoute = "_other"

	DefaultMaxRoutes = 256
)

// routeSet limita quantos rótulos de rota distintos viram campo/contador.
// Os primeiros `limit` rótulos vistos ficam; o resto cai em OtherRoute.
type routeSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	limit int
}

func newRouteSet(limit int) *routeSet {
	if limit <= 0 {
		limit = DefaultMaxRoutes
	}
	return &routeSet{seen: make(map[string]struct{}), limit: limit}
}

func (s *routeSet) label(route string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[route]; ok {
		return route
	}
	if len(s.seen) >= s.limit {
		return OtherRoute
	}
	s.seen[route] = struct{}{}
	return route
}
