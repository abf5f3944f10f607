package application

import (
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store      domain.BucketStore
	RetryAfter time.Duration
}

// Decide consome RequestCost do bucket da chave usando o snapshot cfg.
func (s Service) Decide(key domain.Key, cfg domain.RuntimeConfig) domain.Decision {
	limit := int64(cfg.Burst)
	if s.Store == nil {
		return domain.Decision{Allowed: true, Remaining: limit, Limit: limit, Action: cfg.Action}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}

	cost := cfg.RequestCost
	if cost <= 0 {
		cost = domain.DefaultRequestCost
	}

	res := s.Store.Consume(key, cost, cfg)
	dec := domain.Decision{
		Allowed:   res.Allowed,
		Remaining: res.Remaining,
		Limit:     res.Limit,
		Action:    cfg.Action,
	}
	if !res.Allowed {
		dec.Remaining = 0
		dec.RetryAfter = s.RetryAfter
	}
	return dec
}
