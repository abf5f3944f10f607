package application

import (
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type fakeStore struct {
	res   domain.ConsumeResult
	calls int
	cost  float64
	key   domain.Key
}

func (s *fakeStore) Consume(key domain.Key, cost float64, _ domain.RuntimeConfig) domain.ConsumeResult {
	s.calls++
	s.cost = cost
	s.key = key
	return s.res
}

func TestService_Decide_AllowsWhenNoStore(t *testing.T) {
	svc := Service{}
	dec := svc.Decide("k", domain.DefaultRuntimeConfig())
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_AllowsWhenStoreAllows(t *testing.T) {
	store := &fakeStore{res: domain.ConsumeResult{Allowed: true, Remaining: 4, Limit: 5}}
	svc := Service{Store: store, RetryAfter: 5 * time.Second}

	dec := svc.Decide("k", domain.DefaultRuntimeConfig())
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.Remaining != 4 || dec.Limit != 5 {
		t.Fatalf("expected remaining=4 limit=5, got %d/%d", dec.Remaining, dec.Limit)
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected no RetryAfter when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_UsesRequestCost(t *testing.T) {
	store := &fakeStore{res: domain.ConsumeResult{Allowed: true}}
	svc := Service{Store: store}

	cfg := domain.DefaultRuntimeConfig()
	cfg.RequestCost = 0.2
	svc.Decide("client", cfg)
	if store.cost != 0.2 || store.key != "client" {
		t.Fatalf("expected cost=0.2 key=client, got %v %q", store.cost, store.key)
	}

	cfg.RequestCost = 0
	svc.Decide("client", cfg)
	if store.cost != domain.DefaultRequestCost {
		t.Fatalf("expected default cost for non-positive RequestCost, got %v", store.cost)
	}
}

func TestService_Decide_BlocksWithRetryAfterDefault(t *testing.T) {
	store := &fakeStore{res: domain.ConsumeResult{Allowed: false, Limit: 1}}
	svc := Service{Store: store}
	cfg := domain.DefaultRuntimeConfig()
	cfg.Action = domain.ActionDrop

	dec := svc.Decide("k", cfg)
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 1*time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", dec.RetryAfter)
	}
	if dec.Remaining != 0 {
		t.Fatalf("expected remaining=0 on deny, got %d", dec.Remaining)
	}
	if dec.Action != domain.ActionDrop {
		t.Fatalf("expected action drop, got %q", dec.Action)
	}
}

func TestService_Decide_BlocksWithConfiguredRetryAfter(t *testing.T) {
	store := &fakeStore{res: domain.ConsumeResult{Allowed: false}}
	svc := Service{Store: store, RetryAfter: 2500 * time.Millisecond}
	dec := svc.Decide("k", domain.DefaultRuntimeConfig())
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("expected RetryAfter=2.5s, got %s", dec.RetryAfter)
	}
}
