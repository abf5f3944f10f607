package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PromStats exporta decisões de admissão e o estado do store para o Prometheus.
//
// Implementa domain.StatsStore (decisões) e EvictionObserver (Reaper).
// Os labels são só outcome/key_type/action, nunca a chave, para não explodir
// a cardinalidade.
type PromStats struct {
	decisions *prometheus.CounterVec
	evictions prometheus.Counter
	buckets   prometheus.Gauge
}

func NewPromStats(reg prometheus.Registerer) *PromStats {
	p := &PromStats{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "decisions_total",
			Help:      "Decisões do rate limiter por resultado, tipo de chave e ação.",
		}, []string{"outcome", "key_type", "action"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "bucket_evictions_total",
			Help:      "Buckets ociosos removidos pelo reaper.",
		}),
		buckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "admission",
			Name:      "buckets",
			Help:      "Buckets vivos na última varredura.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.decisions, p.evictions, p.buckets)
	}
	return p
}

func (p *PromStats) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := "denied"
	action := string(ev.Action)
	if ev.Allowed {
		outcome = "allowed"
		action = ""
	}
	p.decisions.WithLabelValues(outcome, string(ev.Type), action).Inc()
	return nil
}

func (p *PromStats) ObserveEvictions(n int) {
	if n > 0 {
		p.evictions.Add(float64(n))
	}
}

func (p *PromStats) ObserveBuckets(n int) { p.buckets.Set(float64(n)) }

// MultiStats repassa o evento para vários StatsStore e devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
