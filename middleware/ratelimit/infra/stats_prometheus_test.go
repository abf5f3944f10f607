package infra

import (
	"context"
	"errors"
	"testing"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromStats_RecordsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPromStats(reg)
	ctx := context.Background()

	require.NoError(t, p.Record(ctx, domain.StatsEvent{Type: domain.KeyTypeIP, Allowed: true, Action: domain.ActionBlock}))
	require.NoError(t, p.Record(ctx, domain.StatsEvent{Type: domain.KeyTypeIP, Allowed: false, Action: domain.ActionDrop}))
	require.NoError(t, p.Record(ctx, domain.StatsEvent{Type: domain.KeyTypeIP, Allowed: false, Action: domain.ActionDrop}))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.decisions.WithLabelValues("allowed", "ip", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.decisions.WithLabelValues("denied", "ip", "drop")))
}

func TestPromStats_ObservesReaper(t *testing.T) {
	p := NewPromStats(prometheus.NewRegistry())

	p.ObserveEvictions(3)
	p.ObserveEvictions(0)
	p.ObserveBuckets(7)

	assert.Equal(t, 3.0, testutil.ToFloat64(p.evictions))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.buckets))
}

type failingStats struct{ err error }

func (f failingStats) Record(context.Context, domain.StatsEvent) error { return f.err }

func TestMultiStats_FansOutAndReturnsFirstError(t *testing.T) {
	mem := NewMemoryStatsStore()
	boom := errors.New("boom")
	m := MultiStats{nil, failingStats{err: boom}, mem}

	err := m.Record(context.Background(), domain.StatsEvent{Allowed: true})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Counters{Allowed: 1}, mem.Total())
}
