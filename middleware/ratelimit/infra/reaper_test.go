package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfig struct{ cfg domain.RuntimeConfig }

func (s staticConfig) Current() domain.RuntimeConfig { return s.cfg }

type countingObserver struct {
	mu        sync.Mutex
	evictions int
	buckets   int
	calls     int
}

func (o *countingObserver) ObserveEvictions(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictions += n
	o.calls++
}

func (o *countingObserver) ObserveBuckets(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buckets = n
}

func (o *countingObserver) snapshot() (evictions, buckets, calls int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evictions, o.buckets, o.calls
}

func TestReaper_PurgeNowZeroRemovesAllAndKeysRestartAtBurst(t *testing.T) {
	clock := newFakeClock()
	s := NewBucketStore(WithClock(clock.Now))
	cfg := cfgWith(0.001, 2)

	s.Consume("a", 1, cfg)
	s.Consume("a", 1, cfg)
	s.Consume("b", 1, cfg)
	require.False(t, s.Consume("a", 1, cfg).Allowed)

	r := NewReaper(s, staticConfig{cfg: cfg})
	assert.Equal(t, 2, r.PurgeNow(0))
	assert.Equal(t, 0, s.Len())

	res := s.Consume("a", 1, cfg)
	require.True(t, res.Allowed)
	assert.EqualValues(t, 1, res.Remaining)
}

func TestReaper_PurgeNowKeepsRecentlyUsedBuckets(t *testing.T) {
	clock := newFakeClock()
	s := NewBucketStore(WithClock(clock.Now))
	cfg := cfgWith(1, 5)

	s.Consume("old", 1, cfg)
	clock.Advance(10 * time.Minute)
	s.Consume("new", 1, cfg)

	obs := &countingObserver{}
	r := NewReaper(s, staticConfig{cfg: cfg}, WithEvictionObserver(obs))

	assert.Equal(t, 1, r.PurgeNow(5*time.Minute))
	assert.Equal(t, 1, s.Len())

	snap := s.Snapshot(10)
	require.Len(t, snap.Top, 1)
	assert.Equal(t, domain.Key("new"), snap.Top[0].Key)

	evictions, buckets, _ := obs.snapshot()
	assert.Equal(t, 1, evictions)
	assert.Equal(t, 1, buckets)
}

func TestReaper_StartIsIdempotentAndStopsWithContext(t *testing.T) {
	clock := newFakeClock()
	s := NewBucketStore(WithClock(clock.Now))
	cfg := cfgWith(1, 5)
	cfg.TTL = time.Second

	s.Consume("k", 1, cfg)
	clock.Advance(time.Minute)

	obs := &countingObserver{}
	r := NewReaper(s, staticConfig{cfg: cfg},
		WithReaperInterval(5*time.Millisecond),
		WithEvictionObserver(obs),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, r.Start(ctx))
	assert.False(t, r.Start(ctx), "segunda chamada deve ser no-op")

	require.Eventually(t, func() bool {
		evictions, _, _ := obs.snapshot()
		return evictions == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestReaper_ConcurrentConsumeAndPurge(t *testing.T) {
	s := NewBucketStore(WithShards(2))
	cfg := cfgWith(1000, 1000)
	r := NewReaper(s, staticConfig{cfg: cfg})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Consume("shared", 1, cfg)
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		r.PurgeNow(0)
	}
	close(stop)
	wg.Wait()

	// após a corrida o store continua consistente: no máximo um bucket por chave
	assert.LessOrEqual(t, s.Len(), 1)
	r.PurgeNow(0)
	assert.True(t, s.Consume("shared", 1, cfg).Allowed)
}
