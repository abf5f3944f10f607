package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de admissão em hashes no Redis, via pipeline.
//
// Layout (prefixo padrão "admission:stats"):
//
//	<prefix>:total            allowed/denied acumulado
//	<prefix>:minute:<yyyymmddhhmm>  série por minuto (expira em ttl)
//	<prefix>:route            "<METHOD> <rota>:<allowed|denied>" (até maxRoutes, resto em "_other")
//	<prefix>:type             "<key_type>:<allowed|denied>"
//	<prefix>:source           "<key_source>:<allowed|denied>"
//	<prefix>:key:<key>        por chave, só com trackKeys (expira em ttl)
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	// routes limita os campos do hash de rotas neste processo.
	routes    *routeSet
	maxRoutes int
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func WithStatsMaxRoutes(n int) RedisStatsOption {
	return func(s *RedisStatsStore) { s.maxRoutes = n }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "admission:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes = newRouteSet(s.maxRoutes)
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ev.Method != "" || ev.Route != "" {
		routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Route))
		if routeField != "" {
			pipe.HIncrBy(ctx, s.prefix+":route", s.routes.label(routeField)+":"+field, 1)
		}
	}

	if ev.Type != "" {
		pipe.HIncrBy(ctx, s.prefix+":type", string(ev.Type)+":"+field, 1)
	}
	if ev.Source != "" {
		pipe.HIncrBy(ctx, s.prefix+":source", string(ev.Source)+":"+field, 1)
	}
	if ev.Action != "" && !ev.Allowed {
		pipe.HIncrBy(ctx, totalKey, "action:"+string(ev.Action), 1)
	}

	if s.trackKeys {
		k := strings.TrimSpace(string(ev.Key))
		if k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals lê o acumulado allowed/denied (usado pelo teste de integração e por
// ferramentas de inspeção).
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	return s.readCounters(ctx, s.prefix+":total", "")
}

// ByType lê os contadores de um key_type.
func (s *RedisStatsStore) ByType(ctx context.Context, t domain.KeyType) (Counters, error) {
	return s.readCounters(ctx, s.prefix+":type", string(t)+":")
}

func (s *RedisStatsStore) readCounters(ctx context.Context, hash, fieldPrefix string) (Counters, error) {
	vals, err := s.rdb.HMGet(ctx, hash, fieldPrefix+"allowed", fieldPrefix+"denied").Result()
	if err != nil {
		return Counters{}, fmt.Errorf("redis stats %s: %w", hash, err)
	}
	var c Counters
	c.Allowed = toInt64(vals[0])
	c.Denied = toInt64(vals[1])
	return c, nil
}

func toInt64(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
