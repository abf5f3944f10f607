package infra

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// tolerância para erro de ponto flutuante em custos fracionários (0.2 * 5 == 1).
const tokenEpsilon = 1e-9

const defaultShards = 32

// bucket guarda o estado de um token bucket contínuo.
// Todos os campos só mudam sob mu.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time

	// poisoned: um pânico aconteceu no meio de uma atualização.
	// O bucket nega tudo até ser removido.
	poisoned bool
	// dead: o bucket saiu do mapa; quem o segura precisa procurar de novo.
	dead bool
}

type shard struct {
	mu      sync.RWMutex
	buckets map[domain.Key]*bucket
}

// BucketStore é um mapa de chave -> bucket particionado em shards (xxhash).
//
// O shard só é travado o tempo de localizar/inserir a entrada; o refill e o
// consume acontecem sob o lock do bucket. Nenhum caminho segura o lock de um
// bucket enquanto pede o lock de um shard.
type BucketStore struct {
	shards []*shard
	now    func() time.Time
	logger *slog.Logger
}

type StoreOption func(*BucketStore)

// WithShards define o número de partições do mapa.
func WithShards(n int) StoreOption {
	return func(s *BucketStore) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) StoreOption {
	return func(s *BucketStore) {
		if now != nil {
			s.now = now
		}
	}
}

func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *BucketStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewBucketStore(opts ...StoreOption) *BucketStore {
	s := &BucketStore{
		shards: make([]*shard, defaultShards),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{buckets: make(map[domain.Key]*bucket)}
	}
	return s
}

func (s *BucketStore) shardFor(key domain.Key) *shard {
	h := xxhash.Sum64String(string(key))
	return s.shards[h%uint64(len(s.shards))]
}

// locate retorna o bucket da chave, criando-o cheio se não existir.
func (s *BucketStore) locate(key domain.Key, burst float64) *bucket {
	sh := s.shardFor(key)

	sh.mu.RLock()
	b := sh.buckets[key]
	sh.mu.RUnlock()
	if b != nil {
		return b
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if b = sh.buckets[key]; b != nil {
		return b
	}
	// lastRefill zero: o relógio é lido no primeiro consume, já sob o lock do bucket.
	b = &bucket{tokens: burst}
	sh.buckets[key] = b
	return b
}

// Consume implementa domain.BucketStore.
func (s *BucketStore) Consume(key domain.Key, cost float64, cfg domain.RuntimeConfig) domain.ConsumeResult {
	limit := int64(math.Floor(cfg.Burst))
	for {
		b := s.locate(key, cfg.Burst)
		res, dead := s.take(b, key, cost, cfg, limit)
		if !dead {
			return res
		}
		// removido entre o locate e o lock: procura (ou cria) de novo.
	}
}

func (s *BucketStore) take(b *bucket, key domain.Key, cost float64, cfg domain.RuntimeConfig, limit int64) (res domain.ConsumeResult, dead bool) {
	denied := domain.ConsumeResult{Allowed: false, Remaining: 0, Limit: limit}

	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			b.poisoned = true
			res, dead = denied, false
			s.logger.Error("bucket envenenado; negando até ser removido", "key", string(key), "panic", r)
		}
	}()

	if b.dead {
		return denied, true
	}
	if b.poisoned {
		return denied, false
	}

	now := s.now()
	if b.lastRefill.IsZero() {
		b.lastRefill = now
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens = math.Min(cfg.Burst, b.tokens+elapsed*cfg.Rate)
	if now.After(b.lastRefill) {
		b.lastRefill = now
	}
	b.lastAccess = now

	if b.tokens+tokenEpsilon >= cost {
		b.tokens = math.Max(0, b.tokens-cost)
		return domain.ConsumeResult{
			Allowed:   true,
			Remaining: int64(math.Floor(b.tokens + tokenEpsilon)),
			Limit:     limit,
		}, false
	}
	return denied, false
}

// Len retorna o número de buckets vivos.
func (s *BucketStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.buckets)
		sh.mu.RUnlock()
	}
	return n
}

type entry struct {
	key domain.Key
	b   *bucket
}

// entries copia as entradas de um shard por vez, sem segurar o lock depois.
func (s *BucketStore) entries() []entry {
	var out []entry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, b := range sh.buckets {
			out = append(out, entry{key: k, b: b})
		}
		sh.mu.RUnlock()
	}
	return out
}

// Snapshot retorna até `sample` buckets mais cheios (Top) e mais vazios (Bottom).
// Os tokens são os armazenados, sem aplicar refill.
func (s *BucketStore) Snapshot(sample int) domain.BucketSnapshot {
	all := s.entries()
	views := make([]domain.BucketView, 0, len(all))
	for _, e := range all {
		e.b.mu.Lock()
		tokens, dead := e.b.tokens, e.b.dead
		e.b.mu.Unlock()
		if dead {
			continue
		}
		views = append(views, domain.BucketView{Key: e.key, Tokens: tokens})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Tokens == views[j].Tokens {
			return views[i].Key < views[j].Key
		}
		return views[i].Tokens < views[j].Tokens
	})

	if sample < 0 {
		sample = 0
	}
	n := min(sample, len(views))
	bottom := append([]domain.BucketView(nil), views[:n]...)
	top := make([]domain.BucketView, 0, n)
	for i := len(views) - 1; i >= len(views)-n; i-- {
		top = append(top, views[i])
	}
	return domain.BucketSnapshot{Buckets: len(views), Top: top, Bottom: bottom}
}

// Evict remove as chaves informadas e retorna quantas existiam.
func (s *BucketStore) Evict(keys ...domain.Key) int {
	removed := 0
	for _, k := range keys {
		sh := s.shardFor(k)
		sh.mu.Lock()
		if b, ok := sh.buckets[k]; ok {
			b.mu.Lock()
			b.dead = true
			b.mu.Unlock()
			delete(sh.buckets, k)
			removed++
		}
		sh.mu.Unlock()
	}
	return removed
}

// idleSince lê o último acesso sob o lock do bucket e o solta em seguida.
func (b *bucket) idleSince() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAccess, b.dead
}

// removeIfIdle remove a entrada só se o mapa ainda aponta para o mesmo bucket
// e ele continua ocioso (um request pode ter chegado entre a leitura e aqui).
func (s *BucketStore) removeIfIdle(key domain.Key, b *bucket, now time.Time, ttl time.Duration) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.buckets[key] != b {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !isIdle(b.lastAccess, now, ttl) {
		return false
	}
	b.dead = true
	delete(sh.buckets, key)
	return true
}

// isIdle: bucket que nunca foi consumido (lastAccess zero) também conta como ocioso.
func isIdle(lastAccess, now time.Time, ttl time.Duration) bool {
	return now.Sub(lastAccess) >= ttl
}
