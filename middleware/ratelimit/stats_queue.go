package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

const (
	DefaultStatsBuffer  = 1024
	DefaultStatsTimeout = 250 * time.Millisecond
)

// statsQueue tira a gravação de estatísticas do caminho da requisição.
//
// push nunca bloqueia: com a fila cheia o evento é descartado. Um único
// goroutine drena a fila e cada Record recebe seu próprio prazo, então um
// Redis travado atrasa só as estatísticas, nunca a decisão de admissão.
type statsQueue struct {
	store   domain.StatsStore
	events  chan domain.StatsEvent
	timeout time.Duration
	logger  *slog.Logger
	dropLog *rate.Sometimes
}

func newStatsQueue(store domain.StatsStore, size int, timeout time.Duration, logger *slog.Logger) *statsQueue {
	q := &statsQueue{
		store:   store,
		events:  make(chan domain.StatsEvent, size),
		timeout: timeout,
		logger:  logger,
		dropLog: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	go q.drain()
	return q
}

func (q *statsQueue) push(ev domain.StatsEvent) {
	select {
	case q.events <- ev:
	default:
		q.dropLog.Do(func() {
			q.logger.Warn("stats: fila cheia, evento descartado", "buffer", cap(q.events))
		})
	}
}

func (q *statsQueue) drain() {
	for ev := range q.events {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.store.Record(ctx, ev)
		cancel()
		if err != nil {
			q.logger.Debug("stats: falha ao registrar", "err", err)
		}
	}
}
