package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

// slotPool é um semáforo em channel: cada vaga ocupada é um elemento no buffer.
type slotPool struct {
	slots chan struct{}
}

// NewSlotPool cria o pool de vagas do limite de concorrência do gateway.
// size <= 0 vira 1.
func NewSlotPool(size int) domain.SlotPool {
	return &slotPool{slots: make(chan struct{}, max(size, 1))}
}

func (p *slotPool) Acquire(ctx context.Context) (func(), bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	select {
	case p.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.slots }) }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *slotPool) InUse() int { return len(p.slots) }
