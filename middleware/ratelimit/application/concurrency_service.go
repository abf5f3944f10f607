package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	// HandlerTimeout limita quanto tempo a aplicação a jusante pode segurar a vaga.
	HandlerTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}

// Bound devolve o contexto com o prazo da chamada a jusante.
// Sem HandlerTimeout o contexto volta como está.
func (s ConcurrencyService) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.HandlerTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.HandlerTimeout)
}
