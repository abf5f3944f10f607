package ratelimit

import (
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// HandlerTimeout é o prazo dado ao próximo handler (ex.: reverse proxy para
	// a aplicação). O contexto da requisição é cancelado quando estoura.
	HandlerTimeout time.Duration
}

// ConcurrencyMiddleware limita quantas requisições admitidas chegam juntas na
// aplicação a jusante e, opcionalmente, o tempo que cada uma pode levar.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 && opts.HandlerTimeout <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	svc := application.ConcurrencyService{
		AcquireTimeout: opts.AcquireTimeout,
		HandlerTimeout: opts.HandlerTimeout,
	}
	if opts.Max > 0 {
		svc.Pool = infra.NewSlotPool(opts.Max)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			ctx, cancel := svc.Bound(r.Context())
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
