// Package accesslog registra uma linha estruturada (slog) por requisição e
// propaga um X-Request-ID para a aplicação a jusante.
package accesslog

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

type ctxKey int

const loggerKey ctxKey = 0

// NewContext guarda o logger da requisição no contexto.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext devolve o logger da requisição ou slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Recorder captura status e bytes escritos.
type Recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *Recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *Recorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Flush repassa para o writer original (streaming pelo reverse proxy).
func (r *Recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *Recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *Recorder) Status() int { return r.status }
func (r *Recorder) Bytes() int  { return r.bytes }

// Middleware gera (ou reaproveita) o request id, coloca um logger com os campos
// da requisição no contexto e registra status, bytes, latência e as chaves de
// admissão (X-Key-Type/X-Key-Source) quando presentes.
func Middleware(base *slog.Logger) func(next http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(HeaderRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
				r.Header.Set(HeaderRequestID, reqID)
			}
			w.Header().Set(HeaderRequestID, reqID)

			l := base.With("request_id", reqID, "method", r.Method, "path", r.URL.Path)
			r = r.WithContext(NewContext(r.Context(), l))

			rec := NewRecorder(w)
			start := time.Now()
			next.ServeHTTP(rec, r)

			l.Info("request",
				"status", rec.Status(),
				"bytes", rec.Bytes(),
				"latency_ms", time.Since(start).Milliseconds(),
				"key_type", rec.Header().Get("X-Key-Type"),
				"key_source", rec.Header().Get("X-Key-Source"),
			)
		})
	}
}
