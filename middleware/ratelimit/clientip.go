package ratelimit

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

type ctxKey int

const clientIPKey ctxKey = iota

// WithClientIP anexa ao contexto o IP do cliente já resolvido por um
// middleware anterior. Esse valor tem prioridade sobre headers e peer.
func WithClientIP(ctx context.Context, ip netip.Addr) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func ClientIPFromContext(ctx context.Context) (netip.Addr, bool) {
	ip, ok := ctx.Value(clientIPKey).(netip.Addr)
	return ip, ok && ip.IsValid()
}

// PeerAddr extrai o IP do peer físico (r.RemoteAddr). Nunca olha headers.
func PeerAddr(r *http.Request) (netip.Addr, bool) {
	raw := strings.TrimSpace(r.RemoteAddr)
	if raw == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// ClientIPResolver decide qual IP representa o cliente.
//
// Ordem: contexto (WithClientIP) > headers, só se o peer for proxy confiável
// (CF-Connecting-IP, primeiro hop do X-Forwarded-For, X-Real-IP) > peer.
// Valor de header que não parseia é ignorado e o próximo é tentado.
type ClientIPResolver struct {
	Trust domain.ProxyTrust
}

func (c ClientIPResolver) Resolve(r *http.Request) (netip.Addr, domain.KeySource, bool) {
	if ip, ok := ClientIPFromContext(r.Context()); ok {
		return ip, domain.SourceExtension, true
	}
	return c.fromRequest(r)
}

// fromRequest resolve apenas com headers/peer, ignorando o contexto.
func (c ClientIPResolver) fromRequest(r *http.Request) (netip.Addr, domain.KeySource, bool) {
	peer, ok := PeerAddr(r)
	if !ok {
		return netip.Addr{}, domain.SourceUnknown, false
	}
	if c.Trust == nil || !c.Trust.IsTrusted(peer) {
		return peer, domain.SourcePeer, true
	}

	if ip, ok := parseHeaderIP(r.Header.Get("CF-Connecting-IP")); ok {
		return ip, domain.SourceCFConnectingIP, true
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := parseHeaderIP(first); ok {
			return ip, domain.SourceXForwardedFor, true
		}
	}
	if ip, ok := parseHeaderIP(r.Header.Get("X-Real-IP")); ok {
		return ip, domain.SourceXRealIP, true
	}
	return peer, domain.SourcePeer, true
}

func parseHeaderIP(v string) (netip.Addr, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return netip.Addr{}, false
	}
	ip, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

type ProxyOptions struct {
	Trust domain.ProxyTrust
	// ForwardHeader, se definido, é sobrescrito na requisição com o IP resolvido
	// (ex.: "X-Client-IP" para a aplicação a jusante).
	ForwardHeader string
}

// ProxyMiddleware resolve o IP do cliente (headers/peer) e o anexa ao contexto
// para os handlers seguintes.
func ProxyMiddleware(opts ProxyOptions) func(next http.Handler) http.Handler {
	resolver := ClientIPResolver{Trust: opts.Trust}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, ok := resolver.Resolve(r)
			if ok {
				r = r.WithContext(WithClientIP(r.Context(), ip))
				if opts.ForwardHeader != "" {
					r.Header.Set(opts.ForwardHeader, ip.String())
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
