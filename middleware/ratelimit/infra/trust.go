package infra

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"admission-gateway/middleware/ratelimit/domain"
)

// TrustStore guarda o conjunto de proxies confiáveis (prefixos CIDR).
//
// O conjunto é trocado inteiro via ponteiro atômico: leitores veem o antigo ou
// o novo, nunca um parcial. Conjunto vazio não confia em ninguém.
type TrustStore struct {
	set atomic.Pointer[[]netip.Prefix]

	mu     sync.Mutex
	envRaw string
	synced bool

	logger *slog.Logger
}

func NewTrustStore(csv string, logger *slog.Logger) *TrustStore {
	if logger == nil {
		logger = slog.Default()
	}
	t := &TrustStore{logger: logger}
	t.Sync(csv)
	return t
}

// ParseTrustedProxies converte o CSV em prefixos. IP sem máscara vira /32 ou /128.
// Entradas vazias são ignoradas; entradas inválidas voltam em errs.
func ParseTrustedProxies(csv string) (prefixes []netip.Prefix, errs []error) {
	for _, part := range strings.Split(csv, ",") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %q", domain.ErrInvalidTrustedProxy, s))
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %q", domain.ErrInvalidTrustedProxy, s))
			continue
		}
		a = a.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
	}
	return prefixes, errs
}

// IsTrusted implementa domain.ProxyTrust.
func (t *TrustStore) IsTrusted(peer netip.Addr) bool {
	if !peer.IsValid() {
		return false
	}
	set := t.set.Load()
	if set == nil {
		return false
	}
	peer = peer.Unmap()
	for _, p := range *set {
		if p.Contains(peer) {
			return true
		}
	}
	return false
}

// Replace troca o conjunto inteiro e retorna quantos prefixos ficaram.
// Entradas inválidas são descartadas em silêncio (só log de debug).
func (t *TrustStore) Replace(csv string) int {
	prefixes, errs := ParseTrustedProxies(csv)
	for _, err := range errs {
		t.logger.Debug("trusted proxies: entrada ignorada", "err", err)
	}
	t.set.Store(&prefixes)
	return len(prefixes)
}

// Sync aplica o CSV do ambiente apenas quando ele muda. Assim um Replace
// administrativo sobrevive enquanto a variável de ambiente ficar igual.
func (t *TrustStore) Sync(envCSV string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.synced && envCSV == t.envRaw {
		return
	}
	t.envRaw = envCSV
	t.synced = true
	n := t.Replace(envCSV)
	t.logger.Info("trusted proxies carregados", "count", n)
}

// Prefixes retorna o conjunto atual em texto (diagnóstico).
func (t *TrustStore) Prefixes() []string {
	set := t.set.Load()
	if set == nil {
		return []string{}
	}
	out := make([]string, 0, len(*set))
	for _, p := range *set {
		out = append(out, p.String())
	}
	return out
}
