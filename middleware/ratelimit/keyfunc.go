package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// BearerToken extrai o token de "Authorization: Bearer <token>".
// O esquema é comparado sem diferenciar maiúsculas.
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Fingerprint é o SHA-256 do token em hex. O token cru nunca vira chave nem log.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// KeyResolver monta a chave do bucket conforme a KeyPolicy.
//
//   - ip: IP > fingerprint > "unknown"
//   - auth: fingerprint > IP > "unknown"
//   - auth+ip: "auth:<fp>|ip:<ip>"; com um só sinal, usa só ele
//
// No auth+ip a queda para um único sinal muda a granularidade do limite sem
// aviso (clientes sem token passam a dividir o bucket por IP).
type KeyResolver struct {
	IPs ClientIPResolver
}

func (k KeyResolver) Resolve(r *http.Request, policy domain.KeyPolicy) domain.ClientIdentity {
	ip, ipSource, hasIP := k.IPs.Resolve(r)
	token, hasToken := BearerToken(r)

	var fp string
	if hasToken {
		fp = Fingerprint(token)
	}

	byIP := func() domain.ClientIdentity {
		return domain.ClientIdentity{Key: domain.Key(ip.String()), Type: domain.KeyTypeIP, Source: ipSource}
	}
	byAuth := func() domain.ClientIdentity {
		return domain.ClientIdentity{Key: domain.Key(fp), Type: domain.KeyTypeAuth, Source: domain.SourceAuthorization}
	}

	switch policy {
	case domain.PolicyAuth:
		if hasToken {
			return byAuth()
		}
		if hasIP {
			return byIP()
		}
	case domain.PolicyAuthIP:
		switch {
		case hasToken && hasIP:
			return domain.ClientIdentity{
				Key:    domain.Key("auth:" + fp + "|ip:" + ip.String()),
				Type:   domain.KeyTypeAuthIP,
				Source: domain.SourceAuthorization + "+" + ipSource,
			}
		case hasToken:
			return byAuth()
		case hasIP:
			return byIP()
		}
	default:
		if hasIP {
			return byIP()
		}
		if hasToken {
			return byAuth()
		}
	}
	return domain.ClientIdentity{Key: domain.UnknownKey, Type: domain.KeyTypeUnknown, Source: domain.SourceUnknown}
}
