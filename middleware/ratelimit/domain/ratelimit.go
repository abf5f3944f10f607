package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"strings"
	"time"
)

type Key string

// KeyPolicy define qual sinal compõe a chave do bucket.
type KeyPolicy string

const (
	PolicyIP     KeyPolicy = "ip"
	PolicyAuth   KeyPolicy = "auth"
	PolicyAuthIP KeyPolicy = "auth+ip"
)

// ParseKeyPolicy normaliza o valor vindo do ambiente.
// Valores desconhecidos retornam ok=false para o chamador aplicar o padrão.
func ParseKeyPolicy(s string) (KeyPolicy, bool) {
	switch p := KeyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyIP, PolicyAuth, PolicyAuthIP:
		return p, true
	default:
		return "", false
	}
}

// Action é o que fazer quando o bucket nega a requisição.
type Action string

const (
	// ActionBlock responde 429 com envelope JSON e Retry-After.
	ActionBlock Action = "block"
	// ActionDrop responde 204 sem corpo e fecha a conexão.
	ActionDrop Action = "drop"
)

func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBlock, ActionDrop:
		return a, true
	default:
		return "", false
	}
}

const (
	DefaultRate        = 100.0
	DefaultTTL         = 300 * time.Second
	DefaultRequestCost = 1.0
)

// RuntimeConfig é um snapshot imutável dos parâmetros ajustáveis.
// Cada requisição enxerga exatamente um snapshot.
type RuntimeConfig struct {
	Rate        float64 // tokens por segundo
	Burst       float64 // capacidade máxima do bucket
	KeyPolicy   KeyPolicy
	Action      Action
	TTL         time.Duration // inatividade até o Reaper remover o bucket
	RequestCost float64

	// TrustedProxies é o CSV cru, aplicado no TrustStore via Sync.
	TrustedProxies string

	Debug      bool
	DebugToken string
}

// DefaultRuntimeConfig retorna os valores documentados para quando nada está configurado.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Rate:        DefaultRate,
		Burst:       2 * DefaultRate,
		KeyPolicy:   PolicyIP,
		Action:      ActionBlock,
		TTL:         DefaultTTL,
		RequestCost: DefaultRequestCost,
	}
}

// ConfigSource fornece o snapshot corrente sem bloquear o caminho quente.
type ConfigSource interface {
	Current() RuntimeConfig
}

// ConsumeResult é o retorno de um consume no bucket.
// Remaining e Limit já vêm arredondados para baixo (apenas exibição).
type ConsumeResult struct {
	Allowed   bool
	Remaining int64
	Limit     int64
}

// BucketStore aplica refill-and-consume em um bucket por chave.
//
// Chaves diferentes não se bloqueiam; a mesma chave é serializada.
type BucketStore interface {
	Consume(key Key, cost float64, cfg RuntimeConfig) ConsumeResult
}

type Decision struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	Action    Action
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
