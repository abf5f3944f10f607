package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão de admissão.
//
// Method/Route são strings genéricas (web, gRPC, etc.). Route é um rótulo de
// cardinalidade limitada (padrão de rota), nunca o path cru da requisição.
//
// Observação: cuidado com cardinalidade. Key é a chave já derivada (IP ou
// fingerprint), nunca o token cru, mas ainda assim pode explodir o número de
// séries em Redis/Prometheus se for gravada sem controle.
type StatsEvent struct {
	Key     Key
	Type    KeyType
	Source  KeySource
	Allowed bool
	Action  Action

	Method string
	Route  string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
