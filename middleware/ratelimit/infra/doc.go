// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - BucketStore: token bucket contínuo por chave, mapa particionado por xxhash
//   - Reaper: remoção periódica de buckets ociosos
//   - TrustStore: prefixos de proxies confiáveis (troca atômica)
//   - EnvConfig: snapshot da configuração lida do ambiente
//   - MemoryStatsStore / RedisStatsStore / PromStats: estatísticas best-effort
//   - NewSlotPool: vagas do limite de concorrência (semáforo em channel)
package infra
