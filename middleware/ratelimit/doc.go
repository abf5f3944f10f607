// Package ratelimit fornece adapters HTTP (net/http) para a camada de admissão:
// rate limit por identidade do cliente e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (buckets, reaper, proxies confiáveis, config, stats)
//   - ratelimit (este pacote): middlewares HTTP, resolução de identidade,
//     tradução para status/headers e introspecção
//
// Fluxo por requisição:
//
//  1. O peer físico decide se headers de proxy são confiáveis (TrustStore)
//  2. A identidade é resolvida conforme a política (ip, auth, auth+ip)
//  3. O snapshot de config corrente define rate, burst, custo e ação
//  4. O bucket da chave é consumido; a decisão volta com limit/remaining
//  5. Negado: 429 + envelope JSON (block) ou 204 e conexão fechada (drop)
//  6. Permitido: chama o próximo handler (ex: reverse proxy)
//
// Política auth+ip: com só um dos sinais presente, a chave cai para esse sinal
// sozinho. Isso muda a granularidade do limite sem aviso: clientes sem token
// atrás do mesmo IP passam a dividir o mesmo bucket.
//
// As variáveis RATE_LIMIT_* e TRUSTED_PROXIES são lidas por infra.EnvConfig.
package ratelimit
