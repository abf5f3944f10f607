// Package application contém os casos de uso (regras de aplicação) para admissão
// e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(key, cfg) retorna uma Decision (allow/deny, remaining,
// limit, ação e retry-after).
package application
