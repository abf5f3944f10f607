package domain

import "context"

// SlotPool controla as vagas de requisições já admitidas pelo rate limit que
// podem estar ao mesmo tempo na aplicação a jusante.
//
// A vaga fica presa enquanto o handler a jusante roda, inclusive até o prazo
// de HandlerTimeout estourar. Acquire desiste quando o ctx encerra (timeout de
// aquisição ou cliente desconectado) e devolve ok=false sem vaga.
//
// release pode ser chamado mais de uma vez; só a primeira chamada libera.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	// InUse conta as vagas ocupadas agora.
	InUse() int
}
