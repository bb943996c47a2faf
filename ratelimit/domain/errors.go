package domain

import "errors"

// Erros sentinela do núcleo. Os chamadores decidem por errors.Is; o texto
// embrulhado carrega o diagnóstico.
var (
	// ErrHeaderMalformed indica gramática de header violada.
	// Sempre retornado, nunca engolido.
	ErrHeaderMalformed = errors.New("rate limit headers malformed")

	// ErrNoLimitHeaders indica resposta sem nenhum header de limite (nem
	// application nem method). Retorno estruturado: o chamador decide —
	// num 429 só com retry-after isso é normal, fora disso é anômalo.
	ErrNoLimitHeaders = errors.New("no rate limit headers present")

	// ErrPolicyNotFound indica fetch de política antes do bootstrap.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrTTLInvalid indica cooldown com TTL <= 0 ou acima do teto.
	// É o único erro benigno: logado e engolido em MaybeSet.
	ErrTTLInvalid = errors.New("cooldown ttl invalid")

	// ErrStoreUnavailable indica falha de transporte/protocolo no store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvariant indica Entry inválida. Bug de programação ou de
	// protocolo; fatal para o chamador, nunca capturado localmente.
	ErrInvariant = errors.New("limit entry invariant violated")

	// ErrBadKey indica uma chave do store que não casa com nenhum template.
	ErrBadKey = errors.New("unrecognized store key")
)
