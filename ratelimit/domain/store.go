package domain

import (
	"context"
	"time"
)

// Store é o contrato de persistência compartilhada do limiter.
//
// As implementações (Redis em produção, memória em teste) falam em Entry;
// a codificação de chaves é detalhe delas. Toda operação multi-chave é
// atômica na implementação — o chamador nunca vê escrita parcial.
type Store interface {
	// PolicyKnown informa se existe política instalada para application E
	// method em (routing, endpoint), numa única checagem de existência.
	PolicyKnown(ctx context.Context, routing Routing, endpoint string) (bool, error)

	// PolicyFetch devolve uma entry SourcePolicy por (limit_type, janela).
	// Falha com ErrPolicyNotFound se qualquer camada estiver ausente.
	PolicyFetch(ctx context.Context, routing Routing, endpoint string) ([]Entry, error)

	// PolicySet instala a política observada nos headers: uma chave de
	// janelas por escopo mais uma chave de limite por janela, numa única
	// escrita atômica.
	PolicySet(ctx context.Context, entries []Entry) error

	// EnforceAndIncrement é o caminho quente: sonda todos os contadores e,
	// só se todos estiverem abaixo do teto, incrementa todos. Linearizável
	// no store. O throttle devolve a primeira chave ofensora na ordem das
	// entries de entrada.
	EnforceAndIncrement(ctx context.Context, entries []Entry) (Decision, error)

	// CooldownSet grava o back-off com valor e expiração iguais ao
	// AdjustedTTL da entry.
	CooldownSet(ctx context.Context, e Entry) error

	// CooldownProbe devolve uma entry SourceCooldown por variante de
	// escopo (application, service, method) cujo TTL ainda é positivo.
	CooldownProbe(ctx context.Context, routing Routing, endpoint string) ([]Entry, error)

	// AcquireBlindLatch tenta adquirir o direito de fazer a blind request
	// de (routing, endpoint). Só um nó vence por ttl.
	AcquireBlindLatch(ctx context.Context, routing Routing, endpoint string, ttl time.Duration) (bool, error)

	// AuthoritativeSet grava os contadores autoritativos observados nos
	// headers do upstream (valor = count, expiração = janela).
	AuthoritativeSet(ctx context.Context, entries []Entry) error
}
