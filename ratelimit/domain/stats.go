package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão já tomada.
//
// Observação: cuidado com cardinalidade (routing × endpoint costuma ser
// pequeno na Riot, mas Endpoint sem normalização explodiria as séries).
type StatsEvent struct {
	Routing  Routing
	Endpoint string
	Allowed  bool
	Source   Source

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de decisão.
//
// Implementações podem armazenar em Redis, memória, etc. O façade trata
// erro como best-effort (não derruba a admissão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// MetricsSink recebe observações operacionais do limiter. A implementação
// nula descarta tudo.
type MetricsSink interface {
	ObserveDecision(outcome string, source Source)
	ObserveStoreOp(op string, d time.Duration, err error)
}
