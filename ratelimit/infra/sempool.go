package infra

import (
	"context"

	"golang.org/x/sync/semaphore"

	"riot-gatekeeper/ratelimit/domain"
)

type semPool struct {
	sem *semaphore.Weighted
}

// NewSemPool cria um pool de vagas sobre semaphore.Weighted com capacidade
// `max`. É o limite de chamadas outbound concorrentes do cliente.
func NewSemPool(max int64) domain.SlotPool {
	return &semPool{sem: semaphore.NewWeighted(max)}
}

func (p *semPool) Acquire(ctx context.Context) (func(), bool) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	return func() { p.sem.Release(1) }, true
}
