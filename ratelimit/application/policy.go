package application

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"riot-gatekeeper/ratelimit/domain"
)

// PolicyService concentra a regra de política: bootstrap preguiçoso a partir
// dos headers observados, leitura e o check-and-increment atômico.
//
// O singleflight colapsa fetches concorrentes do mesmo (routing, endpoint):
// sob rajada, um nó faz uma ida ao store em vez de N idênticas.
type PolicyService struct {
	Store domain.Store

	group singleflight.Group
}

// Known informa se a política já foi instalada para (routing, endpoint) —
// as duas camadas, application e method, numa checagem só.
func (s *PolicyService) Known(ctx context.Context, routing domain.Routing, endpoint string) (bool, error) {
	return s.Store.PolicyKnown(ctx, routing, endpoint)
}

// Fetch devolve uma entry SourcePolicy por (limit_type, janela), na ordem
// application depois method (a ordem de desempate do throttle).
func (s *PolicyService) Fetch(ctx context.Context, routing domain.Routing, endpoint string) ([]domain.Entry, error) {
	v, err, _ := s.group.Do(string(routing)+"|"+endpoint, func() (interface{}, error) {
		return s.Store.PolicyFetch(ctx, routing, endpoint)
	})
	if err != nil {
		return nil, err
	}
	entries, ok := v.([]domain.Entry)
	if !ok {
		return nil, fmt.Errorf("%w: policy fetch result", domain.ErrStoreUnavailable)
	}
	return entries, nil
}

// Set instala a política observada. Chamar de novo com os mesmos headers
// reescreve os mesmos valores — idempotente por construção.
func (s *PolicyService) Set(ctx context.Context, entries []domain.Entry) error {
	policy := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		p, err := e.Update(func(e *domain.Entry) {
			e.Count = 0
			e.Source = domain.SourcePolicy
		})
		if err != nil {
			return err
		}
		policy = append(policy, p)
	}
	return s.Store.PolicySet(ctx, policy)
}

// Enforce delega o check-and-increment atômico ao store. Entries devem vir
// de Fetch; a ordem delas é a ordem de desempate do throttle.
func (s *PolicyService) Enforce(ctx context.Context, entries []domain.Entry) (domain.Decision, error) {
	return s.Store.EnforceAndIncrement(ctx, entries)
}
