package application

import (
	"context"
	"log/slog"
	"time"

	"riot-gatekeeper/ratelimit/domain"
)

// DefaultBlindLatchTTL limita por quanto tempo um nó segura o direito
// exclusivo de blind request. Se o vencedor morrer antes do refresh, outro
// nó tenta de novo depois disso.
const DefaultBlindLatchTTL = 5 * time.Second

// AdmissionService é o motor de decisão: cooldown primeiro, depois
// política, depois o check-and-increment atômico.
type AdmissionService struct {
	Policy   *PolicyService
	Cooldown CooldownService
	Store    domain.Store
	Log      *slog.Logger

	BlindLatchTTL time.Duration
}

func (s AdmissionService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return discardLog
}

func (s AdmissionService) latchTTL() time.Duration {
	if s.BlindLatchTTL > 0 {
		return s.BlindLatchTTL
	}
	return DefaultBlindLatchTTL
}

// Hit decide uma chamada outbound para (routing, endpoint).
//
// Cadeia ordenada:
//  1. cooldown ativo nega na hora;
//  2. política desconhecida vira blind request — um nó da frota ganha o
//     allow de descoberta, os demais seguram até o refresh instalar a
//     política;
//  3. política conhecida passa pelo check-and-increment atômico.
func (s AdmissionService) Hit(ctx context.Context, routing domain.Routing, endpoint string) (domain.Decision, error) {
	dec, err := s.Cooldown.Status(ctx, routing, endpoint)
	if err != nil {
		return domain.Decision{}, err
	}
	if !dec.Allowed {
		return dec, nil
	}

	known, err := s.Policy.Known(ctx, routing, endpoint)
	if err != nil {
		return domain.Decision{}, err
	}
	if !known {
		blind := domain.Entry{
			Routing:  routing,
			Endpoint: endpoint,
			Source:   domain.SourcePolicy,
		}
		won, err := s.Store.AcquireBlindLatch(ctx, routing, endpoint, s.latchTTL())
		if err != nil {
			return domain.Decision{}, err
		}
		if won {
			s.log().Info("admitting blind request to discover policy",
				"routing", string(routing), "endpoint", endpoint)
			return domain.Allow(blind), nil
		}
		return domain.Throttle(blind), nil
	}

	entries, err := s.Policy.Fetch(ctx, routing, endpoint)
	if err != nil {
		return domain.Decision{}, err
	}
	return s.Policy.Enforce(ctx, entries)
}
