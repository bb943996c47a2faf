package application

import (
	"context"
	"io"
	"log/slog"
	"time"

	"riot-gatekeeper/ratelimit/domain"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// DefaultMaxCooldownTTL é o teto de qualquer cooldown quando a configuração
// não diz outra coisa. Acima disso o valor é tratado como skew de relógio.
const DefaultMaxCooldownTTL = time.Hour

// CooldownService cuida do back-off unilateral imposto pelo upstream.
type CooldownService struct {
	Store  domain.Store
	Log    *slog.Logger
	MaxTTL time.Duration
}

func (s CooldownService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return discardLog
}

func (s CooldownService) MaxTTLOrDefault() time.Duration {
	if s.MaxTTL > 0 {
		return s.MaxTTL
	}
	return DefaultMaxCooldownTTL
}

// MaybeSet grava o cooldown extraído dos headers de um 429.
//
// O TTL é ajustado para o relógio local: o Date do upstream diz quando a
// janela começou, o now local diz quando ela deve acabar aqui. TTL fora de
// (0, MaxTTL] é skew grosseiro: loga e engole — é o único erro benigno do
// núcleo.
func (s CooldownService) MaybeSet(ctx context.Context, e domain.Entry, now time.Time) error {
	if e.RetryAfter <= 0 || e.RequestTime.IsZero() {
		return nil
	}

	adjusted := int(e.RequestTime.Add(time.Duration(e.RetryAfter) * time.Second).Sub(now) / time.Second)
	if adjusted <= 0 || adjusted > int(s.MaxTTLOrDefault()/time.Second) {
		s.log().Warn("dropping cooldown with implausible ttl",
			"adjusted_ttl", adjusted,
			"retry_after", e.RetryAfter,
			"routing", string(e.Routing),
			"limit_type", string(e.LimitType))
		return nil
	}

	withTTL, err := e.Update(func(e *domain.Entry) { e.AdjustedTTL = adjusted })
	if err != nil {
		return err
	}
	return s.Store.CooldownSet(ctx, withTTL)
}

// Status decide se (routing, endpoint) está em cooldown: das três variantes
// de escopo, vale a de maior TTL positivo. Sem nenhuma viva, devolve allow
// com a entry sintética de cooldown.
func (s CooldownService) Status(ctx context.Context, routing domain.Routing, endpoint string) (domain.Decision, error) {
	alive, err := s.Store.CooldownProbe(ctx, routing, endpoint)
	if err != nil {
		return domain.Decision{}, err
	}
	if len(alive) == 0 {
		return domain.Allow(domain.Entry{
			Routing:  routing,
			Endpoint: endpoint,
			Source:   domain.SourceCooldown,
		}), nil
	}

	longest := alive[0]
	for _, e := range alive[1:] {
		if e.TTL > longest.TTL {
			longest = e
		}
	}
	return domain.Throttle(longest), nil
}
