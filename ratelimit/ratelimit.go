package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"riot-gatekeeper/ratelimit/application"
	"riot-gatekeeper/ratelimit/domain"
	"riot-gatekeeper/ratelimit/infra"
)

// Options configura o façade. Só Store é obrigatório.
type Options struct {
	Store domain.Store

	// Stats recebe cada decisão, best-effort (erro não derruba a admissão).
	Stats domain.StatsStore

	// Metrics recebe observações operacionais; nil descarta.
	Metrics domain.MetricsSink

	// Clock permite injetar o relógio em teste (o `now` por chamada).
	Clock domain.Clock

	Log *slog.Logger

	// MaxCooldownTTL é o teto de qualquer cooldown; acima disso o valor é
	// tratado como skew de relógio e descartado.
	MaxCooldownTTL time.Duration

	// BlindLatchTTL limita a exclusividade da blind request por nó.
	BlindLatchTTL time.Duration
}

// RateLimit compõe política, cooldown e admissão em duas operações:
// Hit antes da chamada outbound, Refresh depois dela.
type RateLimit struct {
	store     domain.Store
	parser    HeaderParser
	policy    *application.PolicyService
	cooldown  application.CooldownService
	admission application.AdmissionService

	stats   domain.StatsStore
	metrics domain.MetricsSink
	clock   domain.Clock
	log     *slog.Logger
}

func New(opts Options) *RateLimit {
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = infra.NoopMetrics{}
	}
	if opts.Log == nil {
		opts.Log = discardLog
	}

	policy := &application.PolicyService{Store: opts.Store}
	cooldown := application.CooldownService{
		Store:  opts.Store,
		Log:    opts.Log,
		MaxTTL: opts.MaxCooldownTTL,
	}
	return &RateLimit{
		store:    opts.Store,
		parser:   HeaderParser{Log: opts.Log},
		policy:   policy,
		cooldown: cooldown,
		admission: application.AdmissionService{
			Policy:        policy,
			Cooldown:      cooldown,
			Store:         opts.Store,
			Log:           opts.Log,
			BlindLatchTTL: opts.BlindLatchTTL,
		},
		stats:   opts.Stats,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		log:     opts.Log,
	}
}

// Hit decide se a chamada para (routing, endpoint) pode sair agora.
//
// A decisão carrega as entries que a justificam: cooldown ativo, a entry
// sintética de blind request, ou os contadores live pós-incremento.
func (rl *RateLimit) Hit(ctx context.Context, routing domain.Routing, endpoint string) (domain.Decision, error) {
	dec, err := rl.admission.Hit(ctx, routing, endpoint)
	if err != nil {
		return domain.Decision{}, err
	}

	outcome := "throttle"
	if dec.Allowed {
		outcome = "allow"
	}
	src := domain.Source("")
	if len(dec.Entries) > 0 {
		src = dec.Entries[0].Source
	}
	rl.metrics.ObserveDecision(outcome, src)
	if rl.stats != nil {
		_ = rl.stats.Record(ctx, domain.StatsEvent{
			Routing:  routing,
			Endpoint: endpoint,
			Allowed:  dec.Allowed,
			Source:   src,
			At:       rl.clock.Now(),
		})
	}
	return dec, nil
}

// Refresh digere os headers da resposta que acabou de chegar.
//
// Cadeia ordenada de efeitos — cooldown antes de política, para que um 429
// instale o back-off mesmo com registro de política incompleto:
//  1. grava o cooldown se a resposta carrega as três diretivas;
//  2. instala a política na primeira observação;
//  3. espelha as contagens autoritativas do upstream.
//
// Devolve as entries extraídas dos headers.
func (rl *RateLimit) Refresh(ctx context.Context, h http.Header, routing domain.Routing, endpoint string) ([]domain.Entry, error) {
	now := rl.clock.Now()

	var out []domain.Entry
	cooldownSeen := false
	if HasCooldownDirectives(h) {
		ce, err := rl.parser.ExtractCooldown(h, routing, endpoint, now, rl.cooldown.MaxTTLOrDefault())
		if err != nil {
			return nil, err
		}
		if err := rl.cooldown.MaybeSet(ctx, ce, now); err != nil {
			return nil, err
		}
		cooldownSeen = true
		out = append(out, ce)
	}

	entries, err := rl.parser.ParseLimits(h, routing, endpoint)
	if err != nil {
		// um 429 pode vir só com retry-after; o cooldown já foi o
		// trabalho todo dessa resposta
		if errors.Is(err, domain.ErrNoLimitHeaders) && cooldownSeen {
			return out, nil
		}
		return nil, err
	}

	known, err := rl.policy.Known(ctx, routing, endpoint)
	if err != nil {
		return nil, err
	}
	if !known {
		if err := rl.policy.Set(ctx, entries); err != nil {
			return nil, err
		}
		rl.log.Info("policy installed from observed headers",
			"routing", string(routing), "endpoint", endpoint, "entries", len(entries))
	}

	if err := rl.store.AuthoritativeSet(ctx, entries); err != nil {
		return nil, err
	}
	return append(out, entries...), nil
}
