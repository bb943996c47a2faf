package riotclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"riot-gatekeeper/ratelimit"
	"riot-gatekeeper/ratelimit/domain"
	"riot-gatekeeper/ratelimit/infra"
)

// ErrBusy indica pool de chamadas outbound esgotado dentro do timeout de
// aquisição. Diferente de throttle: o gargalo é local, não do upstream.
var ErrBusy = errors.New("outbound slot pool exhausted")

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type Options struct {
	// Limiter é obrigatório.
	Limiter *ratelimit.RateLimit

	// Token vai no X-Riot-Token de toda requisição.
	Token string

	HTTP *http.Client

	// MaxConcurrent limita chamadas simultâneas ao upstream. <= 0 usa 100.
	MaxConcurrent int64

	// AcquireTimeout limita a espera por vaga. <= 0 espera o ctx.
	AcquireTimeout time.Duration

	// BaseURL monta o host por routing; o default aponta para
	// https://<routing>.api.riotgames.com (override em teste).
	BaseURL func(domain.Routing) string

	Log *slog.Logger
}

type Client struct {
	limiter        *ratelimit.RateLimit
	token          string
	http           *http.Client
	pool           domain.SlotPool
	acquireTimeout time.Duration
	baseURL        func(domain.Routing) string
	log            *slog.Logger
}

func New(opts Options) *Client {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 100
	}
	if opts.BaseURL == nil {
		opts.BaseURL = func(r domain.Routing) string {
			return "https://" + string(r) + ".api.riotgames.com"
		}
	}
	if opts.Log == nil {
		opts.Log = discardLog
	}
	return &Client{
		limiter:        opts.Limiter,
		token:          opts.Token,
		http:           opts.HTTP,
		pool:           infra.NewSemPool(opts.MaxConcurrent),
		acquireTimeout: opts.AcquireTimeout,
		baseURL:        opts.BaseURL,
		log:            opts.Log,
	}
}

// EndpointOf normaliza o path para o prefixo de endpoint que particiona os
// limites de method: os dois primeiros segmentos
// ("/lol/summoner/v4/summoners/..." vira "/lol/summoner").
func EndpointOf(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 2 {
		return "/" + trimmed
	}
	return "/" + parts[0] + "/" + parts[1]
}

// Get executa um GET rate-limitado em (routing, path).
//
// O corpo fica por conta do chamador (inclusive Close); status não-2xx não
// vira erro aqui — 429 e 5xx ainda carregam headers que o Refresh precisa
// digerir.
func (c *Client) Get(ctx context.Context, routing domain.Routing, path string) (*http.Response, error) {
	endpoint := EndpointOf(path)

	release, ok := c.acquire(ctx)
	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrBusy
	}
	defer release()

	dec, err := c.limiter.Hit(ctx, routing, endpoint)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		src := domain.Source("")
		if len(dec.Entries) > 0 {
			src = dec.Entries[0].Source
		}
		return nil, &domain.ThrottledError{
			Routing:    routing,
			Endpoint:   endpoint,
			Source:     src,
			RetryAfter: dec.RetryIn(),
		}
	}

	reqID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(routing)+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Riot-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("riot api call: %w", err)
	}

	if _, rerr := c.limiter.Refresh(ctx, resp.Header, routing, endpoint); rerr != nil {
		// a resposta em si ainda vale; só perdemos a observação
		c.log.Warn("refresh after response failed",
			"request_id", reqID,
			"routing", string(routing),
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"err", rerr)
	}

	c.log.Debug("riot api call done",
		"request_id", reqID,
		"routing", string(routing),
		"path", path,
		"status", resp.StatusCode)
	return resp, nil
}

// acquire segue a mesma regra do serviço de concorrência do gateway:
// timeout <= 0 espera o ctx, timeout > 0 limita a espera.
func (c *Client) acquire(ctx context.Context) (func(), bool) {
	if c.acquireTimeout <= 0 {
		return c.pool.Acquire(ctx)
	}
	acqCtx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
	defer cancel()
	return c.pool.Acquire(acqCtx)
}
