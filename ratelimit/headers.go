package ratelimit

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"riot-gatekeeper/ratelimit/domain"
)

// Headers consumidos do upstream (nomes case-insensitive via http.Header).
const (
	HeaderDate          = "Date"
	HeaderRetryAfter    = "Retry-After"
	HeaderRateLimitType = "X-Rate-Limit-Type"
	HeaderAppLimit      = "X-App-Rate-Limit"
	HeaderAppCount      = "X-App-Rate-Limit-Count"
	HeaderMethodLimit   = "X-Method-Rate-Limit"
	HeaderMethodCount   = "X-Method-Rate-Limit-Count"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// HeaderParser converte os headers de resposta do upstream em entries.
//
// É a única peça que conhece a gramática `LIMIT ":" WINDOW ("," ...)` da
// Riot; daqui para baixo só circulam entries validadas.
type HeaderParser struct {
	Log *slog.Logger
}

func (p HeaderParser) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return discardLog
}

type limitPair struct {
	limit  int
	window int
}

// ParseLimits emite uma entry por (limit_type, janela) a partir dos headers
// de declaração e contagem.
//
// Regras de desempate:
//   - header de contagem ausente com header de limite presente: contagem 0,
//     com warning;
//   - janela presente no limite mas não na contagem: contagem 0;
//   - ambos os headers de um escopo ausentes: escopo omitido;
//   - todos os escopos ausentes: erro estruturado (o chamador decide).
func (p HeaderParser) ParseLimits(h http.Header, routing domain.Routing, endpoint string) ([]domain.Entry, error) {
	requestTime, err := headerDate(h)
	if err != nil {
		return nil, err
	}

	appEntries, err := p.parseScope(h, routing, endpoint, domain.LimitApplication, HeaderAppLimit, HeaderAppCount, requestTime)
	if err != nil {
		return nil, err
	}
	methodEntries, err := p.parseScope(h, routing, endpoint, domain.LimitMethod, HeaderMethodLimit, HeaderMethodCount, requestTime)
	if err != nil {
		return nil, err
	}

	if len(appEntries) == 0 && len(methodEntries) == 0 {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNoLimitHeaders, routing, endpoint)
	}
	return append(appEntries, methodEntries...), nil
}

func (p HeaderParser) parseScope(h http.Header, routing domain.Routing, endpoint string, lt domain.LimitType,
	limitHeader, countHeader string, requestTime time.Time) ([]domain.Entry, error) {

	limitRaw := h.Get(limitHeader)
	if limitRaw == "" {
		return nil, nil
	}
	limits, err := parsePairs(limitHeader, limitRaw)
	if err != nil {
		return nil, err
	}

	counts := map[int]int{}
	if countRaw := h.Get(countHeader); countRaw != "" {
		countPairs, err := parsePairs(countHeader, countRaw)
		if err != nil {
			return nil, err
		}
		for _, cp := range countPairs {
			counts[cp.window] = cp.limit
		}
	} else {
		p.log().Warn("count header absent, assuming zero counts",
			"header", countHeader, "routing", string(routing), "endpoint", endpoint)
	}

	entries := make([]domain.Entry, 0, len(limits))
	for _, lp := range limits {
		if lp.limit == 0 {
			return nil, fmt.Errorf("%w: %s declares zero limit", domain.ErrHeaderMalformed, limitHeader)
		}
		e, err := domain.NewEntry(domain.Entry{
			Routing:     routing,
			Endpoint:    endpoint,
			LimitType:   lt,
			WindowSec:   lp.window,
			CountLimit:  lp.limit,
			Count:       counts[lp.window],
			RequestTime: requestTime,
			Source:      domain.SourceHeaders,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// HasCooldownDirectives informa se a resposta carrega os três headers que
// disparam a escrita de cooldown (retry-after, tipo e date).
func HasCooldownDirectives(h http.Header) bool {
	return h.Get(HeaderRetryAfter) != "" && h.Get(HeaderRateLimitType) != "" && h.Get(HeaderDate) != ""
}

// ExtractCooldown monta a entry de back-off de um 429, preenchendo os
// defaults: tipo ausente vira service, date ausente vira now, retry-after
// ausente vira o teto maxTTL.
func (p HeaderParser) ExtractCooldown(h http.Header, routing domain.Routing, endpoint string,
	now time.Time, maxTTL time.Duration) (domain.Entry, error) {

	lt := domain.LimitService
	if raw := h.Get(HeaderRateLimitType); raw != "" {
		var err error
		lt, err = domain.ParseLimitType(raw)
		if err != nil {
			return domain.Entry{}, err
		}
	}

	requestTime, err := headerDate(h)
	if err != nil {
		return domain.Entry{}, err
	}
	if requestTime.IsZero() {
		requestTime = now
	}

	retryAfter := int(maxTTL / time.Second)
	if raw := h.Get(HeaderRetryAfter); raw != "" {
		retryAfter, err = strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || retryAfter <= 0 {
			return domain.Entry{}, fmt.Errorf("%w: retry-after %q", domain.ErrHeaderMalformed, raw)
		}
	}

	ep := endpoint
	if lt != domain.LimitMethod {
		// cooldown de application/service cobre a rota inteira
		ep = ""
	}
	return domain.NewEntry(domain.Entry{
		Routing:     routing,
		Endpoint:    ep,
		LimitType:   lt,
		RequestTime: requestTime,
		RetryAfter:  retryAfter,
		Source:      domain.SourceHeaders,
	})
}

func headerDate(h http.Header) (time.Time, error) {
	raw := h.Get(HeaderDate)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", domain.ErrHeaderMalformed, raw)
	}
	return t, nil
}

// parsePairs lê a gramática `LIMIT ":" WINDOW ("," LIMIT ":" WINDOW)*`.
func parsePairs(header, raw string) ([]limitPair, error) {
	fields := strings.Split(raw, ",")
	pairs := make([]limitPair, 0, len(fields))
	for _, f := range fields {
		limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(f), ":")
		if !ok {
			return nil, fmt.Errorf("%w: %s value %q", domain.ErrHeaderMalformed, header, raw)
		}
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("%w: %s value %q", domain.ErrHeaderMalformed, header, raw)
		}
		window, err := strconv.Atoi(windowStr)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("%w: %s value %q", domain.ErrHeaderMalformed, header, raw)
		}
		pairs = append(pairs, limitPair{limit: limit, window: window})
	}
	return pairs, nil
}
