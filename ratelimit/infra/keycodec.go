package infra

import (
	"fmt"
	"strconv"
	"strings"

	"riot-gatekeeper/ratelimit/domain"
)

// KeyKind identifica um dos templates de chave do store.
type KeyKind string

const (
	KindPolicyLimit          KeyKind = "policy_limit"
	KindPolicyWindows        KeyKind = "policy_windows"
	KindLiveCounter          KeyKind = "live_counter"
	KindAuthoritativeCounter KeyKind = "authoritative_counter"
	KindCooldown             KeyKind = "cooldown"
)

// Layout das chaves (contrato externo — dashboards de devops dependem dele):
//
//	riot:v1:policy:<route>:<endpoint>:<type>:windows
//	riot:v1:policy:<route>:<endpoint>:<type>:window:<W>:limit
//	riot:v1:authoritative:<route>:<endpoint>:<type>:window:<W>
//	lol_api:v1:live:<route>:<endpoint>:<type>:window:<W>
//	lol_api:v1:cooldown:<route>[:<endpoint>]:<type>
//
// O endpoint só entra na chave de cooldown quando o escopo é method.
const (
	nsPolicy  = "riot"
	nsRuntime = "lol_api"
	version   = "v1"

	modePolicy        = "policy"
	modeAuthoritative = "authoritative"
	modeLive          = "live"
	modeCooldown      = "cooldown"
	modeBlind         = "blind"
)

// EncodeKey monta a chave do store para o kind a partir da entry.
func EncodeKey(kind KeyKind, e domain.Entry) (string, error) {
	if !e.Routing.Valid() {
		return "", fmt.Errorf("%w: encode with routing %q", domain.ErrInvariant, string(e.Routing))
	}

	switch kind {
	case KindPolicyWindows:
		if err := needEndpointAndType(e); err != nil {
			return "", err
		}
		return join(nsPolicy, version, modePolicy, string(e.Routing), e.Endpoint, string(e.LimitType), "windows"), nil

	case KindPolicyLimit:
		if err := needEndpointAndType(e); err != nil {
			return "", err
		}
		if e.WindowSec <= 0 {
			return "", fmt.Errorf("%w: policy limit key without window", domain.ErrInvariant)
		}
		return join(nsPolicy, version, modePolicy, string(e.Routing), e.Endpoint, string(e.LimitType),
			"window", strconv.Itoa(e.WindowSec), "limit"), nil

	case KindLiveCounter, KindAuthoritativeCounter:
		if err := needEndpointAndType(e); err != nil {
			return "", err
		}
		if e.WindowSec <= 0 {
			return "", fmt.Errorf("%w: counter key without window", domain.ErrInvariant)
		}
		ns, mode := nsRuntime, modeLive
		if kind == KindAuthoritativeCounter {
			ns, mode = nsPolicy, modeAuthoritative
		}
		return join(ns, version, mode, string(e.Routing), e.Endpoint, string(e.LimitType),
			"window", strconv.Itoa(e.WindowSec)), nil

	case KindCooldown:
		switch e.LimitType {
		case domain.LimitApplication, domain.LimitService:
			return join(nsRuntime, version, modeCooldown, string(e.Routing), string(e.LimitType)), nil
		case domain.LimitMethod:
			if e.Endpoint == "" {
				return "", fmt.Errorf("%w: method cooldown key without endpoint", domain.ErrInvariant)
			}
			return join(nsRuntime, version, modeCooldown, string(e.Routing), e.Endpoint, string(e.LimitType)), nil
		}
		return "", fmt.Errorf("%w: cooldown key with limit type %q", domain.ErrInvariant, string(e.LimitType))
	}
	return "", fmt.Errorf("%w: unknown key kind %q", domain.ErrInvariant, string(kind))
}

// BlindLatchKey é interna ao runtime (não faz parte do contrato de decode).
func BlindLatchKey(routing domain.Routing, endpoint string) string {
	return join(nsRuntime, version, modeBlind, string(routing), endpoint)
}

// DecodeKey é o inverso exato de EncodeKey. Chaves fora dos templates
// conhecidos falham com ErrBadKey.
//
// As formas de cooldown são resolvidas pelo segmento de modo antes das
// formas genéricas com janela; uma chave de 5 ou 6 partes nunca cai nos
// outros ramos por acidente.
func DecodeKey(key string) (KeyKind, domain.Entry, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 5 {
		return "", domain.Entry{}, badKey(key)
	}
	ns, ver, mode := parts[0], parts[1], parts[2]
	if ver != version {
		return "", domain.Entry{}, badKey(key)
	}

	switch {
	case ns == nsRuntime && mode == modeCooldown:
		return decodeCooldown(key, parts)

	case ns == nsRuntime && mode == modeLive:
		if len(parts) != 8 || parts[6] != "window" {
			return "", domain.Entry{}, badKey(key)
		}
		e, err := decodeWindowed(key, parts, domain.SourceLive)
		return KindLiveCounter, e, err

	case ns == nsPolicy && mode == modeAuthoritative:
		if len(parts) != 8 || parts[6] != "window" {
			return "", domain.Entry{}, badKey(key)
		}
		e, err := decodeWindowed(key, parts, domain.SourceHeaders)
		return KindAuthoritativeCounter, e, err

	case ns == nsPolicy && mode == modePolicy:
		// política só existe para application e method
		if len(parts) >= 6 && domain.LimitType(parts[5]) == domain.LimitService {
			return "", domain.Entry{}, badKey(key)
		}
		switch {
		case len(parts) == 7 && parts[6] == "windows":
			e, err := newDecoded(key, parts[3], parts[4], parts[5], 0, domain.SourcePolicy)
			return KindPolicyWindows, e, err
		case len(parts) == 9 && parts[6] == "window" && parts[8] == "limit":
			w, convErr := strconv.Atoi(parts[7])
			if convErr != nil || w <= 0 {
				return "", domain.Entry{}, badKey(key)
			}
			e, err := newDecoded(key, parts[3], parts[4], parts[5], w, domain.SourcePolicy)
			return KindPolicyLimit, e, err
		}
		return "", domain.Entry{}, badKey(key)
	}
	return "", domain.Entry{}, badKey(key)
}

func decodeCooldown(key string, parts []string) (KeyKind, domain.Entry, error) {
	switch len(parts) {
	case 5:
		lt := domain.LimitType(parts[4])
		if lt != domain.LimitApplication && lt != domain.LimitService {
			return "", domain.Entry{}, badKey(key)
		}
		e, err := newDecoded(key, parts[3], "", parts[4], 0, domain.SourceCooldown)
		return KindCooldown, e, err
	case 6:
		if domain.LimitType(parts[5]) != domain.LimitMethod {
			return "", domain.Entry{}, badKey(key)
		}
		e, err := newDecoded(key, parts[3], parts[4], parts[5], 0, domain.SourceCooldown)
		return KindCooldown, e, err
	}
	return "", domain.Entry{}, badKey(key)
}

func decodeWindowed(key string, parts []string, src domain.Source) (domain.Entry, error) {
	w, err := strconv.Atoi(parts[7])
	if err != nil || w <= 0 {
		return domain.Entry{}, badKey(key)
	}
	// service não tem contador; uma chave dessas é lixo
	if domain.LimitType(parts[5]) == domain.LimitService {
		return domain.Entry{}, badKey(key)
	}
	return newDecoded(key, parts[3], parts[4], parts[5], w, src)
}

// newDecoded monta a entry parcial de uma chave. A chave não carrega
// count/limit, então a validação aqui é só dos segmentos: routing e escopo
// precisam ser valores conhecidos.
func newDecoded(key, routing, endpoint, limitType string, window int, src domain.Source) (domain.Entry, error) {
	r := domain.Routing(routing)
	if !r.Valid() {
		return domain.Entry{}, badKey(key)
	}
	switch domain.LimitType(limitType) {
	case domain.LimitApplication, domain.LimitMethod, domain.LimitService:
	default:
		return domain.Entry{}, badKey(key)
	}
	return domain.Entry{
		Routing:   r,
		Endpoint:  endpoint,
		LimitType: domain.LimitType(limitType),
		WindowSec: window,
		Source:    src,
	}, nil
}

func needEndpointAndType(e domain.Entry) error {
	if e.Endpoint == "" {
		return fmt.Errorf("%w: key without endpoint", domain.ErrInvariant)
	}
	switch e.LimitType {
	case domain.LimitApplication, domain.LimitMethod:
		return nil
	}
	return fmt.Errorf("%w: key with limit type %q", domain.ErrInvariant, string(e.LimitType))
}

func join(parts ...string) string { return strings.Join(parts, ":") }

func badKey(key string) error {
	return fmt.Errorf("%w: %q", domain.ErrBadKey, key)
}
