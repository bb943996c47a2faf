package domain

import "fmt"

// Routing é o token regional da Riot que compõe o host upstream
// (ex: euw1.api.riotgames.com) e particiona todos os contadores.
type Routing string

const (
	RoutingBR1  Routing = "br1"
	RoutingEUN1 Routing = "eun1"
	RoutingEUW1 Routing = "euw1"
	RoutingJP1  Routing = "jp1"
	RoutingKR   Routing = "kr"
	RoutingLA1  Routing = "la1"
	RoutingLA2  Routing = "la2"
	RoutingNA1  Routing = "na1"
	RoutingOC1  Routing = "oc1"
	RoutingPH2  Routing = "ph2"
	RoutingRU   Routing = "ru"
	RoutingSG2  Routing = "sg2"
	RoutingTH2  Routing = "th2"
	RoutingTR1  Routing = "tr1"
	RoutingTW2  Routing = "tw2"
	RoutingVN2  Routing = "vn2"

	RoutingAmericas Routing = "americas"
	RoutingAsia     Routing = "asia"
	RoutingEurope   Routing = "europe"
	RoutingSEA      Routing = "sea"
)

var knownRoutings = map[Routing]struct{}{
	RoutingBR1: {}, RoutingEUN1: {}, RoutingEUW1: {}, RoutingJP1: {},
	RoutingKR: {}, RoutingLA1: {}, RoutingLA2: {}, RoutingNA1: {},
	RoutingOC1: {}, RoutingPH2: {}, RoutingRU: {}, RoutingSG2: {},
	RoutingTH2: {}, RoutingTR1: {}, RoutingTW2: {}, RoutingVN2: {},
	RoutingAmericas: {}, RoutingAsia: {}, RoutingEurope: {}, RoutingSEA: {},
}

// ParseRouting rejeita valores desconhecidos na borda; depois disso o
// resto do código confia no tipo.
func ParseRouting(s string) (Routing, error) {
	r := Routing(s)
	if _, ok := knownRoutings[r]; !ok {
		return "", fmt.Errorf("%w: routing %q", ErrInvariant, s)
	}
	return r, nil
}

// Valid informa se o routing é um dos conhecidos.
func (r Routing) Valid() bool {
	_, ok := knownRoutings[r]
	return ok
}

// LimitType é o escopo de quota imposto pelo upstream.
//
// application e method têm política + contadores; service só existe como
// cooldown (o upstream nunca publica números para ele).
type LimitType string

const (
	LimitApplication LimitType = "application"
	LimitMethod      LimitType = "method"
	LimitService     LimitType = "service"
)

// ParseLimitType rejeita escopos desconhecidos (valores novos do upstream
// precisam ser adicionados explicitamente, não aceitos às cegas).
func ParseLimitType(s string) (LimitType, error) {
	switch LimitType(s) {
	case LimitApplication, LimitMethod, LimitService:
		return LimitType(s), nil
	}
	return "", fmt.Errorf("%w: limit type %q", ErrHeaderMalformed, s)
}

// Source indica a proveniência de uma Entry.
type Source string

const (
	SourceHeaders  Source = "headers"
	SourcePolicy   Source = "policy"
	SourceLive     Source = "live"
	SourceCooldown Source = "cooldown"
)
