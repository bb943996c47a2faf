package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riot-gatekeeper/ratelimit/domain"
)

func TestEncodeKey_Templates(t *testing.T) {
	base := domain.Entry{
		Routing:   domain.RoutingEUW1,
		Endpoint:  "/lol/summoner",
		LimitType: domain.LimitApplication,
		WindowSec: 120,
	}

	cases := []struct {
		kind KeyKind
		e    domain.Entry
		want string
	}{
		{KindPolicyWindows, base, "riot:v1:policy:euw1:/lol/summoner:application:windows"},
		{KindPolicyLimit, base, "riot:v1:policy:euw1:/lol/summoner:application:window:120:limit"},
		{KindLiveCounter, base, "lol_api:v1:live:euw1:/lol/summoner:application:window:120"},
		{KindAuthoritativeCounter, base, "riot:v1:authoritative:euw1:/lol/summoner:application:window:120"},
		{KindCooldown, domain.Entry{Routing: domain.RoutingEUW1, LimitType: domain.LimitApplication},
			"lol_api:v1:cooldown:euw1:application"},
		{KindCooldown, domain.Entry{Routing: domain.RoutingEUW1, LimitType: domain.LimitService},
			"lol_api:v1:cooldown:euw1:service"},
		{KindCooldown, domain.Entry{Routing: domain.RoutingEUW1, Endpoint: "/lol/summoner", LimitType: domain.LimitMethod},
			"lol_api:v1:cooldown:euw1:/lol/summoner:method"},
	}
	for _, tc := range cases {
		got, err := EncodeKey(tc.kind, tc.e)
		require.NoError(t, err, "kind %s", tc.kind)
		assert.Equal(t, tc.want, got)
	}
}

func TestEncodeKey_Rejections(t *testing.T) {
	cases := []struct {
		name string
		kind KeyKind
		e    domain.Entry
	}{
		{"unknown routing", KindLiveCounter, domain.Entry{Routing: "mars1", Endpoint: "/x/y", LimitType: domain.LimitMethod, WindowSec: 10}},
		{"counter without window", KindLiveCounter, domain.Entry{Routing: domain.RoutingEUW1, Endpoint: "/x/y", LimitType: domain.LimitMethod}},
		{"counter for service", KindLiveCounter, domain.Entry{Routing: domain.RoutingEUW1, Endpoint: "/x/y", LimitType: domain.LimitService, WindowSec: 10}},
		{"policy without endpoint", KindPolicyWindows, domain.Entry{Routing: domain.RoutingEUW1, LimitType: domain.LimitMethod}},
		{"method cooldown without endpoint", KindCooldown, domain.Entry{Routing: domain.RoutingEUW1, LimitType: domain.LimitMethod}},
		{"unknown kind", KeyKind("lease"), domain.Entry{Routing: domain.RoutingEUW1, Endpoint: "/x/y", LimitType: domain.LimitMethod, WindowSec: 10}},
	}
	for _, tc := range cases {
		_, err := EncodeKey(tc.kind, tc.e)
		assert.ErrorIs(t, err, domain.ErrInvariant, tc.name)
	}
}

func TestDecodeKey_RoundTrip(t *testing.T) {
	entries := []struct {
		kind KeyKind
		e    domain.Entry
	}{
		{KindPolicyWindows, domain.Entry{Routing: domain.RoutingEUW1, Endpoint: "/lol/summoner", LimitType: domain.LimitApplication}},
		{KindPolicyLimit, domain.Entry{Routing: domain.RoutingNA1, Endpoint: "/lol/match", LimitType: domain.LimitMethod, WindowSec: 10}},
		{KindLiveCounter, domain.Entry{Routing: domain.RoutingKR, Endpoint: "/lol/league", LimitType: domain.LimitApplication, WindowSec: 1}},
		{KindAuthoritativeCounter, domain.Entry{Routing: domain.RoutingAmericas, Endpoint: "/riot/account", LimitType: domain.LimitMethod, WindowSec: 600}},
		{KindCooldown, domain.Entry{Routing: domain.RoutingEUW1, LimitType: domain.LimitApplication}},
		{KindCooldown, domain.Entry{Routing: domain.RoutingEUW1, LimitType: domain.LimitService}},
		{KindCooldown, domain.Entry{Routing: domain.RoutingEUW1, Endpoint: "/lol/summoner", LimitType: domain.LimitMethod}},
	}
	for _, tc := range entries {
		key, err := EncodeKey(tc.kind, tc.e)
		require.NoError(t, err)

		kind, decoded, err := DecodeKey(key)
		require.NoError(t, err, "key %s", key)
		assert.Equal(t, tc.kind, kind)
		assert.Equal(t, tc.e.Routing, decoded.Routing)
		assert.Equal(t, tc.e.Endpoint, decoded.Endpoint)
		assert.Equal(t, tc.e.LimitType, decoded.LimitType)
		assert.Equal(t, tc.e.WindowSec, decoded.WindowSec)
	}
}

func TestDecodeKey_RejectsForeignShapes(t *testing.T) {
	bad := []string{
		"",
		"riot",
		"riot:v2:policy:euw1:/lol/summoner:application:windows",
		"riot:v1:policy:euw1:/lol/summoner:application",
		"riot:v1:policy:euw1:/lol/summoner:service:windows",
		"riot:v1:policy:euw1:/lol/summoner:application:window:abc:limit",
		"riot:v1:policy:euw1:/lol/summoner:application:window:0:limit",
		"lol_api:v1:live:euw1:/lol/summoner:service:window:10",
		"lol_api:v1:live:mars1:/lol/summoner:method:window:10",
		"lol_api:v1:cooldown:euw1:method",
		"lol_api:v1:cooldown:euw1:/lol/summoner:application",
		"lol_api:v1:cooldown:euw1:/lol/summoner:method:extra",
		"lol_api:v1:blind:euw1:/lol/summoner",
		"quota:v1:policy:euw1:/lol/summoner:application:windows",
	}
	for _, key := range bad {
		_, _, err := DecodeKey(key)
		assert.ErrorIs(t, err, domain.ErrBadKey, "key %q", key)
	}
}

// Uma chave de cooldown de method tem 6 partes, o mesmo tamanho que formas
// curtas de outros modos; o dispatch por segmento de modo evita a colisão.
func TestDecodeKey_CooldownResolvedByModeSegment(t *testing.T) {
	kind, e, err := DecodeKey("lol_api:v1:cooldown:euw1:/lol/summoner:method")
	require.NoError(t, err)
	assert.Equal(t, KindCooldown, kind)
	assert.Equal(t, domain.LimitMethod, e.LimitType)
	assert.Equal(t, "/lol/summoner", e.Endpoint)
}
