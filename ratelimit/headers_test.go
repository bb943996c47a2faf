package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riot-gatekeeper/ratelimit/domain"
)

func riotHeaders(pairs map[string]string) http.Header {
	h := http.Header{}
	for k, v := range pairs {
		h.Set(k, v)
	}
	return h
}

func TestParseLimits_EmitsOneEntryPerScopeAndWindow(t *testing.T) {
	h := riotHeaders(map[string]string{
		"Date":                      "Tue, 01 Apr 2025 18:15:26 GMT",
		"X-App-Rate-Limit":          "100:120,20:1",
		"X-App-Rate-Limit-Count":    "20:120,2:1",
		"X-Method-Rate-Limit":       "50:10",
		"X-Method-Rate-Limit-Count": "20:10",
	})

	entries, err := HeaderParser{}.ParseLimits(h, domain.RoutingEUW1, "/lol/summoner")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, domain.LimitApplication, entries[0].LimitType)
	assert.Equal(t, 120, entries[0].WindowSec)
	assert.Equal(t, 100, entries[0].CountLimit)
	assert.Equal(t, 20, entries[0].Count)

	assert.Equal(t, domain.LimitApplication, entries[1].LimitType)
	assert.Equal(t, 1, entries[1].WindowSec)
	assert.Equal(t, 20, entries[1].CountLimit)
	assert.Equal(t, 2, entries[1].Count)

	assert.Equal(t, domain.LimitMethod, entries[2].LimitType)
	assert.Equal(t, 10, entries[2].WindowSec)
	assert.Equal(t, 50, entries[2].CountLimit)
	assert.Equal(t, 20, entries[2].Count)

	for _, e := range entries {
		assert.Equal(t, domain.SourceHeaders, e.Source)
		assert.Equal(t, time.Date(2025, 4, 1, 18, 15, 26, 0, time.UTC), e.RequestTime.UTC())
	}
}

func TestParseLimits_MissingCountHeaderDefaultsToZero(t *testing.T) {
	h := riotHeaders(map[string]string{"X-App-Rate-Limit": "100:120"})

	entries, err := HeaderParser{}.ParseLimits(h, domain.RoutingEUW1, "/lol/summoner")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Count)
}

func TestParseLimits_WindowMissingFromCountDefaultsToZero(t *testing.T) {
	h := riotHeaders(map[string]string{
		"X-App-Rate-Limit":       "100:120,20:1",
		"X-App-Rate-Limit-Count": "7:120",
	})

	entries, err := HeaderParser{}.ParseLimits(h, domain.RoutingEUW1, "/lol/summoner")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 7, entries[0].Count)
	assert.Equal(t, 0, entries[1].Count)
}

func TestParseLimits_ScopeOmittedWhenLimitAbsent(t *testing.T) {
	h := riotHeaders(map[string]string{
		"X-Method-Rate-Limit":       "50:10",
		"X-Method-Rate-Limit-Count": "1:10",
	})

	entries, err := HeaderParser{}.ParseLimits(h, domain.RoutingEUW1, "/lol/summoner")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LimitMethod, entries[0].LimitType)
}

func TestParseLimits_BothScopesAbsentIsStructuredError(t *testing.T) {
	h := riotHeaders(map[string]string{"Date": "Tue, 01 Apr 2025 18:15:26 GMT"})

	_, err := HeaderParser{}.ParseLimits(h, domain.RoutingEUW1, "/lol/summoner")
	assert.ErrorIs(t, err, domain.ErrNoLimitHeaders)
}

func TestParseLimits_MalformedPairIsError(t *testing.T) {
	for _, raw := range []string{"100", "abc:120", "100:0", "100:-1", "100:120,,"} {
		h := riotHeaders(map[string]string{"X-App-Rate-Limit": raw})
		_, err := HeaderParser{}.ParseLimits(h, domain.RoutingEUW1, "/lol/summoner")
		assert.ErrorIs(t, err, domain.ErrHeaderMalformed, "raw=%q", raw)
	}
}

func TestParseLimits_BadDateIsError(t *testing.T) {
	h := riotHeaders(map[string]string{
		"Date":             "yesterday-ish",
		"X-App-Rate-Limit": "100:120",
	})
	_, err := HeaderParser{}.ParseLimits(h, domain.RoutingEUW1, "/lol/summoner")
	assert.ErrorIs(t, err, domain.ErrHeaderMalformed)
}

func TestExtractCooldown_AllHeadersPresent(t *testing.T) {
	h := riotHeaders(map[string]string{
		"Date":              "Wed, 02 Apr 2025 18:00:00 GMT",
		"Retry-After":       "120",
		"X-Rate-Limit-Type": "application",
	})
	now := time.Date(2025, 4, 2, 18, 0, 1, 0, time.UTC)

	e, err := HeaderParser{}.ExtractCooldown(h, domain.RoutingEUW1, "/lol/summoner", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitApplication, e.LimitType)
	assert.Equal(t, 120, e.RetryAfter)
	assert.Equal(t, time.Date(2025, 4, 2, 18, 0, 0, 0, time.UTC), e.RequestTime.UTC())
	assert.Empty(t, e.Endpoint, "application cooldown covers the whole route")
}

func TestExtractCooldown_Defaults(t *testing.T) {
	now := time.Date(2025, 4, 2, 18, 0, 0, 0, time.UTC)

	e, err := HeaderParser{}.ExtractCooldown(http.Header{}, domain.RoutingEUW1, "/lol/summoner", now, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitService, e.LimitType, "missing type defaults to service")
	assert.Equal(t, now, e.RequestTime, "missing date defaults to now")
	assert.Equal(t, 1800, e.RetryAfter, "missing retry-after defaults to the cap")
}

func TestExtractCooldown_MethodKeepsEndpoint(t *testing.T) {
	h := riotHeaders(map[string]string{"X-Rate-Limit-Type": "method"})
	now := time.Now()

	e, err := HeaderParser{}.ExtractCooldown(h, domain.RoutingEUW1, "/lol/summoner", now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "/lol/summoner", e.Endpoint)
}

func TestExtractCooldown_RejectsUnknownType(t *testing.T) {
	h := riotHeaders(map[string]string{"X-Rate-Limit-Type": "tenant"})
	_, err := HeaderParser{}.ExtractCooldown(h, domain.RoutingEUW1, "/lol/summoner", time.Now(), time.Hour)
	assert.ErrorIs(t, err, domain.ErrHeaderMalformed)
}

func TestExtractCooldown_RejectsBadRetryAfter(t *testing.T) {
	h := riotHeaders(map[string]string{"Retry-After": "soon"})
	_, err := HeaderParser{}.ExtractCooldown(h, domain.RoutingEUW1, "/lol/summoner", time.Now(), time.Hour)
	assert.ErrorIs(t, err, domain.ErrHeaderMalformed)
}

func TestHasCooldownDirectives(t *testing.T) {
	full := riotHeaders(map[string]string{
		"Date":              "Wed, 02 Apr 2025 18:00:00 GMT",
		"Retry-After":       "120",
		"X-Rate-Limit-Type": "application",
	})
	assert.True(t, HasCooldownDirectives(full))

	partial := riotHeaders(map[string]string{"Retry-After": "120"})
	assert.False(t, HasCooldownDirectives(partial))
}
