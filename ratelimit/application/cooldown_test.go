package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"riot-gatekeeper/ratelimit/domain"
	"riot-gatekeeper/ratelimit/infra"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 4, 2, 18, 0, 1, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func cooldownEntry(t *testing.T, lt domain.LimitType, endpoint string, requestTime time.Time, retryAfter int) domain.Entry {
	t.Helper()
	e, err := domain.NewEntry(domain.Entry{
		Routing:     domain.RoutingEUW1,
		Endpoint:    endpoint,
		LimitType:   lt,
		RequestTime: requestTime,
		RetryAfter:  retryAfter,
		Source:      domain.SourceHeaders,
	})
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return e
}

func TestCooldown_MaybeSetInstallsAdjustedTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := infra.NewMemoryStore(infra.WithMemoryClock(clock))
	svc := CooldownService{Store: store}

	// Date um segundo atrás do now local, retry-after 120
	requestTime := clock.Now().Add(-time.Second)
	e := cooldownEntry(t, domain.LimitApplication, "", requestTime, 120)

	if err := svc.MaybeSet(ctx, e, clock.Now()); err != nil {
		t.Fatalf("maybe set: %v", err)
	}

	dec, err := svc.Status(ctx, domain.RoutingEUW1, "/lol/summoner")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected throttle while cooldown alive")
	}
	got := dec.Entries[0]
	if got.Source != domain.SourceCooldown || got.LimitType != domain.LimitApplication {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.TTL < 118 || got.TTL > 120 {
		t.Fatalf("expected ttl in [118,120], got %d", got.TTL)
	}
}

func TestCooldown_MaybeSetSkipsIncompleteDirectives(t *testing.T) {
	ctx := context.Background()
	store := infra.NewMemoryStore()
	svc := CooldownService{Store: store}

	// sem retry-after nem date: no-op
	e := domain.Entry{Routing: domain.RoutingEUW1, LimitType: domain.LimitApplication, Source: domain.SourceHeaders}
	if err := svc.MaybeSet(ctx, e, time.Now()); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}

	dec, err := svc.Status(ctx, domain.RoutingEUW1, "/lol/summoner")
	if err != nil || !dec.Allowed {
		t.Fatalf("expected allow, got %+v err=%v", dec, err)
	}
}

func TestCooldown_MaybeSetSwallowsImplausibleTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := infra.NewMemoryStore(infra.WithMemoryClock(clock))
	svc := CooldownService{Store: store, MaxTTL: time.Hour}

	// já vencido: request_time + retry_after fica atrás do now
	stale := cooldownEntry(t, domain.LimitApplication, "", clock.Now().Add(-5*time.Minute), 60)
	if err := svc.MaybeSet(ctx, stale, clock.Now()); err != nil {
		t.Fatalf("stale ttl must be swallowed, got %v", err)
	}

	// skew grosseiro: acima do teto
	skewed := cooldownEntry(t, domain.LimitApplication, "", clock.Now().Add(2*time.Hour), 600)
	if err := svc.MaybeSet(ctx, skewed, clock.Now()); err != nil {
		t.Fatalf("oversized ttl must be swallowed, got %v", err)
	}

	dec, err := svc.Status(ctx, domain.RoutingEUW1, "/lol/summoner")
	if err != nil || !dec.Allowed {
		t.Fatalf("nothing may have been written, got %+v err=%v", dec, err)
	}
}

func TestCooldown_StatusPicksLargestTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := infra.NewMemoryStore(infra.WithMemoryClock(clock))
	svc := CooldownService{Store: store}

	requestTime := clock.Now()
	for _, spec := range []struct {
		lt         domain.LimitType
		endpoint   string
		retryAfter int
	}{
		{domain.LimitApplication, "", 120},
		{domain.LimitService, "", 240},
		{domain.LimitMethod, "/lol/summoner", 60},
	} {
		e := cooldownEntry(t, spec.lt, spec.endpoint, requestTime, spec.retryAfter)
		if err := svc.MaybeSet(ctx, e, clock.Now()); err != nil {
			t.Fatalf("maybe set %s: %v", spec.lt, err)
		}
	}

	dec, err := svc.Status(ctx, domain.RoutingEUW1, "/lol/summoner")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if dec.Allowed || len(dec.Entries) != 1 {
		t.Fatalf("expected single throttle entry, got %+v", dec)
	}
	got := dec.Entries[0]
	if got.LimitType != domain.LimitService {
		t.Fatalf("service held the longest cooldown, got %s", got.LimitType)
	}
	if got.TTL < 238 || got.TTL > 240 {
		t.Fatalf("expected ttl around 239, got %d", got.TTL)
	}
}

func TestCooldown_ExpiredCooldownAllows(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := infra.NewMemoryStore(infra.WithMemoryClock(clock))
	svc := CooldownService{Store: store}

	e := cooldownEntry(t, domain.LimitApplication, "", clock.Now(), 120)
	if err := svc.MaybeSet(ctx, e, clock.Now()); err != nil {
		t.Fatalf("maybe set: %v", err)
	}

	clock.Advance(121 * time.Second)

	dec, err := svc.Status(ctx, domain.RoutingEUW1, "/lol/summoner")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("cooldown expired, expected allow, got %+v", dec)
	}
	if len(dec.Entries) != 1 || dec.Entries[0].Source != domain.SourceCooldown {
		t.Fatalf("allow carries the synthetic cooldown entry, got %+v", dec.Entries)
	}
}
