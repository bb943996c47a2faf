package infra_test

import (
	"context"
	"net/http"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"riot-gatekeeper/ratelimit"
	"riot-gatekeeper/ratelimit/domain"
	"riot-gatekeeper/ratelimit/infra"
)

// End-to-end do ciclo bootstrap -> hit -> throttle contra um Redis efêmero.
// Pula quando não há runtime de containers por perto.
func TestEndToEnd_AgainstContainerizedRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("skipping: cannot start redis container (%v)", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("container endpoint: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	rl := ratelimit.New(ratelimit.Options{
		Store: infra.NewRedisStore(client),
	})

	h := http.Header{}
	h.Set("Date", "Tue, 01 Apr 2025 18:15:26 GMT")
	h.Set("X-App-Rate-Limit", "100:120,2:60")
	h.Set("X-App-Rate-Limit-Count", "0:120,0:60")
	h.Set("X-Method-Rate-Limit", "50:600")
	h.Set("X-Method-Rate-Limit-Count", "0:600")

	if _, err := rl.Refresh(ctx, h, domain.RoutingEUW1, "/lol/summoner"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	for i := 0; i < 2; i++ {
		dec, err := rl.Hit(ctx, domain.RoutingEUW1, "/lol/summoner")
		if err != nil || !dec.Allowed {
			t.Fatalf("hit %d: %+v err=%v", i+1, dec, err)
		}
	}

	dec, err := rl.Hit(ctx, domain.RoutingEUW1, "/lol/summoner")
	if err != nil {
		t.Fatalf("third hit: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected throttle on the 2-per-60s window")
	}
	off := dec.Entries[0]
	if off.Source != domain.SourceLive || off.CountLimit != 2 || off.Count != 2 {
		t.Fatalf("unexpected offending entry: %+v", off)
	}
}
