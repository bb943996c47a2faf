package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"riot-gatekeeper/ratelimit"
	"riot-gatekeeper/ratelimit/domain"
	"riot-gatekeeper/ratelimit/infra"
	"riot-gatekeeper/riotclient"
)

// gatekeeper expõe a API da Riot atrás do limiter distribuído:
// GET /riot/{routing}/{path...} sai para o upstream só se a admissão
// permitir, e cada resposta realimenta a política.
func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.redisAddr,
		Password:    cfg.redisPassword,
		DB:          cfg.redisDB,
		PoolSize:    cfg.redisPoolSize,
		PoolTimeout: cfg.redisPoolTimeout,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err = rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		log.Fatalf("redis ping error: %v", err)
	}

	metrics := infra.NewPromMetrics(prometheus.DefaultRegisterer)

	var stats domain.StatsStore
	if cfg.statsEnabled {
		stats = infra.NewRedisStatsStore(rdb)
	}

	limiter := ratelimit.New(ratelimit.Options{
		Store:          infra.NewRedisStore(rdb, infra.WithRedisLogger(logger), infra.WithRedisMetrics(metrics)),
		Stats:          stats,
		Metrics:        metrics,
		Log:            logger,
		MaxCooldownTTL: cfg.maxCooldownTTL,
		BlindLatchTTL:  cfg.blindLatchTTL,
	})

	client := riotclient.New(riotclient.Options{
		Limiter:        limiter,
		Token:          cfg.riotToken,
		MaxConcurrent:  cfg.maxConcurrent,
		AcquireTimeout: cfg.acquireTimeout,
		Log:            logger,
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /riot/{routing}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		routing, err := domain.ParseRouting(r.PathValue("routing"))
		if err != nil {
			http.Error(w, "unknown routing value", http.StatusBadRequest)
			return
		}

		resp, err := client.Get(r.Context(), routing, "/"+r.PathValue("path"))
		if err != nil {
			var throttled *domain.ThrottledError
			switch {
			case errors.As(err, &throttled):
				w.Header().Set("Retry-After", strconv.Itoa(int(throttled.RetryAfter.Seconds())))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			case errors.Is(err, riotclient.ErrBusy):
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			default:
				logger.Error("upstream call failed", "err", err)
				http.Error(w, "bad gateway", http.StatusBadGateway)
			}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("gatekeeper listening on %s (redis %s)", cfg.listenAddr, cfg.redisAddr)
	log.Printf("limits: maxCooldownTTL=%s blindLatchTTL=%s maxConcurrent=%d acquireTimeout=%s",
		cfg.maxCooldownTTL, cfg.blindLatchTTL, cfg.maxConcurrent, cfg.acquireTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr string
	riotToken  string

	redisAddr        string
	redisPassword    string
	redisDB          int
	redisPoolSize    int
	redisPoolTimeout time.Duration

	maxCooldownTTL time.Duration
	blindLatchTTL  time.Duration
	maxConcurrent  int64
	acquireTimeout time.Duration
	statsEnabled   bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.riotToken = os.Getenv("RIOT_TOKEN")
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPoolSize = getenvIntDefault("REDIS_POOL_SIZE", 10)
	cfg.redisPoolTimeout = getenvDurationDefault("REDIS_POOL_TIMEOUT", 4*time.Second)
	cfg.maxCooldownTTL = getenvDurationDefault("MAX_COOLDOWN_TTL", time.Hour)
	cfg.blindLatchTTL = getenvDurationDefault("BLIND_LATCH_TTL", 5*time.Second)
	cfg.maxConcurrent = int64(getenvIntDefault("MAX_CONCURRENT", 100))
	cfg.acquireTimeout = getenvDurationDefault("ACQUIRE_TIMEOUT", 0)
	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)

	if cfg.riotToken == "" {
		return config{}, errors.New("RIOT_TOKEN is required")
	}
	if cfg.redisPoolSize <= 0 {
		return config{}, errors.New("REDIS_POOL_SIZE must be > 0")
	}
	if cfg.maxCooldownTTL <= 0 {
		return config{}, errors.New("MAX_COOLDOWN_TTL must be > 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
