package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// riotstub imita o comportamento de rate limit da API da Riot para
// validação local do gatekeeper: publica os headers X-App-Rate-Limit /
// X-Method-Rate-Limit com contagens reais e devolve 429 + Retry-After
// quando o próprio limiter interno estoura.
func main() {
	addr := getenvDefault("LISTEN_ADDR", ":9090")
	appLimits := getenvDefault("APP_LIMITS", "100:120,20:1")
	methodLimits := getenvDefault("METHOD_LIMITS", "50:10")

	app, err := parseLimits(appLimits)
	if err != nil {
		log.Fatalf("invalid APP_LIMITS: %v", err)
	}
	method, err := parseLimits(methodLimits)
	if err != nil {
		log.Fatalf("invalid METHOD_LIMITS: %v", err)
	}

	stub := &stubServer{
		app:     app,
		methods: map[string]*windowSet{},
		methodT: method,
		// o gate de rajada usa a janela mais curta de application
		gate: rate.NewLimiter(rateOf(app[0]), app[0].limit),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", stub.handle)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("riotstub listening on %s (app=%s method=%s)", addr, appLimits, methodLimits)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type limitSpec struct {
	limit  int
	window int // segundos
}

func rateOf(s limitSpec) rate.Limit {
	return rate.Limit(float64(s.limit) / float64(s.window))
}

// windowSet mantém as contagens correntes de um conjunto de janelas, do
// jeito que a Riot as publica nos headers *-Count.
type windowSet struct {
	specs  []limitSpec
	counts []int
	resets []time.Time
}

func newWindowSet(specs []limitSpec) *windowSet {
	return &windowSet{
		specs:  specs,
		counts: make([]int, len(specs)),
		resets: make([]time.Time, len(specs)),
	}
}

// bump avança as janelas e devolve os pares count:window formatados.
func (ws *windowSet) bump(now time.Time) string {
	parts := make([]string, len(ws.specs))
	for i, s := range ws.specs {
		if now.After(ws.resets[i]) {
			ws.counts[i] = 0
			ws.resets[i] = now.Add(time.Duration(s.window) * time.Second)
		}
		ws.counts[i]++
		parts[i] = strconv.Itoa(ws.counts[i]) + ":" + strconv.Itoa(s.window)
	}
	return strings.Join(parts, ",")
}

func formatSpecs(specs []limitSpec) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = strconv.Itoa(s.limit) + ":" + strconv.Itoa(s.window)
	}
	return strings.Join(parts, ",")
}

type stubServer struct {
	mu      sync.Mutex
	app     []limitSpec
	appSet  *windowSet
	methods map[string]*windowSet
	methodT []limitSpec
	gate    *rate.Limiter
}

func (s *stubServer) handle(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	endpoint := endpointOf(r.URL.Path)

	s.mu.Lock()
	defer s.mu.Unlock()

	h := w.Header()
	h.Set("Date", now.UTC().Format(http.TimeFormat))
	h.Set("X-App-Rate-Limit", formatSpecs(s.app))
	h.Set("X-Method-Rate-Limit", formatSpecs(s.methodT))

	if !s.gate.Allow() {
		h.Set("X-Rate-Limit-Type", "application")
		h.Set("Retry-After", strconv.Itoa(s.app[0].window))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	if s.appSet == nil {
		s.appSet = newWindowSet(s.app)
	}
	ms, ok := s.methods[endpoint]
	if !ok {
		ms = newWindowSet(s.methodT)
		s.methods[endpoint] = ms
	}
	h.Set("X-App-Rate-Limit-Count", s.appSet.bump(now))
	h.Set("X-Method-Rate-Limit-Count", ms.bump(now))

	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"stub":true}`))
}

func endpointOf(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 2 {
		return "/" + trimmed
	}
	return "/" + parts[0] + "/" + parts[1]
}

func parseLimits(raw string) ([]limitSpec, error) {
	fields := strings.Split(raw, ",")
	specs := make([]limitSpec, 0, len(fields))
	for _, f := range fields {
		limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(f), ":")
		if !ok {
			return nil, errors.New("expected LIMIT:WINDOW pairs")
		}
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return nil, errors.New("limit must be a positive integer")
		}
		window, err := strconv.Atoi(windowStr)
		if err != nil || window <= 0 {
			return nil, errors.New("window must be a positive integer")
		}
		specs = append(specs, limitSpec{limit: limit, window: window})
	}
	return specs, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
