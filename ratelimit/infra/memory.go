package infra

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"riot-gatekeeper/ratelimit/domain"
)

// MemoryStore é uma implementação de domain.Store em memória, com expiração
// por chave e limpeza periódica. Útil para testes e desenvolvimento; um
// processo só, então o mutex único dá a mesma atomicidade que o script Lua
// dá no Redis.
//
// Usa as mesmas chaves do RedisStore (via EncodeKey), então os testes de
// semântica valem para os dois.
type MemoryStore struct {
	mu           sync.Mutex
	values       map[string]memVal
	clock        domain.Clock
	cleanupEvery time.Duration
}

type memVal struct {
	raw       string
	expiresAt time.Time // zero = nunca expira
}

type MemoryOption func(*MemoryStore)

// WithMemoryClock troca o relógio (teste).
func WithMemoryClock(c domain.Clock) MemoryOption {
	return func(s *MemoryStore) { s.clock = c }
}

func WithMemoryCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		values:       make(map[string]memVal),
		clock:        domain.SystemClock{},
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// get já resolve expiração preguiçosamente, como o Redis faz.
func (s *MemoryStore) get(key string) (string, bool) {
	v, ok := s.values[key]
	if !ok {
		return "", false
	}
	if !v.expiresAt.IsZero() && !s.clock.Now().Before(v.expiresAt) {
		delete(s.values, key)
		return "", false
	}
	return v.raw, true
}

func (s *MemoryStore) set(key, raw string, ttl time.Duration) {
	v := memVal{raw: raw}
	if ttl > 0 {
		v.expiresAt = s.clock.Now().Add(ttl)
	}
	s.values[key] = v
}

func (s *MemoryStore) ttlOf(key string) (time.Duration, bool) {
	v, ok := s.values[key]
	if !ok {
		return 0, false
	}
	if v.expiresAt.IsZero() {
		return 0, true
	}
	left := v.expiresAt.Sub(s.clock.Now())
	if left <= 0 {
		delete(s.values, key)
		return 0, false
	}
	return left, true
}

func (s *MemoryStore) PolicyKnown(_ context.Context, routing domain.Routing, endpoint string) (bool, error) {
	keys, err := policyWindowsKeys(routing, endpoint)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if _, ok := s.get(k); !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *MemoryStore) PolicyFetch(_ context.Context, routing domain.Routing, endpoint string) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.Entry
	for _, lt := range []domain.LimitType{domain.LimitApplication, domain.LimitMethod} {
		base := domain.Entry{Routing: routing, Endpoint: endpoint, LimitType: lt}
		wk, err := EncodeKey(KindPolicyWindows, base)
		if err != nil {
			return nil, err
		}
		raw, ok := s.get(wk)
		if !ok {
			return nil, fmt.Errorf("%w: windows for %s %s %s", domain.ErrPolicyNotFound, routing, endpoint, lt)
		}
		windows, err := parseWindowList(raw)
		if err != nil {
			return nil, err
		}
		for _, w := range windows {
			sk := base
			sk.WindowSec = w
			lk, err := EncodeKey(KindPolicyLimit, sk)
			if err != nil {
				return nil, err
			}
			rawLimit, ok := s.get(lk)
			if !ok {
				return nil, fmt.Errorf("%w: limit key %s", domain.ErrPolicyNotFound, lk)
			}
			limit, convErr := strconv.Atoi(rawLimit)
			if convErr != nil || limit <= 0 {
				return nil, fmt.Errorf("%w: limit key %s holds %q", domain.ErrPolicyNotFound, lk, rawLimit)
			}
			e, err := domain.NewEntry(domain.Entry{
				Routing: routing, Endpoint: endpoint, LimitType: lt,
				WindowSec: w, CountLimit: limit, Source: domain.SourcePolicy,
			})
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *MemoryStore) PolicySet(_ context.Context, entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	windows := map[string][]int{}
	var order []string
	scopeOf := map[string]domain.Entry{}
	for _, e := range entries {
		if e.WindowSec <= 0 || e.CountLimit <= 0 {
			return fmt.Errorf("%w: policy set with incomplete entry", domain.ErrInvariant)
		}
		wk, err := EncodeKey(KindPolicyWindows, e)
		if err != nil {
			return err
		}
		if _, seen := windows[wk]; !seen {
			order = append(order, wk)
			scopeOf[wk] = e
		}
		windows[wk] = append(windows[wk], e.WindowSec)
		lk, err := EncodeKey(KindPolicyLimit, e)
		if err != nil {
			return err
		}
		s.set(lk, strconv.Itoa(e.CountLimit), 0)
	}
	for _, wk := range order {
		s.set(wk, joinWindowList(windows[wk]), 0)
	}
	return nil
}

// EnforceAndIncrement replica o script Lua: sonda tudo, só então comita.
// O mutex é o ponto de linearização local.
func (s *MemoryStore) EnforceAndIncrement(_ context.Context, entries []domain.Entry) (domain.Decision, error) {
	if len(entries) == 0 {
		return domain.Decision{}, fmt.Errorf("%w: enforce with no entries", domain.ErrInvariant)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	counterKeys := make([]string, len(entries))
	limitKeys := make([]string, len(entries))
	for i, e := range entries {
		ck, err := EncodeKey(KindLiveCounter, e)
		if err != nil {
			return domain.Decision{}, err
		}
		lk, err := EncodeKey(KindPolicyLimit, e)
		if err != nil {
			return domain.Decision{}, err
		}
		counterKeys[i], limitKeys[i] = ck, lk
	}

	// fase 1: sonda
	for i, e := range entries {
		count := s.intAt(counterKeys[i])
		limit := s.intAt(limitKeys[i])
		if count >= limit {
			ttlSec := e.WindowSec
			if left, ok := s.ttlOf(counterKeys[i]); ok && left > 0 {
				ttlSec = int((left + time.Second - 1) / time.Second)
			}
			throttled, err := domain.NewEntry(domain.Entry{
				Routing: e.Routing, Endpoint: e.Endpoint, LimitType: e.LimitType,
				WindowSec: e.WindowSec, Count: count, CountLimit: limit,
				TTL: ttlSec, Source: domain.SourceLive,
			})
			if err != nil {
				return domain.Decision{}, err
			}
			return domain.Throttle(throttled), nil
		}
	}

	// fase 2: commit
	live := make([]domain.Entry, 0, len(entries))
	for i, e := range entries {
		count := s.intAt(counterKeys[i]) + 1
		if count == 1 {
			s.set(counterKeys[i], "1", e.Window())
		} else {
			if v, ok := s.values[counterKeys[i]]; ok {
				v.raw = strconv.Itoa(count)
				s.values[counterKeys[i]] = v
			}
		}
		le, err := domain.NewEntry(domain.Entry{
			Routing: e.Routing, Endpoint: e.Endpoint, LimitType: e.LimitType,
			WindowSec: e.WindowSec, Count: count, CountLimit: s.intAt(limitKeys[i]),
			TTL: e.WindowSec, Source: domain.SourceLive,
		})
		if err != nil {
			return domain.Decision{}, err
		}
		live = append(live, le)
	}
	return domain.Allow(live...), nil
}

func (s *MemoryStore) intAt(key string) int {
	raw, ok := s.get(key)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(raw)
	return n
}

func (s *MemoryStore) CooldownSet(_ context.Context, e domain.Entry) error {
	if e.AdjustedTTL <= 0 {
		return fmt.Errorf("%w: cooldown set with ttl %d", domain.ErrTTLInvalid, e.AdjustedTTL)
	}
	key, err := EncodeKey(KindCooldown, e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, strconv.Itoa(e.AdjustedTTL), time.Duration(e.AdjustedTTL)*time.Second)
	return nil
}

func (s *MemoryStore) CooldownProbe(_ context.Context, routing domain.Routing, endpoint string) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var alive []domain.Entry
	for _, v := range cooldownVariants(routing, endpoint) {
		key, err := EncodeKey(KindCooldown, v)
		if err != nil {
			return nil, err
		}
		left, ok := s.ttlOf(key)
		if !ok || left <= 0 {
			continue
		}
		e, err := v.Update(func(e *domain.Entry) {
			e.TTL = int((left + time.Second - 1) / time.Second)
			e.Source = domain.SourceCooldown
		})
		if err != nil {
			return nil, err
		}
		alive = append(alive, e)
	}
	return alive, nil
}

func (s *MemoryStore) AcquireBlindLatch(_ context.Context, routing domain.Routing, endpoint string, ttl time.Duration) (bool, error) {
	key := BlindLatchKey(routing, endpoint)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.get(key); held {
		return false, nil
	}
	s.set(key, "1", ttl)
	return true, nil
}

func (s *MemoryStore) AuthoritativeSet(_ context.Context, entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k, err := EncodeKey(KindAuthoritativeCounter, e)
		if err != nil {
			return err
		}
		s.set(k, strconv.Itoa(e.Count), e.Window())
	}
	return nil
}

// Cleanup remove chaves expiradas de uma vez (o get já faz isso
// preguiçosamente; isto evita acumular lixo de chaves nunca mais lidas).
func (s *MemoryStore) Cleanup() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.values {
		if !v.expiresAt.IsZero() && !now.Before(v.expiresAt) {
			delete(s.values, k)
		}
	}
}

// DoneContext é o mínimo necessário para aceitar context.Context sem
// importar context no janitor. (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}

// StartJanitor inicia uma goroutine que limpa chaves expiradas
// periodicamente. Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
