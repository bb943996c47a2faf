package infra

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"riot-gatekeeper/ratelimit/domain"
)

//go:embed enforce.lua
var enforceSrc string

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// RedisStore implementa domain.Store sobre um *redis.Client compartilhado.
//
// O pool de conexões do go-redis é o único limite de concorrência do núcleo
// (PoolSize/PoolTimeout do client fazem o papel de pool_size e do timeout
// de aquisição). Toda escrita multi-chave sai como script ou MULTI/EXEC,
// então timeout nunca deixa escrita parcial para trás.
type RedisStore struct {
	rdb     *redis.Client
	log     *slog.Logger
	metrics domain.MetricsSink
	enforce *redis.Script
}

type RedisOption func(*RedisStore)

func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(s *RedisStore) { s.log = l }
}

func WithRedisMetrics(m domain.MetricsSink) RedisOption {
	return func(s *RedisStore) { s.metrics = m }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:     rdb,
		log:     discardLog,
		enforce: redis.NewScript(enforceSrc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timeOp devolve o callback de observação de latência da operação.
func (s *RedisStore) timeOp(op string) func(error) {
	if s.metrics == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) { s.metrics.ObserveStoreOp(op, time.Since(start), err) }
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrStoreUnavailable, op, err)
}

// PolicyKnown checa as duas chaves de janelas (application e method) num
// único EXISTS.
func (s *RedisStore) PolicyKnown(ctx context.Context, routing domain.Routing, endpoint string) (bool, error) {
	done := s.timeOp("policy_known")
	keys, err := policyWindowsKeys(routing, endpoint)
	if err != nil {
		done(err)
		return false, err
	}
	n, err := s.rdb.Exists(ctx, keys...).Result()
	done(err)
	if err != nil {
		return false, storeErr("policy exists", err)
	}
	return n == int64(len(keys)), nil
}

// PolicyFetch lê as janelas e, em seguida, todos os limites por janela num
// único MGET. Qualquer camada ausente é ErrPolicyNotFound.
func (s *RedisStore) PolicyFetch(ctx context.Context, routing domain.Routing, endpoint string) ([]domain.Entry, error) {
	done := s.timeOp("policy_fetch")

	var skeletons []domain.Entry
	for _, lt := range []domain.LimitType{domain.LimitApplication, domain.LimitMethod} {
		base := domain.Entry{Routing: routing, Endpoint: endpoint, LimitType: lt}
		wk, err := EncodeKey(KindPolicyWindows, base)
		if err != nil {
			done(err)
			return nil, err
		}
		raw, err := s.rdb.Get(ctx, wk).Result()
		if errors.Is(err, redis.Nil) {
			done(nil)
			return nil, fmt.Errorf("%w: windows for %s %s %s", domain.ErrPolicyNotFound, routing, endpoint, lt)
		}
		if err != nil {
			done(err)
			return nil, storeErr("policy windows get", err)
		}
		windows, err := parseWindowList(raw)
		if err != nil {
			done(err)
			return nil, err
		}
		for _, w := range windows {
			sk := base
			sk.WindowSec = w
			skeletons = append(skeletons, sk)
		}
	}

	limitKeys := make([]string, len(skeletons))
	for i, sk := range skeletons {
		k, err := EncodeKey(KindPolicyLimit, sk)
		if err != nil {
			done(err)
			return nil, err
		}
		limitKeys[i] = k
	}
	vals, err := s.rdb.MGet(ctx, limitKeys...).Result()
	done(err)
	if err != nil {
		return nil, storeErr("policy limits mget", err)
	}

	entries := make([]domain.Entry, 0, len(skeletons))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: limit key %s", domain.ErrPolicyNotFound, limitKeys[i])
		}
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit <= 0 {
			return nil, fmt.Errorf("%w: limit key %s holds %q", domain.ErrPolicyNotFound, limitKeys[i], raw)
		}
		e, err := domain.NewEntry(domain.Entry{
			Routing:    skeletons[i].Routing,
			Endpoint:   skeletons[i].Endpoint,
			LimitType:  skeletons[i].LimitType,
			WindowSec:  skeletons[i].WindowSec,
			CountLimit: limit,
			Source:     domain.SourcePolicy,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PolicySet grava janelas + limites numa única transação MULTI/EXEC, para
// que escrita parcial seja impossível.
func (s *RedisStore) PolicySet(ctx context.Context, entries []domain.Entry) error {
	done := s.timeOp("policy_set")

	type scopeKey struct {
		routing  domain.Routing
		endpoint string
		lt       domain.LimitType
	}
	windows := map[scopeKey][]int{}
	var order []scopeKey
	limits := map[string]int{}

	for _, e := range entries {
		if e.WindowSec <= 0 || e.CountLimit <= 0 {
			err := fmt.Errorf("%w: policy set with incomplete entry", domain.ErrInvariant)
			done(err)
			return err
		}
		sk := scopeKey{e.Routing, e.Endpoint, e.LimitType}
		if _, seen := windows[sk]; !seen {
			order = append(order, sk)
		}
		windows[sk] = append(windows[sk], e.WindowSec)
		lk, err := EncodeKey(KindPolicyLimit, e)
		if err != nil {
			done(err)
			return err
		}
		limits[lk] = e.CountLimit
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sk := range order {
			wk, err := EncodeKey(KindPolicyWindows, domain.Entry{
				Routing: sk.routing, Endpoint: sk.endpoint, LimitType: sk.lt,
			})
			if err != nil {
				return err
			}
			pipe.Set(ctx, wk, joinWindowList(windows[sk]), 0)
		}
		for lk, limit := range limits {
			pipe.Set(ctx, lk, limit, 0)
		}
		return nil
	})
	done(err)
	if err != nil {
		return storeErr("policy set", err)
	}
	return nil
}

// EnforceAndIncrement roda o script embarcado: sonda todos os contadores e
// só então comita. Único lugar do sistema que incrementa contador live.
func (s *RedisStore) EnforceAndIncrement(ctx context.Context, entries []domain.Entry) (domain.Decision, error) {
	done := s.timeOp("enforce")
	if len(entries) == 0 {
		err := fmt.Errorf("%w: enforce with no entries", domain.ErrInvariant)
		done(err)
		return domain.Decision{}, err
	}

	n := len(entries)
	keys := make([]string, 0, 2*n)
	argv := make([]interface{}, 0, n+1)
	argv = append(argv, n)
	for _, e := range entries {
		ck, err := EncodeKey(KindLiveCounter, e)
		if err != nil {
			done(err)
			return domain.Decision{}, err
		}
		keys = append(keys, ck)
	}
	for _, e := range entries {
		lk, err := EncodeKey(KindPolicyLimit, e)
		if err != nil {
			done(err)
			return domain.Decision{}, err
		}
		keys = append(keys, lk)
	}
	for _, e := range entries {
		argv = append(argv, e.WindowSec)
	}

	raw, err := s.enforce.Run(ctx, s.rdb, keys, argv...).Result()
	done(err)
	if err != nil {
		return domain.Decision{}, storeErr("enforce script", err)
	}
	return decodeEnforceReply(raw)
}

// decodeEnforceReply traduz a resposta do script em Decision com entries
// SourceLive.
func decodeEnforceReply(raw interface{}) (domain.Decision, error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return domain.Decision{}, fmt.Errorf("%w: enforce reply %v", domain.ErrStoreUnavailable, raw)
	}
	status, _ := reply[0].(string)

	switch status {
	case "throttled":
		if len(reply) != 5 {
			return domain.Decision{}, fmt.Errorf("%w: short throttle reply", domain.ErrStoreUnavailable)
		}
		key, _ := reply[1].(string)
		_, decoded, err := DecodeKey(key)
		if err != nil {
			return domain.Decision{}, err
		}
		e, err := decoded.Update(func(e *domain.Entry) {
			e.Count = int(asInt64(reply[2]))
			e.CountLimit = int(asInt64(reply[3]))
			e.TTL = clampTTL(asInt64(reply[4]), decoded.WindowSec)
			e.Source = domain.SourceLive
		})
		if err != nil {
			return domain.Decision{}, err
		}
		return domain.Throttle(e), nil

	case "allowed":
		if (len(reply)-1)%4 != 0 {
			return domain.Decision{}, fmt.Errorf("%w: ragged allow reply", domain.ErrStoreUnavailable)
		}
		var entries []domain.Entry
		for i := 1; i < len(reply); i += 4 {
			key, _ := reply[i].(string)
			_, decoded, err := DecodeKey(key)
			if err != nil {
				return domain.Decision{}, err
			}
			e, err := decoded.Update(func(e *domain.Entry) {
				e.Count = int(asInt64(reply[i+1]))
				e.CountLimit = int(asInt64(reply[i+2]))
				e.TTL = clampTTL(asInt64(reply[i+3]), decoded.WindowSec)
				e.Source = domain.SourceLive
			})
			if err != nil {
				return domain.Decision{}, err
			}
			entries = append(entries, e)
		}
		return domain.Allow(entries...), nil
	}
	return domain.Decision{}, fmt.Errorf("%w: enforce status %q", domain.ErrStoreUnavailable, status)
}

// CooldownSet grava o back-off: valor e expiração iguais ao AdjustedTTL.
func (s *RedisStore) CooldownSet(ctx context.Context, e domain.Entry) error {
	done := s.timeOp("cooldown_set")
	if e.AdjustedTTL <= 0 {
		err := fmt.Errorf("%w: cooldown set with ttl %d", domain.ErrTTLInvalid, e.AdjustedTTL)
		done(err)
		return err
	}
	key, err := EncodeKey(KindCooldown, e)
	if err != nil {
		done(err)
		return err
	}
	err = s.rdb.Set(ctx, key, e.AdjustedTTL, time.Duration(e.AdjustedTTL)*time.Second).Err()
	done(err)
	if err != nil {
		return storeErr("cooldown set", err)
	}
	s.log.Debug("cooldown written", "key", key, "ttl_sec", e.AdjustedTTL)
	return nil
}

// CooldownProbe pergunta o TTL das três variantes de escopo num pipeline e
// devolve as que ainda estão vivas.
func (s *RedisStore) CooldownProbe(ctx context.Context, routing domain.Routing, endpoint string) ([]domain.Entry, error) {
	done := s.timeOp("cooldown_probe")

	variants := cooldownVariants(routing, endpoint)
	keys := make([]string, len(variants))
	for i, v := range variants {
		k, err := EncodeKey(KindCooldown, v)
		if err != nil {
			done(err)
			return nil, err
		}
		keys[i] = k
	}

	cmds := make([]*redis.DurationCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.TTL(ctx, k)
		}
		return nil
	})
	done(err)
	if err != nil {
		return nil, storeErr("cooldown ttl", err)
	}

	var alive []domain.Entry
	for i, cmd := range cmds {
		ttl := cmd.Val()
		if ttl <= 0 {
			continue
		}
		e, err := variants[i].Update(func(e *domain.Entry) {
			e.TTL = int((ttl + time.Second - 1) / time.Second)
			e.Source = domain.SourceCooldown
		})
		if err != nil {
			return nil, err
		}
		alive = append(alive, e)
	}
	return alive, nil
}

// AcquireBlindLatch usa SET NX: só um nó da frota ganha a blind request.
func (s *RedisStore) AcquireBlindLatch(ctx context.Context, routing domain.Routing, endpoint string, ttl time.Duration) (bool, error) {
	done := s.timeOp("blind_latch")
	ok, err := s.rdb.SetNX(ctx, BlindLatchKey(routing, endpoint), 1, ttl).Result()
	done(err)
	if err != nil {
		return false, storeErr("blind latch", err)
	}
	return ok, nil
}

// AuthoritativeSet espelha as contagens do próprio upstream para os
// dashboards, com expiração igual à janela.
func (s *RedisStore) AuthoritativeSet(ctx context.Context, entries []domain.Entry) error {
	done := s.timeOp("authoritative_set")
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			k, err := EncodeKey(KindAuthoritativeCounter, e)
			if err != nil {
				return err
			}
			pipe.Set(ctx, k, e.Count, e.Window())
		}
		return nil
	})
	done(err)
	if err != nil {
		return storeErr("authoritative set", err)
	}
	return nil
}

func policyWindowsKeys(routing domain.Routing, endpoint string) ([]string, error) {
	keys := make([]string, 0, 2)
	for _, lt := range []domain.LimitType{domain.LimitApplication, domain.LimitMethod} {
		k, err := EncodeKey(KindPolicyWindows, domain.Entry{Routing: routing, Endpoint: endpoint, LimitType: lt})
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// cooldownVariants devolve as três formas de chave que um cooldown pode
// assumir para (routing, endpoint), na ordem application, service, method.
func cooldownVariants(routing domain.Routing, endpoint string) []domain.Entry {
	return []domain.Entry{
		{Routing: routing, LimitType: domain.LimitApplication},
		{Routing: routing, LimitType: domain.LimitService},
		{Routing: routing, Endpoint: endpoint, LimitType: domain.LimitMethod},
	}
}

func parseWindowList(raw string) ([]int, error) {
	fields := strings.Split(raw, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		w, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("%w: window list %q", domain.ErrBadKey, raw)
		}
		out = append(out, w)
	}
	return out, nil
}

func joinWindowList(windows []int) string {
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = strconv.Itoa(w)
	}
	return strings.Join(parts, ",")
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// clampTTL corrige os valores especiais do TTL do Redis: chave recém
// expirada (-2) ou sem expiração (-1) viram a própria janela, o pior caso
// honesto para o chamador esperar.
func clampTTL(ttl int64, windowSec int) int {
	if ttl < 0 {
		return windowSec
	}
	return int(ttl)
}
