package lease

import (
	"context"
	"time"

	"BigqueryIngest/internal/metrics"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateKey 生成限流计数器的 Redis key
func RateKey(key string) string {
	return "ratelimit:" + key + ":next"
}

// CounterStore 保存每个 key 的“下一次允许提交时间”（unix 毫秒）
type CounterStore interface {
	// AddAndGetPrevious 原子地加上 delta，返回加之前的值；key 不存在时先以 seed 初始化
	AddAndGetPrevious(ctx context.Context, key string, delta, seed int64) (int64, error)
	// Add 原子地加上 delta（可为负）
	Add(ctx context.Context, key string, delta int64) error
	// Set 覆盖当前值
	Set(ctx context.Context, key string, value int64) error
}

// 初始化 + INCRBY，返回自增前的值
const addAndGetPreviousScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('SET', KEYS[1], ARGV[2])
end
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
return v - tonumber(ARGV[1])`

type RedisCounterStore struct {
	rdb    *redis.Client
	script *redis.Script
}

func NewRedisCounterStore(rdb *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb, script: redis.NewScript(addAndGetPreviousScript)}
}

func (s *RedisCounterStore) AddAndGetPrevious(ctx context.Context, key string, delta, seed int64) (int64, error) {
	return s.script.Run(ctx, s.rdb, []string{RateKey(key)}, delta, seed).Int64()
}

func (s *RedisCounterStore) Add(ctx context.Context, key string, delta int64) error {
	return s.rdb.IncrBy(ctx, RateKey(key), delta).Err()
}

func (s *RedisCounterStore) Set(ctx context.Context, key string, value int64) error {
	return s.rdb.Set(ctx, RateKey(key), value, 0).Err()
}

// Reservation 是一次 Reserve 的结果
type Reservation struct {
	Proceed     bool
	Stale       bool      // 计数器已过期并被重置
	NextAllowed time.Time // Proceed 时为本次之后的下一次允许时间；Deferred 时为应重试的时间
}

// Limiter 以共享计数器实现的乐观租约：不加锁，拒绝时做补偿减法
type Limiter struct {
	store CounterStore
	now   func() time.Time
	log   zerolog.Logger
}

func NewLimiter(store CounterStore, log zerolog.Logger) *Limiter {
	return &Limiter{store: store, now: time.Now, log: log}
}

// WithClock 替换时钟，便于测试
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Reserve 尝试为 key 预留一次提交机会，window 为两次提交的最小间隔
func (l *Limiter) Reserve(ctx context.Context, key string, window time.Duration) (Reservation, error) {
	if window <= 0 {
		return Reservation{}, errors.Errorf("lease window must be positive, got %s", window)
	}
	windowMs := window.Milliseconds()
	nowMs := l.now().UnixMilli()

	next, err := l.store.AddAndGetPrevious(ctx, key, windowMs, nowMs)
	if err != nil {
		return Reservation{}, errors.Wrapf(err, "reserve %s", key)
	}

	// 队列等待过久：计数器已落后，重置为本次之后的下一次允许时间，避免漂移累积
	if nowMs > next+windowMs/2 {
		// 写入 now+window 而非 now：本次已放行，写 now 会让窗口内紧随的下一次也被放行
		fresh := nowMs + windowMs
		if err := l.store.Set(ctx, key, fresh); err != nil {
			return Reservation{}, errors.Wrapf(err, "reset stale counter %s", key)
		}
		metrics.Reservations.WithLabelValues(key, "stale").Inc()
		l.log.Info().Str("key", key).Int64("counter", next).Int64("reset_to", fresh).Msg("stale rate limit counter reset")
		return Reservation{Proceed: true, Stale: true, NextAllowed: time.UnixMilli(fresh)}, nil
	}

	if nowMs < next {
		// 撤销本次自增，预留不浪费
		if err := l.store.Add(ctx, key, -windowMs); err != nil {
			return Reservation{}, errors.Wrapf(err, "compensate counter %s", key)
		}
		metrics.Reservations.WithLabelValues(key, "deferred").Inc()
		l.log.Debug().Str("key", key).Time("next_allowed", time.UnixMilli(next)).Msg("rate limited")
		return Reservation{Proceed: false, NextAllowed: time.UnixMilli(next)}, nil
	}

	metrics.Reservations.WithLabelValues(key, "proceed").Inc()
	return Reservation{Proceed: true, NextAllowed: time.UnixMilli(next + windowMs)}, nil
}
