// Package queue 提供基于 Redis 的持久化延时队列实现
// 使用 Redis List 实现就绪队列(ready)与死信队列(dlq)，使用 ZSET 实现延时队列(delayed)
// 队列条目为 JSON 序列化的 domain.ScheduledTask，到期后由 worker 回调其 Endpoint
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"BigqueryIngest/internal/domain"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ReadyKey 生成 Redis 中队列就绪状态的 key
// 参数:
//
//	queueName: 队列名称，例如 "default"、"bq-load" 等
//
// 返回:
//
//	Redis key 格式为 "queue:{queueName}:ready"
func ReadyKey(queueName string) string {
	return "queue:" + queueName + ":ready"
}

// DelayedKey 生成延时队列的 Redis key
// 说明:
//
//	延时队列使用 Redis ZSET，Score 为任务 ETA 的 Unix 毫秒时间戳
//	搬运器会将到期任务从延时队列移动到就绪队列
func DelayedKey(queueName string) string {
	return "queue:" + queueName + ":delayed"
}

// DLQKey 生成死信队列的 Redis key
// 说明:
//
//	存储回调返回终态错误或重试次数耗尽的任务，可人工审计或重放
func DLQKey(queueName string) string {
	return "queue:" + queueName + ":dlq"
}

// InflightKey 已被 worker 取出、尚未完成回调的条目
// 说明:
//
//	worker 用 BLMOVE 从就绪队列原子移入，回调结束后 LREM；进程崩溃时由 reaper 放回就绪队列
func InflightKey(queueName string) string {
	return "queue:" + queueName + ":inflight"
}

// Encode 序列化队列条目
func Encode(task domain.ScheduledTask) (string, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return "", errors.Wrap(err, "marshal scheduled task")
	}
	return string(b), nil
}

// Decode 反序列化队列条目
func Decode(raw string) (domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return domain.ScheduledTask{}, errors.Wrap(err, "unmarshal scheduled task")
	}
	return task, nil
}

// EnqueueReady 将任务加入就绪队列尾部（RPUSH），worker 通过 BLPOP 从头部取出
func EnqueueReady(ctx context.Context, rdb *redis.Client, queueName string, payload string) error {
	return rdb.RPush(ctx, ReadyKey(queueName), payload).Err()
}

// EnqueueDelayed 将任务加入延时队列
// 实现:
//
//	使用 ZADD 将任务添加到 ZSET，Score 为触发时间的 Unix 毫秒时间戳
func EnqueueDelayed(ctx context.Context, rdb *redis.Client, queueName string, payload string, triggerAt time.Time) error {
	return rdb.ZAdd(ctx, DelayedKey(queueName), redis.Z{
		Score:  float64(triggerAt.UnixMilli()),
		Member: payload,
	}).Err()
}

// 原子地取出 score <= now 的前 limit 个元素，从 ZSET 删除并 RPUSH 到就绪队列
var moveDueScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(items) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('RPUSH', KEYS[2], m)
end
return #items`)

// MoveDueDelayedToReadyAtomic 将到期的延时任务移动到就绪队列
// 参数:
//
//	now: 当前时间，score 小于等于该时间的任务视为到期
//	limit: 单次最多移动的任务数量，用于控制批处理大小
//
// 返回:
//
//	int: 实际移动的任务数量
//
// 实现:
//
//	在单个 Lua 脚本内完成 ZRANGEBYSCORE + ZREM + RPUSH，避免多个搬运器重复搬运
func MoveDueDelayedToReadyAtomic(ctx context.Context, rdb *redis.Client, queueName string, now time.Time, limit int) (int, error) {
	n, err := moveDueScript.Run(ctx, rdb,
		[]string{DelayedKey(queueName), ReadyKey(queueName)},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AckInflight 回调结束后从 inflight 列表移除条目
func AckInflight(ctx context.Context, rdb *redis.Client, queueName string, payload string) error {
	return rdb.LRem(ctx, InflightKey(queueName), 1, payload).Err()
}

// RequeueInflight 把遗留在 inflight 中的条目放回就绪队列；条目已被确认时返回 false
func RequeueInflight(ctx context.Context, rdb *redis.Client, queueName string, payload string) (bool, error) {
	n, err := rdb.LRem(ctx, InflightKey(queueName), 1, payload).Result()
	if err != nil || n == 0 {
		return false, err
	}
	return true, rdb.RPush(ctx, ReadyKey(queueName), payload).Err()
}

// EnqueueDLQ 将任务加入死信队列
func EnqueueDLQ(ctx context.Context, rdb *redis.Client, queueName string, payload string) error {
	return rdb.RPush(ctx, DLQKey(queueName), payload).Err()
}

// ListDLQ 查看死信队列中的任务
// 说明:
//
//	使用 LRANGE 查询，不会移除任务；索引语义与 LRANGE 相同，支持负数索引
func ListDLQ(ctx context.Context, rdb *redis.Client, queueName string, start, stop int64) ([]string, error) {
	return rdb.LRange(ctx, DLQKey(queueName), start, stop).Result()
}

// ReplayDLQ 重放死信队列中的任务到就绪队列
// 参数:
//
//	count: 最多重放的任务数量
//	resetAttempts: 为 true 时将条目的派发次数清零
//
// 实现:
//  1. LPOP 从死信队列头部取出任务
//  2. RPUSH 加入就绪队列尾部
//  3. 循环直到达到 count 或死信队列为空
func ReplayDLQ(ctx context.Context, rdb *redis.Client, queueName string, count int, resetAttempts bool) (int, error) {
	moved := 0
	for i := 0; i < count; i++ {
		val, err := rdb.LPop(ctx, DLQKey(queueName)).Result()
		if err != nil {
			if err == redis.Nil {
				break
			}
			return moved, err
		}
		if resetAttempts {
			if task, err := Decode(val); err == nil {
				task.Attempt = 0
				if enc, err := Encode(task); err == nil {
					val = enc
				}
			}
		}
		if err := rdb.RPush(ctx, ReadyKey(queueName), val).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// AcquireLock 以 SET NX PX 获取一个带过期的互斥锁
func AcquireLock(ctx context.Context, rdb *redis.Client, key, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, owner, ttl).Result()
}

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end`)

// ReleaseLock 仅当持有者匹配时释放锁
func ReleaseLock(ctx context.Context, rdb *redis.Client, key, owner string) (bool, error) {
	n, err := releaseLockScript.Run(ctx, rdb, []string{key}, owner).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Connect 建立 Redis 连接
// 参数:
//
//	url: Redis 连接 URL，格式为 "redis://[:password@]host:port[/database]"
//
// 流程:
//  1. 解析 Redis URL 获取连接配置
//  2. 创建 Redis 客户端实例
//  3. 通过 PING 验证连接，失败时短暂重试
//  4. 最终失败时关闭客户端并返回错误
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opt)
	err = retry.Do(
		func() error { return rdb.Ping(ctx).Err() },
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
	)
	if err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}
