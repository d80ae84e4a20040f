package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DispatchKey 派发租约 key，同一队列条目同一时刻只允许一个 worker 回调
func DispatchKey(taskID string) string {
	return "lease:dispatch:" + taskID
}

var (
	renewScript = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('PEXPIRE', KEYS[1], ARGV[2])
		else
			return 0
		end`)

	releaseScript = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		else
			return 0
		end`)
)

// Manager 管理派发租约，持有者为 workerID
type Manager struct {
	rdb      *redis.Client
	workerID string
	ttl      time.Duration
}

func NewManager(rdb *redis.Client, workerID string, ttl time.Duration) *Manager {
	return &Manager{rdb: rdb, workerID: workerID, ttl: ttl}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire 仅当租约不存在时成功
func (m *Manager) Acquire(ctx context.Context, taskID string) (bool, error) {
	return m.rdb.SetNX(ctx, DispatchKey(taskID), m.workerID, m.ttl).Result()
}

// Renew 仅当持有者匹配时续租
func (m *Manager) Renew(ctx context.Context, taskID string) (bool, error) {
	n, err := renewScript.Run(ctx, m.rdb, []string{DispatchKey(taskID)}, m.workerID, m.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release 仅当持有者匹配时释放
func (m *Manager) Release(ctx context.Context, taskID string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.rdb, []string{DispatchKey(taskID)}, m.workerID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
