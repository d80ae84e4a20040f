package worker

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const heartbeatPrefix = "worker:"

func heartbeatKey(workerID string) string {
	return heartbeatPrefix + workerID + ":heartbeat"
}

// StartHeartbeat 周期刷新 Worker 心跳键（TTL=ttl，刷新间隔=interval），值为监听的队列
func StartHeartbeat(ctx context.Context, rdb *redis.Client, workerID string, queues []string, ttl, interval time.Duration, log zerolog.Logger) {
	tkr := time.NewTicker(interval)
	defer tkr.Stop()
	beat := func() {
		if err := rdb.Set(ctx, heartbeatKey(workerID), strings.Join(queues, ","), ttl).Err(); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("worker_id", workerID).Msg("heartbeat failed")
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			_ = rdb.Del(context.Background(), heartbeatKey(workerID)).Err()
			return
		case <-tkr.C:
			beat()
		}
	}
}

// LiveWorker 一个心跳未过期的 worker
type LiveWorker struct {
	ID     string        `json:"id"`
	Queues []string      `json:"queues"`
	TTL    time.Duration `json:"ttl"`
}

// ListLiveWorkers 扫描心跳键
func ListLiveWorkers(ctx context.Context, rdb *redis.Client) ([]LiveWorker, error) {
	var out []LiveWorker
	iter := rdb.Scan(ctx, 0, heartbeatPrefix+"*:heartbeat", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		ttl, _ := rdb.PTTL(ctx, key).Result()
		id := strings.TrimSuffix(strings.TrimPrefix(key, heartbeatPrefix), ":heartbeat")
		var queues []string
		if val != "" {
			queues = strings.Split(val, ",")
		}
		out = append(out, LiveWorker{ID: id, Queues: queues, TTL: ttl})
	}
	return out, iter.Err()
}
