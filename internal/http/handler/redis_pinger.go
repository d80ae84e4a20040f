package handler

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type RedisPinger struct {
	RDB *redis.Client
}

func (p RedisPinger) Ping(ctx context.Context) error {
	return p.RDB.Ping(ctx).Err()
}
