package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BigqueryIngest/internal/config"
	"BigqueryIngest/internal/db"
	"BigqueryIngest/internal/logging"
	"BigqueryIngest/internal/queue"
	"BigqueryIngest/internal/scheduler"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", true, "scheduler")
		bootLog.Fatal().Err(err).Msg("load config failed")
	}
	log := logging.New(cfg.LogLevel, cfg.LogConsole, "scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// 初始化 Postgres
	pg, err := db.Init(initCtx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres failed")
	}
	defer pg.Close()
	if err := db.EnsureSchema(initCtx, pg); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	// 初始化 Redis
	rdb, err := queue.Connect(initCtx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis failed")
	}
	defer rdb.Close()

	// 调度周期与时区
	sched, err := scheduler.NewScheduler(pg, rdb, cfg.SchedulerTickInterval, cfg.SchedulerTimezone, log)
	if err != nil {
		log.Fatal().Err(err).Msg("new scheduler failed")
	}
	sched.Run(ctx)
}
