package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"BigqueryIngest/internal/config"
	"BigqueryIngest/internal/lease"
	"BigqueryIngest/internal/logging"
	"BigqueryIngest/internal/queue"
	"BigqueryIngest/internal/worker"

	"github.com/google/uuid"
)

const (
	leaseTTL          = 30 * time.Second
	moveInterval      = 2 * time.Second
	heartbeatTTL      = 30 * time.Second
	heartbeatInterval = 10 * time.Second
	reapInterval      = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", true, "worker")
		bootLog.Fatal().Err(err).Msg("load config failed")
	}
	workerID := uuid.NewString()
	log := logging.New(cfg.LogLevel, cfg.LogConsole, "worker").With().Str("worker_id", workerID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//初始化依赖
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rdb, err := queue.Connect(initCtx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	defer rdb.Close()

	dispatcher := worker.NewDispatcher(rdb, lease.NewManager(rdb, workerID, leaseTTL), workerID, worker.DispatcherOptions{
		BaseURL:     cfg.DispatchBaseURL,
		Rate:        cfg.DispatchRate,
		MaxAttempts: cfg.DispatchMaxAttempts,
	}, log)

	pool := worker.NewPool(ctx, cfg.WorkerConcurrency, log)
	pool.Start()

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// 延时队列搬运器（每两秒扫描一次）
	run(func() { worker.StartDelayedMover(ctx, rdb, cfg.QueueNames, workerID, moveInterval, log) })
	run(func() { worker.StartHeartbeat(ctx, rdb, workerID, cfg.QueueNames, heartbeatTTL, heartbeatInterval, log) })
	run(func() { worker.NewInflightReaper(rdb, cfg.QueueNames, leaseTTL, log).Start(ctx, reapInterval) })
	for _, q := range cfg.QueueNames {
		run(func() { dispatcher.Consume(ctx, q, pool) })
	}

	log.Info().Strs("queues", cfg.QueueNames).Int("concurrency", cfg.WorkerConcurrency).Msg("worker started")
	<-ctx.Done()
	wg.Wait()
	pool.Stop()
	log.Info().Msg("worker stopped")
}
