package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BigqueryIngest/internal/backup"
	"BigqueryIngest/internal/config"
	"BigqueryIngest/internal/db"
	"BigqueryIngest/internal/export"
	"BigqueryIngest/internal/gcp"
	"BigqueryIngest/internal/http/handler"
	"BigqueryIngest/internal/lease"
	"BigqueryIngest/internal/logging"
	"BigqueryIngest/internal/queue"
	"BigqueryIngest/internal/repo"
	"BigqueryIngest/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", true, "api")
		bootLog.Fatal().Err(err).Msg("load config failed")
	}
	log := logging.New(cfg.LogLevel, cfg.LogConsole, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库连接
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.Init(initCtx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres init failed")
	}
	defer pool.Close()

	// 确保最小表结构存在
	if err := db.EnsureSchema(initCtx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	// 初始化 Redis
	rdb, err := queue.Connect(initCtx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	defer rdb.Close()

	// GCP 客户端进程内初始化一次
	clients, err := gcp.NewClients(ctx, gcp.Options{
		ProjectID:         cfg.GCPProjectID,
		BigqueryProjectID: cfg.BigqueryProjectID,
		CredentialsFile:   cfg.GCPCredentialsFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("gcp clients init failed")
	}
	defer clients.Close()

	// 组装服务与路由
	warehouse := gcp.NewWarehouse(clients.BigQuery)
	objects := gcp.NewObjectStore(clients.Storage)
	jobs := repo.NewLoadJobRepo(pool)

	ingestSvc := service.NewIngestService(service.Deps{
		Limiter:     lease.NewLimiter(lease.NewRedisCounterStore(rdb), log),
		Rescheduler: queue.NewRescheduler(rdb, cfg.DefaultQueue(), log),
		Poller:      backup.NewPoller(gcp.NewBackupRegistry(clients.Datastore), log),
		Lister:      objects,
		Schemas:     objects,
		Submitter:   warehouse,
		Tables:      warehouse,
		Recorder:    jobs,
		Configs: export.BuiltinConfigs(export.Defaults{
			BackupNamePrefix: cfg.BackupNamePrefix,
			BucketName:       cfg.BackupBucket,
			ProjectID:        cfg.BigqueryProjectID,
			DatasetID:        cfg.BigqueryDatasetID,
		}),
	}, service.Options{
		RateLimitKey:         cfg.LoadRateLimitKey,
		LoadDelay:            cfg.LoadDelay,
		BackupMaxAge:         cfg.BackupMaxAge,
		BackupRetryCountdown: cfg.BackupRetryCountdown,
		Queues:               cfg.QueueNames,
	}, log)
	scheduleSvc := service.NewScheduleService(pool, cfg.QueueNames)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinMiddleware(log))

	health := handler.NewHealthHandler(pool, handler.RedisPinger{RDB: rdb})
	engine.GET("/healthz", health.Healthz)
	engine.GET("/readyz", health.Readyz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 触发入口，由 worker 回调
	handler.NewIngestHandler(ingestSvc, log).Register(engine)

	api := engine.Group("/api/v1")
	{
		sh := handler.NewScheduleHandler(scheduleSvc)
		api.POST("/schedules", sh.CreateSchedule)
		api.GET("/schedules", sh.ListSchedules)
		api.POST("/schedules/:id/toggle", sh.ToggleSchedule)

		qh := handler.NewQueueHandler(rdb)
		api.GET("/queues/:name/dlq", qh.ListDLQ)
		api.POST("/queues/:name/dlq/replay", qh.ReplayDLQ)

		mh := handler.NewMetricsHandler(rdb, log)
		api.GET("/metrics/scheduler", mh.GetSchedulerMetrics)
		api.GET("/metrics/worker", mh.GetWorkerMetrics)

		api.GET("/workers", handler.NewWorkerHandler(rdb).ListWorkers)
		api.GET("/jobs", handler.NewJobsHandler(jobs).ListJobs)
	}

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: engine}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", cfg.HTTPPort).Msg("starting api server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("api server failed")
	}
}
