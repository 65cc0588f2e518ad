package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nichelog/internal/config"
	"github.com/nichelog/internal/db"
	"github.com/nichelog/internal/handler"
	"github.com/nichelog/internal/router"
	"github.com/nichelog/internal/service"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// 配置了管理员凭据时确保账号存在（登录态由外部认证流程维护）
	if err := db.EnsureUser(cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to ensure admin user: %v", err)
	}

	aggregator := service.NewAggregatorService(db.DB).WithWeights(service.EngagementWeights{
		Views:             cfg.WeightViews,
		AvgTimeSeconds:    cfg.WeightAvgTime,
		ScrollReached100:  cfg.WeightScroll100,
		Shares:            cfg.WeightShares,
		NewsletterSignups: cfg.WeightNewsletterSignups,
		CTAClicks:         cfg.WeightCTAClicks,
		AvgScrollDepth:    cfg.WeightAvgScrollDepth,
	})

	queue := service.NewAggregationQueue(aggregator.Recompute).
		WithInterval(cfg.AggregationInterval).
		WithBatchSize(cfg.AggregationBatchSize).
		WithConcurrency(cfg.AggregationConcurrency)
	queue.Start()

	api := handler.NewAPI(db.DB, queue, cfg)

	// 每日流量汇总任务：凌晨重算前一天的 PV/UV 快照
	traffic := service.NewTrafficService(db.DB, nil)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("10 0 * * *", func() {
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		if err := traffic.RollupDay(yesterday); err != nil {
			log.Printf("daily traffic rollup failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("failed to schedule traffic rollup: %v", err)
	}
	scheduler.Start()

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, cfg.SessionSecret)
	server := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to run server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	// 退出前同步冲刷剩余的聚合任务
	<-scheduler.Stop().Done()
	queue.Stop()
}
