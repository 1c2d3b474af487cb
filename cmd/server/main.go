package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/config"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/handler"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/infrastructure/cache"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/infrastructure/database"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/infrastructure/mq"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/job"
	"github.com/yujiapingyu/InterviewHelper-sub000/pkg/idgen"

	"github.com/go-redis/redis/v8"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis（可选，未配置时仅依赖数据库保证一致性）
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = cache.InitRedis(&cfg.Redis)
	} else {
		log.Println("Redis 未配置，跳过")
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Kafka 并启动发件箱投递任务（可选）
	if len(cfg.Kafka.Brokers) > 0 {
		producer := mq.NewProducer(&cfg.Kafka)
		defer producer.Close()

		outboxSender := job.NewOutboxSender(db, producer, cfg)
		go outboxSender.Start(ctx)
	} else {
		log.Println("Kafka 未配置，跳过事件投递")
	}

	// 启动对账任务
	reconcileJob := job.NewReconcileJob(db, cfg)
	go reconcileJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
