// Package main 启动 AI 助手的本地模拟后端。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aihelper-go/internal/config"
	"aihelper-go/internal/handler"
	"aihelper-go/internal/mockserver"
	"aihelper-go/pkg/llm"
	"aihelper-go/pkg/log"
	"aihelper-go/pkg/tika"
	"aihelper-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	if err := config.Init(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化内存后端和路由
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	opts := mockserver.Options{
		ReplyDelay: cfg.Server.ReplyDelay,
		EchoCodes:  cfg.Server.EchoCodes,
	}
	if cfg.LLM.APIKey != "" {
		opts.Replier = mockserver.LLMReplier(llm.NewClient(cfg.LLM), cfg.LLM.SystemPrompt)
		log.Infow("使用大模型生成回复", "model", cfg.LLM.Model)
	}
	if cfg.Tika.ServerURL != "" {
		opts.OCR = mockserver.TikaOCR(tika.NewClient(cfg.Tika))
		log.Infow("启用图片 OCR", "tika", cfg.Tika.ServerURL)
	}
	backend := mockserver.NewBackend(opts)
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(backend, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("模拟后端启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
