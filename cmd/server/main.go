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

	"createosaur-service/internal/api"
	"createosaur-service/internal/config"
	"createosaur-service/internal/generation"
	"createosaur-service/internal/model"
	"createosaur-service/internal/provider"
	"createosaur-service/internal/species"
	"createosaur-service/internal/storage"
	"createosaur-service/internal/trial"
	"createosaur-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func providerTimeout(name string) time.Duration {
	if p, ok := config.GlobalConfig.Providers[name]; ok && p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return 120 * time.Second
}

func main() {
	// .env 存在时覆盖进程环境，便于本地开发
	_ = godotenv.Load()

	// 1. 初始化配置
	config.InitConfig()

	// 2. 初始化数据库
	model.InitDB(config.GlobalConfig.Database.Path)

	// 3. 把配置文件里的 Provider 凭据同步进数据库
	provider.SyncConfigs(model.DB)

	// 4. 初始化存储
	var ossConfig map[string]string
	if config.GlobalConfig.Storage.OSS.Enabled {
		ossConfig = map[string]string{
			"endpoint":        config.GlobalConfig.Storage.OSS.Endpoint,
			"accessKeyID":     config.GlobalConfig.Storage.OSS.AccessKeyID,
			"accessKeySecret": config.GlobalConfig.Storage.OSS.AccessKeySecret,
			"bucketName":      config.GlobalConfig.Storage.OSS.BucketName,
			"domain":          config.GlobalConfig.Storage.OSS.Domain,
		}
	}
	store := storage.New(config.GlobalConfig.Storage.LocalDir, ossConfig)

	// 5. 组装 Provider 注册表，回退链按注册顺序执行
	resolver := provider.NewCredentialResolver(
		&provider.StoreSource{DB: model.DB},
		provider.EnvSource{},
	)
	registry := provider.NewRegistry(model.DB,
		provider.NewHuggingFaceProvider(resolver, providerTimeout(provider.ProviderHuggingFace)),
		provider.NewOpenAIProvider(resolver, providerTimeout(provider.ProviderOpenAI)),
		provider.NewStabilityProvider(resolver, providerTimeout(provider.ProviderStability)),
		provider.NewGeminiProvider(resolver, providerTimeout(provider.ProviderGemini)),
	)

	// 6. 物种目录先于生图门面构造，演示渲染器需要目录关键词快照
	speciesStore := species.NewStore(
		config.GlobalConfig.Species.RemoteURL,
		time.Duration(config.GlobalConfig.Species.FetchTimeoutSeconds)*time.Second,
	)
	orchestrator := generation.NewOrchestrator(registry, config.GlobalConfig.Trial.DemoSeed, speciesStore.Keywords()...)
	if orchestrator.DemoMode() {
		log.Println("[Server] 未检测到任何已配置的 Provider，进入演示模式")
	}

	gate := trial.NewGate(model.DB)

	// 7. Worker 池
	pool := worker.NewPool(
		config.GlobalConfig.Worker.Count,
		config.GlobalConfig.Worker.QueueSize,
		model.DB, orchestrator, store,
	)
	pool.Start()

	// 8. 路由
	handlers := &api.Handlers{
		DB:           model.DB,
		Registry:     registry,
		Orchestrator: orchestrator,
		Pool:         pool,
		Store:        store,
		Species:      speciesStore,
		Gate:         gate,
		Trial: api.TrialOptions{
			Provider:         config.GlobalConfig.Trial.Provider,
			RateLimitPerHour: config.GlobalConfig.Trial.RateLimitPerHour,
			Timeout:          providerTimeout(config.GlobalConfig.Trial.Provider),
		},
	}

	r := gin.Default()
	handlers.RegisterRoutes(r, config.GlobalConfig.Server.APIToken)

	// 9. 优雅启动与关闭
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.GlobalConfig.Server.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")

	// 先停 Worker 池，排空队列后再关 HTTP
	pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("服务器强制关闭:", err)
	}

	log.Println("服务已安全退出")
}
