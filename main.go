package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"coderoom/internal/api"
	"coderoom/internal/cache"
	"coderoom/internal/models"
	"coderoom/internal/repository"
	"coderoom/internal/runner"
	"coderoom/internal/service"
	"coderoom/internal/storage"
	"coderoom/pkg/config"
)

func main() {
	// 載入應用程式配置
	// 從配置文件中讀取設置，如數據庫連接信息和服務器地址等
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化資料庫連接
	// 使用配置中的信息建立到 PostgreSQL 數據庫的連接
	db, err := storage.NewPostgresDB(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port, cfg.DB.TimeZone)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	// 確保在程序結束時關閉數據庫連接
	defer db.Close()

	// 自動遷移資料庫結構
	if err := db.AutoMigrate(&models.User{}, &models.Room{}, &models.RoomMember{}, &models.RoomSnapshot{}); err != nil {
		log.Fatalf("Failed to auto migrate database: %v", err)
	}

	// 初始化 Redis 快取層
	// 快取只是加速，連不上時照常啟動，所有讀取都會落到持久層
	var roomCache cache.RoomCache
	if redisClient, err := storage.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Printf("Warning: redis unavailable, running without cache tier: %v", err)
	} else {
		roomCache = cache.NewRedisRoomCache(redisClient, "cr:", cfg.Room.CacheTTL)
	}

	// 初始化沙箱執行客戶端
	codeRunner, err := runner.NewNatsRunner(cfg.Execution.NatsURL, cfg.Execution.Subject, cfg.Execution.RequestTimeout)
	if err != nil {
		log.Fatalf("Failed to connect to execution sandbox: %v", err)
	}
	defer codeRunner.Close()

	// 初始化 repositories
	repos := repository.NewRepositories(db)

	// 初始化 services
	services := service.NewServices(repos, service.Options{
		RoomCache: roomCache,
		Runner:    codeRunner,
		StateConfig: service.RoomStateManagerConfig{
			SnapshotInterval: cfg.Room.SnapshotInterval,
			IdleEviction:     cfg.Room.IdleEviction,
			HistoryLimit:     cfg.Execution.HistoryLimit,
		},
		MaxExecution: cfg.Execution.MaxConcurrent,
	})
	defer services.Close()

	// 設置 Gin 路由
	r := gin.Default()
	api.SetupRoutes(r, services)

	// 啟動伺服器
	// 使用配置中指定的地址啟動 HTTP 服務器
	if err := r.Run(cfg.Server.Address); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
