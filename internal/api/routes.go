package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coderoom/internal/api/handlers"
	"coderoom/internal/middleware"
	"coderoom/internal/service"
)

func SetupRoutes(r *gin.Engine, services *service.Services) {
	// 初始化 handlers
	authHandler := handlers.NewAuthHandler(services.UserService)
	roomHandler := handlers.NewRoomHandler(services.RoomService)
	wsHandler := handlers.NewWebSocketHandler(services.WebSocketManager, services.UserService)

	// API 路由群組
	api := r.Group("/api")

	// 處理 404 錯誤
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "找不到該路徑",
		})
	})

	// 公開路由
	{
		// 用戶認證相關
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)

		// 基本的健康檢查
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	// 需要驗證的路由
	authorized := api.Group("/")
	authorized.Use(middleware.AuthMiddleware())
	{
		// 協作房間相關
		rooms := authorized.Group("/rooms")
		{
			// 基本操作
			rooms.GET("", roomHandler.ListRooms)                  // 獲取房間列表
			rooms.POST("", roomHandler.CreateRoom)                // 創建房間
			rooms.GET("/:id", roomHandler.GetRoom)                // 獲取房間信息
			rooms.GET("/code/:code", roomHandler.ResolveCode)     // 以代碼查詢房間
			rooms.GET("/:id/members", roomHandler.GetMembers)     // 成員列表
			rooms.DELETE("/:id", roomHandler.DeactivateRoom)      // 關閉房間

			// 房間參與
			rooms.POST("/:id/join", roomHandler.JoinRoom)   // 加入房間
			rooms.POST("/:id/leave", roomHandler.LeaveRoom) // 離開房間
		}

		// WebSocket 連接點，房間由 join 訊息指定
		authorized.GET("/ws", wsHandler.HandleWebSocket)
	}
}
