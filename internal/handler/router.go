package handler

import (
	"aihelper-go/internal/middleware"
	"aihelper-go/internal/mockserver"
	"aihelper-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// NewRouter 注册模拟后端的全部路由。
func NewRouter(backend *mockserver.Backend, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	authHandler := NewAuthHandler(backend, jwtManager)
	userHandler := NewUserHandler(backend)
	chatHandler := NewChatHandler(backend)
	conversationHandler := NewConversationHandler(backend)
	authRequired := middleware.AuthMiddleware(jwtManager, backend)

	api := r.Group("/api")
	{
		// 无需认证的路由
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/login/code", authHandler.LoginWithCode)
			auth.POST("/register", authHandler.Register)
			auth.POST("/reset-password", authHandler.ResetPassword)
			auth.GET("/verify-token", authRequired, authHandler.VerifyToken)
		}
		api.POST("/verification/code", authHandler.SendCode)

		users := api.Group("/users")
		users.Use(authRequired)
		{
			users.GET("/me", userHandler.GetProfile)
			users.PUT("/profile", userHandler.UpdateProfile)
			users.PUT("/password", userHandler.ChangePassword)
			users.POST("/avatar", userHandler.UploadAvatar)
			users.GET("/refresh-avatar-url", userHandler.RefreshAvatarURL)
			users.GET("/:id/refresh-avatar-url", userHandler.RefreshUserAvatarURL)
			users.POST("/generate-avatar", userHandler.GenerateAvatar)
			users.POST("/generate-avatar-with-prompt", userHandler.GenerateAvatarWithPrompt)
			users.POST("/deactivate", userHandler.Deactivate)
		}

		chat := api.Group("/chat")
		chat.Use(authRequired)
		{
			chat.POST("", chatHandler.Chat)
			chat.POST("/stop", chatHandler.Stop)
		}

		conversations := api.Group("/conversations")
		conversations.Use(authRequired)
		{
			conversations.POST("", conversationHandler.CreateConversation)
			conversations.GET("/:id", conversationHandler.GetConversations)
			conversations.GET("/detail/:id", conversationHandler.GetConversation)
			conversations.GET("/:id/messages", conversationHandler.GetMessages)
			conversations.PUT("/:id", conversationHandler.UpdateTitle)
			conversations.PUT("/:id/generate-title", conversationHandler.GenerateTitle)
			conversations.DELETE("/:id", conversationHandler.DeleteConversation)
		}

		api.DELETE("/messages/:id", authRequired, conversationHandler.DeleteMessage)
	}
	return r
}
