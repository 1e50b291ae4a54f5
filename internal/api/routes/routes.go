package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/api/handlers"
	"github.com/yoockh/yoodocs/internal/api/middleware"
	"github.com/yoockh/yoodocs/internal/auth"
)

type Deps struct {
	Tokens  *auth.TokenIssuer
	Limiter middleware.Limiter
	Usage   middleware.UsageRecorder
	Logger  *logrus.Logger

	Health       *handlers.HealthHandler
	Auth         *handlers.AuthHandler
	User         *handlers.UserHandler
	Document     *handlers.DocumentHandler
	Conversation *handlers.ConversationHandler
	Chat         *handlers.ChatHandler
	WS           *handlers.WSHandler
	Vector       *handlers.VectorHandler
	Admin        *handlers.AdminHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", d.Health.Ping)
	r.GET("/health", d.Health.Health)

	pub := r.Group("/auth")
	pub.POST("/register", d.Auth.Register)
	pub.POST("/login", d.Auth.Login)
	pub.POST("/forgot-password", d.Auth.ForgotPassword)
	pub.POST("/reset-password", d.Auth.ResetPassword)
	pub.GET("/reset-password/:token", d.Auth.VerifyResetToken)

	// Protected routes (JWT)
	authed := r.Group("/")
	authed.Use(middleware.JWTAuth(d.Tokens))
	if d.Limiter != nil {
		authed.Use(middleware.RateLimit(d.Limiter, d.Logger))
	}
	authed.Use(middleware.TrackUsage(d.Usage, d.Logger))

	authed.GET("/users/me", d.User.Me)
	authed.GET("/users/:id", d.User.Get)
	authed.PUT("/users/:id", d.User.Update)

	docs := authed.Group("/documents")
	docs.POST("/upload", d.Document.Upload)
	docs.GET("", d.Document.List)
	docs.POST("/search", d.Document.Search)
	docs.GET("/:id", d.Document.Get)
	docs.PUT("/:id", d.Document.Update)
	docs.DELETE("/:id", d.Document.Delete)
	docs.GET("/:id/status", d.Document.Status)
	docs.POST("/:id/reindex", d.Document.Reindex)
	docs.GET("/:id/events", d.WS.DocumentEvents)

	convs := authed.Group("/conversations")
	convs.POST("", d.Conversation.Create)
	convs.GET("", d.Conversation.List)
	convs.GET("/:id", d.Conversation.Get)
	convs.PUT("/:id", d.Conversation.Update)
	convs.DELETE("/:id", d.Conversation.Delete)

	chat := authed.Group("/chat")
	chat.POST("", d.Chat.Chat)
	chat.POST("/stream", d.Chat.Stream)
	chat.POST("/regenerate", d.Chat.Regenerate)
	chat.POST("/inspect", d.Chat.Inspect)
	chat.POST("/critique", d.Chat.Critique)
	// WebSocket
	chat.GET("/ws", d.WS.ChatWS)

	authed.GET("/vectors/document/:id", d.Vector.DocumentChunks)
	authed.GET("/vectors/stats", d.Vector.Stats)

	admin := authed.Group("/")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/vectors/sync", d.Vector.Sync)
	admin.DELETE("/vectors/document/:id", d.Vector.DeleteDocument)
	admin.POST("/vectors/resync", d.Vector.Resync)
	admin.POST("/vectors/rebuild", d.Vector.Rebuild)
	admin.POST("/users", d.User.Create)
	admin.DELETE("/users/:id", d.User.Delete)
	admin.GET("/admin/users", d.User.List)
	admin.PUT("/admin/users/:id/role", d.User.SetRole)
	admin.GET("/admin/users/:id/usage", d.Admin.UserUsage)
	admin.GET("/admin/usage", d.Admin.Usage)
	admin.GET("/admin/stats", d.Admin.Stats)
	admin.GET("/admin/documents", d.Admin.Documents)
	admin.GET("/admin/chats", d.Admin.Chats)
}
