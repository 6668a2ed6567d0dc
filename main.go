package main

import (
	"fmt"
	"time"

	"deepchat/controller"
	"deepchat/model"
	"deepchat/platform"
	"deepchat/service"

	_uuid "github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CORSMiddleware ...
// CORS (Cross-Origin Resource Sharing)
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type, Origin, Authorization, Accept, Client-Security-Token, Accept-Encoding, x-access-token")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
		} else {
			c.Next()
		}
	}
}

// RequestIDMiddleware ...
// Generate a unique ID and attach it to each request for future reference or use
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uuid := _uuid.New()
		c.Writer.Header().Set("X-Request-Id", uuid.String())
		c.Set("requestId", uuid.String())
		c.Next()
	}
}

func LogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		if raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)

		status := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		userAgent := c.Request.UserAgent()
		requestId := c.GetString("requestId")

		logrus.Infof(
			" [%s] %d | %v | %s | %s | %s | %s ",
			requestId,
			status,
			latency,
			clientIP,
			method,
			path,
			userAgent,
		)
	}
}

func main() {
	fmt.Println("Server started...")

	//Load the .env file
	if err := godotenv.Load(".env"); err != nil {
		fmt.Println("failed to load the env file")
	}

	cfg := platform.LoadConfig()
	platform.InitFile(cfg.LogPath, "gin")
	logger := platform.InitAppLogger(cfg.LogPath, "deepchat")

	r := gin.Default()
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LogMiddleware())

	//init database
	db, err := platform.NewDB(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	if err := model.InstallDB(db); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	generator := platform.NewLLMClient(cfg)

	tokenService := service.NewTokenService(db, cfg.AccessSecret)
	userService := service.NewUserService(db, tokenService)
	chatService := service.NewChatService(db, generator, logger, cfg.PromptMinChars)
	identityService, err := service.NewIdentitySyncService(db, cfg.SigningSecret, cfg.WebhookTolerance, logger)
	if err != nil {
		logrus.Fatalf("Failed to initialize identity sync: %v", err)
	}

	auth := controller.NewAuthController(tokenService, logger)
	user := controller.NewUserController(userService, tokenService, logger)
	chat := controller.NewChatController(chatService, logger)
	webhook := controller.NewWebhookController(identityService, logger)

	v1 := r.Group("/v1")
	{
		v1.POST("/user/register", user.Register)
		v1.POST("/user/login", user.Login)
		v1.POST("/user/logout", auth.RequireToken(), user.Logout)

		//Refresh the token
		v1.POST("/token/refresh", auth.Refresh)

		// Conversations
		v1.POST("/chats", auth.RequireToken(), chat.Create)
		v1.GET("/chats", auth.RequireToken(), chat.List)
		v1.PATCH("/chats/:id", auth.RequireToken(), chat.Rename)
		v1.DELETE("/chats/:id", auth.RequireToken(), chat.Delete)
		v1.POST("/chats/:id/messages", auth.RequireToken(), chat.SendMessage)
		v1.GET("/session", auth.RequireToken(), chat.Session)

		// Identity provider webhook ingress
		v1.POST("/identity-events", webhook.IdentityEvents)
	}

	c := cron.New()
	c.AddFunc("@hourly", func() {
		if err := tokenService.PurgeExpired(); err != nil {
			logger.Warnf("failed to purge expired token revocations: %s", err)
		}
	})
	c.Start()

	r.Run(":" + cfg.Port)
}
