package server

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/courseforge/courseforge-backend/internal/handlers"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/middleware"
	"github.com/courseforge/courseforge-backend/internal/services"
	"github.com/courseforge/courseforge-backend/internal/utils"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	Course  *handlers.CourseHandler
	Section *handlers.SectionHandler
	Chat    *handlers.ChatHandler
}

func NewRouter(log *logger.Logger, authService services.AuthService, h Handlers) *gin.Engine {
	mode := utils.GetEnv("GIN_MODE", gin.ReleaseMode, log)
	gin.SetMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())

	allowedOrigins := strings.Split(utils.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000", log), ",")
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", handlers.Healthcheck)

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", h.Auth.Register)
			auth.POST("/login", h.Auth.Login)
		}

		authed := api.Group("")
		authed.Use(middleware.RequireAuth(authService))
		{
			authed.POST("/courses/generate", h.Course.Generate)
			authed.GET("/courses", h.Course.List)
			authed.GET("/courses/:id", h.Course.Get)
			authed.GET("/credits", h.Course.Credits)

			authed.POST("/sections/:id/generate", h.Section.Generate)
			authed.GET("/sections/:id/generate/stream", h.Section.GenerateStream)
			authed.POST("/sections/:id/complete", h.Section.MarkCompleted)

			authed.POST("/chat", h.Chat.Ask)
			authed.GET("/chat/stream", h.Chat.AskStream)
			authed.GET("/chat/history", h.Chat.History)
		}
	}

	return r
}
