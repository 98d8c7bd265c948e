package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/service"
	"github.com/content-store-api/pkg/logger"
)

const (
	actorHeader     = "X-Actor-ID"
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// HealthChecker reports whether the storage substrate is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewRouter creates and configures the Gin router. health may be nil.
func NewRouter(services *service.Services, health HealthChecker, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	// Set Gin mode
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(requestIDMiddleware())
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware())
	router.Use(timeoutMiddleware(cfg.Server.WriteTimeout))

	// Handlers
	articleHandler := NewArticleHandler(services, log)
	searchHandler := NewSearchHandler(services, log)
	exportHandler := NewExportHandler(services, log)

	// Health check
	router.GET("/health", healthCheck(health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := router.Group("/v1")
	{
		v1.GET("/stats", articleHandler.Stats)

		articles := v1.Group("/articles")
		{
			articles.POST("", articleHandler.Create)
			articles.GET("", articleHandler.List)
			articles.GET("/popular", articleHandler.ListPopular)
			articles.GET("/suggest", searchHandler.Suggest)
			articles.GET("/export", exportHandler.StreamExport)
			articles.GET("/slug/:slug", articleHandler.GetBySlug)

			articles.GET("/:id", articleHandler.Get)
			articles.PATCH("/:id", articleHandler.Update)
			articles.DELETE("/:id", articleHandler.SoftDelete)
			articles.POST("/:id/restore", articleHandler.Restore)
			articles.POST("/:id/publish", articleHandler.Publish)
			articles.POST("/:id/draft", articleHandler.Draft)
			articles.POST("/:id/feature", articleHandler.Feature)
			articles.POST("/:id/unfeature", articleHandler.Unfeature)
			articles.POST("/:id/schedule", articleHandler.Schedule)
			articles.POST("/:id/views", articleHandler.IncrementViews)
			articles.POST("/:id/likes", articleHandler.IncrementLikes)

			articles.GET("/:id/versions", articleHandler.ListVersions)
			articles.POST("/:id/versions", articleHandler.CreateVersion)
			articles.GET("/:id/versions/:number", articleHandler.GetVersion)
			articles.POST("/:id/versions/:number/restore", articleHandler.RestoreVersion)

			articles.GET("/:id/tags", articleHandler.ListTags)
			articles.PUT("/:id/tags/:tag_id", articleHandler.AddTag)
			articles.DELETE("/:id/tags/:tag_id", articleHandler.RemoveTag)
		}

		searches := v1.Group("/search")
		{
			searches.GET("", searchHandler.Lexical)
			searches.POST("/semantic", searchHandler.Semantic)
			searches.GET("/hybrid", searchHandler.Hybrid)
		}

		v1.POST("/admin/reindex", searchHandler.Reindex)
	}

	return router
}

// healthCheck returns the health status
func healthCheck(health HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		database := "unchecked"
		if health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := health.HealthCheck(ctx); err != nil {
				status, code, database = "unhealthy", http.StatusServiceUnavailable, "unreachable"
			} else {
				database = "ok"
			}
		}

		c.JSON(code, gin.H{
			"status":    status,
			"database":  database,
			"timestamp": time.Now().Format(time.RFC3339),
			"service":   logger.ServiceName,
		})
	}
}

// requestIDMiddleware propagates or assigns a request id
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// recoveryMiddleware handles panics
func recoveryMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("error", err).Str("request_id", c.GetString(requestIDKey)).Msg("Panic recovered")
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"code": "internal", "message": "Internal server error"},
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs requests
func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		event := log.Info()
		if statusCode >= 400 {
			event = log.Warn()
		}
		if statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(requestIDKey)).
			Msg("Request completed")
	}
}

// timeoutMiddleware bounds the request context so storage calls stop once
// the response can no longer be written
func timeoutMiddleware(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+actorHeader+", "+requestIDHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
