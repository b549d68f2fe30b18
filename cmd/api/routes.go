package main

import (
	"github.com/gin-gonic/gin"

	"github.com/highlightai/highlight/internal/middleware"
)

func setupRouter(api *API, limiter *middleware.RateLimiter, allowedOrigin string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(api.logger))
	router.Use(middleware.CORS(allowedOrigin))

	// Health check
	router.GET("/health", api.healthCheck)

	// Analytics collector. Anonymous callers are allowed.
	collector := router.Group("/analytics")
	collector.Use(middleware.OptionalAuth(), middleware.RateLimit(limiter))
	{
		collector.POST("/event", api.collectEvent)
		collector.POST("/batch", api.collectBatch)
		collector.POST("/upload", api.collectUpload)
	}

	// Uploads
	router.POST("/upload/presigned-url", middleware.JWTAuth(), api.presignUpload)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.OptionalAuth())
	{
		// Feed and profiles
		v1.GET("/videos", api.listVideos)
		v1.GET("/videos/:id", api.getVideo)
		v1.GET("/users/:id/videos", api.listUserVideos)

		// Engagement
		v1.GET("/videos/:id/engagement", api.getEngagement)
		v1.GET("/videos/:id/engagement/stream", api.streamEngagement)
		v1.POST("/videos/:id/view", middleware.RateLimit(limiter), api.recordView)
		v1.POST("/videos/:id/like", middleware.JWTAuth(), api.likeVideo)
		v1.DELETE("/videos/:id/like", middleware.JWTAuth(), api.unlikeVideo)

		// Owner analytics
		v1.GET("/videos/:id/analytics", middleware.JWTAuth(), api.videoAnalytics)
	}

	return router
}
