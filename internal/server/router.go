package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"defitrack/internal/config"
	"defitrack/internal/observability"
)

// NewRouter builds the HTTP surface: sync trigger, batch status, the
// NDJSON live stream, and health probes.
func NewRouter(cfg *config.Config, sync *SyncHandler, streamH *StreamHandler, health *observability.HealthChecker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", gin.WrapF(health.LivenessHandler))
	router.GET("/readyz", gin.WrapF(health.ReadinessHandler))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/wallets/:walletId/sync", sync.TriggerSync)
		v1.GET("/wallets/status", sync.BatchStatus)
		v1.GET("/queues/health", sync.QueueHealth)
		v1.GET("/stream", streamH.Stream)
	}

	return router
}
