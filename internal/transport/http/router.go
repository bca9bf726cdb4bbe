package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/auth"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/engine"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/metrics"
)

// NewRouter builds the gin engine with all routes mounted. Driver ingest
// routes sit behind the API-key middleware; resident routes are open.
func NewRouter(e *engine.Engine, authenticator *auth.Authenticator, corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	corsCfg := cors.DefaultConfig()
	if len(corsOrigins) == 1 && corsOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = corsOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-API-Key")
	r.Use(cors.New(corsCfg))

	h := NewHandler(e)
	ws := NewWSHandler(e)

	driver := r.Group("/tracking", DriverAuth(authenticator))
	{
		driver.POST("/location", h.ReportLocation)
		driver.POST("/location/batch", h.ReportBatch)
	}

	trucks := r.Group("/trucks")
	{
		trucks.POST("/:id/duty/start", DriverAuth(authenticator), h.StartDuty)
		trucks.POST("/:id/duty/stop", DriverAuth(authenticator), h.StopDuty)
		trucks.GET("/live", h.AllLive)
		trucks.GET("/nearby", h.Nearby)
		trucks.GET("/:id/live", h.Live)
		trucks.GET("/:id/history", h.History)
	}

	r.GET("/track/:subscriber_id", h.Track)
	r.GET("/ws/track/:subscriber_id", ws.Track)

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapF(metrics.HandleMetrics))

	return r
}
