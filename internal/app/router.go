package app

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"haulpay/internal/handler"
	"haulpay/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TripHandler     *handler.TripHandler
	LoadHandler     *handler.LoadHandler
	LocationHandler *handler.LocationHandler
	SettingsHandler *handler.SettingsHandler
	RedisClient     *redis.Client
	NewRelicApp     *newrelic.Application
	Logger          *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.TripAttributes())
	}

	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// User routes.
		users := v1.Group("/users/:userId")
		{
			users.GET("/settings", deps.SettingsHandler.GetSettings)
			users.PUT("/settings", deps.SettingsHandler.SaveSettings)
			users.GET("/earnings/weekly", deps.SettingsHandler.WeeklyEarnings)
		}

		// Trip routes.
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.CreateTrip)
			trips.GET("", deps.TripHandler.GetAll)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.DELETE("/:id", deps.TripHandler.DeleteTrip)
			trips.POST("/:id/mileage", deps.TripHandler.UpdateMileage)
			trips.POST("/:id/finish", deps.TripHandler.FinishTrip)
			trips.GET("/:id/tracking", deps.TripHandler.GetTracking)
			trips.POST("/:id/tracking/flush", deps.TripHandler.FlushTracking)
			trips.GET("/:id/statement", deps.TripHandler.GetStatement)

			// Location routes.
			trips.POST("/:id/location", deps.LocationHandler.PostFix)
			trips.GET("/:id/location/stream", deps.LocationHandler.Stream)

			// Load routes.
			trips.POST("/:id/loads", deps.LoadHandler.AddLoad)
			trips.PUT("/:id/loads/:loadId", deps.LoadHandler.EditLoad)
			trips.DELETE("/:id/loads/:loadId", deps.LoadHandler.DeleteLoad)
			trips.POST("/:id/loads/:loadId/begin", deps.LoadHandler.BeginLoad)
			trips.DELETE("/:id/loads/:loadId/stops/:stopId", deps.LoadHandler.DeleteStop)
			trips.POST("/:id/loads/:loadId/stops/:stopId/depart", deps.LoadHandler.DepartToStop)
			trips.POST("/:id/loads/:loadId/stops/:stopId/arrive", deps.LoadHandler.ArriveAtStop)
			trips.POST("/:id/loads/:loadId/depot/depart", deps.LoadHandler.DepartToDepot)
			trips.POST("/:id/loads/:loadId/depot/arrive", deps.LoadHandler.ArriveAtDepot)
		}
	}

	return router
}
