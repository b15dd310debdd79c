package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mhol1961/waggin-meals-sub004/internal/api/handlers"
	"github.com/mhol1961/waggin-meals-sub004/internal/api/middleware"
	"github.com/mhol1961/waggin-meals-sub004/internal/config"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, coordinator handlers.IBillingCoordinator, taskClient handlers.IAsynqClient) *gin.Engine {
	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	billingHandler := handlers.NewBillingHandler(cfg, coordinator, taskClient)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Scheduler callbacks, authenticated with the shared cron secret.
		cron := v1.Group("/cron")
		cron.Use(middleware.CronAuthMiddleware(cfg.CronSecret))
		{
			cron.POST("/run-billing", billingHandler.RunBilling)
			cron.POST("/reconcile", billingHandler.Reconcile)
		}

		// Staff routes, authenticated with JWT.
		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			adminRequired.POST("/subscriptions/:id/bill", billingHandler.BillSubscription)
		}
	}

	return r
}
