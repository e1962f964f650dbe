package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether the database is reachable.
type Pinger func(ctx context.Context) error

type RouterConfig struct {
	Store       BookStore
	Ping        Pinger
	Logger      logrus.FieldLogger
	Metrics     RequestObserver
	MetricsPage http.Handler
	CORSOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID())
	if cfg.Logger != nil {
		r.Use(AccessLog(cfg.Logger))
	}
	if cfg.Metrics != nil {
		r.Use(Metrics(cfg.Metrics))
	}
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	h := NewBookHandler(cfg.Store)
	books := r.Group("/api/books")
	{
		books.GET("", h.List)
		books.POST("", h.Create)
		// search must be registered before any /:id route
		books.GET("/search", h.Search)
		books.GET("/:id", h.Get)
		books.PUT("/:id", h.Update)
		books.DELETE("/:id", h.Delete)
		books.POST("/:id/checkout", h.Checkout)
		books.POST("/:id/checkin", h.Checkin)
	}

	r.GET("/manage/health", healthCheck(cfg.Ping))
	if cfg.MetricsPage != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsPage))
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func healthCheck(ping Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "DOWN",
					"details": "Database ping failed",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "UP",
			"details": "Catalog database is reachable",
		})
	}
}
