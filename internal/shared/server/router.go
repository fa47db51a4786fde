package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vitiligo-backend/internal/chatbot"
	"vitiligo-backend/internal/runs"
	"vitiligo-backend/internal/services/health"
	"vitiligo-backend/internal/shared/config"
	"vitiligo-backend/internal/shared/metrics"
	"vitiligo-backend/internal/shared/server/middleware"
	"vitiligo-backend/internal/shared/server/respond"
	"vitiligo-backend/internal/tracking"
)

const (
	rateGroupTracking = "TRACKING"
	rateGroupDefault  = "DEFAULT"
)

// RouterDeps carries the handlers mounted under /api/v1.
type RouterDeps struct {
	Config          config.Config
	TrackingHandler *tracking.Handler
	RunsHandler     *runs.Handler
	ChatbotHandler  *chatbot.Handler
	Health          *health.Service
	Now             func() time.Time
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: rateGroupDefault,
			GroupFor:     rateGroupFor,
			Limiter:      middleware.NewRateLimiter(deps.Now),
			Rules: map[string]middleware.RateLimitRule{
				rateGroupTracking: trackingRule(deps.Config.TrackingRatePerMin),
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true})
			return
		}
		ok, checks := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, gin.H{"ok": ok, "checks": checks})
	})
	if deps.TrackingHandler != nil {
		deps.TrackingHandler.RegisterRoutes(api)
	}
	if deps.RunsHandler != nil {
		deps.RunsHandler.RegisterRoutes(api)
	}
	if deps.ChatbotHandler != nil {
		deps.ChatbotHandler.RegisterRoutes(api)
	}

	r.NoRoute(func(c *gin.Context) {
		respond.Error(c, http.StatusNotFound, "not_found", "route not found", nil)
	})
	return r
}

func rateGroupFor(c *gin.Context) string {
	if c.Request.Method == http.MethodPost && strings.HasSuffix(c.Request.URL.Path, "/api/v1/tracking") {
		return rateGroupTracking
	}
	return rateGroupDefault
}

// trackingRule allows perMinute analyses per client, with the full minute as burst.
func trackingRule(perMinute int) middleware.RateLimitRule {
	if perMinute <= 0 {
		return middleware.RateLimitRule{}
	}
	return middleware.RateLimitRule{Rate: float64(perMinute) / 60.0, Burst: perMinute}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
