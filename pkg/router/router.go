package router

import (
	"net/http"

	"persona/backend/internal/api"
	"persona/backend/pkg/config"
	"persona/backend/pkg/di"
	"persona/backend/pkg/errors"
	"persona/backend/pkg/jwt"
	"persona/backend/pkg/logger"
	"persona/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates the gin engine with the global middleware chain
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.LogError(err, "Invalid trusted proxies, trusting none")
		_ = engine.SetTrustedProxies(nil)
	}

	// the logger runs first so every later middleware logs with the request id
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(middleware.Telemetry(cfg.Observability.ServiceName))
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(middleware.BodyLimit(cfg.Security.MaxBodySize))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	r.setupHealthRoutes()
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.setupOpenAPI()

	jwtAuth := middleware.JWTAuthMiddleware(c.JWTService, c.UserService)
	limit := c.RateLimiter.Middleware()

	userHandler := api.NewUserHandler(c.UserService)
	tokenHandler := api.NewTokenHandler(c.Ledger, r.Config.Tokens.MaxDailyFree)
	personaHandler := api.NewPersonaHandler(c.PersonaService)
	chatHandler := api.NewChatHandler(c.ChatService, c.Hub)
	imageHandler := api.NewImageHandler(c.ImageService, r.Config.Services.TaskCallbackSecret)

	v1 := r.Engine.Group("/api/v1")

	// Public routes (no auth required)
	public := v1.Group("")
	public.Use(limit)
	{
		personaHandler.RegisterPublicRoutes(public)
		imageHandler.RegisterCallbackRoutes(public)
	}

	// Protected routes, limited per user once the token is verified
	protected := v1.Group("")
	protected.Use(jwtAuth, limit)
	{
		userHandler.RegisterRoutes(protected)
		tokenHandler.RegisterRoutes(protected)
		personaHandler.RegisterRoutes(protected)
		chatHandler.RegisterRoutes(protected)
		imageHandler.RegisterRoutes(protected)

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRole(jwt.RoleAdmin))
		tokenHandler.RegisterAdminRoutes(admin)
	}
}

// setupHealthRoutes registers the health endpoint on both paths
func (r *Router) setupHealthRoutes() {
	handler := gin.WrapF(r.Container.Health.HTTPHandler())
	r.Engine.GET("/health", handler)
	r.Engine.GET("/api/v1/health", handler)
}

// corsMiddleware allows the configured origins, "*" allowing any. Websocket
// headers are allowed explicitly for the chat event stream.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := false
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		origins[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin != "" && (wildcard || origins[origin]):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		case origin == "" && wildcard:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
