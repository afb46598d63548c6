package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"persona/backend/ai"
	"persona/backend/internal/ledger"
	"persona/backend/internal/repository"
	"persona/backend/internal/service"
	"persona/backend/internal/ws"
	"persona/backend/pkg/cache"
	"persona/backend/pkg/config"
	"persona/backend/pkg/health"
	"persona/backend/pkg/jwt"
	"persona/backend/pkg/logger"
	"persona/backend/pkg/middleware"
	"persona/backend/shared/redis"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const healthCheckPeriod = 30 * time.Second

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logger.Logger

	Cache       cache.Cache
	memoryCache *cache.Memory
	redis       *redis.RedisClient

	JWTService  *jwt.Service
	Ledger      *ledger.Ledger
	Hub         *ws.Hub
	RateLimiter *middleware.RateLimiter
	Health      *health.Checker

	UserService    *service.UserService
	PersonaService *service.PersonaService
	ChatService    *service.ChatService
	ImageService   *service.ImageService
}

// New wires every service on top of an open database
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config:     cfg,
		DB:         db,
		Logger:     log,
		JWTService: jwt.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience),
		Health:     health.NewChecker(log, healthCheckPeriod),
	}

	c.Health.RegisterPingCheck("database", true, func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	if err := c.setupCache(ctx); err != nil {
		return nil, err
	}

	if cfg.Features.EnableWebSockets {
		c.Hub = ws.NewHub(log)
	}

	c.RateLimiter = middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Limit:          rateLimit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: time.Hour,
		KeyFunc:        middleware.UserOrIPKey,
	})

	tokens := repository.NewGormTokenRepository(db)
	personas := repository.NewGormPersonaRepository(db)
	c.Ledger = ledger.New(tokens, log)

	pricing := service.Pricing{
		SignupGrant:     cfg.Tokens.SignupGrant,
		MaxDailyFree:    cfg.Tokens.MaxDailyFree,
		ChatMessageCost: cfg.Tokens.ChatMessageCost,
		ImageCost:       cfg.Tokens.ImageCost,
	}

	responder := ai.NewChatClient(ai.ChatConfig{
		BaseURL: cfg.Services.AIServiceURL,
		APIKey:  cfg.Services.AIAPIKey,
		Model:   cfg.Services.AIModel,
		Timeout: cfg.Services.AITimeout,
	}, log)
	tasks := ai.NewHTTPTaskClient(ai.TaskConfig{
		BaseURL: cfg.Services.TaskServiceURL,
		APIKey:  cfg.Services.TaskAPIKey,
		Timeout: cfg.Services.AITimeout,
	}, log)

	var events service.EventPublisher
	if c.Hub != nil {
		events = c.Hub
	}

	c.UserService = service.NewUserService(repository.NewGormUserRepository(db), c.Ledger, c.Cache, cfg.Cache.TTL, pricing.SignupGrant)
	c.PersonaService = service.NewPersonaService(personas, c.Cache, cfg.Cache.TTL, cfg.Services.AIModel)
	c.ChatService = service.NewChatService(service.ChatDeps{
		Chats:     repository.NewGormChatRepository(db),
		Personas:  personas,
		Ledger:    c.Ledger,
		Responder: responder,
		Cache:     c.Cache,
		Events:    events,
		Pricing:   pricing,
		CacheTTL:  cfg.Cache.TTL,
	})
	c.ImageService = service.NewImageService(
		repository.NewGormImageRepository(db),
		personas,
		c.Ledger,
		tasks,
		pricing.ImageCost,
		cfg.Services.ImageJobTimeout,
		log,
	)

	return c, nil
}

func (c *Container) setupCache(ctx context.Context) error {
	cfg := c.Config.Cache
	switch {
	case !cfg.Enabled:
		c.Cache = cache.Noop{}
	case cfg.Backend == "redis":
		client, err := redis.NewRedisClient(ctx, cfg.RedisURL, cfg.KeyPrefix, cfg.TTL)
		if err != nil {
			return fmt.Errorf("failed to create redis cache: %w", err)
		}
		c.redis = client
		c.Cache = client
		c.Health.RegisterPingCheck("redis", false, client.Ping)
	default:
		c.memoryCache = cache.NewMemory(cache.Options{
			DefaultExpiration: cfg.TTL,
			CleanupInterval:   cfg.PurgeWindow,
			MaxItems:          cfg.MaxSize,
		})
		c.Cache = c.memoryCache
	}
	return nil
}

// Run starts the background loops of the container until ctx is done
func (c *Container) Run(ctx context.Context) {
	c.Health.Start(ctx)
	go c.RateLimiter.Run(ctx)
	if c.memoryCache != nil {
		go c.memoryCache.Run(ctx)
	}
	if c.Hub != nil {
		go c.Hub.Run(ctx)
	}
}

// Close releases the connections held by the container
func (c *Container) Close() error {
	var errs []error
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// rateLimit turns the configured requests per second into a limiter rate.
// Zero disables limiting.
func rateLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
