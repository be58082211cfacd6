// Package server contains the HTTP and WebSocket surface of the messaging core:
// the REST snapshot API, the write endpoints that drive the Delivery Service
// and the realtime gateway endpoint.
package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tripchat/internal/bootstrap"
	"tripchat/internal/bus"
	"tripchat/internal/cache"
	"tripchat/internal/config"
	"tripchat/internal/database"
	"tripchat/internal/featureflags"
	"tripchat/internal/middleware"
	"tripchat/internal/models"
	"tripchat/internal/realtime"
	"tripchat/internal/repository"
	"tripchat/internal/retention"
	"tripchat/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	bus            bus.Bus
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	tokens         middleware.TokenConfig
	typingLimit    realtime.TypingLimiter

	userRepo     repository.UserRepository
	chatRepo     repository.ChatRepository
	notifyRepo   repository.NotificationRepository
	featureFlags *featureflags.Manager

	delivery      *service.DeliveryService
	notifications *service.NotificationService
	gateway       *realtime.Gateway
	sweeper       *retention.Sweeper
}

// NewServer initializes the runtime described by cfg and wires a Server.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	db, redisClient, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}

	b, err := NewBus(cfg, redisClient)
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, redisClient, b)
}

// NewBus builds the event bus selected by BUS_BACKEND. Without Redis the
// in-process bus is used regardless of the setting.
func NewBus(cfg *config.Config, redisClient *redis.Client) (bus.Bus, error) {
	if cfg.BusBackend == "memory" || redisClient == nil {
		if cfg.BusBackend == "redis" {
			log.Println("WARNING: BUS_BACKEND is 'redis' but Redis is unavailable; using the in-process bus")
		}
		return bus.NewMemoryBus(cfg.SubscriberBuffer), nil
	}
	b, err := bus.NewRedisBus(redisClient, cfg.SubscriberBuffer)
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}
	return b, nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; tickets, rate limits and the Redis cache are then unavailable.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, b bus.Bus) (*Server, error) {
	flags, err := featureflags.Parse(cfg.FeatureFlags)
	if err != nil {
		return nil, err
	}

	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	notifyRepo := repository.NewNotificationRepository(db)

	var store cache.Store = cache.NewMemoryStore()
	if redisClient != nil {
		store = cache.NewRedisStore(redisClient)
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	conversations := cache.NewConversationCache(store, ttl, chatRepo.GetConversation)

	notifications := service.NewNotificationService(notifyRepo, userRepo, b, cfg.NotificationWindow)
	delivery := service.NewDeliveryService(service.DeliveryDeps{
		Chat:          chatRepo,
		Users:         userRepo,
		Publisher:     b,
		Conversations: conversations,
		Flags:         flags,
		Notifications: notifications,
	})

	typingLimit := realtime.TypingLimiter(middleware.TypingLimit(redisClient))
	gateway := realtime.NewGateway(realtime.Options{
		Bus:        b,
		Authorizer: delivery,
		Typing:     delivery,
		Limiter:    typingLimit,
		SendBuffer: realtime.SendBuffer,
	})

	sweeper, err := retention.NewSweeper(retention.Config{
		Cron:                  cfg.RetentionCron,
		NotificationRetention: time.Duration(cfg.NotificationRetentionDays) * 24 * time.Hour,
		IdempotencyWindow:     time.Duration(cfg.IdempotencyWindowHours) * time.Hour,
	}, notifyRepo, chatRepo)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		bus:            b,
		promMiddleware: middleware.InitMetrics("tripchat-api"),
		tokens: middleware.TokenConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		typingLimit:   typingLimit,
		userRepo:      userRepo,
		chatRepo:      chatRepo,
		notifyRepo:    notifyRepo,
		featureFlags:  flags,
		delivery:      delivery,
		notifications: notifications,
		gateway:       gateway,
		sweeper:       sweeper,
	}, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Request ID doubles as the correlation ID in store and delivery logs.
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS must run before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// Global rate limiting (300 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || strings.HasPrefix(c.Path(), "/health")
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitedError("Too many requests, please try again later."))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	protected := api.Group("", s.AuthRequired())

	conversations := protected.Group("/conversations")
	conversations.Get("/", s.GetConversations)
	conversations.Post("/direct", s.StartDirect)
	conversations.Post("/group", s.CreateGroup)
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/messages", middleware.RateLimit(
		s.redis, 30, time.Minute, "send_message"), s.SendMessage)
	conversations.Post("/:id/read", s.MarkRead)
	conversations.Post("/:id/typing", s.PublishTyping)
	conversations.Get("/:id/participants", s.GetParticipants)

	messages := protected.Group("/messages")
	messages.Post("/:id/reactions", middleware.RateLimit(
		s.redis, 60, time.Minute, "reaction"), s.ToggleReaction)

	groups := protected.Group("/groups")
	groups.Post("/:id/lock", s.ToggleLock)
	groups.Put("/:id/pin", s.PinMessage)
	groups.Delete("/:id/pin", s.UnpinMessage)

	notifications := protected.Group("/notifications")
	notifications.Get("/", s.GetNotifications)
	// Specific /read-all route before generic /:id
	notifications.Post("/read-all", s.MarkAllNotificationsRead)
	notifications.Post("/:id/read", s.MarkNotificationRead)

	admin := protected.Group("/admin", s.AdminRequired())
	admin.Post("/notifications", s.CreateSystemNotification)
	admin.Get("/feature-flags", s.GetFeatureFlags)

	api.Post("/ws/ticket", s.AuthRequired(), s.IssueWSTicket)
	api.Get("/ws", s.AuthRequired(), s.WebSocketUpgrade(), s.WebSocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	// Redis is optional only when the in-process bus was chosen explicitly.
	redisRequired := s.config.BusBackend == "redis"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" || (redisRequired && redisStatus != "healthy") {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "TripChat API",
		BodyLimit: 1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, &models.AppError{Code: codeForStatus(fe.Code), Message: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start starts the server and blocks until it stops listening.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.NewApp()
	if s.sweeper != nil {
		s.sweeper.Start(s.shutdownCtx)
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if err := s.gateway.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.gateway.Name(), err)
	}

	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			log.Printf("error closing event bus: %v", err)
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
