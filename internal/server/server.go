// Package server contains the HTTP handlers for the payout API.
package server

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"finsys/internal/authz"
	"finsys/internal/config"
	"finsys/internal/directory"
	"finsys/internal/featureflags"
	"finsys/internal/middleware"
	"finsys/internal/notifications"
	"finsys/internal/payout"
	"finsys/internal/repository"
	"finsys/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:5173"}

// Deps are the collaborators built outside the server. Directory and
// Notifier default to the HTTP directory and the configured notifiers.
type Deps struct {
	Policy    *config.PolicyStore
	Executor  payout.Executor
	Directory directory.Directory
	Notifier  notifications.Notifier
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	policy         *config.PolicyStore
	featureFlags   *featureflags.Manager
	resolver       *authz.Resolver
	payouts        *service.PayoutService
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, deps Deps) (*Server, error) {
	if deps.Policy == nil {
		return nil, errors.New("policy store is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("payout executor is required")
	}
	if deps.Directory == nil {
		deps.Directory = directory.NewHTTPDirectory(directory.Config{
			BaseURL:   cfg.GroupsBaseURL,
			Timeout:   cfg.DirectoryTimeout,
			CacheSize: cfg.DirectoryCacheSize,
			CacheTTL:  cfg.DirectoryCacheTTL,
		})
	}
	if deps.Notifier == nil {
		deps.Notifier = defaultNotifier(cfg, redisClient)
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("finsys-api"),
		policy:         deps.Policy,
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		resolver:       authz.NewResolver(deps.Policy, deps.Directory, cfg.PayoutGroupID),
	}
	s.payouts = service.NewPayoutService(service.Deps{
		Repo:          repository.NewPayoutRequestRepository(db),
		Blacklist:     deps.Policy,
		Authz:         s.resolver,
		Executor:      deps.Executor,
		Notifier:      deps.Notifier,
		Flags:         s.featureFlags,
		MaxAmount:     cfg.MaxTransactionLimit,
		NotifyTimeout: cfg.NotifierTimeout,
	})
	return s, nil
}

func defaultNotifier(cfg *config.Config, redisClient *redis.Client) notifications.Notifier {
	fanout := notifications.Fanout{}
	if redisClient != nil {
		fanout = append(fanout, notifications.NewRedisNotifier(redisClient))
	}
	if cfg.NotifierURL != "" {
		fanout = append(fanout, notifications.NewWebhookNotifier(cfg.NotifierURL, cfg.NotifierTimeout))
	}
	if len(fanout) == 0 {
		return nil
	}
	return fanout
}

// SetupMiddleware installs the shared middleware chain.
func (s *Server) SetupMiddleware(app *fiber.App) {
	s.app = app

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected browser requests still carry
	// CORS headers. Policy origins are read per request to follow reloads.
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(defaultOrigins, ","),
		AllowOriginsFunc: func(origin string) bool {
			return lo.Contains(s.policy.AllowedOrigins(), origin)
		},
		AllowHeaders: "Origin, Content-Type, Accept, " + middleware.APIKeyHeader,
		AllowMethods: "GET,POST,PUT,OPTIONS",
		MaxAge:       86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes registers every route. Health and metrics stay outside the API key.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("", middleware.APIKeyRequired(s.config.AuthenticationKey))
	api.Post("/create-payout", s.CreatePayout)
	api.Post("/update-payout-status", middleware.RateLimit(
		s.redis, 30, time.Minute, "update_payout_status"), s.UpdatePayoutStatus)
	api.Get("/pending-requests", s.GetPendingRequests)
	api.Get("/permissions", s.GetPermissions)

	admin := api.Group("/admin")
	admin.Get("/feature-flags", s.GetFeatureFlags)
	admin.Put("/feature-flags", s.UpdateFeatureFlag)
}

// LivenessCheck reports that the process is serving.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings the database. Redis is optional and reported only.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" {
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

// Shutdown stops the HTTP server and closes the database and Redis.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
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
