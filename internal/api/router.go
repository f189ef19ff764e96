// Package api wires together all HTTP routes for the credential integration
// service.
//
// Route grouping philosophy:
//   - /health, /ready, and /version are unauthenticated so load balancers and
//     orchestrators can probe the service without credentials.
//   - Everything under /api/v1 requires a verified bearer token. There are no
//     optional-auth routes: every credential operation is scoped to the
//     authenticated user.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/assetdock/assetdock/internal/api/credentials"
	"github.com/assetdock/assetdock/internal/audit"
	"github.com/assetdock/assetdock/internal/auth"
	"github.com/assetdock/assetdock/internal/bitwarden"
	"github.com/assetdock/assetdock/internal/config"
	credsvc "github.com/assetdock/assetdock/internal/credentials"
	"github.com/assetdock/assetdock/internal/crypto"
	"github.com/assetdock/assetdock/internal/db/repositories"
	"github.com/assetdock/assetdock/internal/middleware"
)

// BackgroundServices holds references to resources that must be released
// during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	limiter     middleware.Limiter
	shipper     audit.Shipper
	redisClient *redis.Client
}

// Shutdown releases background resources. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.limiter != nil {
		bg.limiter.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("failed to close audit shipper", "error", err)
		}
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	sqlxDB := sqlx.NewDb(db, "postgres")
	connectionRepo := repositories.NewConnectionRepository(sqlxDB)
	mappingRepo := repositories.NewMappingRepository(sqlxDB)
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	box, err := crypto.NewSecretBox(cfg.Encryption.MasterSecret)
	if err != nil {
		log.Fatalf("Failed to initialize secret box: %v", err)
	}

	service := credsvc.NewService(connectionRepo, mappingRepo, box, bitwarden.NewClient())

	resolver := newUserResolver(cfg)

	bg := &BackgroundServices{}

	// Rate limiting: Redis-backed when an address is configured so limits
	// hold across replicas, otherwise per-process.
	rateCfg := middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
		BurstSize:         cfg.Security.RateLimiting.Burst,
		CleanupInterval:   5 * time.Minute,
	}
	if cfg.Redis.Addr != "" {
		bg.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bg.limiter = middleware.NewRedisLimiter(bg.redisClient, rateCfg)
		slog.Info("rate limiting backed by redis", "addr", cfg.Redis.Addr)
	} else {
		bg.limiter = middleware.NewMemoryLimiter(rateCfg)
	}

	shipper, err := buildAuditShipper(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}
	bg.shipper = shipper

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db))
	router.GET("/version", versionHandler())

	credHandlers := credentials.NewHandlers(service, auditRepo)

	apiV1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		apiV1.Use(middleware.RateLimitMiddleware(bg.limiter, rateCfg))
	}
	apiV1.Use(middleware.AuthMiddleware(resolver))
	if cfg.Audit.Enabled {
		apiV1.Use(middleware.AuditMiddlewareWithShipper(auditRepo, bg.shipper))
	}
	credHandlers.RegisterRoutes(apiV1)

	return router, bg
}

// newUserResolver selects the bearer-token verifier from config.
func newUserResolver(cfg *config.Config) auth.CurrentUserResolver {
	switch cfg.Auth.Mode {
	case "oidc":
		resolver, err := auth.NewOIDCResolver(context.Background(), cfg.Auth.OIDC.IssuerURL, cfg.Auth.OIDC.ClientID)
		if err != nil {
			log.Fatalf("Failed to initialize OIDC resolver: %v", err)
		}
		slog.Info("bearer tokens verified against OIDC issuer", "issuer", cfg.Auth.OIDC.IssuerURL)
		return resolver
	default:
		if err := auth.ValidateJWTSecret(); err != nil {
			log.Fatalf("Failed to validate JWT secret: %v", err)
		}
		return auth.NewJWTResolver()
	}
}

// buildAuditShipper converts the config shipper list into a MultiShipper.
// Returns a nil Shipper when nothing is configured so the middleware skips
// external delivery entirely.
func buildAuditShipper(cfg *config.Config) (audit.Shipper, error) {
	if len(cfg.Audit.Shippers) == 0 {
		return nil, nil
	}

	configs := make([]audit.ShipperConfig, 0, len(cfg.Audit.Shippers))
	for _, s := range cfg.Audit.Shippers {
		sc := audit.ShipperConfig{Enabled: s.Enabled, Type: s.Type}
		if s.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           s.Webhook.URL,
				Headers:       s.Webhook.Headers,
				Timeout:       time.Duration(s.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     s.Webhook.BatchSize,
				FlushInterval: time.Duration(s.Webhook.FlushInterval) * time.Second,
			}
		}
		if s.File != nil {
			sc.File = &audit.FileConfig{
				Path:       s.File.Path,
				MaxSizeMB:  s.File.MaxSizeMB,
				MaxBackups: s.File.MaxBackups,
			}
		}
		configs = append(configs, sc)
	}

	return audit.NewMultiShipper(configs)
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. The provider
// API is deliberately not probed: its availability affects individual
// operations, not whether this service can accept traffic.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)

		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
