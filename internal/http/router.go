// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, route handlers and the real-time hub. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging/redaction,
// panic recovery, metrics, compression, CORS, security headers,
// authentication, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/auth"
	"github.com/tbourn/go-realtime-chat/internal/config"
	"github.com/tbourn/go-realtime-chat/internal/docs"
	"github.com/tbourn/go-realtime-chat/internal/http/handlers"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/realtime"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"github.com/tbourn/go-realtime-chat/internal/services"
)

const maxBodyBytes = 1 << 20

// RegisterRoutes attaches all middleware and endpoints to r and returns the
// real-time hub serving cfg.WS.Path so the caller can run its janitor and
// shut it down.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS and security headers
//  7. gzip (websocket path and /metrics excluded)
//
// Public account routes and the websocket upgrade sit behind an IP-keyed
// limiter. The authenticated API runs RequireAuth, then the idempotency
// validator, then a user-keyed limiter that lets replays through.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) *realtime.Hub {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		SkipPaths:   []string{"/health", "/metrics"},
	}))
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		EnablePolicy:  true,
		ExposeHeaders: []string{"ETag", "Idempotency-Replayed"},
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{cfg.WS.Path, "/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", middleware.NoStore(), func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db, hub ← services.
	tokens := auth.NewTokenManager(auth.TokenConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.AccessTokenTTL,
	})
	userSvc := &services.UserService{DB: db, Hasher: auth.NewHasher(cfg.Auth.BcryptCost), Tokens: tokens}
	chatSvc := services.NewChatService(db, repo.Chats{})
	msgSvc := &services.MessageService{
		DB:                  db,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
		SearchWindow:        cfg.SearchWindow,
		SearchThreshold:     cfg.SearchThreshold,
	}
	hub := realtime.NewHub(tokens, chatSvc, msgSvc,
		realtime.WithLogger(log.Logger),
		realtime.WithAuthTimeout(cfg.WS.AuthTimeout),
		realtime.WithTypingInterval(cfg.WS.TypingInterval),
		realtime.WithFrameLimit(cfg.WS.FrameRPS, cfg.WS.FrameBurst),
	)
	chatSvc.Live = hub

	h := handlers.New(userSvc, chatSvc, msgSvc, hub,
		handlers.WithTokenCookie(cfg.Auth.AccessTokenTTL, cfg.Security.EnableHSTS))

	ipLimiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	userLimiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	r.GET(cfg.WS.Path, ipLimiter.Handler(), hub.Handler(realtime.HandlerConfig{
		Transport: realtime.TransportConfig{
			WriteWait:       cfg.WS.WriteWait,
			PongWait:        cfg.WS.PongWait,
			SendBuffer:      cfg.WS.SendBuffer,
			MaxMessageBytes: cfg.WS.MaxMessageBytes,
		},
		AllowedOrigins: cfg.WS.AllowedOrigins,
	}))

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(limitBody(maxBodyBytes))

	public := api.Group("/users", ipLimiter.Handler())
	{
		public.POST("/register", h.Register)
		public.POST("/login", h.Login)
	}

	authed := api.Group("",
		middleware.RequireAuth(tokens),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: cfg.IdempotencyKeyMaxLen},
			messageKeyLookup(db),
		),
		userLimiter.Handler(),
	)
	{
		// Users
		authed.GET("/users", h.ListUsers)
		authed.GET("/users/me", h.Me)
		authed.GET("/users/:id", h.GetUser)

		// Chats
		authed.POST("/chats", h.CreateChat)
		authed.GET("/chats/my", h.ListMyChats)
		authed.GET("/chats/:id", h.GetChat)
		authed.GET("/chats/:id/participants", h.ListParticipants)
		authed.POST("/chats/:id/members", h.AddMember)
		authed.DELETE("/chats/:id/members/:user_id", h.RemoveMember)
		authed.DELETE("/chats/:id/leave", h.LeaveChat)

		// Messages
		authed.POST("/messages", h.PostMessage)
		authed.PATCH("/messages/read", h.MarkRead)
		authed.GET("/messages/:chat_id", h.ListMessages)
		authed.GET("/messages/:chat_id/search", h.SearchMessages)
	}

	return hub
}

// messageKeyLookup reports a replay when the caller already sent a message
// under the Idempotency-Key. Keys owned by other users never count.
func messageKeyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, key string, _ time.Time) (bool, error) {
		m, err := repo.FindMessageByClientMsgID(ctx, db, key)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return m.SenderID == userID, nil
	}
}

// corsMiddleware allows every origin without credentials when origins is
// empty, otherwise only the listed ones.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// ACAO is set even without an Origin header so plain clients see it.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}
	base.AllowOrigins = origins
	base.AllowCredentials = true
	return []gin.HandlerFunc{cors.New(base)}
}

// limitBody caps request bodies at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
