package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/smashlab/coachchat/internal/api/handler"
	customMiddleware "github.com/smashlab/coachchat/internal/api/middleware"
	"github.com/smashlab/coachchat/internal/config"
	"github.com/smashlab/coachchat/internal/llm/ollama"
	"github.com/smashlab/coachchat/internal/repository/redis"
	"github.com/smashlab/coachchat/internal/security"
	"github.com/smashlab/coachchat/internal/service"
	"github.com/smashlab/coachchat/internal/skill"
	"github.com/smashlab/coachchat/internal/stats"
)

// NewRouter creates and configures the HTTP router. statsLayer may be nil
// when the data layer is disabled; its lifecycle (including Close) belongs to
// the caller.
func NewRouter(cfg *config.Config, redisClient *redis.Client, statsLayer *stats.Layer) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Security
	jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	// Storage
	sessionStore := redis.NewSessionStore(redisClient, cfg.Chat.SessionTTL)
	rateLimiter := redis.NewRateLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)

	// LLM gateway
	log.Info().Str("host", cfg.Ollama.Host).Str("model", cfg.Ollama.Model).Msg("initializing Ollama gateway")
	gateway := ollama.NewClient(cfg.Ollama.Host, cfg.Ollama.Model, cfg.Ollama.Timeout)

	// Skills
	skills := skill.NewLoader(cfg.Chat.SkillsDir)
	log.Info().Strs("skills", skills.List()).Msg("skill loader ready")

	// Stats layer (optional)
	var statsProvider service.StatsProvider
	if statsLayer != nil {
		log.Info().Str("base_url", cfg.Stats.BaseURL).Msg("stats layer enabled")
		statsProvider = statsLayer
	}

	chatService := service.NewChatService(
		gateway,
		sessionStore,
		skills,
		statsProvider,
		statsLayer != nil,
		cfg.Chat.HistoryWindow,
	)

	// Handlers
	chatHandler := handler.NewChatHandler(chatService)
	sessionHandler := handler.NewSessionHandler(chatService)
	skillHandler := handler.NewSkillHandler(chatService)

	// Middleware
	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	r.Route("/api/v1/chat", func(r chi.Router) {
		// Health check (public)
		r.Get("/health", handler.HealthCheck(chatService, cfg.Ollama.Model))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(rateLimitMiddleware.Limit)

			r.Post("/", chatHandler.Chat)
			r.Post("/stream", chatHandler.ChatStream)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Delete("/messages", sessionHandler.ClearMessages)
			})

			r.Get("/skills", skillHandler.List)
			r.Post("/skill/reload", skillHandler.Reload)
		})
	})

	return r
}
