package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/eventbus"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/httpapi/handlers"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/httpapi/middleware"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/localio"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/providers"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/llm"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
)

// RouterConfig is everything NewRouter needs to wire the intake HTTP
// API's route table — one field per handler/middleware dependency,
// assembled by the app package.
type RouterConfig struct {
	Log            *logger.Logger
	Store          store.Store
	Registry       *profiles.Registry
	Zones          localio.Zones
	OutputRoot     string
	LLMClient      *llm.Client
	ProviderRouter *providers.Router
	Hub            *eventbus.Hub

	AdminAPIKey       string
	JobRateLimitRPS   float64
	JobRateLimitBurst int

	AllowOrigins []string
}

// NewRouter assembles the gin engine: cors, a per-client rate limiter
// on the one write-heavy public route, and an admin-key gate on every
// other mutating route.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	jobsHandler := handlers.NewJobsHandler(cfg.Log, cfg.Store, cfg.Registry, cfg.Zones, cfg.OutputRoot)
	profilesHandler := handlers.NewProfilesHandler(cfg.Log, cfg.Registry, cfg.LLMClient)
	healthHandler := handlers.NewHealthHandler(cfg.ProviderRouter)
	streamHandler := handlers.NewStreamHandler(cfg.Log, cfg.Hub)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	rateLimiter := middleware.NewPerClientLimiter(cfg.JobRateLimitRPS, cfg.JobRateLimitBurst)
	adminAuth := middleware.RequireAdminKey(cfg.AdminAPIKey)

	router.POST("/jobs", rateLimiter.Middleware(), jobsHandler.CreateJob)
	router.GET("/jobs", jobsHandler.ListJobs)
	router.GET("/jobs/:id", jobsHandler.GetJob)
	router.GET("/jobs/:id/outputs", jobsHandler.ListOutputs)
	router.DELETE("/jobs/:id", adminAuth, jobsHandler.DeleteJob)

	router.GET("/profiles", profilesHandler.ListProfiles)
	router.GET("/profiles/:id", profilesHandler.GetProfile)
	router.POST("/profiles", adminAuth, profilesHandler.CreateProfile)
	router.DELETE("/profiles/:id", adminAuth, profilesHandler.DeleteProfile)
	router.GET("/profiles/:id/prompts/:stage_index", profilesHandler.GetPrompt)
	router.PUT("/profiles/:id/prompts/:stage_index", adminAuth, profilesHandler.PutPrompt)
	router.POST("/profiles/:id/dry-run", profilesHandler.DryRun)

	router.GET("/logs/stream", streamHandler.Stream)

	return router
}
