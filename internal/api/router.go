package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/council-ai/backend/internal/api/handlers"
	"github.com/council-ai/backend/internal/improvement"
	"github.com/council-ai/backend/internal/jobs"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/ledger/index"
	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/internal/middleware/ratelimit"
	"github.com/council-ai/backend/internal/middleware/security"
	"github.com/council-ai/backend/internal/middleware/validation"
	"github.com/council-ai/backend/internal/pdca"
	"github.com/council-ai/backend/internal/storage/sqlite"
	"github.com/council-ai/backend/internal/verification"
	"github.com/council-ai/backend/pkg/config"
	appLogger "github.com/council-ai/backend/pkg/logger"
)

type Dependencies struct {
	Service *verification.Service
	Ledger  *ledger.Ledger
	Index   *index.Index
	Miner   *jobs.Miner
	Tracker *improvement.Tracker
	Stream  *handlers.LedgerStream
	// Mirror is optional; history endpoints fall back to the index without it.
	Mirror *sqlite.Client
	// Decisions is optional; it backs /stats/decisions when a cache keeps counters.
	Decisions handlers.DecisionCounts
	// Cycles is optional; without it the /pdca routes are not mounted.
	Cycles *pdca.Manager
	// Limiter is optional.
	Limiter *ratelimit.RateLimiter
}

func NewApp(cfg config.ServerConfig, deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	allowOrigins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.AllowedOrigins, ",")
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if !deps.Ledger.IsValid() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":       "degraded",
				"ledger_valid": false,
			})
		}
		return c.JSON(fiber.Map{
			"status":       "ready",
			"ledger_valid": true,
		})
	})

	api := app.Group("/api/v1")
	if deps.Limiter != nil {
		api.Use(deps.Limiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{
		MaxContentLength: cfg.MaxContentLength,
		Logger:           appLogger.Named("validation"),
	}))

	var actorHistory handlers.ActorHistory
	var subjectFeedback handlers.SubjectFeedback
	if deps.Mirror != nil {
		actorHistory = deps.Mirror
		subjectFeedback = deps.Mirror
	}

	verificationHandler := handlers.NewVerificationHandler(deps.Service, deps.Index, actorHistory, deps.Cycles)
	feedbackHandler := handlers.NewFeedbackHandler(deps.Tracker, subjectFeedback)
	ledgerHandler := handlers.NewLedgerHandler(deps.Ledger, deps.Miner)

	api.Post("/verify", verificationHandler.Verify)
	api.Get("/verify/:id", verificationHandler.GetVerification)
	api.Get("/verify/:id/feedback", feedbackHandler.SubjectFeedback)
	api.Get("/users/:id/verifications", verificationHandler.UserVerifications)
	api.Get("/categories", verificationHandler.Categories)
	api.Get("/stats/decisions", handlers.DecisionStats(deps.Decisions))

	api.Post("/feedback", feedbackHandler.SubmitFeedback)
	api.Get("/improvement/report", feedbackHandler.Report)
	api.Get("/improvement/stats/:category", feedbackHandler.CategoryStats)
	api.Get("/improvement/training/:category", feedbackHandler.TrainingData)

	api.Get("/ledger/stats", ledgerHandler.Stats)
	api.Post("/ledger/mine", ledgerHandler.Mine)
	api.Get("/ledger/export", ledgerHandler.Export)
	api.Get("/ledger/validate", ledgerHandler.Validate)
	api.Get("/ledger/entries/:index", ledgerHandler.Entry)

	if deps.Cycles != nil {
		pdcaHandler := handlers.NewPDCAHandler(deps.Cycles)
		cycles := api.Group("/pdca/cycles")
		cycles.Post("/", pdcaHandler.CreateCycle)
		cycles.Get("/", pdcaHandler.ListCycles)
		cycles.Get("/:id", pdcaHandler.GetCycle)
		cycles.Post("/:id/objectives", pdcaHandler.AddObjective)
		cycles.Post("/:id/policies", pdcaHandler.AddPolicy)
		cycles.Post("/:id/reviews", pdcaHandler.AddReview)
		cycles.Post("/:id/actions", pdcaHandler.AddAction)
		cycles.Post("/:id/actions/:action/complete", pdcaHandler.CompleteAction)
	}

	if deps.Stream != nil {
		api.Get("/ws/ledger", deps.Stream.Upgrade, deps.Stream.Handler())
	}

	return app
}
