package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/attuneapp/voice-coach/internal/cleanup"
	"github.com/attuneapp/voice-coach/internal/coaching"
	"github.com/attuneapp/voice-coach/internal/config"
	"github.com/attuneapp/voice-coach/internal/diarization"
	"github.com/attuneapp/voice-coach/internal/embedding"
	"github.com/attuneapp/voice-coach/internal/enrollment"
	"github.com/attuneapp/voice-coach/internal/handlers"
	"github.com/attuneapp/voice-coach/internal/identify"
	"github.com/attuneapp/voice-coach/internal/session"
	"github.com/attuneapp/voice-coach/internal/storage"
)

func main() {
	// Load configuration
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure directories exist
	if err := cleanup.EnsureClipDirExists(cfg.Storage.ArtifactDir); err != nil {
		log.Fatalf("Failed to create artifact directory: %v", err)
	}

	// Custom logger setup
	logBuffer := &LogBuffer{
		lines: make([]string, 0, 1000),
	}
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	log.SetOutput(multiWriter)

	// Initialize components
	log.Println("Initializing components...")

	// Database
	db, err := storage.NewDB(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Local artifact storage for enrollment clips
	artifacts := storage.NewArtifactStore(cfg.Storage.ArtifactDir)

	// Google Drive archiver (optional - may fail if credentials not set up)
	var archiver enrollment.ClipArchiver
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		drive, err := storage.NewDriveArchiver(
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Enrollment clips will only be saved locally")
		} else {
			log.Println("Google Drive integration enabled")
			archiver = drive
		}
	} else {
		log.Println("Google Drive credentials not found - saving locally only")
	}

	// Embedding + diarization model endpoints
	embedder := embedding.NewHTTPClient(
		cfg.Identify.EmbedderURL,
		time.Duration(cfg.Identify.EmbedTimeoutS*float64(time.Second)),
	)
	inferencer := diarization.NewHTTPInferencer(cfg.Pipeline.DiarizerURL)

	// Speaker identification against enrolled profiles
	identifier := identify.New(embedder, db, cfg.Identify.SimilarityThreshold)

	// Coaching engine and nudge rate limiting
	engine := coaching.NewEngine(coaching.Thresholds{
		SpeakingRate: cfg.Coaching.SpeakingRateThreshold,
		OverlapRatio: cfg.Coaching.OverlapRatioThreshold,
		MonologueMs:  int64(cfg.Coaching.MonologueS * 1000),
	})
	limiter := coaching.NewRateLimiter(
		coaching.NewMemoryStore(),
		time.Duration(cfg.Coaching.NudgeCooldownS*float64(time.Second)),
		nil,
	)

	// Session registry
	registry := session.NewRegistry(&session.Factory{
		Window: diarization.WindowConfig{
			WindowS:     cfg.Pipeline.WindowS,
			HopS:        cfg.Pipeline.HopS,
			Timeout:     time.Duration(cfg.Pipeline.TimeoutS * float64(time.Second)),
			MaxSpeakers: cfg.Pipeline.MaxSpeakers,
		},
		Mode:       cfg.Pipeline.Mode,
		Inferencer: inferencer,
		Identifier: identifier,
		Engine:     engine,
		Limiter:    limiter,
		NudgeLog:   db,
	})

	// Enrollment workflow
	workflow := enrollment.NewWorkflow(embedder, db, artifacts, archiver)

	// Cleanup scheduler purges aged raw voice clips
	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.ArtifactDir,
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxChunkSizeKB * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	users := handlers.AllowAllDirectory{}
	sessionHandler := handlers.NewSessionHandler(registry, users, db)
	streamHandler := handlers.NewStreamHandler(registry)
	enrollmentHandler := handlers.NewEnrollmentHandler(workflow, users)
	identifyHandler := handlers.NewIdentifyHandler(identifier)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// Readiness reports model availability without failing: sessions degrade
	// rather than refuse to start.
	app.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":           "ready",
			"fallback_model":   inferencer.Ready(),
			"diarization_mode": cfg.Pipeline.Mode,
		})
	})

	app.Post("/sessions", sessionHandler.Create)
	app.Get("/sessions/:id", sessionHandler.Get)
	app.Delete("/sessions/:id", sessionHandler.Finalize)
	app.Get("/sessions/:id/nudges", sessionHandler.Nudges)

	app.Post("/enrollments", enrollmentHandler.Start)
	app.Post("/enrollments/:id/audio", enrollmentHandler.UploadAudio)
	app.Post("/enrollments/:id/complete", enrollmentHandler.Complete)

	app.Post("/identify", identifyHandler.Identify)

	// WebSocket route
	app.Get("/ws/sessions/:id", websocket.New(streamHandler.Handle))

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST   /sessions                  - Create coaching session")
	log.Println("   GET    /ws/sessions/:id           - WebSocket audio streaming")
	log.Println("   DELETE /sessions/:id              - Finalize session")
	log.Println("   GET    /sessions/:id/nudges       - Nudge history")
	log.Println("   POST   /enrollments               - Start voice enrollment")
	log.Println("   POST   /enrollments/:id/audio     - Upload enrollment audio")
	log.Println("   POST   /enrollments/:id/complete  - Build voice profile")
	log.Println("   POST   /identify                  - One-shot speaker identification")
	log.Println("   GET    /logs                      - View server logs")
	log.Println("   GET    /health                    - Health check")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		registry.CloseAll()
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	// Append new line
	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	// Return copy of slice
	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
