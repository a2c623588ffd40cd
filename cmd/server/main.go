package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/callsight/callsight/internal/analysis"
	"github.com/callsight/callsight/internal/audio"
	"github.com/callsight/callsight/internal/cleanup"
	"github.com/callsight/callsight/internal/config"
	"github.com/callsight/callsight/internal/handlers"
	"github.com/callsight/callsight/internal/logger"
	"github.com/callsight/callsight/internal/pii"
	"github.com/callsight/callsight/internal/pipeline"
	"github.com/callsight/callsight/internal/queue"
	"github.com/callsight/callsight/internal/ratelimit"
	"github.com/callsight/callsight/internal/segmenter"
	"github.com/callsight/callsight/internal/storage"
	"github.com/callsight/callsight/internal/transcription"
)

func main() {
	godotenv.Load()

	log := logger.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	runner := &audio.Runner{
		FFmpegPath:  cfg.Ffmpeg.FFmpegPath,
		FFprobePath: cfg.Ffmpeg.FFprobePath,
	}
	if err := runner.Check(); err != nil {
		log.WithError(err).Fatal("ffmpeg binaries not available")
	}

	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open metadata database")
	}
	defer db.Close()

	objects, err := buildObjectStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize object store")
	}

	transcriptionCfg := transcription.DefaultConfig(cfg.Transcription.BaseURL, cfg.Transcription.APIKey)
	if cfg.Transcription.PollIntervalSeconds > 0 {
		transcriptionCfg.PollInterval = time.Duration(cfg.Transcription.PollIntervalSeconds) * time.Second
	}
	transcriptionCfg.MaxPolls = cfg.Transcription.MaxPolls
	transcriber := transcription.NewClient(transcriptionCfg, logger.WithComponent(log, "transcription"))

	analyzer := analysis.NewHTTPAnalyzer(
		analysis.DefaultAnalyzerConfig(cfg.Analysis.GatewayURL, cfg.Analysis.APIKey, cfg.Analysis.Model),
		logger.WithComponent(log, "analysis"),
	)

	trimmerCfg := audio.DefaultTrimmerConfig()
	trimmerCfg.Enabled = cfg.Vad.Enabled
	trimmerCfg.SizeThresholdBytes = int64(cfg.Vad.SizeThresholdMB) * 1024 * 1024
	trimmerCfg.NoiseDB = float64(cfg.Vad.NoiseDB)
	trimmerCfg.MinSilenceSec = cfg.Vad.MinSilenceSec
	trimmerCfg.MinSavingsPercent = cfg.Vad.MinSavingsPct
	trimmerCfg.MinSegmentSec = cfg.Vad.MinSegmentSec
	trimmer := audio.NewTrimmer(runner, trimmerCfg, logger.WithComponent(log, "vad"))

	limiter := ratelimit.New(cfg.RateLimit.PerCaller, cfg.RateLimitWindow())

	orch := &pipeline.Orchestrator{
		Objects:     objects,
		Records:     db,
		Configs:     config.StaticRedaction{Fields: cfg.Redaction.Fields},
		Auth:        limiter,
		Transcriber: transcriber,
		Detector:    pii.NewRegexDetector(),
		Analyzer:    analyzer,
		Redactor:    audio.NewRedactor(runner),
		Trimmer:     trimmer,
		Segmenter:   segmenter.New(cfg.Segmenter.GapThresholdSeconds),
		Log:         logger.WithComponent(log, "pipeline"),
	}

	registry := queue.NewRegistry()
	pool := queue.NewWorkerPool(cfg.Workers.Count, registry, orch, logger.WithComponent(log, "queue"))
	pool.JobTimeout = cfg.JobTimeout()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	pool.Start(ctx)

	janitor := cleanup.NewScheduler(
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour,
		logger.WithComponent(log, "cleanup"),
		cleanup.Task{Name: "job registry", Run: func() int {
			return registry.PruneOlderThan(time.Duration(cfg.Cleanup.MaxAgeHours) * time.Hour)
		}},
		cleanup.Task{Name: "rate limiter", Run: limiter.Prune},
	)
	janitor.Start()
	defer janitor.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Server.MaxFileSizeMB * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Caller-ID",
	}))

	processHandler := handlers.NewProcessHandler(pool, registry, logger.WithComponent(log, "handlers"))
	uploadHandler := handlers.NewUploadHandler(pool, objects, cfg.Server.MaxFileSizeMB, logger.WithComponent(log, "handlers"))
	transcriptHandler := handlers.NewTranscriptHandler(db, logger.WithComponent(log, "handlers"))
	progressHandler := handlers.NewProgressHandler(registry, logger.WithComponent(log, "handlers"))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	app.Post("/api/calls", processHandler.Handle)
	app.Post("/api/calls/upload", uploadHandler.Handle)
	app.Get("/api/jobs", processHandler.List)
	app.Get("/api/jobs/:id", processHandler.Status)
	app.Get("/api/transcripts", transcriptHandler.List)
	app.Get("/api/transcripts/:id", transcriptHandler.Get)
	app.Get("/api/transcripts/:id/conversations", transcriptHandler.Conversations)
	app.Get("/ws/jobs/:id", websocket.New(progressHandler.Handle))

	go func() {
		<-ctx.Done()
		log.Info("Shutting down gracefully")
		app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithField("addr", addr).Info("Server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

// buildObjectStore picks the configured storage backend.
func buildObjectStore(cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "gdrive":
		return storage.NewDriveStore(
			cfg.Storage.GoogleDrive.CredentialsFile,
			cfg.Storage.GoogleDrive.TokenFile,
			cfg.Storage.GoogleDrive.FolderName,
		)
	default:
		return storage.NewLocalStore(cfg.Storage.LocalDir)
	}
}
