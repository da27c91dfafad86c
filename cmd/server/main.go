package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/knewbitmax/api/internal/client"
	"github.com/knewbitmax/api/internal/config"
	"github.com/knewbitmax/api/internal/dubbing"
	"github.com/knewbitmax/api/internal/handler"
	"github.com/knewbitmax/api/internal/media"
	"github.com/knewbitmax/api/internal/middleware"
	"github.com/knewbitmax/api/internal/model"
	"github.com/knewbitmax/api/internal/service"
	"github.com/knewbitmax/api/internal/worker"
	ws "github.com/knewbitmax/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	redisOK := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisOK = false
		log.Printf("Warning: Redis not available: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize Asynq client and inspector
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Initialize external clients
	toolkit := media.NewToolkit(&cfg.Media)
	geminiClient := client.NewGeminiClient(&cfg.Gemini)
	if !geminiClient.IsConfigured() {
		log.Println("Warning: GEMINI_API_KEY not set, transcription requests will fail")
	}

	tts, ttsConfigured := client.NewSpeechSynthesizer(cfg)
	log.Printf("Info: speech synthesis provider %q (configured: %v)", cfg.TTS.Provider, ttsConfigured)

	// Initialize R2 client (optional - outputs are served locally if not configured)
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		var err error
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		}
	} else {
		log.Println("Info: R2 storage not configured, serving outputs from " + cfg.Server.OutputDir)
	}

	// Dubbing pipeline
	cache := dubbing.NewCache(cfg.Cache.Capacity)
	registry := dubbing.NewRegistry(cfg.Dedup.MaxAge, cfg.Dedup.SweepInterval)
	go registry.Run(ctx)

	pipeline := dubbing.NewPipeline(dubbing.Options{
		WorkDir:        cfg.Media.WorkDir,
		SampleRate:     cfg.Media.SampleRate,
		MaxConcurrency: cfg.TTS.MaxConcurrency,
		Driver: dubbing.DriverConfig{
			PollInterval:    cfg.Gemini.PollInterval,
			MaxWait:         cfg.Gemini.MaxWait,
			GenerateTimeout: cfg.Gemini.GenerateTimeout,
		},
	}, toolkit, geminiClient, tts, cache, registry)

	// Initialize services
	dubService := service.NewDubService(redisClient, asynqClient, inspector, pipeline, toolkit, service.DubServiceConfig{
		WorkDir:    cfg.Media.WorkDir,
		OutputDir:  cfg.Server.OutputDir,
		JobTimeout: cfg.Worker.JobTimeout,
	})

	// Initialize handlers
	dubHandler := handler.NewDubHandler(dubService, validate, int64(cfg.Server.BodyLimit))

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept",
		ExposeHeaders: "Content-Disposition,Retry-After,X-Dub-Segments,X-Dub-Cache-Hit",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini":  geminiClient.IsConfigured(),
				"tts":     ttsConfigured,
				"storage": r2Client.IsConfigured(),
				"redis":   redisOK,
			},
			"inFlight":     registry.Len(),
			"cacheEntries": cache.Len(),
		})
	})

	// API routes
	api := app.Group("/api")

	dub := api.Group("/dub")
	dub.Post("/", rateLimiter.DubLimit(cfg.RateLimit.DubPerHour), dubHandler.Dub)
	dub.Post("/jobs", rateLimiter.DubLimit(cfg.RateLimit.DubPerHour), dubHandler.Submit)
	dub.Get("/jobs/status/:jobId", dubHandler.Status)
	dub.Get("/jobs/result/:jobId", dubHandler.Result)
	dub.Get("/jobs/download/:jobId", dubHandler.Download)
	dub.Post("/jobs/cancel/:jobId", dubHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		var snapshot interface{}
		if status, err := dubService.GetStatus(context.Background(), jobID); err == nil {
			snapshot = model.ProgressEvent(status)
		}
		hub.HandleConnection(c, jobID, snapshot)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, redisOpt, dubService, r2Client, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	dubService *service.DubService,
	r2Client *client.R2Client,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				service.QueueDubbing: 1,
			},
			LogLevel:        asynqLogLevel,
			ShutdownTimeout: 30 * time.Second,
		},
	)

	var storage client.StorageClient
	if r2Client.IsConfigured() {
		storage = r2Client
	}
	dubWorker := worker.NewDubWorker(dubService, storage, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeDub, dubWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
