package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/polyvox/polyvox/config"
	"github.com/polyvox/polyvox/internal/api/handlers"
	"github.com/polyvox/polyvox/internal/api/middleware"
	"github.com/polyvox/polyvox/internal/api/routes"
	"github.com/polyvox/polyvox/internal/cache"
	"github.com/polyvox/polyvox/internal/logger"
	mongorepo "github.com/polyvox/polyvox/internal/repositories/mongo"
	pgrepo "github.com/polyvox/polyvox/internal/repositories/postgres"
	"github.com/polyvox/polyvox/internal/providers/stt"
	"github.com/polyvox/polyvox/internal/providers/translate"
	"github.com/polyvox/polyvox/internal/realtime"
	"github.com/polyvox/polyvox/internal/services"
	"github.com/polyvox/polyvox/internal/storage"
	"github.com/polyvox/polyvox/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	cfg := config.LoadRealtime()

	ctx := context.Background()

	// STT provider
	sttProvider, err := stt.NewGoogleSpeech(ctx)
	if err != nil {
		log.WithError(err).Fatal("speech client init failed")
	}
	defer sttProvider.Close()

	// Translation provider
	var translator translate.Provider
	switch cfg.TranslateProvider {
	case "vertex":
		translator, err = translate.NewVertexGemini(ctx,
			os.Getenv("VERTEX_PROJECT_ID"),
			os.Getenv("VERTEX_LOCATION"),
			os.Getenv("VERTEX_MODEL"),
		)
	default:
		translator, err = translate.NewGoogleTranslate(ctx)
	}
	if err != nil {
		log.WithError(err).Fatal("translation client init failed")
	}
	defer translator.Close()

	// Core pipeline
	sessions := realtime.NewSessionStore(cfg.DefaultLanguages)
	registry := realtime.NewRegistry(cfg.StrictParticipants, log)
	buffers := realtime.NewSegmentBuffer(cfg.MinBufferMS, cfg.MaxBufferMS)
	fanout := realtime.NewFanout(translator, cfg.CacheSize, cfg.MaxWorkers, log)

	// Optional shared translation cache
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Warn("redis unavailable, shared translation cache disabled")
	} else {
		fanout.WithSharedCache(cache.NewRedisCache(config.RedisClient), time.Hour)
		log.Info("redis connected")
	}

	orchestrator := realtime.NewOrchestrator(sessions, registry, buffers, sttProvider, fanout, cfg.Options, log)
	meetingHandler := handlers.NewMeetingHandler(orchestrator, registry, sessions)

	// Durable history collaborator
	var history *services.HistoryService
	switch cfg.HistoryBackend {
	case "mongo":
		if err := config.InitMongo(); err != nil {
			log.WithError(err).Fatal("mongo init failed")
		}
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Fatal("mongo index setup failed")
		}
		history = services.NewHistoryService(mongorepo.NewUtteranceRepo(config.MongoDatabase()), cfg.TranslateProvider, log)
		log.Info("mongo history enabled")
	case "none":
		log.Info("utterance history disabled")
	default:
		if err := config.InitPostgres(); err != nil {
			log.WithError(err).Fatal("postgres init failed")
		}
		if err := config.AutoMigrateHistory(); err != nil {
			log.WithError(err).Fatal("postgres migration failed")
		}
		history = services.NewHistoryService(pgrepo.NewUtteranceRepo(config.PostgresDB), cfg.TranslateProvider, log)
		log.Info("postgres history enabled")
	}
	if history != nil {
		orchestrator.WithPersister(history)
		meetingHandler.WithHistory(history)
	}

	// Optional audio archive
	if cfg.ArchiveBucket != "" {
		uploader, err := storage.NewGCSUploader(ctx, cfg.ArchiveBucket)
		if err != nil {
			log.WithError(err).Fatal("gcs init failed")
		}
		defer uploader.Close()
		orchestrator.WithArchiver(services.NewArchiveService(uploader, log))
		meetingHandler.WithSigner(uploader)
		log.WithField("bucket", cfg.ArchiveBucket).Info("audio archive enabled")
	}

	// Idle meeting reaper
	if cfg.IdleMeetingTimeout > 0 {
		sweeper := &workers.MeetingSweeper{
			Sessions:  sessions,
			Ender:     orchestrator,
			IdleAfter: cfg.IdleMeetingTimeout,
			Logger:    log,
		}
		if err := sweeper.Start(ctx); err != nil {
			log.WithError(err).Fatal("meeting sweeper init failed")
		}
	}

	// HTTP surface
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Meeting: meetingHandler,
		WS:      handlers.NewWSHandler(orchestrator, sessions, registry, log),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		log.WithField("port", port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	orchestrator.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown incomplete")
	}
}
