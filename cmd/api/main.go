package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"resumeforge/internal/api"
	"resumeforge/internal/auth"
	"resumeforge/internal/catalog"
	"resumeforge/internal/config"
	"resumeforge/internal/database"
	"resumeforge/internal/document"
	"resumeforge/internal/llm"
	"resumeforge/internal/notify"
	"resumeforge/internal/observability"
	"resumeforge/internal/pdf"
	"resumeforge/internal/preview"
	"resumeforge/internal/scan"
	"resumeforge/internal/session"
	"resumeforge/internal/storage"
)

const (
	sessionIdleTTL   = 30 * time.Minute
	evictionInterval = 5 * time.Minute
	shutdownTimeout  = 15 * time.Second
)

func main() {
	// .env 仅用于本地开发，缺失时忽略
	_ = godotenv.Load()
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, cfg.Tracing, "api", logger)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("shutdown tracing failed", slog.Any("error", err))
		}
	}()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	logger.Info("database ready", slog.String("host", cfg.Database.Host), slog.String("db", cfg.Database.Name))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(ctx, cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	engine, err := pdf.NewEngine(cfg.PDF)
	if err != nil {
		log.Fatalf("init pdf engine: %v", err)
	}

	verifier, err := auth.New(ctx, cfg.Auth)
	if err != nil {
		log.Fatalf("init token verifier: %v", err)
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		log.Fatalf("init llm provider: %v", err)
	}
	llmClient := llm.NewClient(provider, cfg.LLM.Model, cfg.LLM.Timeout, logger)
	modifier := llm.NewModifier(llmClient)

	templates := catalog.NewStore(db)
	if cfg.Templates.SyncOnBoot {
		if err := syncTemplates(ctx, templates, cfg.Templates.Dir, logger); err != nil {
			log.Fatalf("sync templates: %v", err)
		}
	}

	var scanner scan.Scanner = scan.Nop{}
	if cfg.Upload.ClamdAddr != "" {
		scanner = scan.NewClamd(cfg.Upload.ClamdAddr)
	}

	docs := document.NewStore(db)
	notifier := notify.NewRedisPublisher(redisClient, logger)
	renderer := preview.NewRenderer(engine, storageClient, notifier, logger)
	defer renderer.Close()

	workflow := session.NewWorkflow(session.Deps{
		Edits:     modifier,
		Filler:    llm.NewFiller(llmClient),
		Docs:      docs,
		Previews:  renderer,
		Templates: templates,
		Objects:   storageClient,
		Scanner:   scanner,
		Notifier:  notifier,
		Logger:    logger,
	}, session.Limits{
		MaxHistoryTurns:   cfg.API.MaxHistoryTurns,
		MaxUploadBytes:    cfg.Upload.MaxBytes,
		AllowedExtensions: cfg.Upload.Extensions(),
	})
	sessions := session.NewManager(workflow)

	// 预览结果写回会话状态
	renderer.OnResult(func(docID uint, userID string, _ int, err error) {
		s, ok := sessions.Get(userID, docID)
		if !ok {
			return
		}
		if err != nil {
			s.SetPreviewError(err.Error())
			return
		}
		s.SetPreviewError("")
	})
	go sessions.RunEvictor(ctx, evictionInterval, sessionIdleTTL)

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, api.Deps{
		Config:    cfg,
		Logger:    logger,
		Verifier:  verifier,
		Redis:     redisClient,
		Documents: docs,
		Templates: templates,
		Objects:   storageClient,
		Queue:     asynqClient,
		Engine:    engine,
		Sessions:  sessions,
		Previews:  renderer,
		Edits:     modifier,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
}

func syncTemplates(ctx context.Context, store *catalog.Store, dir string, logger *slog.Logger) error {
	templates, err := catalog.LoadDir(dir)
	if err != nil {
		return err
	}
	if err := store.Sync(ctx, templates); err != nil {
		return err
	}
	logger.Info("templates synced", slog.String("dir", dir), slog.Int("count", len(templates)))
	return nil
}
