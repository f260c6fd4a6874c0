package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xaenox/memo-organizer/internal/access"
	"github.com/xaenox/memo-organizer/internal/blobstore"
	"github.com/xaenox/memo-organizer/internal/bot"
	"github.com/xaenox/memo-organizer/internal/classifier"
	"github.com/xaenox/memo-organizer/internal/ingest"
	"github.com/xaenox/memo-organizer/internal/media"
	"github.com/xaenox/memo-organizer/internal/models"
	"github.com/xaenox/memo-organizer/internal/queue"
	"github.com/xaenox/memo-organizer/internal/scraper"
	"github.com/xaenox/memo-organizer/internal/server"
	"github.com/xaenox/memo-organizer/internal/storage"
	"github.com/xaenox/memo-organizer/internal/tagging"
	"github.com/xaenox/memo-organizer/internal/worker"
	"github.com/xaenox/memo-organizer/pkg/config"
	"go.uber.org/zap"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, the queue consumer and the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, a.logger)
		},
	}
}

func openStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
	logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host))
	return storage.NewPostgresStorage(storage.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
}

func openQueue(cfg *config.Config, logger *zap.Logger) (*queue.BadgerQueue, func() error, error) {
	db, err := queue.Open(cfg.Queue.Dir)
	if err != nil {
		return nil, nil, err
	}
	q := queue.NewBadgerQueue(db, queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseBackoff: cfg.Queue.BaseBackoff,
		MaxBackoff:  cfg.Queue.MaxBackoff,
	}, logger)
	return q, db.Close, nil
}

func newClassifier(cfg *config.Config, categories classifier.CategorySource, logger *zap.Logger) classifier.Classifier {
	if cfg.Classifier.Provider == "simple" {
		logger.Info("Using keyword classifier")
		return classifier.NewSimpleClassifier(cfg.Classifier.MaxTags)
	}
	return classifier.NewGPTClassifier(classifier.GPTConfig{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		AssistantID: cfg.OpenAI.AssistantID,
		Model:       cfg.OpenAI.Model,
		VisionModel: cfg.OpenAI.VisionModel,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		MaxTags:     cfg.Classifier.MaxTags,
	}, categories, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Access.JWTSecret == "" {
		return errors.New("access.jwt_secret is required")
	}

	store, err := openStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	q, closeQueue, err := openQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	// deliveries left in flight by a previous run are handed out again
	recovered, err := q.Recover()
	if err != nil {
		return fmt.Errorf("failed to recover queue: %w", err)
	}
	if recovered > 0 {
		logger.Info("Recovered in-flight deliveries", zap.Int("count", recovered))
	}

	blobSecret := cfg.Blob.Secret
	if blobSecret == "" {
		blobSecret = cfg.Access.JWTSecret
	}
	blobs, err := blobstore.NewFileStore(cfg.Blob.Root, cfg.Blob.BaseURL, blobSecret, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	scope, err := tagging.ParseNextStepScope(cfg.Tagging.NextStepScope)
	if err != nil {
		return err
	}
	linker := tagging.NewLinker(store, scope, logger)
	dispatcher := ingest.NewDispatcher(q, logger)

	httpClient := &http.Client{Timeout: cfg.Media.DownloadTimeout}
	sources := map[models.Source]worker.MediaSource{
		models.SourceWhatsApp: {
			Fetcher: media.NewGraphFetcher(cfg.WhatsApp.GraphURL, httpClient, cfg.Media.MaxBytes, logger),
			Token:   cfg.WhatsApp.Token,
		},
	}

	var tg *bot.Bot
	if cfg.Telegram.Enabled {
		api, err := bot.NewAPI(cfg.Telegram.Token, cfg.Telegram.APIEndpoint)
		if err != nil {
			return err
		}
		tg = bot.New(api, dispatcher, store, logger)
		sources[models.SourceTelegram] = worker.MediaSource{
			Fetcher: bot.NewTelegramFetcher(api, cfg.Telegram.FileEndpoint, cfg.Media.MaxBytes, logger),
		}
	}

	w := worker.New(
		store,
		blobs,
		newClassifier(cfg, store, logger),
		scraper.NewResolver(scraper.Options{
			Timeout:   cfg.Scraper.Timeout,
			MaxBytes:  cfg.Scraper.MaxBytes,
			MaxChars:  cfg.Scraper.MaxChars,
			UserAgent: cfg.Scraper.UserAgent,
		}, logger),
		linker,
		q,
		worker.Options{
			AllowedDocumentExtensions: cfg.Worker.AllowedDocumentExtensions,
			Sources:                   sources,
		},
		logger,
	)
	consumer := queue.NewConsumer(q, w.Handle, cfg.Worker.Concurrency, cfg.Worker.PollInterval, logger)

	srv := server.NewServer(cfg.Server.Addr, cfg.Access.JWTSecret, logger,
		server.NewWebhookHandler(dispatcher, cfg.WhatsApp.VerifyToken, logger),
		server.NewMediaHandler(blobs, logger),
		server.NewMessageHandler(store, linker, dispatcher, blobs,
			access.NewChecker(cfg.Access.Admins), cfg.Blob.URLTTL, logger),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	if tg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tg.Start(ctx); err != nil {
				logger.Error("Telegram bot stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
		logger.Error("HTTP server failed", zap.Error(err))
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("HTTP server shutdown", zap.Error(serr))
	}
	wg.Wait()
	return err
}
