package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"image-stand/internal"
	"image-stand/internal/api"
	"image-stand/internal/embedding"
	"image-stand/internal/generation"
	"image-stand/internal/logging"
	"image-stand/internal/memwatch"
	"image-stand/internal/pool"
	"image-stand/internal/similarity"
	"image-stand/internal/speech"
	"image-stand/internal/storage"
)

func main() {
	// Load .env file if it exists (try multiple paths)
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		_ = godotenv.Load(path)
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.ErrorsLog)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("server: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg internal.Config, log *logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	settings := internal.NewSettings(cfg)

	watchCfg := memwatch.DefaultConfig()
	watchCfg.OnCritical = func() {
		log.Errorf("memwatch: shutting down")
		cancel()
	}
	go memwatch.New(watchCfg, log).Run(ctx)

	loader, err := embedding.NewLoader(cfg.Encoder())
	if err != nil {
		return err
	}
	encoder, err := embedding.NewModelHandle(cfg.EncoderBackend, loader,
		embedding.WithCache(cfg.EmbeddingCacheSize),
		embedding.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer encoder.Close()
	// Load weights in the background; requests arriving first wait on the same load.
	go func() { _ = encoder.Warm() }()

	engine, err := similarity.NewEngine(encoder, cfg.Similarity(), settings, log)
	if err != nil {
		return err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	catalog := storage.NewCatalog(store, cfg.CatalogKey, log)

	if cfg.MaxAge > 0 {
		janitor, err := storage.NewJanitor(store, catalog, cfg.MaxAge, cfg.CleanupSchedule, log)
		if err != nil {
			return err
		}
		go func() {
			if err := janitor.Run(ctx); err != nil {
				log.Errorf("janitor stopped: %v", err)
			}
		}()
		log.Infof("janitor: removing images older than %s (%s)", cfg.MaxAge, cfg.CleanupSchedule)
	}

	generator := generation.NewClient(generation.Config{
		BaseURL:      cfg.KieBaseURL,
		PollInterval: cfg.KiePollInterval,
		MaxWait:      cfg.KieMaxWait,
	}, settings.KieAPIKey, log)

	transcriber, err := speech.New(speech.Config{
		Provider:     cfg.SpeechProvider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	})
	if err != nil {
		return err
	}

	workers := cfg.CompareWorkers
	if workers <= 0 {
		workers = pool.OptimalSize()
	}

	handler := api.NewHandler(api.Deps{
		Engine:         engine,
		Settings:       settings,
		Generator:      generator,
		Transcriber:    transcriber,
		Store:          store,
		Catalog:        catalog,
		Encoder:        encoder,
		Pool:           pool.New(workers),
		CompareTimeout: cfg.CompareTimeout,
		Log:            log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("image-stand listening on %s (method=%s, sensitivity=%.2f, encoder=%s, workers=%d, storage=%s)",
			srv.Addr, cfg.SimilarityMethod, cfg.SimilaritySensitivity, cfg.EncoderBackend, workers, cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

func newStore(ctx context.Context, cfg internal.Config) (storage.Store, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Store(ctx, cfg)
	}
	return storage.NewLocalStore(cfg.ImagesDir)
}
