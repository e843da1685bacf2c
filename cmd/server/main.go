package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"blobdrop/internal/auth"
	"blobdrop/internal/config"
	"blobdrop/internal/db"
	"blobdrop/internal/engine"
	"blobdrop/internal/httpapi"
	"blobdrop/internal/httpapi/handlers"
	"blobdrop/internal/logging"
	"blobdrop/internal/service"
	"blobdrop/internal/storage"
	"blobdrop/internal/store"
	"blobdrop/internal/upload"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "blobdrop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	var (
		ledger service.Ledger
		tokens auth.TokenStore
	)
	if cfg.LedgerEnabled() {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		st, err := openLedger(ctx, pool)
		if err != nil {
			return err
		}
		ledger, tokens = st, st
		logger.Info().Msg("upload ledger enabled")
	}

	containers := containerResolver(cfg.AzureContainer, cfg.UploadContainerHeader)
	eng, files, err := buildEngine(ctx, cfg, containers)
	if err != nil {
		var cfgErr *engine.ConfigError
		if errors.As(err, &cfgErr) {
			for _, p := range cfgErr.Problems {
				logger.Error().Err(p).Msg("storage configuration problem")
			}
		}
		return fmt.Errorf("init storage engine: %w", err)
	}
	logger.Info().
		Str("driver", cfg.StorageDriver).
		Str("auth", string(eng.AuthType())).
		Str("container", cfg.AzureContainer).
		Msg("storage engine ready")

	uploads := newUploadHandler(cfg, eng)
	svc := service.New(eng, ledger, service.Options{
		Containers:      containers,
		ContainerHeader: cfg.UploadContainerHeader,
	})
	authn := auth.NewAuthenticator(tokens, cfg.AdminToken)

	api := httpapi.New(cfg, logger, svc, authn, uploads, files)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewEcho(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openLedger(ctx context.Context, pool *pgxpool.Pool) (*store.Store, error) {
	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return st, nil
}

// containerResolver picks the container from header when the request names
// one and falls back to the configured default.
func containerResolver(fallback, header string) engine.Resolver[string] {
	if header == "" {
		return engine.Static(fallback)
	}
	return engine.Func[string](func(_ context.Context, r *http.Request, _ *engine.File) (string, error) {
		if r != nil {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return v, nil
			}
		}
		return fallback, nil
	})
}

func buildEngine(ctx context.Context, cfg config.Config, containers engine.Resolver[string]) (*engine.Engine, handlers.FileOpener, error) {
	opts := engine.Options{
		ContainerName:        containers,
		ContainerAccessLevel: storage.AccessLevel(cfg.AzureAccessLevel),
		BlockSize:            cfg.AzureBlockSize,
		Concurrency:          cfg.AzureConcurrency,
	}
	if cfg.UploadMetadata != nil {
		opts.Metadata = engine.Static(cfg.UploadMetadata)
	}

	switch cfg.StorageDriver {
	case config.DriverS3:
		s3Opts := storage.S3Options{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			BucketPrefix:    cfg.S3BucketPrefix,
		}
		client, err := storage.NewS3Client(ctx, s3Opts)
		if err != nil {
			return nil, nil, err
		}
		eng, err := engine.NewWithBackend(opts, storage.NewS3BlobStore(client, s3Opts))
		return eng, nil, err
	case config.DriverLocal:
		local, err := storage.NewLocalBlobStore(cfg.StorageRoot, cfg.StorageBaseURL)
		if err != nil {
			return nil, nil, err
		}
		eng, err := engine.NewWithBackend(opts, local)
		if err != nil {
			return nil, nil, err
		}
		return eng, local, nil
	default:
		authType, err := engine.ParseAuthType(cfg.AzureAuthType)
		if err != nil {
			return nil, nil, err
		}
		opts.AuthenticationType = authType
		opts.ConnectionString = cfg.AzureConnectionString
		opts.AccountName = cfg.AzureAccountName
		opts.AccessKey = cfg.AzureAccessKey
		opts.SASToken = cfg.AzureSASToken
		opts.Endpoint = cfg.AzureEndpoint
		eng, err := engine.New(opts)
		return eng, nil, err
	}
}

func newUploadHandler(cfg config.Config, eng *engine.Engine) *upload.Handler {
	return upload.New(upload.Config{
		MaxMemory:   cfg.UploadMemoryBytes,
		MaxFileSize: cfg.MaxUploadBytes,
		MaxFiles:    cfg.MaxUploadFiles,
		Fields:      cfg.UploadFields,
		Parallelism: cfg.UploadParallelism,
		BufferSize:  cfg.AzureBlockSize,
	}, eng)
}
