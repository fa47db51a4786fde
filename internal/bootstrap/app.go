package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"vitiligo-backend/internal/artifacts"
	"vitiligo-backend/internal/chatbot"
	"vitiligo-backend/internal/runs"
	"vitiligo-backend/internal/services/health"
	"vitiligo-backend/internal/shared/config"
	"vitiligo-backend/internal/shared/server"
	"vitiligo-backend/internal/shared/storage/db"
	"vitiligo-backend/internal/shared/storage/object"
	localstore "vitiligo-backend/internal/shared/storage/object/local"
	miniostore "vitiligo-backend/internal/shared/storage/object/minio"
	s3store "vitiligo-backend/internal/shared/storage/object/s3"
	"vitiligo-backend/internal/tracking"
	"vitiligo-backend/internal/workerproc"
)

const workerMaxOutputBytes = 8 << 20

// App holds shared dependencies and the wired router.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Archive         object.ObjectStore
	RunsRepo        runs.Repo
	RunsService     *runs.Service
	Supervisor      *workerproc.Supervisor
	Artifacts       *artifacts.Store
	Janitor         *artifacts.Janitor
	TrackingService *tracking.Service
	TrackingHandler *tracking.Handler
	RunsHandler     *runs.Handler
	ChatbotHandler  *chatbot.Handler
	Health          *health.Service
}

// Build prepares shared dependencies and wires routes.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		DB:      sqlDB,
		Archive: archive,
	}
	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		TrackingHandler: app.TrackingHandler,
		RunsHandler:     app.RunsHandler,
		ChatbotHandler:  app.ChatbotHandler,
		Health:          app.Health,
	})
	return app, nil
}

// Close releases the database pool, if any.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory run history")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory run history: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildArchive(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ReportArchive {
	case "local":
		return localstore.New(cfg.LocalStoreDir), nil
	case "s3":
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return nil, fmt.Errorf("s3 archive: %w", err)
		}
		return store, nil
	case "minio":
		store, err := miniostore.New(miniostore.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Region:    cfg.MinIORegion,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio archive: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio archive: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func buildServices(app *App) error {
	cfg := app.Config

	var runRepo runs.Repo
	if app.DB != nil {
		runRepo = &runs.PGRepo{DB: app.DB}
	} else {
		runRepo = runs.NewMemoryRepo()
	}
	runSvc := runs.NewService(runRepo)

	reportsDir, err := filepath.Abs(cfg.ReportsDir)
	if err != nil {
		return fmt.Errorf("resolve reports dir: %w", err)
	}
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}

	supervisor := workerproc.New(cfg.WorkerCommand, cfg.WorkerDir)
	supervisor.Env = []string{"REPORTS_DIR=" + reportsDir}
	supervisor.MaxOutputBytes = workerMaxOutputBytes

	store := artifacts.New(reportsDir)
	if app.Archive != nil {
		store.Archive = object.NewReportArchiver(app.Archive)
	}

	trackingSvc := &tracking.Service{
		Supervisor: supervisor,
		Artifacts:  store,
		Timeout:    cfg.WorkerTimeout,
		Runs:       runSvc,
	}

	chatClient := chatbot.NewClient(cfg.ChatbotURL, cfg.ChatbotModel, cfg.ChatbotTimeout)

	app.RunsRepo = runRepo
	app.RunsService = runSvc
	app.Supervisor = supervisor
	app.Artifacts = store
	app.Janitor = &artifacts.Janitor{Store: store, MaxAge: cfg.OrphanMaxAge, Interval: cfg.OrphanSweepEvery}
	app.TrackingService = trackingSvc
	app.TrackingHandler = tracking.NewHandler(trackingSvc, cfg.MaxUploadBytes, cfg.ExposeDiagnostics)
	app.RunsHandler = runs.NewHandler(runSvc)
	app.ChatbotHandler = chatbot.NewHandler(chatClient)

	var pinger health.Pinger
	if app.DB != nil {
		pinger = app.DB
	}
	workerBinary := ""
	if len(cfg.WorkerCommand) > 0 {
		workerBinary = cfg.WorkerCommand[0]
	}
	app.Health = health.NewService(pinger, workerBinary)
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
