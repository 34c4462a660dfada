// Package app wires configuration, the platform client, the run ledger and
// the services into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"labelsync/internal/api"
	"labelsync/internal/config"
	"labelsync/internal/db"
	"labelsync/internal/db/repository"
	"labelsync/internal/domain"
	"labelsync/internal/metrics"
	"labelsync/internal/middleware"
	"labelsync/internal/platform"
	"labelsync/internal/service/job"
	"labelsync/internal/service/schedule"
	"labelsync/internal/service/upload"
	"labelsync/internal/storage"
)

// Deps holds what the caller must provide.
type Deps struct {
	Cfg *config.Config
	// Ledger records upload runs. Nil disables the ledger and the HTTP API.
	Ledger *db.Ledger
	Logger *slog.Logger
	// Transport overrides the platform client's HTTP transport.
	Transport http.RoundTripper
}

// App is the fully wired application.
type App struct {
	Uploads   *upload.Service
	Runner    *job.Runner
	Metrics   *metrics.Recorder
	Runs      *repository.UploadRunRepo // nil without a ledger
	Scheduler *schedule.Scheduler       // nil without JOBS_PATH

	cfg    *config.Config
	logger *slog.Logger
}

// New wires the application from deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := cfg.RequirePlatform(); err != nil {
		return nil, domain.ErrConfig("%s", err.Error())
	}

	client := platform.NewClient(platform.ClientConfig{
		BaseURL:    cfg.PlatformURL,
		APIKey:     cfg.PlatformAPIKey,
		Timeout:    cfg.PlatformTimeout,
		MaxRetries: cfg.PlatformMaxRetries,
		RateLimit:  cfg.PlatformRPS,
		RateBurst:  cfg.PlatformBurst,
		Transport:  deps.Transport,
	}, logger.With("component", "platform"))

	a := &App{Metrics: metrics.NewRecorder(), cfg: cfg, logger: logger}

	var runs domain.UploadRunRepository
	if deps.Ledger != nil {
		a.Runs = repository.NewUploadRunRepo(deps.Ledger.Write, deps.Ledger.Read)
		runs = a.Runs
	}

	a.Uploads = upload.NewService(
		client, platform.MetadataProcessor{}, platform.ClassificationEncoder{},
		runs, a.Metrics, logger.With("component", "upload"),
	)

	opts := []job.Option{
		job.WithDefaultDSN(cfg.DatabaseURL),
		job.WithDefaultWorkers(cfg.UploadWorkers),
	}
	if cfg.HasS3Config() {
		store, err := storage.NewS3Store(storage.S3Config{
			Endpoint: *cfg.S3Endpoint,
			Region:   deref(cfg.S3Region),
			KeyID:    *cfg.S3KeyID,
			Secret:   *cfg.S3Secret,
			Bucket:   *cfg.S3Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		mat := storage.NewMaterializer(store, logger.With("component", "storage"),
			storage.WithWorkers(cfg.UploadWorkers))
		opts = append(opts, job.WithMaterializer(mat))
	}
	a.Runner = job.NewRunner(a.Uploads, logger.With("component", "job"), opts...)

	if cfg.JobsPath != "" {
		path := cfg.JobsPath
		a.Scheduler = schedule.NewScheduler(a.Runner, func() ([]config.Job, error) {
			return config.LoadJobs(path)
		}, logger.With("component", "scheduler"))
	}
	return a, nil
}

// Router builds the HTTP API. ctx bounds background middleware work.
func (a *App) Router(ctx context.Context) (http.Handler, error) {
	if a.Runs == nil {
		return nil, domain.ErrConfig("the HTTP API requires a run ledger")
	}
	var schedules api.ScheduleRegistry
	if a.Scheduler != nil {
		schedules = a.Scheduler
	}
	h := api.NewHandler(a.Runner, a.Runs, schedules, a.logger.With("component", "api"))
	return api.NewRouter(ctx, h, api.RouterConfig{
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimitRPS,
			Burst:             a.cfg.RateLimitBurst,
		},
		CORSAllowedOrigins: a.cfg.CORSAllowedOrigins,
		Metrics:            a.Metrics.Handler(),
	}, a.logger.With("component", "http")), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
