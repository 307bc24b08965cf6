// Package bootstrap wires the pipeline, the worker and the HTTP layer from
// configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maauso/charswap/internal/assets"
	"github.com/maauso/charswap/internal/comfy"
	"github.com/maauso/charswap/internal/config"
	"github.com/maauso/charswap/internal/generator"
	"github.com/maauso/charswap/internal/job"
	"github.com/maauso/charswap/internal/media"
	"github.com/maauso/charswap/internal/metrics"
	"github.com/maauso/charswap/internal/pipeline"
	"github.com/maauso/charswap/internal/project"
	"github.com/maauso/charswap/internal/queue"
	"github.com/maauso/charswap/internal/retry"
	"github.com/maauso/charswap/internal/server"
	"github.com/maauso/charswap/internal/stitch"
	"github.com/maauso/charswap/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Worker   *queue.Worker
	Stitcher *stitch.Stitcher
	Units    job.Repository
	Metrics  *metrics.Metrics
	Handler  http.Handler
}

// NewDependencies creates and initializes all dependencies for the application.
// The compute API is built from the configuration unless api is non-nil.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, api comfy.API) (*Dependencies, error) {
	q := queue.NewQueue()
	m := metrics.New(q.Len)

	layout, err := storage.NewLayout(cfg.OutputDir, cfg.WorkDir, cfg.MasksDir)
	if err != nil {
		return nil, err
	}
	store := project.NewFileStore(cfg.ProjectsDir)

	publisher, err := initPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	stitchOpts := []stitch.Option{stitch.WithObserver(m.StitchFinished)}
	if publisher != nil {
		stitchOpts = append(stitchOpts, stitch.WithPublisher(publisher))
	}
	ffmpeg := media.NewFFmpegProcessor(cfg.FFmpegPath)
	stitcher := stitch.New(store, layout, ffmpeg, logger, stitchOpts...)

	gen, err := initGenerator(cfg, logger, api, m)
	if err != nil {
		return nil, err
	}

	resolver := assets.NewResolver(cfg.CharactersDir, layout)
	executor := pipeline.NewExecutor(resolver, gen, layout, logger)
	batch := pipeline.NewBatchProcessor(store, executor, stitcher, logger, pipeline.WithObserver(m))

	units := job.NewMemoryRepository(cfg.UnitRetention)
	worker := queue.NewWorker(q, batch, logger,
		queue.WithRepository(units),
		queue.WithUnitHook(m.UnitFinished),
	)

	handlers := server.NewHandlers(server.Deps{
		Scheduler: worker,
		Stitcher:  stitcher,
		Inspector: pipeline.NewInspector(store, layout),
		Projects:  store,
		Resetter:  layout,
		Frames:    pipeline.NewFrames(store, layout, ffmpeg),
		Units:     units,
	}, logger)
	routes := server.DefaultConfig()
	routes.Metrics = m.Handler()

	return &Dependencies{
		Worker:   worker,
		Stitcher: stitcher,
		Units:    units,
		Metrics:  m,
		Handler:  server.NewRouter(handlers, logger, routes),
	}, nil
}

// initGenerator loads the workflow template and builds the remote generation
// client with the configured retry budgets.
func initGenerator(cfg *config.Config, logger *slog.Logger, api comfy.API, m *metrics.Metrics) (*generator.Client, error) {
	if api == nil {
		var opts []comfy.ClientOption
		if cfg.ComputeAPIKey != "" {
			opts = append(opts, comfy.WithAPIKey(cfg.ComputeAPIKey))
		}
		if cfg.ComputeRateLimit > 0 {
			opts = append(opts, comfy.WithRateLimit(cfg.ComputeRateLimit, cfg.ComputeRateBurst))
		}
		httpClient, err := comfy.NewClient(cfg.ComputeURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create compute client: %w", err)
		}
		api = httpClient
	}

	tmpl, err := generator.LoadTemplate(cfg.WorkflowTemplate)
	if err != nil {
		return nil, fmt.Errorf("load workflow template: %w", err)
	}

	backoff := retry.Exponential(cfg.RetryBaseBackoff, cfg.RetryMaxBackoff)
	gen, err := generator.NewClient(api, tmpl,
		generator.WithLogger(logger),
		generator.WithUploadPolicy(retry.Policy{MaxAttempts: cfg.UploadAttempts, Backoff: backoff}),
		generator.WithSubmitPolicy(retry.Policy{MaxAttempts: cfg.SubmitAttempts, Backoff: backoff}),
		generator.WithDownloadPolicy(retry.Policy{MaxAttempts: cfg.DownloadAttempts, Backoff: backoff}),
		generator.WithPollInterval(cfg.PollInterval),
		generator.WithTrackingTimeout(cfg.TrackingTimeout),
		generator.WithDefaultOutputNode(cfg.DefaultOutputNode),
		generator.WithRetryHook(m.RemoteRetry),
	)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}
	logger.Info("compute service configured",
		slog.String("url", cfg.ComputeURL),
		slog.String("workflow", cfg.WorkflowTemplate),
	)
	return gen, nil
}

// initPublisher returns an S3 publisher when S3 is configured, nil otherwise.
func initPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Publisher, error) {
	if !cfg.S3Enabled() {
		logger.Info("S3 publishing disabled")
		return nil, nil
	}
	pub, err := storage.NewS3Publisher(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		KeyPrefix:       cfg.S3KeyPrefix,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 publisher: %w", err)
	}
	logger.Info("S3 publishing configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return pub, nil
}
