// Package bootstrap provides dependency initialization for the outro API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maauso/outro-api/internal/config"
	"github.com/maauso/outro-api/internal/fetch"
	"github.com/maauso/outro-api/internal/media"
	"github.com/maauso/outro-api/internal/outro"
	"github.com/maauso/outro-api/internal/pipeline"
	"github.com/maauso/outro-api/internal/session"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Workspace *session.Workspace
	Pipeline  *pipeline.Service
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize the staging workspace and remove leftovers of a previous run
	ws, err := session.NewWorkspace(cfg.TempDir, logger)
	if err != nil {
		return nil, err
	}
	if cfg.StaleSessionAge > 0 {
		if _, err := ws.Sweep(cfg.StaleSessionAge); err != nil {
			logger.Warn("stale session sweep failed", slog.String("error", err.Error()))
		}
	}

	// Initialize the downloader, with S3 support when configured
	downloader, err := initDownloader(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize media processor
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath,
		media.WithPreset(cfg.EncodePreset),
		media.WithCRF(cfg.EncodeCRF),
	)

	// Initialize outro catalog
	catalog, err := outro.NewCatalog(outro.URLs{
		Tier720Landscape:     cfg.Outro720LandscapeURL,
		Tier720Portrait:      cfg.Outro720PortraitURL,
		TierDefaultLandscape: cfg.OutroDefaultLandscapeURL,
		TierDefaultPortrait:  cfg.OutroDefaultPortraitURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create outro catalog: %w", err)
	}

	svc := pipeline.NewService(ws, downloader, downloader, processor, catalog, logger,
		pipeline.WithMaxConcurrent(cfg.MaxConcurrentPipelines),
		pipeline.WithStepTimeout(cfg.StepTimeout),
		pipeline.WithThumbnailAt(cfg.ThumbnailAt),
		pipeline.WithMaxSourceDuration(cfg.MaxSourceDuration),
	)

	return &Dependencies{
		Workspace: ws,
		Pipeline:  svc,
	}, nil
}

// initDownloader creates the Downloader used for sources and outros.
func initDownloader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*fetch.Downloader, error) {
	opts := []fetch.Option{
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
		fetch.WithMaxRetries(cfg.FetchMaxRetries),
		fetch.WithMaxBytes(cfg.MaxSourceBytes),
		fetch.WithLogger(logger),
	}

	if cfg.S3Enabled() {
		client, err := fetch.NewS3Client(ctx, fetch.S3Config{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 client: %w", err)
		}
		opts = append(opts, fetch.WithS3(client), fetch.WithSourceBuckets(cfg.S3SourceBuckets...))
		logger.Info("S3 enabled",
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
			slog.Any("source_buckets", cfg.S3SourceBuckets),
		)
	}

	return fetch.NewDownloader(opts...), nil
}
