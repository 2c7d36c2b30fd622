// Package app wires the configured backends into a ready OCR pipeline. Both
// the CLI and the Cloud Function build their runtime through New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/ocrworker/internal/allocator"
	"github.com/Lllllllleong/ocrworker/internal/config"
	"github.com/Lllllllleong/ocrworker/internal/gcp"
	"github.com/Lllllllleong/ocrworker/internal/metastore"
	"github.com/Lllllllleong/ocrworker/internal/notify"
	"github.com/Lllllllleong/ocrworker/internal/ocr"
	"github.com/Lllllllleong/ocrworker/internal/paths"
	"github.com/Lllllllleong/ocrworker/internal/pdf"
	"github.com/Lllllllleong/ocrworker/internal/queue"
	"github.com/Lllllllleong/ocrworker/internal/services"
	"github.com/Lllllllleong/ocrworker/internal/storage"
	"github.com/Lllllllleong/ocrworker/internal/taskgraph"
	"github.com/redis/go-redis/v9"
)

// App holds the long-lived clients of one worker process.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Mirror    storage.Mirror
	Store     metastore.Store
	Notifier  notify.Notifier
	Scheduler *taskgraph.Scheduler
	Pipeline  *services.OCRPipeline

	closers []func() error
}

// New builds every backend named by cfg. Clients created before a failure
// are closed again.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	remote, err := a.newRemote(ctx)
	if err != nil {
		return nil, err
	}
	a.Mirror = storage.NewMirror(remote, storage.MirrorConfig{
		Resolver:         paths.Resolver{MediaRoot: cfg.Main.MediaRoot, Prefix: cfg.RemotePrefix()},
		SignedURLTTL:     cfg.Storage.SignedURLTTL,
		FetchConcurrency: cfg.Storage.FetchConcurrency,
		Logger:           logger,
	})

	if a.Store, err = a.newStore(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	if a.Notifier, err = a.newNotifier(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Notifier.Close)

	a.Scheduler = taskgraph.NewScheduler(taskgraph.SchedulerConfig{
		Logger: logger,
		Queues: map[string]int{a.OCRQueue(): cfg.Worker.OCRWorkers},
	})

	a.Pipeline, err = services.NewOCRPipeline(services.OCRPipelineDeps{
		Store:     a.Store,
		Mirror:    a.Mirror,
		Allocator: a.newAllocator(),
		Engine: ocr.NewCommandEngine(ocr.CommandEngineConfig{
			OCRMyPDF:   cfg.OCR.OCRMyPDF,
			PdfToPPM:   cfg.OCR.PdfToPPM,
			PdfToCairo: cfg.OCR.PdfToCairo,
			Logger:     logger,
		}),
		Merger:    pdf.PDFCPUMerger{},
		Notifier:  a.Notifier,
		Scheduler: a.Scheduler,
		PageCount: pdf.PageCount,
		Logger:    logger,
	}, services.OCRPipelineConfig{
		Queue:        a.OCRQueue(),
		DefaultLang:  cfg.OCR.DefaultLang,
		PreviewWidth: cfg.Main.PreviewWidth,
		MaxRetries:   cfg.Retry.MaxRetries,
		Countdown:    cfg.Retry.Countdown,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return a, nil
}

// OCRQueue is the scheduler queue and the Kafka topic of OCR work.
func (a *App) OCRQueue() string {
	return a.Config.Prefixed(queue.TopicOCR)
}

// Start launches the scheduler's workers until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.Scheduler.Start(ctx)
}

// Close releases every client in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newRemote returns nil when no bucket is configured, which selects the
// local-only mirror.
func (a *App) newRemote(ctx context.Context) (storage.Remote, error) {
	cfg := a.Config.Storage
	if !a.Config.StorageEnabled() {
		return nil, nil
	}
	switch cfg.Backend {
	case config.StorageS3:
		remote, err := storage.NewS3Remote(storage.S3Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			Bucket:          cfg.Bucket,
		})
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		client, err := gcp.NewStorageClient(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return storage.NewGCSRemote(client, cfg.Bucket), nil
	}
}

func (a *App) newStore(ctx context.Context) (metastore.Store, error) {
	cfg := a.Config.Metastore
	switch cfg.Backend {
	case config.MetastoreFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.Database)
		if err != nil {
			return nil, err
		}
		return metastore.NewFirestoreStore(client), nil
	case config.MetastorePostgres:
		return metastore.NewPostgresStore(cfg.DSN)
	default:
		a.Logger.Warn("using in-memory metastore, metadata is lost on exit")
		return metastore.NewMemoryStore(), nil
	}
}

func (a *App) newNotifier(ctx context.Context) (notify.Notifier, error) {
	cfg := a.Config
	switch cfg.Notify.Backend {
	case config.NotifyKafka:
		return notify.NewKafkaNotifier(cfg.Queue.Brokers, cfg.Prefixed, a.Logger), nil
	case config.NotifyWorkflows:
		client, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			return nil, err
		}
		return notify.NewWorkflowNotifier(client, notify.WorkflowConfig{
			ProjectID:         cfg.Notify.ProjectID,
			Location:          cfg.Notify.Location,
			PreviewWorkflowID: cfg.Notify.PreviewWorkflowID,
			IndexWorkflowID:   cfg.Notify.IndexWorkflowID,
		}, a.Logger), nil
	default:
		return notify.NewLogNotifier(a.Logger), nil
	}
}

// newAllocator reserves ids in Redis when an address is configured, so a
// resubmitted run reuses the ids of the earlier one.
func (a *App) newAllocator() allocator.Allocator {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return allocator.UUIDAllocator{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.closers = append(a.closers, client.Close)
	return allocator.NewRedisAllocator(client, allocator.UUIDAllocator{}, cfg.ReservationTTL, a.Logger)
}
