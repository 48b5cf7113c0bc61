package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/ternarybob/nyushi/internal/pipeline"
	"github.com/ternarybob/nyushi/internal/services/crawler"
	"github.com/ternarybob/nyushi/internal/services/download"
	"github.com/ternarybob/nyushi/internal/services/extract"
	"github.com/ternarybob/nyushi/internal/services/impute"
	"github.com/ternarybob/nyushi/internal/services/llm"
	"github.com/ternarybob/nyushi/internal/services/rename"
	"github.com/ternarybob/nyushi/internal/services/visualize"
	"github.com/ternarybob/nyushi/internal/storage/badger"
	"github.com/ternarybob/nyushi/internal/storage/blob"
	syncsvc "github.com/ternarybob/nyushi/internal/sync"
	"github.com/ternarybob/nyushi/internal/upstream"
)

// App holds all application components and dependencies
type App struct {
	Config   *common.Config
	Logger   arbor.ILogger
	Catalog  interfaces.Catalog
	Blobs    interfaces.BlobStore
	Upstream interfaces.UpstreamSource
	LLM      interfaces.LLMService
	Detector *syncsvc.Detector
	Pipeline *pipeline.Pipeline

	db   *badger.BadgerDB
	pool *crawler.BrowserPool
	cron *cron.Cron
}

// New initializes the application in dependency order: storage, upstream,
// LLM, browser pool, then the pipeline services
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	db, err := badger.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	a.db = db
	a.Catalog = badger.NewCatalog(db, logger)
	logger.Debug().
		Str("path", cfg.Storage.Badger.Path).
		Msg("Catalog storage initialized")

	blobs, err := blob.NewStore(cfg.Storage.BlobDir, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	a.Blobs = blobs

	source, err := upstream.NewSQLiteSource(&cfg.Upstream, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open upstream link source: %w", err)
	}
	a.Upstream = source

	llmService, err := llm.NewLLMService(cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	a.LLM = llmService
	if err := llmService.HealthCheck(context.Background()); err != nil {
		// Pruning degrades to keep-all and renames fail per file, so a
		// flaky health check at startup is not fatal
		logger.Warn().Err(err).Msg("LLM health check failed, continuing anyway")
	} else {
		logger.Debug().Msg("LLM service initialized and health check passed")
	}

	poolCfg := crawler.BrowserPoolConfig{
		MaxInstances:   cfg.Crawler.PoolSize,
		UserAgent:      cfg.Crawler.UserAgent,
		Headless:       cfg.Crawler.Headless,
		RequestTimeout: cfg.Crawler.RequestTimeout,
	}
	a.pool = crawler.NewBrowserPool(poolCfg, logger)
	if err := a.pool.Init(poolCfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize browser pool: %w", err)
	}

	crawlSvc := crawler.NewService(a.pool, a.LLM, &cfg.Crawler, logger)
	downloader := download.NewDownloader(a.Blobs, &cfg.Download, logger)
	extractor, err := extract.NewService(a.Blobs, &cfg.Extract, &cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize extractor: %w", err)
	}
	renamer, err := rename.NewRenamer(a.LLM, &cfg.Rename, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize renamer: %w", err)
	}
	imputer := impute.NewService(a.Catalog, logger)
	visualizer := visualize.NewService(a.Catalog, a.Blobs, logger)

	a.Detector = syncsvc.NewDetector(a.Catalog, a.Upstream, &cfg.Sync, logger)
	a.Pipeline = pipeline.New(
		a.Catalog,
		crawlSvc,
		downloader,
		extractor,
		renamer,
		imputer,
		visualizer,
		&cfg.Pipeline,
		logger,
	)

	logger.Info().
		Str("provider", string(cfg.LLM.DefaultProvider)).
		Bool("download_enabled", cfg.Pipeline.EnableDownload).
		Bool("rename_enabled", cfg.Pipeline.EnableRename).
		Msg("Application initialization complete")

	return a, nil
}

// RunSync performs one incremental sync against the upstream database
func (a *App) RunSync(ctx context.Context) error {
	tasks, err := a.Detector.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync run failed: %w", err)
	}
	a.Logger.Info().Int("queued", len(tasks)).Msg("Sync run finished")
	return nil
}

// Run syncs once at startup, schedules periodic syncs when configured,
// and then blocks in the pipeline until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	if err := a.RunSync(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("Startup sync failed")
	}

	if schedule := a.Config.Sync.Schedule; schedule != "" {
		a.cron = cron.New()
		_, err := a.cron.AddFunc(schedule, func() {
			if err := a.RunSync(context.Background()); err != nil {
				a.Logger.Error().Err(err).Msg("Scheduled sync failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
		}
		a.cron.Start()
		a.Logger.Info().Str("schedule", schedule).Msg("Periodic sync scheduled")
	}

	return a.Pipeline.Run(ctx)
}

// RunOnce syncs, processes everything queued, and returns when the
// pipeline drains. Used by the -once flag for batch runs.
func (a *App) RunOnce(ctx context.Context) error {
	if err := a.RunSync(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- a.Pipeline.Run(runCtx)
	}()

	err := a.waitIdle(runCtx)
	cancel()
	<-done
	if err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// waitIdle returns once no pending tasks remain and the pipeline is drained
func (a *App) waitIdle(ctx context.Context) error {
	for {
		if err := a.Pipeline.WaitDrained(ctx); err != nil {
			return err
		}
		pending, err := a.Catalog.ListTasksByStatus(ctx, models.TaskStatusPending)
		if err != nil {
			return err
		}
		if len(pending) == 0 && a.Pipeline.Drained() {
			return nil
		}
	}
}

// PrintStatus writes a task and sync summary to stdout
func (a *App) PrintStatus(ctx context.Context) error {
	tasks, err := a.Catalog.ListAllTasks(ctx)
	if err != nil {
		return err
	}

	counts := map[models.TaskStatus]int{}
	for _, task := range tasks {
		counts[task.Status]++
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "tasks\t%d\n", len(tasks))
	for _, status := range []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusCrawling,
		models.TaskStatusDownloaded,
		models.TaskStatusProcessing,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
	} {
		fmt.Fprintf(w, "  %s\t%d\n", status, counts[status])
	}

	logs, err := a.Catalog.ListSyncLogs(ctx, 5)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "recent syncs\t%d\n", len(logs))
	for _, entry := range logs {
		fmt.Fprintf(w, "  %s\tnew=%d changed=%d failed=%d\n",
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			entry.NewCount, entry.ChangedCount, entry.FailedCount)
	}
	return w.Flush()
}

// Close releases all application resources in reverse init order
func (a *App) Close() error {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.pool != nil {
		if err := a.pool.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down browser pool")
		}
	}
	if a.LLM != nil {
		if err := a.LLM.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}
	if a.Upstream != nil {
		if err := a.Upstream.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close upstream source")
		}
	}
	if a.Catalog != nil {
		if err := a.Catalog.Close(); err != nil {
			return fmt.Errorf("failed to close catalog: %w", err)
		}
		a.db = nil
	} else if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("failed to close catalog database: %w", err)
		}
	}
	return nil
}
