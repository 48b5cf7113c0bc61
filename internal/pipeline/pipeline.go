package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/ternarybob/nyushi/internal/services/crawler"
	"github.com/ternarybob/nyushi/internal/services/download"
	"github.com/ternarybob/nyushi/internal/services/extract"
	"github.com/ternarybob/nyushi/internal/services/impute"
	"github.com/ternarybob/nyushi/internal/services/rename"
	"github.com/ternarybob/nyushi/internal/services/visualize"
)

// progressLogInterval is how often the dispatcher reports queue depths
const progressLogInterval = 10 * time.Second

// Pipeline runs the four processing stages over bounded channels. Sends
// block, so a slow stage backpressures the stages feeding it. All state
// transitions are written to the catalog before the next stage sees the
// item, which is what makes an interrupted run resumable.
type Pipeline struct {
	catalog    interfaces.Catalog
	crawler    *crawler.Service
	downloader *download.Downloader
	extractor  *extract.Service
	renamer    *rename.Renamer
	imputer    *impute.Service
	visualizer *visualize.Service
	cfg        *common.PipelineConfig
	logger     arbor.ILogger

	taskQ    chan *models.Task
	fileQ    chan *models.File
	extractQ chan *extractItem
	renameQ  chan *renameItem

	// outstanding counts queued items not yet fully handled; zero means drained
	outstanding atomic.Int64

	mu       sync.Mutex
	inFlight map[string]bool
}

// New assembles a pipeline. Channel capacities follow the worker counts so
// each stage holds at most two batches ahead of its pool.
func New(
	catalog interfaces.Catalog,
	crawlSvc *crawler.Service,
	downloader *download.Downloader,
	extractor *extract.Service,
	renamer *rename.Renamer,
	imputer *impute.Service,
	visualizer *visualize.Service,
	cfg *common.PipelineConfig,
	logger arbor.ILogger,
) *Pipeline {
	return &Pipeline{
		catalog:    catalog,
		crawler:    crawlSvc,
		downloader: downloader,
		extractor:  extractor,
		renamer:    renamer,
		imputer:    imputer,
		visualizer: visualizer,
		cfg:        cfg,
		logger:     logger,
		taskQ:      make(chan *models.Task, cfg.CrawlWorkers*2),
		fileQ:      make(chan *models.File, cfg.DownloadWorkers*2),
		extractQ:   make(chan *extractItem, cfg.ExtractWorkers*2),
		renameQ:    make(chan *renameItem, cfg.RenameWorkers*2),
		inFlight:   make(map[string]bool),
	}
}

// Run starts all worker pools and the dispatcher and blocks until ctx is
// cancelled and every worker has returned.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.resume(ctx); err != nil {
		return fmt.Errorf("pipeline resume failed: %w", err)
	}

	var wg sync.WaitGroup
	stagger := p.cfg.StaggerDelayDuration()

	p.startWorkers(ctx, &wg, "crawl", p.cfg.CrawlWorkers, stagger, p.crawlWorker)
	p.startWorkers(ctx, &wg, "download", p.cfg.DownloadWorkers, stagger, p.downloadWorker)
	p.startWorkers(ctx, &wg, "extract", p.cfg.ExtractWorkers, stagger, p.extractWorker)
	p.startWorkers(ctx, &wg, "rename", p.cfg.RenameWorkers, stagger, p.renameWorker)

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.dispatch(ctx)
	}()

	wg.Wait()
	return nil
}

// Drained reports whether no queued or in-progress work remains
func (p *Pipeline) Drained() bool {
	return p.outstanding.Load() == 0
}

// WaitDrained blocks until the pipeline has no work left or ctx is cancelled
func (p *Pipeline) WaitDrained(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.Drained() {
				return nil
			}
		}
	}
}

// startWorkers launches a staggered pool for one stage
func (p *Pipeline) startWorkers(ctx context.Context, wg *sync.WaitGroup, stage string, count int, stagger time.Duration, worker func(context.Context, int)) {
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if stagger > 0 {
				select {
				case <-time.After(time.Duration(id) * stagger):
				case <-ctx.Done():
					return
				}
			}
			p.logger.Debug().Str("stage", stage).Int("worker", id).Msg("Worker started")
			worker(ctx, id)
		}(i)
	}
}

// resume reloads unfinished work from the catalog. Pending tasks are left
// for the dispatcher. A task interrupted mid-crawl has no resumable tree
// and is swept to failed so the next sync pass can re-attempt it; tasks
// past the crawl get their pending downloads requeued, and their
// completion is re-checked in case the last file turned terminal right
// before the crash.
func (p *Pipeline) resume(ctx context.Context) error {
	tasks, err := p.catalog.ListAllTasks(ctx)
	if err != nil {
		return err
	}

	requeuedFiles := 0
	sweptTasks := 0
	var recheck []string
	for _, task := range tasks {
		if task.Status.IsTerminal() || task.Status == models.TaskStatusPending {
			continue
		}

		if task.Status == models.TaskStatusCrawling {
			p.failTask(ctx, task.ID, fmt.Errorf("crawl interrupted by shutdown"))
			sweptTasks++
			continue
		}

		// downloaded or processing
		recheck = append(recheck, task.ID)
		if !p.cfg.EnableDownload {
			continue
		}
		files, err := p.catalog.ListFilesByTask(ctx, task.ID)
		if err != nil {
			return err
		}
		for _, file := range files {
			if file.DownloadStatus != models.DownloadStatusPending {
				continue
			}
			if !p.enqueueFile(ctx, file) {
				return ctx.Err()
			}
			requeuedFiles++
		}
	}

	requeuedProcess := 0
	if p.cfg.EnableRename {
		pending, err := p.catalog.ListPendingProcessFiles(ctx)
		if err != nil {
			return err
		}
		for _, file := range pending {
			if !p.enqueueExtract(ctx, &extractItem{file: file}) {
				return ctx.Err()
			}
			requeuedProcess++
		}
	}

	for _, taskID := range recheck {
		p.checkTaskCompletion(ctx, taskID)
	}

	if requeuedFiles > 0 || requeuedProcess > 0 || sweptTasks > 0 {
		p.logger.Info().
			Int("downloads", requeuedFiles).
			Int("process", requeuedProcess).
			Int("swept", sweptTasks).
			Msg("Resumed unfinished work from catalog")
	}
	return nil
}

// dispatch refills the task queue from the catalog and logs progress.
// Refill only runs while the queue is below its low-water mark so a long
// backlog of pending tasks never floods memory.
func (p *Pipeline) dispatch(ctx context.Context) {
	poll := time.NewTicker(p.cfg.PollIntervalDuration())
	defer poll.Stop()
	progress := time.NewTicker(progressLogInterval)
	defer progress.Stop()

	p.refillTasks(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			p.refillTasks(ctx)
		case <-progress.C:
			p.logger.Info().
				Int("task_queue", len(p.taskQ)).
				Int("file_queue", len(p.fileQ)).
				Int("extract_queue", len(p.extractQ)).
				Int("rename_queue", len(p.renameQ)).
				Int64("outstanding", p.outstanding.Load()).
				Msg("Pipeline progress")
		}
	}
}

// refillTasks queues pending tasks while the crawl queue is under-filled
func (p *Pipeline) refillTasks(ctx context.Context) {
	if len(p.taskQ) >= p.cfg.CrawlWorkers*2 {
		return
	}

	tasks, err := p.catalog.ListTasksByStatus(ctx, models.TaskStatusPending)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to list pending tasks")
		return
	}

	for _, task := range tasks {
		p.mu.Lock()
		queued := p.inFlight[task.ID]
		if !queued {
			p.inFlight[task.ID] = true
		}
		p.mu.Unlock()
		if queued {
			continue
		}

		p.outstanding.Add(1)
		select {
		case p.taskQ <- task:
		default:
			// Queue full; drop the claim and let the next poll retry
			p.outstanding.Add(-1)
			p.mu.Lock()
			delete(p.inFlight, task.ID)
			p.mu.Unlock()
			return
		}
	}
}

// enqueueFile blocks until the download queue accepts the file
func (p *Pipeline) enqueueFile(ctx context.Context, file *models.File) bool {
	p.outstanding.Add(1)
	select {
	case p.fileQ <- file:
		return true
	case <-ctx.Done():
		p.outstanding.Add(-1)
		return false
	}
}

// enqueueExtract blocks until the extract queue accepts the item
func (p *Pipeline) enqueueExtract(ctx context.Context, item *extractItem) bool {
	p.outstanding.Add(1)
	select {
	case p.extractQ <- item:
		return true
	case <-ctx.Done():
		p.outstanding.Add(-1)
		return false
	}
}

// enqueueRename blocks until the rename queue accepts the item
func (p *Pipeline) enqueueRename(ctx context.Context, item *renameItem) bool {
	p.outstanding.Add(1)
	select {
	case p.renameQ <- item:
		return true
	case <-ctx.Done():
		p.outstanding.Add(-1)
		return false
	}
}

func (p *Pipeline) releaseTask(taskID string) {
	p.mu.Lock()
	delete(p.inFlight, taskID)
	p.mu.Unlock()
}
