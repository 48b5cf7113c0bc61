package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
)

// Plan is the outcome of change detection: which upstream links need a
// fresh crawl and why
type Plan struct {
	New     []*models.LinkRecord
	Changed []*models.LinkRecord
	Failed  []*models.LinkRecord
}

// Total returns the number of links queued across all categories
func (p *Plan) Total() int {
	return len(p.New) + len(p.Changed) + len(p.Failed)
}

// Detector computes incremental sync plans from the upstream link source
// and prepares catalog tasks for each planned link
type Detector struct {
	catalog  interfaces.Catalog
	upstream interfaces.UpstreamSource
	cfg      *common.SyncConfig
	logger   arbor.ILogger
}

// NewDetector creates a sync detector
func NewDetector(catalog interfaces.Catalog, upstream interfaces.UpstreamSource, cfg *common.SyncConfig, logger arbor.ILogger) *Detector {
	return &Detector{
		catalog:  catalog,
		upstream: upstream,
		cfg:      cfg,
		logger:   logger,
	}
}

// Detect classifies upstream links against the catalog. A link is new when
// its id has never been seen, changed when the stored URL hash no longer
// matches, and failed when a prior attempt ended in a failed task. The
// changed and failed categories are each gated by config. The merged
// plan is deduplicated by URL, first wins by lowest source id.
func (d *Detector) Detect(ctx context.Context) (*Plan, error) {
	links, err := d.upstream.AllLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load upstream links: %w", err)
	}

	tasks, err := d.catalog.ListAllTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog tasks: %w", err)
	}

	bySource := make(map[int64]*models.Task, len(tasks))
	for _, task := range tasks {
		bySource[task.SourceID] = task
	}

	plan := &Plan{}
	for _, link := range links {
		task, seen := bySource[link.ID]
		switch {
		case !seen:
			plan.New = append(plan.New, link)
		case d.cfg.IncludeChanged && task.URLHash != models.HashURL(link.URL):
			plan.Changed = append(plan.Changed, link)
		case d.cfg.IncludeFailed && task.Status == models.TaskStatusFailed:
			plan.Failed = append(plan.Failed, link)
		}
	}

	dedupePlan(plan)

	d.logger.Info().
		Int("new", len(plan.New)).
		Int("changed", len(plan.Changed)).
		Int("failed", len(plan.Failed)).
		Msg("Sync detection completed")

	return plan, nil
}

// dedupePlan drops duplicate URLs across the merged plan. Links are
// considered in source-id order so the lowest id keeps the URL.
func dedupePlan(plan *Plan) {
	merged := make([]*models.LinkRecord, 0, plan.Total())
	merged = append(merged, plan.New...)
	merged = append(merged, plan.Changed...)
	merged = append(merged, plan.Failed...)

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })

	keep := make(map[int64]bool, len(merged))
	seenURL := make(map[string]bool, len(merged))
	for _, link := range merged {
		if seenURL[link.URL] {
			continue
		}
		seenURL[link.URL] = true
		keep[link.ID] = true
	}

	plan.New = filterLinks(plan.New, keep)
	plan.Changed = filterLinks(plan.Changed, keep)
	plan.Failed = filterLinks(plan.Failed, keep)
}

func filterLinks(links []*models.LinkRecord, keep map[int64]bool) []*models.LinkRecord {
	result := links[:0]
	for _, link := range links {
		if keep[link.ID] {
			result = append(result, link)
		}
	}
	return result
}

// Prepare readies the catalog for a planned link: any previous task for
// the same source id is removed with its nodes and files, then a fresh
// pending task is created with the resolved school name. Blobs from the
// prior attempt stay in place and get overwritten during the re-crawl.
func (d *Detector) Prepare(ctx context.Context, link *models.LinkRecord) (*models.Task, error) {
	existing, err := d.catalog.GetTaskBySourceID(ctx, link.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing task for source %d: %w", link.ID, err)
	}
	if existing != nil {
		if err := d.catalog.DeleteTaskCascade(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to clear previous task %s: %w", existing.ID, err)
		}
	}

	schoolName, err := d.upstream.SchoolName(ctx, link.TableName, link.RowID)
	if err != nil {
		d.logger.Warn().Err(err).Int64("source_id", link.ID).Msg("Failed to resolve school name")
	}

	task := &models.Task{
		SourceID:   link.ID,
		URL:        link.URL,
		SchoolName: schoolName,
	}
	if err := d.catalog.UpsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task for source %d: %w", link.ID, err)
	}

	return task, nil
}

// Run executes a full sync pass: detect, prepare each link, and record
// the outcome in the sync log. Returns the pending tasks it created.
func (d *Detector) Run(ctx context.Context) ([]*models.Task, error) {
	plan, err := d.Detect(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []*models.Task
	var failures int
	for _, link := range append(append(append([]*models.LinkRecord{}, plan.New...), plan.Changed...), plan.Failed...) {
		task, err := d.Prepare(ctx, link)
		if err != nil {
			d.logger.Error().Err(err).Int64("source_id", link.ID).Msg("Failed to prepare task")
			failures++
			continue
		}
		tasks = append(tasks, task)
	}

	entry := &models.SyncLog{
		RunID:        uuid.New().String(),
		NewCount:     len(plan.New),
		ChangedCount: len(plan.Changed),
		FailedCount:  len(plan.Failed),
		TotalQueued:  len(tasks),
	}
	if failures > 0 {
		entry.Detail = fmt.Sprintf("%d links failed preparation", failures)
	}
	if err := d.catalog.LogSync(ctx, entry); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to record sync log entry")
	}

	d.logger.Info().
		Str("run_id", entry.RunID).
		Int("queued", len(tasks)).
		Msg("Sync run completed")

	return tasks, nil
}
