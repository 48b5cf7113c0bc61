package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/ternarybob/nyushi/internal/services/rename"
)

// crawlWorker drives stage 1: tree discovery, pruning, node and file
// record creation, and the tree reports
func (p *Pipeline) crawlWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.taskQ:
			p.runItem(fmt.Sprintf("crawl task %s", task.ID), func() {
				p.handleTask(ctx, task)
			})
			p.releaseTask(task.ID)
			p.outstanding.Add(-1)
		}
	}
}

func (p *Pipeline) handleTask(ctx context.Context, task *models.Task) {
	if err := p.catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCrawling, nil); err != nil {
		p.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to mark task crawling")
		return
	}

	result, err := p.crawler.CrawlTask(ctx, task)
	if err != nil {
		p.failTask(ctx, task.ID, fmt.Errorf("crawl failed: %w", err))
		return
	}

	if err := p.catalog.BatchInsertNodes(ctx, task.ID, result.Nodes); err != nil {
		p.failTask(ctx, task.ID, fmt.Errorf("failed to store nodes: %w", err))
		return
	}
	if err := p.catalog.MarkNodesPruned(ctx, task.ID, result.KeptIndexes); err != nil {
		p.failTask(ctx, task.ID, fmt.Errorf("failed to store prune result: %w", err))
		return
	}

	for _, file := range result.Files {
		if err := p.catalog.CreateFileRecord(ctx, file); err != nil {
			p.failTask(ctx, task.ID, fmt.Errorf("failed to create file record: %w", err))
			return
		}
	}

	nodeCount := len(result.Nodes)
	prunedCount := len(result.KeptIndexes)
	fileCount := len(result.Files)
	patch := &models.TaskStatusPatch{
		NodeCount:   &nodeCount,
		PrunedCount: &prunedCount,
		FileCount:   &fileCount,
	}
	// Crawl done; the task holds at downloaded while its files fetch
	if err := p.catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusDownloaded, patch); err != nil {
		p.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to store crawl counters")
	}

	if err := p.visualizer.RenderTask(ctx, task, result.Nodes); err != nil {
		// Reports are best-effort; the crawl result stands without them
		p.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to render tree reports")
	}

	if !p.cfg.EnableDownload {
		p.logger.Info().
			Str("task_id", task.ID).
			Int("files", fileCount).
			Msg("Download stage disabled, files left pending")
		return
	}

	for _, file := range result.Files {
		if !p.enqueueFile(ctx, file) {
			return
		}
	}

	// A task with nothing to download completes here
	p.checkTaskCompletion(ctx, task.ID)
}

// downloadWorker drives stage 2: fetching documents into the blob store
func (p *Pipeline) downloadWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case file := <-p.fileQ:
			p.runItem(fmt.Sprintf("download file %s", file.ID), func() {
				p.handleDownload(ctx, file)
			})
			p.outstanding.Add(-1)
		}
	}
}

func (p *Pipeline) handleDownload(ctx context.Context, file *models.File) {
	result, err := p.downloader.Fetch(ctx, file)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a download failure; the pending row resumes later
			return
		}
		p.logger.Warn().
			Err(err).
			Str("file_id", file.ID).
			Str("url", file.SourceURL).
			Msg("Download failed")
		if uerr := p.catalog.UpdateFileDownload(ctx, file.ID, models.DownloadStatusFailed, "", "", err.Error()); uerr != nil {
			p.logger.Error().Err(uerr).Str("file_id", file.ID).Msg("Failed to record download failure")
		}
		p.checkTaskCompletion(ctx, file.TaskID)
		return
	}

	if err := p.catalog.UpdateFileDownload(ctx, file.ID, models.DownloadStatusCompleted, result.StoredName, result.BlobKey, ""); err != nil {
		p.logger.Error().Err(err).Str("file_id", file.ID).Msg("Failed to record download")
		return
	}
	file.StoredName = result.StoredName
	file.BlobKey = result.BlobKey
	file.DownloadStatus = models.DownloadStatusCompleted

	if p.cfg.EnableRename {
		p.enqueueExtract(ctx, &extractItem{file: file})
		return
	}
	p.checkTaskCompletion(ctx, file.TaskID)
}

// extractWorker drives stage 3: pulling text out of downloaded documents
func (p *Pipeline) extractWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.extractQ:
			p.runItem(fmt.Sprintf("extract file %s", item.file.ID), func() {
				p.handleExtract(ctx, item)
			})
			p.outstanding.Add(-1)
		}
	}
}

func (p *Pipeline) handleExtract(ctx context.Context, item *extractItem) {
	file := item.file

	ext := models.DetectExtension(file.StoredName)
	if !p.extractor.Supports(ext) {
		p.recordProcessFailure(ctx, file, fmt.Errorf("no extraction handler for .%s", ext))
		return
	}

	text, err := p.extractor.ExtractFromBlob(ctx, file.BlobKey)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.recordProcessFailure(ctx, file, fmt.Errorf("extraction failed: %w", err))
		return
	}

	if err := p.catalog.UpdateFileExtracted(ctx, file.ID, len(text)); err != nil {
		p.logger.Warn().Err(err).Str("file_id", file.ID).Msg("Failed to record extraction")
	}

	p.enqueueRename(ctx, &renameItem{file: file, text: text})
}

// renameWorker drives stage 4: canonical naming via the LLM
func (p *Pipeline) renameWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.renameQ:
			p.runItem(fmt.Sprintf("rename file %s", item.file.ID), func() {
				p.handleRename(ctx, item)
			})
			p.outstanding.Add(-1)
		}
	}
}

func (p *Pipeline) handleRename(ctx context.Context, item *renameItem) {
	file := item.file

	req, err := p.buildRenameRequest(ctx, file, item.text)
	if err != nil {
		p.recordProcessFailure(ctx, file, err)
		return
	}

	outcome, err := p.renamer.Rename(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.recordProcessFailure(ctx, file, fmt.Errorf("rename failed: %w", err))
		return
	}

	if err := p.catalog.UpdateFileRenamed(ctx, file.ID, outcome.Name, outcome.Model, outcome.Structured.Confidence, outcome.RawResponse); err != nil {
		p.logger.Error().Err(err).Str("file_id", file.ID).Msg("Failed to record rename")
		return
	}

	p.checkTaskCompletion(ctx, file.TaskID)
}

// buildRenameRequest assembles the document's context from the catalog:
// the task's school, the file node's title, its parent page title, and
// the breadcrumb of ancestor titles
func (p *Pipeline) buildRenameRequest(ctx context.Context, file *models.File, text string) (*rename.Request, error) {
	task, err := p.catalog.GetTask(ctx, file.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task for rename: %w", err)
	}
	nodes, err := p.catalog.ListNodesByTask(ctx, file.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes for rename: %w", err)
	}

	byIndex := make(map[int]*models.Node, len(nodes))
	for _, node := range nodes {
		byIndex[node.NodeIndex] = node
	}

	req := &rename.Request{
		SchoolName:   task.SchoolName,
		URL:          file.SourceURL,
		OriginalName: file.OriginalName,
		Content:      text,
		Extension:    models.DetectExtension(file.StoredName),
	}

	node := byIndex[file.NodeIndex]
	if node != nil {
		req.Title = node.Title
		if parent := byIndex[node.ParentIndex]; parent != nil {
			req.ParentTitle = parent.Title
		}
		req.Breadcrumb = breadcrumb(byIndex, node)
	}
	return req, nil
}

// breadcrumb joins ancestor titles root-first
func breadcrumb(byIndex map[int]*models.Node, node *models.Node) string {
	var titles []string
	for cur := byIndex[node.ParentIndex]; cur != nil; cur = byIndex[cur.ParentIndex] {
		title := cur.Title
		if title == "" {
			title = cur.URL
		}
		titles = append(titles, title)
		if cur.ParentIndex == models.RootParentIndex {
			break
		}
	}
	for i, j := 0, len(titles)-1; i < j; i, j = i+1, j-1 {
		titles[i], titles[j] = titles[j], titles[i]
	}
	return strings.Join(titles, " > ")
}

// recordProcessFailure marks the file's process axis failed and re-checks
// its task
func (p *Pipeline) recordProcessFailure(ctx context.Context, file *models.File, cause error) {
	p.logger.Warn().
		Err(cause).
		Str("file_id", file.ID).
		Str("task_id", file.TaskID).
		Msg("File processing failed")
	if err := p.catalog.UpdateFileProcessFailed(ctx, file.ID, cause.Error()); err != nil {
		p.logger.Error().Err(err).Str("file_id", file.ID).Msg("Failed to record process failure")
		return
	}
	p.checkTaskCompletion(ctx, file.TaskID)
}

// failTask marks the task failed with its cause
func (p *Pipeline) failTask(ctx context.Context, taskID string, cause error) {
	p.logger.Error().Err(cause).Str("task_id", taskID).Msg("Task failed")
	patch := &models.TaskStatusPatch{ErrorMessage: cause.Error()}
	if err := p.catalog.UpdateTaskStatus(ctx, taskID, models.TaskStatusFailed, patch); err != nil {
		p.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to record task failure")
	}
}

// checkTaskCompletion advances the task lifecycle from the file rows.
// The task holds at downloaded while fetches are in flight; once every
// download settled it moves to processing while renames run; everything
// terminal completes it and runs the imputation pass.
func (p *Pipeline) checkTaskCompletion(ctx context.Context, taskID string) {
	task, err := p.catalog.GetTask(ctx, taskID)
	if err != nil {
		p.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to load task for completion check")
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	files, err := p.catalog.ListFilesByTask(ctx, taskID)
	if err != nil {
		p.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to list files for completion check")
		return
	}

	downloadsSettled := true
	processPending := false
	for _, file := range files {
		switch file.DownloadStatus {
		case models.DownloadStatusPending:
			downloadsSettled = false
		case models.DownloadStatusCompleted:
			if file.ProcessStatus == models.ProcessStatusPending {
				processPending = true
			}
		}
	}

	if !downloadsSettled {
		return
	}

	if processPending {
		if !p.cfg.EnableRename {
			// Rename disabled; the task rests at downloaded and a later
			// run finishes it
			if task.Status != models.TaskStatusDownloaded {
				p.setTaskStatus(ctx, taskID, models.TaskStatusDownloaded)
			}
			return
		}
		if task.Status != models.TaskStatusProcessing {
			p.setTaskStatus(ctx, taskID, models.TaskStatusProcessing)
		}
		return
	}

	if err := p.imputer.ImputeTask(ctx, taskID); err != nil {
		p.logger.Warn().Err(err).Str("task_id", taskID).Msg("Imputation pass failed")
	}
	p.setTaskStatus(ctx, taskID, models.TaskStatusCompleted)

	p.logger.Info().
		Str("task_id", taskID).
		Str("school", task.SchoolName).
		Int("files", len(files)).
		Msg("Task completed")
}

func (p *Pipeline) setTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) {
	if err := p.catalog.UpdateTaskStatus(ctx, taskID, status, nil); err != nil {
		p.logger.Warn().Err(err).Str("task_id", taskID).Str("status", string(status)).Msg("Failed to update task status")
	}
}

// runItem runs one unit of work with panic isolation so a single bad
// document cannot take down a worker pool
func (p *Pipeline) runItem(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("item", what).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered panic in pipeline worker")
		}
	}()
	fn()
}
