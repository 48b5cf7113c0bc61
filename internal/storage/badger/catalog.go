package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Catalog implements the Catalog interface for Badger
type Catalog struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Catalog = (*Catalog)(nil)

// NewCatalog creates a new Catalog instance
func NewCatalog(db *BadgerDB, logger arbor.ILogger) *Catalog {
	return &Catalog{
		db:     db,
		logger: logger,
	}
}

// UpsertTask inserts a task keyed by its upstream SourceID. An existing
// task is refreshed in place: URL, hash and school name are updated and
// the status drops back to pending, but counters survive.
func (c *Catalog) UpsertTask(ctx context.Context, task *models.Task) error {
	if task.SourceID == 0 {
		return fmt.Errorf("task source ID is required")
	}

	return withRetry(func() error {
		now := time.Now()

		existing, err := c.findTaskBySourceID(task.SourceID)
		if err != nil && err != badgerhold.ErrNotFound {
			return Retryable(fmt.Errorf("failed to look up task by source ID %d: %w", task.SourceID, err))
		}

		if existing != nil {
			existing.URL = task.URL
			existing.URLHash = models.HashURL(task.URL)
			existing.SchoolName = task.SchoolName
			existing.Status = models.TaskStatusPending
			existing.ErrorMessage = ""
			existing.UpdatedAt = now
			if err := c.db.Store().Upsert(existing.ID, existing); err != nil {
				return Retryable(fmt.Errorf("failed to refresh task %s: %w", existing.ID, err))
			}
			task.ID = existing.ID
			return nil
		}

		if task.ID == "" {
			task.ID = uuid.New().String()
		}
		task.URLHash = models.HashURL(task.URL)
		task.Status = models.TaskStatusPending
		task.CreatedAt = now
		task.UpdatedAt = now
		if err := c.db.Store().Insert(task.ID, task); err != nil {
			return Retryable(fmt.Errorf("failed to insert task %s: %w", task.ID, err))
		}
		return nil
	})
}

func (c *Catalog) findTaskBySourceID(sourceID int64) (*models.Task, error) {
	var tasks []models.Task
	if err := c.db.Store().Find(&tasks, badgerhold.Where("SourceID").Eq(sourceID).Limit(1)); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, badgerhold.ErrNotFound
	}
	return &tasks[0], nil
}

// UpdateTaskStatus moves a task through its lifecycle. StartedAt is stamped
// on entry to crawling, CompletedAt on a terminal status.
func (c *Catalog) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, patch *models.TaskStatusPatch) error {
	return withRetry(func() error {
		var task models.Task
		if err := c.db.Store().Get(taskID, &task); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("task not found: %s", taskID)
			}
			return Retryable(fmt.Errorf("failed to get task %s: %w", taskID, err))
		}

		now := time.Now()
		task.Status = status
		task.UpdatedAt = now

		if status == models.TaskStatusCrawling && task.StartedAt == nil {
			task.StartedAt = &now
		}
		if status.IsTerminal() {
			task.CompletedAt = &now
		}

		if patch != nil {
			if patch.NodeCount != nil {
				task.NodeCount = *patch.NodeCount
			}
			if patch.PrunedCount != nil {
				task.PrunedCount = *patch.PrunedCount
			}
			if patch.FileCount != nil {
				task.FileCount = *patch.FileCount
			}
			if patch.ErrorMessage != "" {
				task.ErrorMessage = patch.ErrorMessage
			}
		}

		if err := c.db.Store().Upsert(taskID, &task); err != nil {
			return Retryable(fmt.Errorf("failed to update task %s status: %w", taskID, err))
		}
		return nil
	})
}

func (c *Catalog) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := c.db.Store().Get(taskID, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("task not found: %s", taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (c *Catalog) GetTaskBySourceID(ctx context.Context, sourceID int64) (*models.Task, error) {
	task, err := c.findTaskBySourceID(sourceID)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task by source ID: %w", err)
	}
	return task, nil
}

func (c *Catalog) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	var tasks []models.Task
	if err := c.db.Store().Find(&tasks, badgerhold.Where("Status").Eq(status).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list tasks by status %s: %w", status, err)
	}
	return taskPtrs(tasks), nil
}

func (c *Catalog) ListAllTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []models.Task
	if err := c.db.Store().Find(&tasks, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return taskPtrs(tasks), nil
}

func taskPtrs(tasks []models.Task) []*models.Task {
	result := make([]*models.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result
}

// BatchInsertNodes upserts nodes keyed by (task, index). A re-crawl of the
// same task refreshes URL and title but never clobbers a prior prune result.
func (c *Catalog) BatchInsertNodes(ctx context.Context, taskID string, nodes []*models.Node) error {
	for _, node := range nodes {
		node.TaskID = taskID
		if node.Extension == "" {
			node.Extension = models.DetectExtension(node.URL)
		}
		if err := node.Validate(); err != nil {
			return fmt.Errorf("invalid node %d for task %s: %w", node.NodeIndex, taskID, err)
		}
	}

	return withRetry(func() error {
		now := time.Now()
		for _, node := range nodes {
			key := models.NodeKey(taskID, node.NodeIndex)

			var existing models.Node
			err := c.db.Store().Get(key, &existing)
			if err == nil {
				node.IsPruned = existing.IsPruned
				node.CreatedAt = existing.CreatedAt
			} else if err == badgerhold.ErrNotFound {
				node.CreatedAt = now
			} else {
				return Retryable(fmt.Errorf("failed to read node %s: %w", key, err))
			}

			node.ID = key
			if err := c.db.Store().Upsert(key, node); err != nil {
				return Retryable(fmt.Errorf("failed to upsert node %s: %w", key, err))
			}
		}
		return nil
	})
}

// MarkNodesPruned runs in two phases: first every node of the task is
// reset to unretained, then the kept indexes get IsPruned set. Re-callable
// without loss; a keep list that references unknown indexes is harmless.
func (c *Catalog) MarkNodesPruned(ctx context.Context, taskID string, keepIndexes []int) error {
	keep := make(map[int]bool, len(keepIndexes))
	for _, idx := range keepIndexes {
		keep[idx] = true
	}

	return withRetry(func() error {
		var nodes []models.Node
		if err := c.db.Store().Find(&nodes, badgerhold.Where("TaskID").Eq(taskID)); err != nil {
			return Retryable(fmt.Errorf("failed to list nodes for task %s: %w", taskID, err))
		}

		for i := range nodes {
			node := &nodes[i]
			node.IsPruned = keep[node.NodeIndex]
			if err := c.db.Store().Upsert(node.ID, node); err != nil {
				return Retryable(fmt.Errorf("failed to update node %s prune flag: %w", node.ID, err))
			}
		}
		return nil
	})
}

func (c *Catalog) ListNodesByTask(ctx context.Context, taskID string) ([]*models.Node, error) {
	var nodes []models.Node
	if err := c.db.Store().Find(&nodes, badgerhold.Where("TaskID").Eq(taskID).SortBy("NodeIndex")); err != nil {
		return nil, fmt.Errorf("failed to list nodes for task %s: %w", taskID, err)
	}
	result := make([]*models.Node, len(nodes))
	for i := range nodes {
		result[i] = &nodes[i]
	}
	return result, nil
}

func (c *Catalog) CreateFileRecord(ctx context.Context, file *models.File) error {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	now := time.Now()
	file.CreatedAt = now
	file.UpdatedAt = now
	if file.DownloadStatus == "" {
		file.DownloadStatus = models.DownloadStatusPending
	}
	if file.ProcessStatus == "" {
		file.ProcessStatus = models.ProcessStatusPending
	}

	return withRetry(func() error {
		if err := c.db.Store().Insert(file.ID, file); err != nil {
			return Retryable(fmt.Errorf("failed to create file record: %w", err))
		}
		return nil
	})
}

func (c *Catalog) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	var file models.File
	if err := c.db.Store().Get(fileID, &file); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("file not found: %s", fileID)
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// updateFile applies mutate to a file record under retry
func (c *Catalog) updateFile(fileID string, mutate func(*models.File)) error {
	return withRetry(func() error {
		var file models.File
		if err := c.db.Store().Get(fileID, &file); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("file not found: %s", fileID)
			}
			return Retryable(fmt.Errorf("failed to get file %s: %w", fileID, err))
		}

		mutate(&file)
		file.UpdatedAt = time.Now()

		if err := c.db.Store().Upsert(fileID, &file); err != nil {
			return Retryable(fmt.Errorf("failed to update file %s: %w", fileID, err))
		}
		return nil
	})
}

// UpdateFileDownload settles the fetch axis. A failed download also
// terminates the process axis: there are no bytes to extract, and a task
// only completes once every file is process-terminal.
func (c *Catalog) UpdateFileDownload(ctx context.Context, fileID string, status models.DownloadStatus, storedName, blobKey, errMsg string) error {
	return c.updateFile(fileID, func(f *models.File) {
		f.DownloadStatus = status
		f.StoredName = storedName
		f.BlobKey = blobKey
		f.ErrorMessage = errMsg
		if status == models.DownloadStatusFailed {
			f.ProcessStatus = models.ProcessStatusFailed
		}
	})
}

func (c *Catalog) UpdateFileRenamed(ctx context.Context, fileID, renamedName, model string, confidence float64, rawResponse string) error {
	return c.updateFile(fileID, func(f *models.File) {
		f.RenamedName = renamedName
		f.LLMModel = model
		f.LLMConfidence = confidence
		f.LLMRawResponse = rawResponse
		f.LLMProcessed = true
		f.ProcessStatus = models.ProcessStatusCompleted
	})
}

func (c *Catalog) UpdateFileRenamedNameOnly(ctx context.Context, fileID, renamedName string) error {
	return c.updateFile(fileID, func(f *models.File) {
		f.RenamedName = renamedName
	})
}

func (c *Catalog) UpdateFileProcessFailed(ctx context.Context, fileID, errMsg string) error {
	return c.updateFile(fileID, func(f *models.File) {
		f.ProcessStatus = models.ProcessStatusFailed
		f.ErrorMessage = errMsg
	})
}

func (c *Catalog) UpdateFileExtracted(ctx context.Context, fileID string, chars int) error {
	return c.updateFile(fileID, func(f *models.File) {
		f.ExtractedChars = chars
	})
}

// ListPendingProcessFiles returns files that downloaded but have not yet
// been renamed. This is the resume point for stages 3 and 4.
func (c *Catalog) ListPendingProcessFiles(ctx context.Context) ([]*models.File, error) {
	var files []models.File
	query := badgerhold.Where("DownloadStatus").Eq(models.DownloadStatusCompleted).
		And("ProcessStatus").Eq(models.ProcessStatusPending)
	if err := c.db.Store().Find(&files, query); err != nil {
		return nil, fmt.Errorf("failed to list pending process files: %w", err)
	}
	return filePtrs(files), nil
}

func (c *Catalog) ListFilesByTask(ctx context.Context, taskID string) ([]*models.File, error) {
	var files []models.File
	if err := c.db.Store().Find(&files, badgerhold.Where("TaskID").Eq(taskID)); err != nil {
		return nil, fmt.Errorf("failed to list files for task %s: %w", taskID, err)
	}
	return filePtrs(files), nil
}

func filePtrs(files []models.File) []*models.File {
	result := make([]*models.File, len(files))
	for i := range files {
		result[i] = &files[i]
	}
	return result
}

// SaveVisualization upserts the report pointer for (task, kind)
func (c *Catalog) SaveVisualization(ctx context.Context, taskID string, kind models.VisualizationKind, blobKey string) error {
	key := models.VisualizationKey(taskID, kind)
	viz := &models.Visualization{
		ID:        key,
		TaskID:    taskID,
		Kind:      kind,
		BlobKey:   blobKey,
		CreatedAt: time.Now(),
	}
	return withRetry(func() error {
		if err := c.db.Store().Upsert(key, viz); err != nil {
			return Retryable(fmt.Errorf("failed to save visualization %s: %w", key, err))
		}
		return nil
	})
}

func (c *Catalog) LogSync(ctx context.Context, entry *models.SyncLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now()
	return withRetry(func() error {
		if err := c.db.Store().Insert(entry.ID, entry); err != nil {
			return Retryable(fmt.Errorf("failed to log sync run: %w", err))
		}
		return nil
	})
}

func (c *Catalog) ListSyncLogs(ctx context.Context, limit int) ([]*models.SyncLog, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	var logs []models.SyncLog
	if err := c.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	result := make([]*models.SyncLog, len(logs))
	for i := range logs {
		result[i] = &logs[i]
	}
	return result, nil
}

// DeleteTaskCascade removes the task and all dependent rows. Blob objects
// are left in place; a re-crawl overwrites them key by key.
func (c *Catalog) DeleteTaskCascade(ctx context.Context, taskID string) error {
	return withRetry(func() error {
		if err := c.db.Store().DeleteMatching(&models.Node{}, badgerhold.Where("TaskID").Eq(taskID)); err != nil {
			return Retryable(fmt.Errorf("failed to delete nodes for task %s: %w", taskID, err))
		}
		if err := c.db.Store().DeleteMatching(&models.File{}, badgerhold.Where("TaskID").Eq(taskID)); err != nil {
			return Retryable(fmt.Errorf("failed to delete files for task %s: %w", taskID, err))
		}
		if err := c.db.Store().DeleteMatching(&models.Visualization{}, badgerhold.Where("TaskID").Eq(taskID)); err != nil {
			return Retryable(fmt.Errorf("failed to delete visualizations for task %s: %w", taskID, err))
		}
		if err := c.db.Store().Delete(taskID, &models.Task{}); err != nil && err != badgerhold.ErrNotFound {
			return Retryable(fmt.Errorf("failed to delete task %s: %w", taskID, err))
		}
		return nil
	})
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
