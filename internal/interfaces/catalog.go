package interfaces

import (
	"context"

	"github.com/ternarybob/nyushi/internal/models"
)

// Catalog is the persistent state store for tasks, nodes, files,
// visualizations and sync history. All pipeline resumption reads go
// through it.
type Catalog interface {
	// Tasks
	UpsertTask(ctx context.Context, task *models.Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, patch *models.TaskStatusPatch) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	GetTaskBySourceID(ctx context.Context, sourceID int64) (*models.Task, error)
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)
	ListAllTasks(ctx context.Context) ([]*models.Task, error)

	// Nodes
	BatchInsertNodes(ctx context.Context, taskID string, nodes []*models.Node) error
	MarkNodesPruned(ctx context.Context, taskID string, keepIndexes []int) error
	ListNodesByTask(ctx context.Context, taskID string) ([]*models.Node, error)

	// Files
	CreateFileRecord(ctx context.Context, file *models.File) error
	GetFile(ctx context.Context, fileID string) (*models.File, error)
	UpdateFileDownload(ctx context.Context, fileID string, status models.DownloadStatus, storedName, blobKey, errMsg string) error
	UpdateFileRenamed(ctx context.Context, fileID, renamedName, model string, confidence float64, rawResponse string) error
	UpdateFileRenamedNameOnly(ctx context.Context, fileID, renamedName string) error
	UpdateFileProcessFailed(ctx context.Context, fileID, errMsg string) error
	UpdateFileExtracted(ctx context.Context, fileID string, chars int) error
	ListPendingProcessFiles(ctx context.Context) ([]*models.File, error)
	ListFilesByTask(ctx context.Context, taskID string) ([]*models.File, error)

	// Visualizations
	SaveVisualization(ctx context.Context, taskID string, kind models.VisualizationKind, blobKey string) error

	// Sync history
	LogSync(ctx context.Context, entry *models.SyncLog) error
	ListSyncLogs(ctx context.Context, limit int) ([]*models.SyncLog, error)

	// DeleteTaskCascade removes a task and everything hanging off it
	DeleteTaskCascade(ctx context.Context, taskID string) error

	Close() error
}
