package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	dir := t.TempDir()
	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store, gcStop: make(chan struct{})}
	return NewCatalog(db, arbor.NewLogger())
}

func TestUpsertTaskRefreshPreservesCounters(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	task := &models.Task{SourceID: 42, URL: "https://example.ac.jp/a", SchoolName: "Example U"}
	require.NoError(t, catalog.UpsertTask(ctx, task))
	require.NotEmpty(t, task.ID)

	// Simulate a finished crawl
	nodes, files := 10, 3
	require.NoError(t, catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted, &models.TaskStatusPatch{
		NodeCount: &nodes,
		FileCount: &files,
	}))

	// Upstream URL changed; upsert refreshes in place
	refreshed := &models.Task{SourceID: 42, URL: "https://example.ac.jp/b", SchoolName: "Example U"}
	require.NoError(t, catalog.UpsertTask(ctx, refreshed))
	require.Equal(t, task.ID, refreshed.ID, "refresh must keep the task ID")

	got, err := catalog.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, got.Status)
	require.Equal(t, "https://example.ac.jp/b", got.URL)
	require.Equal(t, models.HashURL("https://example.ac.jp/b"), got.URLHash)
	require.Equal(t, 10, got.NodeCount, "counters survive a refresh")
	require.Equal(t, 3, got.FileCount)
}

func TestUpsertTaskRequiresSourceID(t *testing.T) {
	catalog := newTestCatalog(t)
	err := catalog.UpsertTask(context.Background(), &models.Task{URL: "https://example.ac.jp"})
	require.Error(t, err)
}

func TestUpdateTaskStatusStampsTimes(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	task := &models.Task{SourceID: 1, URL: "https://example.ac.jp"}
	require.NoError(t, catalog.UpsertTask(ctx, task))

	require.NoError(t, catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCrawling, nil))
	got, err := catalog.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)

	require.NoError(t, catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, &models.TaskStatusPatch{ErrorMessage: "boom"}))
	got, err = catalog.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, "boom", got.ErrorMessage)
}

func TestListTasksByStatus(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, catalog.UpsertTask(ctx, &models.Task{SourceID: i, URL: "https://example.ac.jp"}))
	}

	pending, err := catalog.ListTasksByStatus(ctx, models.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	require.NoError(t, catalog.UpdateTaskStatus(ctx, pending[0].ID, models.TaskStatusCrawling, nil))
	pending, err = catalog.ListTasksByStatus(ctx, models.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestBatchInsertNodesPreservesPruneFlag(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	task := &models.Task{SourceID: 5, URL: "https://example.ac.jp"}
	require.NoError(t, catalog.UpsertTask(ctx, task))

	nodes := []*models.Node{
		{NodeIndex: 0, ParentIndex: models.RootParentIndex, URL: "https://example.ac.jp"},
		{NodeIndex: 1, ParentIndex: 0, URL: "https://example.ac.jp/admissions"},
		{NodeIndex: 2, ParentIndex: 0, URL: "https://example.ac.jp/access"},
	}
	require.NoError(t, catalog.BatchInsertNodes(ctx, task.ID, nodes))
	require.NoError(t, catalog.MarkNodesPruned(ctx, task.ID, []int{0, 1}))

	// Re-crawl inserts the same indexes with fresh titles
	again := []*models.Node{
		{NodeIndex: 0, ParentIndex: models.RootParentIndex, URL: "https://example.ac.jp", Title: "Home"},
		{NodeIndex: 2, ParentIndex: 0, URL: "https://example.ac.jp/access", Title: "Access"},
	}
	require.NoError(t, catalog.BatchInsertNodes(ctx, task.ID, again))

	stored, err := catalog.ListNodesByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.True(t, stored[0].IsPruned, "re-insert must not clobber the retained flag")
	require.True(t, stored[1].IsPruned)
	require.False(t, stored[2].IsPruned)
	require.Equal(t, "Access", stored[2].Title, "re-insert refreshes the title")
}

func TestBatchInsertNodesRejectsBadOrdering(t *testing.T) {
	catalog := newTestCatalog(t)
	bad := []*models.Node{{NodeIndex: 1, ParentIndex: 4, URL: "https://example.ac.jp"}}
	err := catalog.BatchInsertNodes(context.Background(), "task-x", bad)
	require.Error(t, err)
}

func TestFileLifecycle(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	file := &models.File{TaskID: "task-1", NodeIndex: 3, SourceURL: "https://example.ac.jp/guide.pdf"}
	require.NoError(t, catalog.CreateFileRecord(ctx, file))
	require.NotEmpty(t, file.ID)
	require.Equal(t, models.DownloadStatusPending, file.DownloadStatus)
	require.Equal(t, models.ProcessStatusPending, file.ProcessStatus)

	require.NoError(t, catalog.UpdateFileDownload(ctx, file.ID, models.DownloadStatusCompleted, "guide.pdf", "task-1/guide.pdf", ""))

	pending, err := catalog.ListPendingProcessFiles(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, catalog.UpdateFileExtracted(ctx, file.ID, 1234))
	require.NoError(t, catalog.UpdateFileRenamed(ctx, file.ID, "Example_U_Unknown.pdf", "gemini-2.0-flash", 0.93, `{"university":"Example U"}`))

	got, err := catalog.GetFile(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProcessStatusCompleted, got.ProcessStatus)
	require.True(t, got.LLMProcessed)
	require.Equal(t, "gemini-2.0-flash", got.LLMModel)
	require.InDelta(t, 0.93, got.LLMConfidence, 1e-9)
	require.Equal(t, 1234, got.ExtractedChars)

	pending, err = catalog.ListPendingProcessFiles(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFailedDownloadIsNotPendingProcess(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	file := &models.File{TaskID: "task-1", SourceURL: "https://example.ac.jp/guide.pdf"}
	require.NoError(t, catalog.CreateFileRecord(ctx, file))
	require.NoError(t, catalog.UpdateFileDownload(ctx, file.ID, models.DownloadStatusFailed, "", "", "404"))

	got, err := catalog.GetFile(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProcessStatusFailed, got.ProcessStatus, "a failed download has no bytes to process")

	pending, err := catalog.ListPendingProcessFiles(ctx)
	require.NoError(t, err)
	require.Empty(t, pending, "failed downloads never enter the process queue")
}

func TestDeleteTaskCascade(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	task := &models.Task{SourceID: 9, URL: "https://example.ac.jp"}
	require.NoError(t, catalog.UpsertTask(ctx, task))
	require.NoError(t, catalog.BatchInsertNodes(ctx, task.ID, []*models.Node{
		{NodeIndex: 0, ParentIndex: models.RootParentIndex, URL: "https://example.ac.jp"},
	}))
	require.NoError(t, catalog.CreateFileRecord(ctx, &models.File{TaskID: task.ID, SourceURL: "https://example.ac.jp/a.pdf"}))
	require.NoError(t, catalog.SaveVisualization(ctx, task.ID, models.VisualizationRaw, task.ID+"/tree_raw.html"))

	require.NoError(t, catalog.DeleteTaskCascade(ctx, task.ID))

	_, err := catalog.GetTask(ctx, task.ID)
	require.Error(t, err)
	nodes, err := catalog.ListNodesByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, nodes)
	files, err := catalog.ListFilesByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestSyncLogRoundTrip(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.LogSync(ctx, &models.SyncLog{RunID: "r1", NewCount: 2, TotalQueued: 2}))
	require.NoError(t, catalog.LogSync(ctx, &models.SyncLog{RunID: "r2", ChangedCount: 1, TotalQueued: 1}))

	logs, err := catalog.ListSyncLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "r2", logs[0].RunID, "newest first")
}
