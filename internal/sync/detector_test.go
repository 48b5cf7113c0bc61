package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/models"
	"github.com/ternarybob/nyushi/internal/storage/badger"
)

// fakeUpstream serves a fixed link list
type fakeUpstream struct {
	links   []*models.LinkRecord
	schools map[int64]string
}

func (f *fakeUpstream) AllLinks(ctx context.Context) ([]*models.LinkRecord, error) {
	return f.links, nil
}

func (f *fakeUpstream) SchoolName(ctx context.Context, tableName string, rowID int64) (string, error) {
	return f.schools[rowID], nil
}

func (f *fakeUpstream) Close() error { return nil }

func syncConfig(includeFailed, includeChanged bool) *common.SyncConfig {
	return &common.SyncConfig{IncludeFailed: includeFailed, IncludeChanged: includeChanged}
}

func newTestCatalog(t *testing.T) *badger.Catalog {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir(), GCInterval: "10m"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return badger.NewCatalog(db, logger)
}

func TestDetectClassifiesLinks(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	// Seed: source 1 unchanged, source 2 changed URL, source 3 failed
	seed := []struct {
		id   int64
		url  string
		fail bool
	}{
		{1, "https://a.ac.jp", false},
		{2, "https://b.ac.jp/old", false},
		{3, "https://c.ac.jp", true},
	}
	for _, s := range seed {
		task := &models.Task{SourceID: s.id, URL: s.url}
		require.NoError(t, catalog.UpsertTask(ctx, task))
		if s.fail {
			require.NoError(t, catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, nil))
		} else {
			require.NoError(t, catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted, nil))
		}
	}

	upstream := &fakeUpstream{links: []*models.LinkRecord{
		{ID: 1, TableName: "graduate", RowID: 1, URL: "https://a.ac.jp"},
		{ID: 2, TableName: "graduate", RowID: 2, URL: "https://b.ac.jp/new"},
		{ID: 3, TableName: "graduate", RowID: 3, URL: "https://c.ac.jp"},
		{ID: 4, TableName: "graduate", RowID: 4, URL: "https://d.ac.jp"},
	}}

	detector := NewDetector(catalog, upstream, syncConfig(true, true), arbor.NewLogger())
	plan, err := detector.Detect(ctx)
	require.NoError(t, err)

	require.Len(t, plan.New, 1)
	require.Equal(t, int64(4), plan.New[0].ID)
	require.Len(t, plan.Changed, 1)
	require.Equal(t, int64(2), plan.Changed[0].ID)
	require.Len(t, plan.Failed, 1)
	require.Equal(t, int64(3), plan.Failed[0].ID)
}

func TestDetectSkipsFailedWhenDisabled(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	task := &models.Task{SourceID: 1, URL: "https://a.ac.jp"}
	require.NoError(t, catalog.UpsertTask(ctx, task))
	require.NoError(t, catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, nil))

	upstream := &fakeUpstream{links: []*models.LinkRecord{
		{ID: 1, TableName: "graduate", RowID: 1, URL: "https://a.ac.jp"},
	}}

	detector := NewDetector(catalog, upstream, syncConfig(false, true), arbor.NewLogger())
	plan, err := detector.Detect(ctx)
	require.NoError(t, err)
	require.Zero(t, plan.Total())
}

func TestDetectSkipsChangedWhenDisabled(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	task := &models.Task{SourceID: 1, URL: "https://a.ac.jp/old"}
	require.NoError(t, catalog.UpsertTask(ctx, task))
	require.NoError(t, catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted, nil))

	upstream := &fakeUpstream{links: []*models.LinkRecord{
		{ID: 1, TableName: "graduate", RowID: 1, URL: "https://a.ac.jp/new"},
	}}

	detector := NewDetector(catalog, upstream, syncConfig(true, false), arbor.NewLogger())
	plan, err := detector.Detect(ctx)
	require.NoError(t, err)
	require.Zero(t, plan.Total(), "changed links stay out of the plan when disabled")
}

func TestDetectDeduplicatesByURL(t *testing.T) {
	catalog := newTestCatalog(t)

	upstream := &fakeUpstream{links: []*models.LinkRecord{
		{ID: 7, TableName: "graduate", RowID: 7, URL: "https://same.ac.jp"},
		{ID: 3, TableName: "undergraduate", RowID: 3, URL: "https://same.ac.jp"},
	}}

	detector := NewDetector(catalog, upstream, syncConfig(true, true), arbor.NewLogger())
	plan, err := detector.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.New, 1)
	require.Equal(t, int64(3), plan.New[0].ID, "lowest source id wins the URL")
}

func TestRunCreatesPendingTasks(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	upstream := &fakeUpstream{
		links: []*models.LinkRecord{
			{ID: 1, TableName: "graduate", RowID: 11, URL: "https://a.ac.jp"},
			{ID: 2, TableName: "graduate", RowID: 22, URL: "https://b.ac.jp"},
		},
		schools: map[int64]string{11: "A大学", 22: "B大学"},
	}

	detector := NewDetector(catalog, upstream, syncConfig(true, true), arbor.NewLogger())
	tasks, err := detector.Run(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "A大学", tasks[0].SchoolName)
	require.Equal(t, models.TaskStatusPending, tasks[0].Status)

	logs, err := catalog.ListSyncLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, 2, logs[0].NewCount)
	require.Equal(t, 2, logs[0].TotalQueued)
}

func TestRunReplacesChangedTask(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	task := &models.Task{SourceID: 1, URL: "https://a.ac.jp/old"}
	require.NoError(t, catalog.UpsertTask(ctx, task))
	require.NoError(t, catalog.BatchInsertNodes(ctx, task.ID, []*models.Node{
		{NodeIndex: 0, ParentIndex: models.RootParentIndex, URL: "https://a.ac.jp/old"},
	}))
	require.NoError(t, catalog.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted, nil))

	upstream := &fakeUpstream{links: []*models.LinkRecord{
		{ID: 1, TableName: "graduate", RowID: 1, URL: "https://a.ac.jp/new"},
	}}

	detector := NewDetector(catalog, upstream, syncConfig(true, true), arbor.NewLogger())
	tasks, err := detector.Run(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// The old tree is gone; the task is fresh and pending
	nodes, err := catalog.ListNodesByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, nodes)

	got, err := catalog.GetTaskBySourceID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, got.Status)
	require.Equal(t, "https://a.ac.jp/new", got.URL)
}
