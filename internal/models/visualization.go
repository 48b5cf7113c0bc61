package models

import "time"

// VisualizationKind distinguishes the full link tree from the pruned one
type VisualizationKind string

const (
	VisualizationRaw    VisualizationKind = "raw"
	VisualizationPruned VisualizationKind = "pruned"
)

// Visualization points at a rendered link-tree report in blob storage.
// One record per (task, kind).
type Visualization struct {
	ID        string            `json:"id" badgerhold:"key"`
	TaskID    string            `json:"task_id" badgerhold:"index"`
	Kind      VisualizationKind `json:"kind"`
	BlobKey   string            `json:"blob_key"`
	CreatedAt time.Time         `json:"created_at"`
}

// VisualizationKey builds the storage key for a task's visualization of a kind
func VisualizationKey(taskID string, kind VisualizationKind) string {
	return taskID + ":" + string(kind)
}
