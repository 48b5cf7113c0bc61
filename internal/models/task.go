package models

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusCrawling   TaskStatus = "crawling"
	TaskStatusDownloaded TaskStatus = "downloaded"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal returns true for states that end a task's lifecycle
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents one crawl unit: a single upstream link, its discovered
// tree, and the files found under it
type Task struct {
	ID           string     `json:"id" badgerhold:"key"`
	SourceID     int64      `json:"source_id" badgerhold:"unique"`
	URL          string     `json:"url"`
	URLHash      string     `json:"url_hash"`
	SchoolName   string     `json:"school_name"`
	Status       TaskStatus `json:"status" badgerhold:"index"`
	NodeCount    int        `json:"node_count"`
	PrunedCount  int        `json:"pruned_count"`
	FileCount    int        `json:"file_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TaskStatusPatch carries the optional fields written alongside a status change
type TaskStatusPatch struct {
	NodeCount    *int
	PrunedCount  *int
	FileCount    *int
	ErrorMessage string
}

// HashURL returns the md5 hex digest used to detect upstream URL changes
func HashURL(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
