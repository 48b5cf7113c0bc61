package models

import "time"

// SyncLog records the outcome of one incremental sync run
type SyncLog struct {
	ID           string    `json:"id" badgerhold:"key"`
	RunID        string    `json:"run_id"`
	NewCount     int       `json:"new_count"`
	ChangedCount int       `json:"changed_count"`
	FailedCount  int       `json:"failed_count"`
	TotalQueued  int       `json:"total_queued"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LinkRecord is one row from the upstream link source. Read-only.
type LinkRecord struct {
	ID         int64  `json:"id"`
	TableName  string `json:"table_name"`
	RowID      int64  `json:"row_id"`
	URL        string `json:"url"`
	SchoolName string `json:"school_name,omitempty"`
}
