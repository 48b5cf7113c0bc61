package models

import "time"

// DownloadStatus tracks the fetch axis of a file, independent of processing
type DownloadStatus string

const (
	DownloadStatusPending   DownloadStatus = "pending"
	DownloadStatusCompleted DownloadStatus = "completed"
	DownloadStatusFailed    DownloadStatus = "failed"
)

// ProcessStatus tracks the extract/rename axis of a file
type ProcessStatus string

const (
	ProcessStatusPending   ProcessStatus = "pending"
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusFailed    ProcessStatus = "failed"
)

// File is one downloadable document discovered during a crawl.
// The download and process axes advance independently so an interrupted
// run can resume either side.
type File struct {
	ID             string         `json:"id" badgerhold:"key"`
	TaskID         string         `json:"task_id" badgerhold:"index"`
	NodeIndex      int            `json:"node_index"`
	SourceURL      string         `json:"source_url"`
	OriginalName   string         `json:"original_name"`
	StoredName     string         `json:"stored_name,omitempty"`
	BlobKey        string         `json:"blob_key,omitempty"`
	DownloadStatus DownloadStatus `json:"download_status" badgerhold:"index"`
	ProcessStatus  ProcessStatus  `json:"process_status" badgerhold:"index"`
	RenamedName    string         `json:"renamed_name,omitempty"`
	LLMProcessed   bool           `json:"llm_processed"`
	LLMModel       string         `json:"llm_model,omitempty"`
	LLMConfidence  float64        `json:"llm_confidence,omitempty"`
	LLMRawResponse string         `json:"llm_raw_response,omitempty"`
	ExtractedChars int            `json:"extracted_chars"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SupportedExtensions are the document types the downloader accepts
var SupportedExtensions = map[string]bool{
	"pdf":  true,
	"doc":  true,
	"docx": true,
	"xls":  true,
	"xlsx": true,
}

// IsSupportedExtension reports whether ext (without dot, any case) is downloadable
func IsSupportedExtension(ext string) bool {
	return SupportedExtensions[normalizeExt(ext)]
}
