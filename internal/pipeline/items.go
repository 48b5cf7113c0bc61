package pipeline

import "github.com/ternarybob/nyushi/internal/models"

// extractItem is a downloaded file waiting for text extraction
type extractItem struct {
	file *models.File
}

// renameItem is an extracted file waiting for its canonical name
type renameItem struct {
	file *models.File
	text string
}
