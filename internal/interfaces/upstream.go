package interfaces

import (
	"context"

	"github.com/ternarybob/nyushi/internal/models"
)

// UpstreamSource is the read-only link database that feeds sync detection
type UpstreamSource interface {
	// AllLinks returns every candidate link row, already filtered to the
	// tables and signal flags the pipeline cares about
	AllLinks(ctx context.Context) ([]*models.LinkRecord, error)

	// SchoolName resolves the school column for a link's origin row
	SchoolName(ctx context.Context, tableName string, rowID int64) (string, error)

	Close() error
}
