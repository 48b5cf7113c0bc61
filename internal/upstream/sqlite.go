package upstream

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/common"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteSource reads candidate links from the upstream link database.
// The database belongs to another system; every access is read-only.
type SQLiteSource struct {
	db     *sql.DB
	tables []string
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.UpstreamSource = (*SQLiteSource)(nil)

// NewSQLiteSource opens the upstream database in read-only mode
func NewSQLiteSource(cfg *common.UpstreamConfig, logger arbor.ILogger) (*SQLiteSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("upstream database path is required")
	}

	dsn := fmt.Sprintf("file:%s?mode=ro", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open upstream database %s: %w", cfg.Path, err)
	}

	tables := cfg.Tables
	if len(tables) == 0 {
		tables = []string{"graduate", "undergraduate"}
	}

	logger.Debug().Str("path", cfg.Path).Strs("tables", tables).Msg("Upstream link source opened")

	return &SQLiteSource{
		db:     db,
		tables: tables,
		logger: logger,
	}, nil
}

// AllLinks returns the rows that carry at least one document signal.
// Pure navigation rows (is_page_info) are skipped at the query level.
func (s *SQLiteSource) AllLinks(ctx context.Context) ([]*models.LinkRecord, error) {
	placeholders := make([]string, len(s.tables))
	args := make([]any, len(s.tables))
	for i, t := range s.tables {
		placeholders[i] = "?"
		args[i] = t
	}

	query := fmt.Sprintf(`
		SELECT id, table_name, row_id, url
		FROM links
		WHERE table_name IN (%s)
		  AND is_page_info = 0
		  AND (has_guideline = 1 OR has_past_exam = 1 OR has_result = 1
		       OR has_material_check = 1 OR has_pdf = 1)
		ORDER BY id`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query upstream links: %w", err)
	}
	defer rows.Close()

	var links []*models.LinkRecord
	for rows.Next() {
		link := &models.LinkRecord{}
		if err := rows.Scan(&link.ID, &link.TableName, &link.RowID, &link.URL); err != nil {
			return nil, fmt.Errorf("failed to scan upstream link row: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read upstream links: %w", err)
	}

	s.logger.Debug().Int("count", len(links)).Msg("Upstream links loaded")
	return links, nil
}

// SchoolName resolves the school column on the link's origin row.
// tableName must be one of the configured tables; it is interpolated
// into the query so it cannot be a bind parameter.
func (s *SQLiteSource) SchoolName(ctx context.Context, tableName string, rowID int64) (string, error) {
	if !s.allowedTable(tableName) {
		return "", fmt.Errorf("unknown upstream table: %s", tableName)
	}

	query := fmt.Sprintf("SELECT school FROM %s WHERE id = ?", tableName)
	var school sql.NullString
	if err := s.db.QueryRowContext(ctx, query, rowID).Scan(&school); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve school name for %s/%d: %w", tableName, rowID, err)
	}
	return school.String, nil
}

func (s *SQLiteSource) allowedTable(name string) bool {
	for _, t := range s.tables {
		if t == name {
			return true
		}
	}
	return false
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
