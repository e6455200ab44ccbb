package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/media-catalog-api/internal/models"
)

// TrendRepository reads the popularity and freshness signals feeding the
// prewarm scorer. Both tables are owned by other subsystems; this repository
// only aggregates them.
type TrendRepository struct {
	db *sqlx.DB
}

// NewTrendRepository constructs the repository.
func NewTrendRepository(db *sqlx.DB) *TrendRepository {
	return &TrendRepository{db: db}
}

// TopFolderDownloads counts whole-folder download events since the window
// start, most downloaded first.
func (r *TrendRepository) TopFolderDownloads(ctx context.Context, since time.Time, limit int) ([]models.FolderDownloadCount, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT folder_path, COUNT(*) AS downloads
		FROM download_events
		WHERE is_folder = TRUE AND occurred_at >= $1
		GROUP BY folder_path
		ORDER BY downloads DESC
		LIMIT $2`
	var rows []models.FolderDownloadCount
	if err := r.db.SelectContext(ctx, &rows, query, since, limit); err != nil {
		return nil, fmt.Errorf("top folder downloads: %w", err)
	}
	return rows, nil
}

// RecentFileUpdates lists catalog files touched since the window start, newest
// first.
func (r *TrendRepository) RecentFileUpdates(ctx context.Context, since time.Time, limit int) ([]models.FileUpdate, error) {
	if limit <= 0 {
		limit = 4000
	}
	query := `SELECT path, updated_at
		FROM track_metadata
		WHERE updated_at >= $1
		ORDER BY updated_at DESC
		LIMIT $2`
	var rows []models.FileUpdate
	if err := r.db.SelectContext(ctx, &rows, query, since, limit); err != nil {
		return nil, fmt.Errorf("recent file updates: %w", err)
	}
	return rows, nil
}

// CountFolderDownloads counts downloads for one folder (path variants with and
// without the leading slash) in the window. Used to decide the hot tier.
func (r *TrendRepository) CountFolderDownloads(ctx context.Context, variants []string, since time.Time) (int64, error) {
	if len(variants) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM download_events
		WHERE is_folder = TRUE AND occurred_at >= ? AND folder_path IN (?)`, since, variants)
	if err != nil {
		return 0, fmt.Errorf("build folder downloads query: %w", err)
	}
	var count int64
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count folder downloads: %w", err)
	}
	return count, nil
}

// HasRecentFileUnder reports whether any file under the folder prefix was
// updated since the window start.
func (r *TrendRepository) HasRecentFileUnder(ctx context.Context, prefixes []string, since time.Time) (bool, error) {
	if len(prefixes) == 0 {
		return false, nil
	}
	query := `SELECT EXISTS (
		SELECT 1 FROM track_metadata
		WHERE updated_at >= $1 AND (path LIKE $2 OR path LIKE $3)
	)`
	first := likePrefix(prefixes[0])
	second := first
	if len(prefixes) > 1 {
		second = likePrefix(prefixes[1])
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, since, first, second); err != nil {
		return false, fmt.Errorf("check recent files: %w", err)
	}
	return exists, nil
}

// likePrefix turns a literal folder prefix into a LIKE pattern. Folder names
// may contain LIKE metacharacters ("/Top_40"), so the literal part is escaped.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
