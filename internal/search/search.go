package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Result is one search hit.
type Result struct {
	ID          int64  `db:"id"`
	Path        string `db:"path"`
	LocaleCode  string `db:"locale_code"`
	Title       string `db:"title"`
	Description string `db:"description"`
}

// Index is the search collaborator consumed by the approval workflow. It is
// notified of every page lifecycle event so engines that maintain their own
// store can stay current.
type Index interface {
	Created(ctx context.Context, pageID int64) error
	Updated(ctx context.Context, pageID int64) error
	Deleted(ctx context.Context, pageID int64) error
	Renamed(ctx context.Context, pageID int64, oldLocale, oldPath string) error
	Query(ctx context.Context, q, locale string) ([]Result, error)
}

// DBIndex is the basic database-backed engine. It searches the pages table
// directly, so the lifecycle notifications have nothing to maintain and are
// no-ops.
type DBIndex struct {
	db *sqlx.DB
}

// NewDBIndex creates a DBIndex over the primary database.
func NewDBIndex(db *sqlx.DB) *DBIndex {
	return &DBIndex{db: db}
}

func (i *DBIndex) Created(ctx context.Context, pageID int64) error { return nil }
func (i *DBIndex) Updated(ctx context.Context, pageID int64) error { return nil }
func (i *DBIndex) Deleted(ctx context.Context, pageID int64) error { return nil }
func (i *DBIndex) Renamed(ctx context.Context, pageID int64, oldLocale, oldPath string) error {
	return nil
}

// Query matches published pages whose title, description or content
// contains the query string.
func (i *DBIndex) Query(ctx context.Context, q, locale string) ([]Result, error) {
	pattern := "%" + strings.TrimSpace(q) + "%"
	query := `SELECT id, path, locale_code, title, description FROM pages
		WHERE is_published = ? AND (title LIKE ? OR description LIKE ? OR content LIKE ?)`
	args := []interface{}{true, pattern, pattern, pattern}
	if locale != "" {
		query += ` AND locale_code = ?`
		args = append(args, locale)
	}
	query += ` ORDER BY title LIMIT 50`

	var results []Result
	if err := i.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query search index: %w", err)
	}
	return results, nil
}
