package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Tree listing modes.
const (
	TreeModeAll     = "ALL"
	TreeModeFolders = "FOLDERS"
	TreeModePages   = "PAGES"
)

// SQLTreeRepository persists the materialized navigation tree. The table
// has no identity across rebuilds: Replace truncates and reinserts it
// wholesale.
type SQLTreeRepository struct {
	db *sqlx.DB
}

// NewSQLTreeRepository creates a new SQLTreeRepository.
func NewSQLTreeRepository(db *sqlx.DB) *SQLTreeRepository {
	return &SQLTreeRepository{db: db}
}

// Replace truncates the tree table and bulk-inserts the given nodes in
// chunks. Chunk size is bounded by the per-query parameter ceiling of the
// storage backend. The whole replacement runs in one transaction so a
// failed rebuild never leaves a half-empty tree behind.
func (r *SQLTreeRepository) Replace(ctx context.Context, nodes []TreeNode, chunkSize int) error {
	if chunkSize < 1 {
		chunkSize = 100
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tree replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM page_tree`); err != nil {
		return fmt.Errorf("failed to truncate page tree: %w", err)
	}
	query := `INSERT INTO page_tree (id, locale_code, path, depth, title, is_folder,
		is_private, private_ns, parent, page_id, ancestors)
		VALUES (:id, :locale_code, :path, :depth, :title, :is_folder,
		:is_private, :private_ns, :parent, :page_id, :ancestors)`
	for start := 0; start < len(nodes); start += chunkSize {
		end := start + chunkSize
		if end > len(nodes) {
			end = len(nodes)
		}
		if _, err := tx.NamedExecContext(ctx, query, nodes[start:end]); err != nil {
			return fmt.Errorf("failed to insert page tree chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tree replace: %w", err)
	}
	return nil
}

// FindByPath returns the tree node at the given locale and path, or nil.
func (r *SQLTreeRepository) FindByPath(ctx context.Context, locale, path string) (*TreeNode, error) {
	var node TreeNode
	query := `SELECT id, locale_code, path, depth, title, is_folder, is_private, private_ns,
		parent, page_id, ancestors FROM page_tree WHERE locale_code = ? AND path = ?`
	if err := r.db.GetContext(ctx, &node, query, locale, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tree node by path: %w", err)
	}
	return &node, nil
}

// ListChildren returns the nodes under the given parent (nil for roots),
// optionally restricted to folders or pages, folders first then by title.
// Extra node ids (ancestors of the starting node) may be included.
func (r *SQLTreeRepository) ListChildren(ctx context.Context, locale string, parent *int64, mode string, includeIDs []int64) ([]TreeNode, error) {
	query := `SELECT id, locale_code, path, depth, title, is_folder, is_private, private_ns,
		parent, page_id, ancestors FROM page_tree WHERE locale_code = ?`
	args := []interface{}{locale}
	switch mode {
	case TreeModeFolders:
		query += ` AND is_folder = ?`
		args = append(args, true)
	case TreeModePages:
		query += ` AND page_id IS NOT NULL`
	}
	if parent == nil || *parent < 1 {
		query += ` AND parent IS NULL`
	} else if len(includeIDs) > 0 {
		in, inArgs, err := sqlx.In(` AND (parent = ? OR id IN (?))`, *parent, includeIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to expand tree ancestor query: %w", err)
		}
		query += in
		args = append(args, inArgs...)
	} else {
		query += ` AND parent = ?`
		args = append(args, *parent)
	}
	query += ` ORDER BY is_folder DESC, title`

	var nodes []TreeNode
	if err := r.db.SelectContext(ctx, &nodes, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list tree nodes: %w", err)
	}
	return nodes, nil
}

// UpdateTitleForPage updates the title of the tree node backing a page.
// Cheaper than a full rebuild when only the title changed.
func (r *SQLTreeRepository) UpdateTitleForPage(ctx context.Context, pageID int64, title string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE page_tree SET title = ? WHERE page_id = ?`, title, pageID); err != nil {
		return fmt.Errorf("failed to update tree node title: %w", err)
	}
	return nil
}
