package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLFolderRepository stores manually declared folders.
type SQLFolderRepository struct {
	db *sqlx.DB
}

// NewSQLFolderRepository creates a new SQLFolderRepository.
func NewSQLFolderRepository(db *sqlx.DB) *SQLFolderRepository {
	return &SQLFolderRepository{db: db}
}

// Create inserts a folder and returns its id.
func (r *SQLFolderRepository) Create(ctx context.Context, folder *Folder) (int64, error) {
	query := `INSERT INTO page_folders (locale_code, path, title) VALUES (:locale_code, :path, :title)`
	res, err := r.db.NamedExecContext(ctx, query, folder)
	if err != nil {
		return 0, fmt.Errorf("failed to create folder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted folder id: %w", err)
	}
	return id, nil
}

// FindByPath returns the folder at the given locale and path, or nil.
func (r *SQLFolderRepository) FindByPath(ctx context.Context, locale, path string) (*Folder, error) {
	var folder Folder
	query := `SELECT id, locale_code, path, title FROM page_folders WHERE locale_code = ? AND path = ?`
	if err := r.db.GetContext(ctx, &folder, query, locale, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find folder by path: %w", err)
	}
	return &folder, nil
}

// List returns all folders, ordered by (locale, path).
func (r *SQLFolderRepository) List(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	query := `SELECT id, locale_code, path, title FROM page_folders ORDER BY locale_code, path`
	if err := r.db.SelectContext(ctx, &folders, query); err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// HasSubfolders reports whether any folder exists below the given path prefix.
func (r *SQLFolderRepository) HasSubfolders(ctx context.Context, locale, pathPrefix string) (bool, error) {
	var id int64
	query := `SELECT id FROM page_folders WHERE locale_code = ? AND path LIKE ? LIMIT 1`
	err := r.db.GetContext(ctx, &id, query, locale, pathPrefix+"/%")
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check subfolders: %w", err)
	}
	return true, nil
}

// Delete removes a folder by its id.
func (r *SQLFolderRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM page_folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no folder found to delete with id %d", id)
	}
	return nil
}
