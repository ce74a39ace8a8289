package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// SQLTagRepository manages tags and their associations with pages and
// history entries.
type SQLTagRepository struct {
	db *sqlx.DB
}

// NewSQLTagRepository creates a new SQLTagRepository.
func NewSQLTagRepository(db *sqlx.DB) *SQLTagRepository {
	return &SQLTagRepository{db: db}
}

// upsert finds or creates the tag rows for the given values and returns
// their ids. Tag values are lowercased and trimmed.
func (r *SQLTagRepository) upsert(ctx context.Context, tags []string) ([]int64, error) {
	ids := make([]int64, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		var id int64
		err := r.db.GetContext(ctx, &id, `SELECT id FROM tags WHERE tag = ?`, tag)
		if errors.Is(err, sql.ErrNoRows) {
			res, insertErr := r.db.ExecContext(ctx, `INSERT INTO tags (tag, title) VALUES (?, ?)`, tag, raw)
			if insertErr != nil {
				return nil, fmt.Errorf("failed to insert tag: %w", insertErr)
			}
			id, insertErr = res.LastInsertId()
			if insertErr != nil {
				return nil, fmt.Errorf("failed to get inserted tag id: %w", insertErr)
			}
		} else if err != nil {
			return nil, fmt.Errorf("failed to look up tag: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReplacePageTags resets the tag associations of a page to the given values.
func (r *SQLTagRepository) ReplacePageTags(ctx context.Context, pageID int64, tags []string) error {
	ids, err := r.upsert(ctx, tags)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM page_tags WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("failed to clear page tags: %w", err)
	}
	for _, tagID := range ids {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO page_tags (page_id, tag_id) VALUES (?, ?)`, pageID, tagID); err != nil {
			return fmt.Errorf("failed to associate page tag: %w", err)
		}
	}
	return nil
}

// ReplaceVersionTags resets the tag associations of a history entry.
func (r *SQLTagRepository) ReplaceVersionTags(ctx context.Context, versionID int64, tags []string) error {
	ids, err := r.upsert(ctx, tags)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM page_history_tags WHERE version_id = ?`, versionID); err != nil {
		return fmt.Errorf("failed to clear version tags: %w", err)
	}
	for _, tagID := range ids {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO page_history_tags (version_id, tag_id) VALUES (?, ?)`, versionID, tagID); err != nil {
			return fmt.Errorf("failed to associate version tag: %w", err)
		}
	}
	return nil
}

// PageTags returns the (tag, title) pairs associated with a page.
func (r *SQLTagRepository) PageTags(ctx context.Context, pageID int64) ([]TagPair, error) {
	var tags []TagPair
	query := `SELECT t.tag, t.title FROM tags t
		JOIN page_tags pt ON pt.tag_id = t.id
		WHERE pt.page_id = ? ORDER BY t.tag`
	if err := r.db.SelectContext(ctx, &tags, query, pageID); err != nil {
		return nil, fmt.Errorf("failed to get page tags: %w", err)
	}
	return tags, nil
}

// VersionTags returns the tag values associated with a history entry.
func (r *SQLTagRepository) VersionTags(ctx context.Context, versionID int64) ([]string, error) {
	var tags []string
	query := `SELECT t.tag FROM tags t
		JOIN page_history_tags pht ON pht.tag_id = t.id
		WHERE pht.version_id = ? ORDER BY t.tag`
	if err := r.db.SelectContext(ctx, &tags, query, versionID); err != nil {
		return nil, fmt.Errorf("failed to get version tags: %w", err)
	}
	return tags, nil
}
