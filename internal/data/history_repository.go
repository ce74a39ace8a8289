package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLHistoryRepository stores the append-only version history of pages.
// Entries are immutable once written, with one exception: an entry in the
// pending workflow status may be patched in place until it reaches a
// terminal workflow status.
type SQLHistoryRepository struct {
	db *sqlx.DB
}

// NewSQLHistoryRepository creates a new SQLHistoryRepository.
func NewSQLHistoryRepository(db *sqlx.DB) *SQLHistoryRepository {
	return &SQLHistoryRepository{db: db}
}

// Add appends a version snapshot and returns its id.
func (r *SQLHistoryRepository) Add(ctx context.Context, v *PageVersion) (int64, error) {
	if v.Action == "" {
		v.Action = ActionUpdated
	}
	if v.WorkflowStatus == "" {
		v.WorkflowStatus = WorkflowHistory
	}
	if v.VersionDate.IsZero() {
		v.VersionDate = time.Now().UTC()
	}
	v.CreatedAt = time.Now().UTC()
	query := `INSERT INTO page_history (page_id, path, hash, locale_code, title, description,
		content, content_type, editor_key, is_private, is_published,
		publish_start_date, publish_end_date, author_id, action, workflow_status,
		source_version_id, version_date, extra, created_at)
		VALUES (:page_id, :path, :hash, :locale_code, :title, :description,
		:content, :content_type, :editor_key, :is_private, :is_published,
		:publish_start_date, :publish_end_date, :author_id, :action, :workflow_status,
		:source_version_id, :version_date, :extra, :created_at)`
	res, err := r.db.NamedExecContext(ctx, query, v)
	if err != nil {
		return 0, fmt.Errorf("failed to add page version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted version id: %w", err)
	}
	return id, nil
}

const versionColumns = `ph.id, ph.page_id, ph.path, ph.hash, ph.locale_code, ph.title,
	ph.description, ph.content, ph.content_type, ph.editor_key, ph.is_private, ph.is_published,
	ph.publish_start_date, ph.publish_end_date, ph.author_id, ph.action, ph.workflow_status,
	ph.source_version_id, ph.version_date, ph.extra, ph.created_at,
	author.name AS author_name`

// Get fetches one version entry belonging to the given page. Returns nil
// when absent.
func (r *SQLHistoryRepository) Get(ctx context.Context, pageID, versionID int64) (*PageVersion, error) {
	var v PageVersion
	query := fmt.Sprintf(`SELECT %s FROM page_history ph
		JOIN users author ON author.id = ph.author_id
		WHERE ph.id = ? AND ph.page_id = ?`, versionColumns)
	if err := r.db.GetContext(ctx, &v, query, versionID, pageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page version: %w", err)
	}
	return &v, nil
}

// GetByID fetches one version entry by id alone. Returns nil when absent.
func (r *SQLHistoryRepository) GetByID(ctx context.Context, versionID int64) (*PageVersion, error) {
	var v PageVersion
	query := fmt.Sprintf(`SELECT %s FROM page_history ph
		JOIN users author ON author.id = ph.author_id
		WHERE ph.id = ?`, versionColumns)
	if err := r.db.GetContext(ctx, &v, query, versionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page version by id: %w", err)
	}
	return &v, nil
}

// PendingPatch carries the fields a resubmission may rewrite on a pending
// history entry.
type PendingPatch struct {
	Content          string
	Description      string
	Title            string
	PublishStartDate string
	PublishEndDate   string
	ContentType      string
	EditorKey        string
	AuthorID         int64
	Extra            PageExtra
}

// PatchPending rewrites a pending entry in place so a resubmission does not
// pile up duplicate proposals. The entry stays in the pending workflow
// status with action submitted.
func (r *SQLHistoryRepository) PatchPending(ctx context.Context, versionID int64, patch PendingPatch) error {
	query := `UPDATE page_history SET content = ?, description = ?, title = ?,
		publish_start_date = ?, publish_end_date = ?, content_type = ?, editor_key = ?,
		author_id = ?, workflow_status = ?, action = ?, extra = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, patch.Content, patch.Description, patch.Title,
		patch.PublishStartDate, patch.PublishEndDate, patch.ContentType, patch.EditorKey,
		patch.AuthorID, WorkflowPending, ActionSubmitted, patch.Extra, versionID)
	if err != nil {
		return fmt.Errorf("failed to patch pending version: %w", err)
	}
	return nil
}

// SetWorkflowStatus transitions a history entry to a new workflow status
// and action, stamping the version date. When extra is non-nil it replaces
// the stored extra record (used to persist the approval comment).
func (r *SQLHistoryRepository) SetWorkflowStatus(ctx context.Context, versionID int64, workflowStatus, action string, extra *PageExtra) error {
	if extra != nil {
		query := `UPDATE page_history SET workflow_status = ?, action = ?, version_date = ?, extra = ? WHERE id = ?`
		if _, err := r.db.ExecContext(ctx, query, workflowStatus, action, time.Now().UTC(), *extra, versionID); err != nil {
			return fmt.Errorf("failed to set version workflow status: %w", err)
		}
		return nil
	}
	query := `UPDATE page_history SET workflow_status = ?, action = ?, version_date = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, workflowStatus, action, time.Now().UTC(), versionID); err != nil {
		return fmt.Errorf("failed to set version workflow status: %w", err)
	}
	return nil
}

// ListMeta returns one page of version metadata for a page, most recent
// first, along with the total number of entries.
func (r *SQLHistoryRepository) ListMeta(ctx context.Context, pageID int64, offsetPage, offsetSize int) ([]VersionMeta, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM page_history WHERE page_id = ?`, pageID); err != nil {
		return nil, 0, fmt.Errorf("failed to count page history: %w", err)
	}
	var rows []VersionMeta
	query := `SELECT ph.id, ph.path, ph.author_id, author.name AS author_name, ph.action,
		ph.version_date, ph.workflow_status, ph.extra
		FROM page_history ph
		JOIN users author ON author.id = ph.author_id
		WHERE ph.page_id = ?
		ORDER BY ph.version_date DESC
		LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &rows, query, pageID, offsetSize, offsetPage*offsetSize); err != nil {
		return nil, 0, fmt.Errorf("failed to list page history: %w", err)
	}
	return rows, total, nil
}

// PeekOlder returns the single entry just past the given page boundary, or
// nil when no older entry exists. The trail derivation needs it to decide
// whether the oldest entry of the current page is the initial version.
func (r *SQLHistoryRepository) PeekOlder(ctx context.Context, pageID int64, offsetPage, offsetSize int) (*VersionMeta, error) {
	var row VersionMeta
	query := `SELECT ph.id, ph.path, ph.author_id, author.name AS author_name, ph.action,
		ph.version_date, ph.workflow_status, ph.extra
		FROM page_history ph
		JOIN users author ON author.id = ph.author_id
		WHERE ph.page_id = ?
		ORDER BY ph.version_date DESC
		LIMIT 1 OFFSET ?`
	if err := r.db.GetContext(ctx, &row, query, pageID, (offsetPage+1)*offsetSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to peek older page history: %w", err)
	}
	return &row, nil
}

// PurgeOlderThan deletes every history entry whose version date precedes
// the cutoff, across all pages. Returns the number of deleted entries.
func (r *SQLHistoryRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM page_history WHERE version_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge page history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get purged row count: %w", err)
	}
	return n, nil
}
