package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLPageRepository is a concrete implementation of the page store using sqlx.
// Pages are mutated exclusively through the approval workflow.
type SQLPageRepository struct {
	db *sqlx.DB
}

// NewSQLPageRepository creates a new SQLPageRepository.
func NewSQLPageRepository(db *sqlx.DB) *SQLPageRepository {
	return &SQLPageRepository{db: db}
}

const pageColumns = `id, path, hash, locale_code, title, description, content, render, toc,
	content_type, editor_key, is_private, is_published, private_ns,
	publish_start_date, publish_end_date, author_id, creator_id, approver_id,
	approval_status, pending_version_id, approval_comment, extra, created_at, updated_at`

// Create inserts a new page row and returns its id.
func (r *SQLPageRepository) Create(ctx context.Context, page *Page) (int64, error) {
	query := `INSERT INTO pages (path, hash, locale_code, title, description, content, render, toc,
		content_type, editor_key, is_private, is_published, private_ns,
		publish_start_date, publish_end_date, author_id, creator_id, approver_id,
		approval_status, pending_version_id, approval_comment, extra, created_at, updated_at)
		VALUES (:path, :hash, :locale_code, :title, :description, :content, :render, :toc,
		:content_type, :editor_key, :is_private, :is_published, :private_ns,
		:publish_start_date, :publish_end_date, :author_id, :creator_id, :approver_id,
		:approval_status, :pending_version_id, :approval_comment, :extra, :created_at, :updated_at)`
	res, err := r.db.NamedExecContext(ctx, query, page)
	if err != nil {
		return 0, fmt.Errorf("failed to execute create page query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted page id: %w", err)
	}
	return id, nil
}

// GetByID retrieves a single page row by its id. Returns nil when absent.
func (r *SQLPageRepository) GetByID(ctx context.Context, id int64) (*Page, error) {
	var page Page
	query := fmt.Sprintf(`SELECT %s FROM pages WHERE id = ?`, pageColumns)
	if err := r.db.GetContext(ctx, &page, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page by id: %w", err)
	}
	return &page, nil
}

// FindByPath retrieves a single page row by locale and path. Returns nil
// when absent.
func (r *SQLPageRepository) FindByPath(ctx context.Context, locale, path string) (*Page, error) {
	var page Page
	query := fmt.Sprintf(`SELECT %s FROM pages WHERE locale_code = ? AND path = ?`, pageColumns)
	if err := r.db.GetContext(ctx, &page, query, locale, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find page by path: %w", err)
	}
	return &page, nil
}

const detailedColumns = `p.id, p.path, p.hash, p.locale_code, p.title, p.description, p.content,
	p.render, p.toc, p.content_type, p.editor_key, p.is_private, p.is_published, p.private_ns,
	p.publish_start_date, p.publish_end_date, p.author_id, p.creator_id, p.approver_id,
	p.approval_status, p.pending_version_id, p.approval_comment, p.extra, p.created_at, p.updated_at,
	author.name AS author_name, author.email AS author_email,
	creator.name AS creator_name, creator.email AS creator_email,
	approver.name AS approver_name, approver.email AS approver_email`

// GetDetailed retrieves a page with author/creator/approver names and its
// tag list. Returns nil when absent.
func (r *SQLPageRepository) GetDetailed(ctx context.Context, id int64) (*Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM pages p
		JOIN users author ON author.id = p.author_id
		JOIN users creator ON creator.id = p.creator_id
		LEFT JOIN users approver ON approver.id = p.approver_id
		WHERE p.id = ?`, detailedColumns)
	return r.getDetailed(ctx, query, id)
}

// GetDetailedByPath is GetDetailed keyed by locale and path.
func (r *SQLPageRepository) GetDetailedByPath(ctx context.Context, locale, path string) (*Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM pages p
		JOIN users author ON author.id = p.author_id
		JOIN users creator ON creator.id = p.creator_id
		LEFT JOIN users approver ON approver.id = p.approver_id
		WHERE p.locale_code = ? AND p.path = ?`, detailedColumns)
	return r.getDetailed(ctx, query, locale, path)
}

func (r *SQLPageRepository) getDetailed(ctx context.Context, query string, args ...interface{}) (*Page, error) {
	var page Page
	if err := r.db.GetContext(ctx, &page, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get detailed page: %w", err)
	}
	tags, err := r.pageTags(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	page.Tags = tags
	return &page, nil
}

func (r *SQLPageRepository) pageTags(ctx context.Context, pageID int64) ([]TagPair, error) {
	var tags []TagPair
	query := `SELECT t.tag, t.title FROM tags t
		JOIN page_tags pt ON pt.tag_id = t.id
		WHERE pt.page_id = ? ORDER BY t.tag`
	if err := r.db.SelectContext(ctx, &tags, query, pageID); err != nil {
		return nil, fmt.Errorf("failed to get page tags: %w", err)
	}
	return tags, nil
}

// Update rewrites the mutable content fields of a page row.
func (r *SQLPageRepository) Update(ctx context.Context, page *Page) error {
	page.UpdatedAt = time.Now().UTC()
	query := `UPDATE pages SET title = :title, description = :description, content = :content,
		content_type = :content_type, editor_key = :editor_key, is_published = :is_published,
		publish_start_date = :publish_start_date, publish_end_date = :publish_end_date,
		author_id = :author_id, approval_status = :approval_status,
		pending_version_id = :pending_version_id, approver_id = :approver_id,
		approval_comment = :approval_comment, extra = :extra, updated_at = :updated_at
		WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, page)
	if err != nil {
		return fmt.Errorf("failed to update page: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no page found to update with id %d", page.ID)
	}
	return nil
}

// PatchApproval updates only the approval linkage of a page.
func (r *SQLPageRepository) PatchApproval(ctx context.Context, id int64, status string, pendingVersionID, approverID *int64, comment string) error {
	query := `UPDATE pages SET approval_status = ?, pending_version_id = ?, approver_id = ?,
		approval_comment = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, pendingVersionID, approverID, comment, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to patch page approval: %w", err)
	}
	return nil
}

// PatchPathInfo rewrites the location of a page after a move.
func (r *SQLPageRepository) PatchPathInfo(ctx context.Context, id int64, locale, path, title, hash string) error {
	query := `UPDATE pages SET locale_code = ?, path = ?, title = ?, hash = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, locale, path, title, hash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to patch page path: %w", err)
	}
	return nil
}

// PatchConversion rewrites content type, editor key and optionally content
// after a content type conversion.
func (r *SQLPageRepository) PatchConversion(ctx context.Context, id int64, contentType, editorKey string, content *string) error {
	if content != nil {
		query := `UPDATE pages SET content_type = ?, editor_key = ?, content = ?, updated_at = ? WHERE id = ?`
		if _, err := r.db.ExecContext(ctx, query, contentType, editorKey, *content, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("failed to patch page conversion: %w", err)
		}
		return nil
	}
	query := `UPDATE pages SET content_type = ?, editor_key = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, contentType, editorKey, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to patch page conversion: %w", err)
	}
	return nil
}

// PatchRender stores the rendered output and table of contents of a page.
func (r *SQLPageRepository) PatchRender(ctx context.Context, id int64, render, toc string) error {
	query := `UPDATE pages SET render = ?, toc = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, render, toc, id); err != nil {
		return fmt.Errorf("failed to patch page render: %w", err)
	}
	return nil
}

// Delete removes a page row by its id.
func (r *SQLPageRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no page found to delete with id %d", id)
	}
	return nil
}

// ListForTree returns the slim projection of all pages consumed by the tree
// builder, ordered by (locale, path).
func (r *SQLPageRepository) ListForTree(ctx context.Context) ([]TreePageRow, error) {
	var rows []TreePageRow
	query := `SELECT id, path, locale_code, title, is_private, private_ns FROM pages
		ORDER BY locale_code, path`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list pages for tree: %w", err)
	}
	return rows, nil
}

// HasPagesUnder reports whether any page exists below the given path prefix.
func (r *SQLPageRepository) HasPagesUnder(ctx context.Context, locale, pathPrefix string) (bool, error) {
	var id int64
	query := `SELECT id FROM pages WHERE locale_code = ? AND path LIKE ? LIMIT 1`
	err := r.db.GetContext(ctx, &id, query, locale, pathPrefix+"/%")
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check pages under path: %w", err)
	}
	return true, nil
}

// MigrateLocale moves all pages from the source locale to the target locale,
// skipping paths already occupied in the target locale.
func (r *SQLPageRepository) MigrateLocale(ctx context.Context, sourceLocale, targetLocale string) error {
	query := `UPDATE pages SET locale_code = ? WHERE locale_code = ?
		AND NOT EXISTS (SELECT 1 FROM pages AS pm WHERE pm.locale_code = ? AND pm.path = pages.path)`
	if _, err := r.db.ExecContext(ctx, query, targetLocale, sourceLocale, targetLocale); err != nil {
		return fmt.Errorf("failed to migrate pages to locale: %w", err)
	}
	return nil
}

// ReplaceRenderLinks rewrites an internal link marker in the rendered output
// of every page linking to the given target, and returns the content hashes
// of the affected pages so their cache entries can be invalidated.
func (r *SQLPageRepository) ReplaceRenderLinks(ctx context.Context, locale, path, from, to string) ([]string, error) {
	patch := `UPDATE pages SET render = REPLACE(render, ?, ?) WHERE id IN
		(SELECT page_id FROM page_links WHERE locale_code = ? AND path = ?)`
	if _, err := r.db.ExecContext(ctx, patch, from, to, locale, path); err != nil {
		return nil, fmt.Errorf("failed to rewrite page links: %w", err)
	}
	var hashes []string
	query := `SELECT hash FROM pages WHERE id IN
		(SELECT page_id FROM page_links WHERE locale_code = ? AND path = ?)`
	if err := r.db.SelectContext(ctx, &hashes, query, locale, path); err != nil {
		return nil, fmt.Errorf("failed to collect affected page hashes: %w", err)
	}
	return hashes, nil
}

// ReplacePageLinks resets the recorded outgoing links of a page to the
// given set.
func (r *SQLPageRepository) ReplacePageLinks(ctx context.Context, pageID int64, links []PageLink) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM page_links WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("failed to clear page links: %w", err)
	}
	for _, link := range links {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO page_links (page_id, locale_code, path) VALUES (?, ?, ?)`,
			pageID, link.LocaleCode, link.Path); err != nil {
			return fmt.Errorf("failed to record page link: %w", err)
		}
	}
	return nil
}

// RetargetPageLinks repoints every recorded link from one location to
// another, following a page move.
func (r *SQLPageRepository) RetargetPageLinks(ctx context.Context, oldLocale, oldPath, newLocale, newPath string) error {
	query := `UPDATE page_links SET locale_code = ?, path = ? WHERE locale_code = ? AND path = ?`
	if _, err := r.db.ExecContext(ctx, query, newLocale, newPath, oldLocale, oldPath); err != nil {
		return fmt.Errorf("failed to retarget page links: %w", err)
	}
	return nil
}

// ListFilter narrows and orders the page listing.
type ListFilter struct {
	Locale         string
	CreatorID      int64
	AuthorID       int64
	Tags           []string
	ApprovalStatus string
	OrderBy        string // "CREATED", "PATH", "TITLE", "UPDATED" or "" for id
	OrderDesc      bool
	Limit          int
}

// PageListItem is the listing projection of a page.
type PageListItem struct {
	ID             int64     `db:"id"`
	Path           string    `db:"path"`
	LocaleCode     string    `db:"locale_code"`
	Title          string    `db:"title"`
	Description    string    `db:"description"`
	IsPublished    bool      `db:"is_published"`
	IsPrivate      bool      `db:"is_private"`
	PrivateNS      string    `db:"private_ns"`
	ContentType    string    `db:"content_type"`
	ApprovalStatus string    `db:"approval_status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`

	Tags []string `db:"-"`
}

// List returns pages matching the filter, with their tag values attached.
func (r *SQLPageRepository) List(ctx context.Context, filter ListFilter) ([]*PageListItem, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, path, locale_code, title, description, is_published, is_private,
		private_ns, content_type, approval_status, created_at, updated_at FROM pages`)
	var conds []string
	var args []interface{}
	if filter.Locale != "" {
		conds = append(conds, "locale_code = ?")
		args = append(args, filter.Locale)
	}
	if filter.CreatorID > 0 && filter.AuthorID > 0 {
		conds = append(conds, "(creator_id = ? OR author_id = ?)")
		args = append(args, filter.CreatorID, filter.AuthorID)
	} else if filter.CreatorID > 0 {
		conds = append(conds, "creator_id = ?")
		args = append(args, filter.CreatorID)
	} else if filter.AuthorID > 0 {
		conds = append(conds, "author_id = ?")
		args = append(args, filter.AuthorID)
	}
	if filter.ApprovalStatus != "" {
		conds = append(conds, "approval_status = ?")
		args = append(args, strings.ToLower(filter.ApprovalStatus))
	}
	if len(filter.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Tags)), ",")
		conds = append(conds, fmt.Sprintf(`id IN (SELECT pt.page_id FROM page_tags pt
			JOIN tags t ON t.id = pt.tag_id WHERE t.tag IN (%s)
			GROUP BY pt.page_id HAVING COUNT(DISTINCT t.tag) = ?)`, placeholders))
		for _, t := range filter.Tags {
			args = append(args, strings.ToLower(strings.TrimSpace(t)))
		}
		args = append(args, len(filter.Tags))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	orderCol := "id"
	switch filter.OrderBy {
	case "CREATED":
		orderCol = "created_at"
	case "PATH":
		orderCol = "path"
	case "TITLE":
		orderCol = "title"
	case "UPDATED":
		orderCol = "updated_at"
	}
	dir := "ASC"
	if filter.OrderDesc {
		dir = "DESC"
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY %s %s", orderCol, dir))
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	var items []*PageListItem
	if err := r.db.SelectContext(ctx, &items, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	for _, item := range items {
		tags, err := r.pageTags(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tags {
			item.Tags = append(item.Tags, t.Tag)
		}
	}
	return items, nil
}

// ApprovalQueueFilter narrows the approval queue listing.
type ApprovalQueueFilter struct {
	Locale     string
	Status     string // defaults to pending; "*" lists all statuses
	PathPrefix string
}

// ApprovalQueueRow joins a page with its pending submission metadata.
type ApprovalQueueRow struct {
	ID               int64      `db:"id"`
	Path             string     `db:"path"`
	LocaleCode       string     `db:"locale_code"`
	CurrentTitle     string     `db:"current_title"`
	PendingTitle     *string    `db:"pending_title"`
	ApprovalStatus   string     `db:"approval_status"`
	UpdatedAt        time.Time  `db:"updated_at"`
	SubmittedAt      *time.Time `db:"submitted_at"`
	PendingVersionID *int64     `db:"pending_version_id"`
	SubmitterID      *int64     `db:"submitter_id"`
	SubmitterName    *string    `db:"submitter_name"`
	SubmitterEmail   *string    `db:"submitter_email"`
}

// ApprovalQueue returns pages joined with their pending version and its
// submitter, most recently updated first.
func (r *SQLPageRepository) ApprovalQueue(ctx context.Context, filter ApprovalQueueFilter) ([]ApprovalQueueRow, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT p.id, p.path, p.locale_code, p.title AS current_title,
		pending.title AS pending_title, p.approval_status, p.updated_at,
		pending.version_date AS submitted_at, p.pending_version_id,
		submitter.id AS submitter_id, submitter.name AS submitter_name, submitter.email AS submitter_email
		FROM pages p
		LEFT JOIN page_history pending ON pending.id = p.pending_version_id
		LEFT JOIN users submitter ON submitter.id = pending.author_id`)
	var conds []string
	var args []interface{}
	if filter.Locale != "" {
		conds = append(conds, "p.locale_code = ?")
		args = append(args, filter.Locale)
	}
	status := filter.Status
	if status == "" {
		status = ApprovalPending
	}
	if status != "*" {
		conds = append(conds, "p.approval_status = ?")
		args = append(args, strings.ToLower(status))
	}
	if prefix := strings.Trim(filter.PathPrefix, "/"); prefix != "" {
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
		conds = append(conds, `p.path LIKE ?`)
		args = append(args, escaped+"%")
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY p.updated_at DESC")

	var rows []ApprovalQueueRow
	if err := r.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to list approval queue: %w", err)
	}
	return rows, nil
}
