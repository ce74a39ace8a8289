package data

import (
	"crypto/sha1"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Approval statuses of a live page row.
const (
	ApprovalApproved = "approved"
	ApprovalPending  = "pending"
	ApprovalRejected = "rejected"
	ApprovalDraft    = "draft"
)

// Workflow statuses of a history entry. Distinct from the page's
// approval status: a history entry in "pending" is still mutable.
const (
	WorkflowHistory   = "history"
	WorkflowPending   = "pending"
	WorkflowApproved  = "approved"
	WorkflowRejected  = "rejected"
	WorkflowCancelled = "cancelled"
)

// Actions recorded on history entries.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionMoved     = "moved"
	ActionDeleted   = "deleted"
	ActionRestored  = "restored"
	ActionSubmitted = "submitted"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionCancelled = "cancelled"
)

// PageExtra is the typed form of the page's opaque extra column. Merge
// semantics are shallow: every field of the overlay wins, last writer wins
// per field.
type PageExtra struct {
	CSS             string `json:"css"`
	JS              string `json:"js"`
	ApprovalComment string `json:"approvalComment,omitempty"`
}

// Merge overlays other on top of e and returns the result. A submitted
// pending version always carries its css/js fields, so the overlay wins
// wholesale.
func (e PageExtra) Merge(other PageExtra) PageExtra {
	return PageExtra{
		CSS:             other.CSS,
		JS:              other.JS,
		ApprovalComment: other.ApprovalComment,
	}
}

// Value implements driver.Valuer so the extra record is stored as JSON text.
func (e PageExtra) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal page extra: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner. Unparseable or empty extra columns decode to
// the zero value rather than failing the row scan.
func (e *PageExtra) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = PageExtra{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported extra column type %T", src)
	}
	if len(raw) == 0 {
		*e = PageExtra{}
		return nil
	}
	if err := json.Unmarshal(raw, e); err != nil {
		*e = PageExtra{}
	}
	return nil
}

// Int64List stores an ordered list of ids as a JSON array column.
type Int64List []int64

// Value implements driver.Valuer.
func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		l = Int64List{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal id list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *Int64List) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = Int64List{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported id list column type %T", src)
	}
	if len(raw) == 0 {
		*l = Int64List{}
		return nil
	}
	return json.Unmarshal(raw, l)
}

// Page represents the current state of a wiki page, one row per path+locale.
// Invariant: PendingVersionID is non-nil iff ApprovalStatus == pending.
type Page struct {
	ID               int64     `db:"id"`
	Path             string    `db:"path"`
	Hash             string    `db:"hash"`
	LocaleCode       string    `db:"locale_code"`
	Title            string    `db:"title"`
	Description      string    `db:"description"`
	Content          string    `db:"content"`
	Render           string    `db:"render"`
	Toc              string    `db:"toc"`
	ContentType      string    `db:"content_type"`
	EditorKey        string    `db:"editor_key"`
	IsPrivate        bool      `db:"is_private"`
	IsPublished      bool      `db:"is_published"`
	PrivateNS        string    `db:"private_ns"`
	PublishStartDate string    `db:"publish_start_date"`
	PublishEndDate   string    `db:"publish_end_date"`
	AuthorID         int64     `db:"author_id"`
	CreatorID        int64     `db:"creator_id"`
	ApproverID       *int64    `db:"approver_id"`
	ApprovalStatus   string    `db:"approval_status"`
	PendingVersionID *int64    `db:"pending_version_id"`
	ApprovalComment  string    `db:"approval_comment"`
	Extra            PageExtra `db:"extra"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`

	// Joined columns, not part of the pages table.
	AuthorName    string  `db:"author_name"`
	AuthorEmail   string  `db:"author_email"`
	CreatorName   string  `db:"creator_name"`
	CreatorEmail  string  `db:"creator_email"`
	ApproverName  *string `db:"approver_name"`
	ApproverEmail *string `db:"approver_email"`

	Tags []TagPair `db:"-"`
}

// PageVersion is an immutable, append-only snapshot of a page. An entry in
// the pending workflow status may still be patched in place until it
// reaches a terminal workflow status.
type PageVersion struct {
	ID               int64     `db:"id"`
	PageID           int64     `db:"page_id"`
	Path             string    `db:"path"`
	Hash             string    `db:"hash"`
	LocaleCode       string    `db:"locale_code"`
	Title            string    `db:"title"`
	Description      string    `db:"description"`
	Content          string    `db:"content"`
	ContentType      string    `db:"content_type"`
	EditorKey        string    `db:"editor_key"`
	IsPrivate        bool      `db:"is_private"`
	IsPublished      bool      `db:"is_published"`
	PublishStartDate string    `db:"publish_start_date"`
	PublishEndDate   string    `db:"publish_end_date"`
	AuthorID         int64     `db:"author_id"`
	Action           string    `db:"action"`
	WorkflowStatus   string    `db:"workflow_status"`
	SourceVersionID  *int64    `db:"source_version_id"`
	VersionDate      time.Time `db:"version_date"`
	Extra            PageExtra `db:"extra"`
	CreatedAt        time.Time `db:"created_at"`

	// Joined columns.
	AuthorName string `db:"author_name"`
}

// VersionMeta is the slim projection used by the history trail.
type VersionMeta struct {
	ID             int64     `db:"id"`
	Path           string    `db:"path"`
	AuthorID       int64     `db:"author_id"`
	AuthorName     string    `db:"author_name"`
	Action         string    `db:"action"`
	VersionDate    time.Time `db:"version_date"`
	WorkflowStatus string    `db:"workflow_status"`
	Extra          PageExtra `db:"extra"`
}

// TreeNode is a derived row of the materialized navigation tree. The whole
// table is truncated and regenerated on every structural change, so node
// ids carry no identity across rebuilds.
type TreeNode struct {
	ID         int64     `db:"id"`
	LocaleCode string    `db:"locale_code"`
	Path       string    `db:"path"`
	Depth      int       `db:"depth"`
	Title      string    `db:"title"`
	IsFolder   bool      `db:"is_folder"`
	IsPrivate  bool      `db:"is_private"`
	PrivateNS  *string   `db:"private_ns"`
	Parent     *int64    `db:"parent"`
	PageID     *int64    `db:"page_id"`
	Ancestors  Int64List `db:"ancestors"`
}

// Folder is a manually declared folder without a backing page. It always
// materializes as a folder node in the derived tree.
type Folder struct {
	ID         int64  `db:"id"`
	LocaleCode string `db:"locale_code"`
	Path       string `db:"path"`
	Title      string `db:"title"`
}

// TagPair is the (tag, title) projection used by page reads and the cache.
type TagPair struct {
	Tag   string `db:"tag"`
	Title string `db:"title"`
}

// PageLink records one outgoing internal link found in a page's rendered
// output. Rows are replaced wholesale on every render.
type PageLink struct {
	ID         int64  `db:"id"`
	PageID     int64  `db:"page_id"`
	LocaleCode string `db:"locale_code"`
	Path       string `db:"path"`
}

// TreePageRow is the projection of pages consumed by the tree builder,
// ordered by (locale, path).
type TreePageRow struct {
	ID         int64  `db:"id"`
	Path       string `db:"path"`
	LocaleCode string `db:"locale_code"`
	Title      string `db:"title"`
	IsPrivate  bool   `db:"is_private"`
	PrivateNS  string `db:"private_ns"`
}

// PageHash derives the deterministic cache key for a page from its path,
// locale and privacy namespace.
func PageHash(path, locale, privateNS string) string {
	sum := sha1.Sum([]byte(locale + "/" + path + "/" + privateNS))
	return hex.EncodeToString(sum[:])
}
