package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/cache"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/events"
	"go-wiki-engine/internal/search"
)

// QueryService owns the read side: the binary read-through page cache and
// the administrative page queries.
type QueryService struct {
	pages   PageRepository
	history HistoryRepository
	tree    TreeRepository
	tags    TagRepository
	cache   PageCache
	deps    Collaborators
}

// NewQueryService creates a QueryService.
func NewQueryService(pages PageRepository, history HistoryRepository, tree TreeRepository, tags TagRepository, pageCache PageCache, deps Collaborators) *QueryService {
	return &QueryService{
		pages:   pages,
		history: history,
		tree:    tree,
		tags:    tags,
		cache:   pageCache,
		deps:    deps,
	}
}

// PageLocator addresses a page for the cached read path.
type PageLocator struct {
	Path      string
	Locale    string
	PrivateNS string
}

// RenderedPage is the cached projection of a page served to readers.
type RenderedPage struct {
	cache.Entry
	Path       string
	LocaleCode string
}

// GetPage serves a page through the binary cache. A hit decodes the stored
// blob without touching the primary database; a miss loads the page,
// encodes it and stores the blob for the next reader. An absent page
// returns (nil, nil): not found is a normal outcome here, not an error.
// Cache I/O failures degrade to database reads.
func (s *QueryService) GetPage(ctx context.Context, locator PageLocator) (*RenderedPage, error) {
	path := strings.Trim(locator.Path, "/")
	hash := data.PageHash(path, locator.Locale, locator.PrivateNS)

	blob, err := s.cache.Get(hash)
	if err != nil {
		s.deps.Log.Error(err, fmt.Sprintf("Cache read failed for page %s, falling back to database", hash))
	} else if blob != nil {
		entry, err := cache.DecodeEntry(blob)
		if err != nil {
			s.deps.Log.Error(err, fmt.Sprintf("Failed to decode cached page %s, falling back to database", hash))
		} else {
			return &RenderedPage{Entry: *entry, Path: path, LocaleCode: locator.Locale}, nil
		}
	}

	page, err := s.pages.GetDetailedByPath(ctx, locator.Locale, path)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	if strings.TrimSpace(page.Render) == "" && strings.TrimSpace(page.Content) != "" {
		return nil, ErrRenderMissing
	}
	entry := entryFromPage(page)
	if blob, err := entry.Encode(); err != nil {
		s.deps.Log.Error(err, fmt.Sprintf("Failed to encode page %s for caching", hash))
	} else if err := s.cache.Put(hash, blob); err != nil {
		s.deps.Log.Error(err, fmt.Sprintf("Failed to cache page %s", hash))
	}
	return &RenderedPage{Entry: *entry, Path: path, LocaleCode: locator.Locale}, nil
}

func entryFromPage(page *data.Page) *cache.Entry {
	tags := make([]cache.TagPair, 0, len(page.Tags))
	for _, t := range page.Tags {
		tags = append(tags, cache.TagPair{Tag: t.Tag, Title: t.Title})
	}
	return &cache.Entry{
		ID:               page.ID,
		AuthorID:         page.AuthorID,
		AuthorName:       page.AuthorName,
		CreatedAt:        page.CreatedAt.UTC().Format(time.RFC3339),
		CreatorID:        page.CreatorID,
		CreatorName:      page.CreatorName,
		Description:      page.Description,
		EditorKey:        page.EditorKey,
		IsPrivate:        page.IsPrivate,
		IsPublished:      page.IsPublished,
		PublishEndDate:   page.PublishEndDate,
		PublishStartDate: page.PublishStartDate,
		ContentType:      page.ContentType,
		Render:           page.Render,
		Tags:             tags,
		Extra:            cache.EntryExtra{CSS: page.Extra.CSS, JS: page.Extra.JS},
		ApprovalStatus:   strings.ToUpper(page.ApprovalStatus),
		Title:            page.Title,
		Toc:              page.Toc,
		UpdatedAt:        page.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Single returns the full administrative view of a page by id.
func (s *QueryService) Single(ctx context.Context, pageID int64, actor auth.Subject) (*data.Page, error) {
	page, err := s.pages.GetDetailed(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return s.authorizeSingle(page, actor)
}

// SingleByPath returns the full administrative view of a page by location.
func (s *QueryService) SingleByPath(ctx context.Context, locale, path string, actor auth.Subject) (*data.Page, error) {
	page, err := s.pages.GetDetailedByPath(ctx, locale, strings.Trim(path, "/"))
	if err != nil {
		return nil, err
	}
	return s.authorizeSingle(page, actor)
}

func (s *QueryService) authorizeSingle(page *data.Page, actor auth.Subject) (*data.Page, error) {
	if page == nil {
		return nil, ErrPageNotFound
	}
	res := pageResource(page)
	if s.deps.Access.CheckAccess(actor, []string{auth.CapManagePages, auth.CapDeletePages, auth.CapManageSystem}, res) {
		return page, nil
	}
	// Authors and creators may always inspect their own pages.
	if actor.ID == page.AuthorID || actor.ID == page.CreatorID {
		return page, nil
	}
	return nil, ErrPageViewForbidden
}

// List returns pages matching the filter, restricted to those the actor
// may read.
func (s *QueryService) List(ctx context.Context, filter data.ListFilter, actor auth.Subject) ([]*data.PageListItem, error) {
	items, err := s.pages.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	visible := make([]*data.PageListItem, 0, len(items))
	for _, item := range items {
		res := auth.Resource{Locale: item.LocaleCode, Path: item.Path, Tags: item.Tags}
		if s.deps.Access.CheckAccess(actor, []string{auth.CapReadPages}, res) {
			visible = append(visible, item)
		}
	}
	return visible, nil
}

// Search queries the search engine and filters hits by read access.
func (s *QueryService) Search(ctx context.Context, query, locale string, actor auth.Subject) ([]search.Result, error) {
	results, err := s.deps.Search.Query(ctx, query, locale)
	if err != nil {
		return nil, err
	}
	visible := make([]search.Result, 0, len(results))
	for _, result := range results {
		res := auth.Resource{Locale: result.LocaleCode, Path: result.Path}
		if s.deps.Access.CheckAccess(actor, []string{auth.CapReadPages}, res) {
			visible = append(visible, result)
		}
	}
	return visible, nil
}

// TreeQuery addresses one level of the navigation tree, either by parent
// node id or by path.
type TreeQuery struct {
	Locale           string
	Parent           *int64
	Path             string
	Mode             string
	IncludeAncestors bool
}

// Tree returns the children of one tree level, folders first. Querying by
// path resolves the node's siblings; with IncludeAncestors the node's
// ancestor chain is included so a navigation pane can unfold to it.
func (s *QueryService) Tree(ctx context.Context, q TreeQuery, actor auth.Subject) ([]data.TreeNode, error) {
	parent := q.Parent
	var includeIDs []int64
	if q.Path != "" && parent == nil {
		node, err := s.tree.FindByPath(ctx, q.Locale, strings.Trim(q.Path, "/"))
		if err != nil {
			return nil, err
		}
		if node == nil {
			return []data.TreeNode{}, nil
		}
		parent = node.Parent
		if q.IncludeAncestors {
			includeIDs = append(append([]int64{}, node.Ancestors...), node.ID)
		}
	}
	nodes, err := s.tree.ListChildren(ctx, q.Locale, parent, q.Mode, includeIDs)
	if err != nil {
		return nil, err
	}
	visible := make([]data.TreeNode, 0, len(nodes))
	for _, node := range nodes {
		if node.PageID != nil {
			res := auth.Resource{Locale: node.LocaleCode, Path: node.Path}
			if !s.deps.Access.CheckAccess(actor, []string{auth.CapReadPages}, res) {
				continue
			}
		}
		visible = append(visible, node)
	}
	return visible, nil
}

// QueueItem is one row of the approval queue.
type QueueItem struct {
	PageID         int64
	Path           string
	LocaleCode     string
	Title          string
	ApprovalStatus string
	SubmittedAt    time.Time
	SubmitterID    int64
	SubmitterName  string
	SubmitterEmail string
}

// ApprovalQueue lists pages awaiting review, most recently updated first,
// restricted to pages the actor may approve. Rows fall back to live data
// where pending metadata is unavailable.
func (s *QueryService) ApprovalQueue(ctx context.Context, filter data.ApprovalQueueFilter, actor auth.Subject) ([]QueueItem, error) {
	rows, err := s.pages.ApprovalQueue(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]QueueItem, 0, len(rows))
	for _, row := range rows {
		res := auth.Resource{Locale: row.LocaleCode, Path: row.Path}
		if !s.deps.Access.CheckAccess(actor, []string{auth.CapApprovePages, auth.CapManagePages, auth.CapManageSystem}, res) {
			continue
		}
		item := QueueItem{
			PageID:         row.ID,
			Path:           row.Path,
			LocaleCode:     row.LocaleCode,
			Title:          row.CurrentTitle,
			ApprovalStatus: strings.ToUpper(row.ApprovalStatus),
			SubmittedAt:    row.UpdatedAt,
		}
		if row.PendingTitle != nil && *row.PendingTitle != "" {
			item.Title = *row.PendingTitle
		}
		if row.SubmittedAt != nil {
			item.SubmittedAt = *row.SubmittedAt
		}
		if row.SubmitterID != nil {
			item.SubmitterID = *row.SubmitterID
		}
		if row.SubmitterName != nil {
			item.SubmitterName = *row.SubmitterName
		}
		if row.SubmitterEmail != nil {
			item.SubmitterEmail = *row.SubmitterEmail
		}
		items = append(items, item)
	}
	return items, nil
}

// PendingSubmission is the proposal half of an approval detail.
type PendingSubmission struct {
	VersionID       int64
	Title           string
	Description     string
	Content         string
	ContentType     string
	Render          string
	AuthorID        int64
	AuthorName      string
	SubmittedAt     time.Time
	ApprovalComment string
	ScriptCSS       string
	ScriptJS        string
	Tags            []string
}

// ApprovalDetail pairs the live page with its pending submission.
type ApprovalDetail struct {
	Page    *data.Page
	Pending *PendingSubmission
}

// GetApprovalDetail returns the side-by-side view a reviewer needs: the
// live page and, when present, the pending proposal with a preview render.
func (s *QueryService) GetApprovalDetail(ctx context.Context, pageID int64, actor auth.Subject) (*ApprovalDetail, error) {
	page, err := s.pages.GetDetailed(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	if !s.deps.Access.CheckAccess(actor, []string{auth.CapApprovePages, auth.CapManagePages, auth.CapManageSystem}, pageResource(page)) {
		return nil, ErrPageViewForbidden
	}
	detail := &ApprovalDetail{Page: page}
	if page.PendingVersionID == nil {
		return detail, nil
	}
	pending, err := s.history.Get(ctx, page.ID, *page.PendingVersionID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return detail, nil
	}
	tags, err := s.tags.VersionTags(ctx, pending.ID)
	if err != nil {
		return nil, err
	}
	// Preview render of the proposal; never persisted.
	preview, err := s.deps.Renderer.Render(ctx, pending.ContentType, pending.Content)
	if err != nil {
		s.deps.Log.Error(err, fmt.Sprintf("Failed to render proposal preview for page %d", page.ID))
		preview = ""
	}
	detail.Pending = &PendingSubmission{
		VersionID:       pending.ID,
		Title:           pending.Title,
		Description:     pending.Description,
		Content:         pending.Content,
		ContentType:     pending.ContentType,
		Render:          preview,
		AuthorID:        pending.AuthorID,
		AuthorName:      pending.AuthorName,
		SubmittedAt:     pending.VersionDate,
		ApprovalComment: pending.Extra.ApprovalComment,
		ScriptCSS:       pending.Extra.CSS,
		ScriptJS:        pending.Extra.JS,
		Tags:            tags,
	}
	return detail, nil
}

// FlushCache drops every cached page on every node.
func (s *QueryService) FlushCache(ctx context.Context, actor auth.Subject) error {
	if !s.deps.Access.CheckAccess(actor, []string{auth.CapManageSystem}, auth.Resource{Locale: "*", Path: "*"}) {
		return ErrPageUpdateForbidden
	}
	if err := s.cache.Flush(); err != nil {
		return err
	}
	if err := s.deps.Bus.Emit(ctx, events.EventFlushCache, ""); err != nil {
		s.deps.Log.Error(err, "Failed to broadcast cache flush")
	}
	return nil
}
