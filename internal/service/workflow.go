package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/events"
	"go-wiki-engine/internal/render"
)

// WorkflowService owns every page mutation. Each operation performs its
// store writes sequentially without an enclosing cross-store transaction;
// validation and access checks run before the first write so a rejected
// operation leaves no trace.
type WorkflowService struct {
	pages   PageRepository
	history HistoryRepository
	folders FolderRepository
	tags    TagRepository
	tree    *TreeBuilder
	cache   PageCache
	deps    Collaborators
}

// NewWorkflowService creates a WorkflowService.
func NewWorkflowService(pages PageRepository, history HistoryRepository, folders FolderRepository, tags TagRepository, tree *TreeBuilder, cache PageCache, deps Collaborators) *WorkflowService {
	return &WorkflowService{
		pages:   pages,
		history: history,
		folders: folders,
		tags:    tags,
		tree:    tree,
		cache:   cache,
		deps:    deps,
	}
}

func (s *WorkflowService) can(actor auth.Subject, res auth.Resource, capabilities ...string) bool {
	return s.deps.Access.CheckAccess(actor, capabilities, res)
}

func pageResource(page *data.Page) auth.Resource {
	res := auth.Resource{Locale: page.LocaleCode, Path: page.Path}
	for _, t := range page.Tags {
		res.Tags = append(res.Tags, t.Tag)
	}
	return res
}

// versionOf snapshots the live state of a page as a history entry.
func versionOf(page *data.Page, action, workflowStatus string, versionDate time.Time) *data.PageVersion {
	return &data.PageVersion{
		PageID:           page.ID,
		Path:             page.Path,
		Hash:             page.Hash,
		LocaleCode:       page.LocaleCode,
		Title:            page.Title,
		Description:      page.Description,
		Content:          page.Content,
		ContentType:      page.ContentType,
		EditorKey:        page.EditorKey,
		IsPrivate:        page.IsPrivate,
		IsPublished:      page.IsPublished,
		PublishStartDate: page.PublishStartDate,
		PublishEndDate:   page.PublishEndDate,
		AuthorID:         page.AuthorID,
		Action:           action,
		WorkflowStatus:   workflowStatus,
		VersionDate:      versionDate,
		Extra:            page.Extra,
	}
}

// snapshot appends a history entry for the page's current state and copies
// its tag associations onto the entry.
func (s *WorkflowService) snapshot(ctx context.Context, page *data.Page, action string) (int64, error) {
	versionID, err := s.history.Add(ctx, versionOf(page, action, data.WorkflowHistory, page.UpdatedAt))
	if err != nil {
		return 0, err
	}
	tags, err := s.tags.PageTags(ctx, page.ID)
	if err != nil {
		return 0, err
	}
	values := make([]string, 0, len(tags))
	for _, t := range tags {
		values = append(values, t.Tag)
	}
	if err := s.tags.ReplaceVersionTags(ctx, versionID, values); err != nil {
		return 0, err
	}
	return versionID, nil
}

// renderAndStore regenerates the rendered output and table of contents of
// the page and persists them. Internal anchors in the output are stamped
// with validity markers and recorded as link rows so later marker flips
// can find the linking pages.
func (s *WorkflowService) renderAndStore(ctx context.Context, page *data.Page) error {
	rendered, err := s.deps.Renderer.Render(ctx, page.ContentType, page.Content)
	if err != nil {
		return fmt.Errorf("failed to render page %d: %w", page.ID, err)
	}
	toc, err := s.deps.Renderer.TableOfContents(page.ContentType, page.Content)
	if err != nil {
		return fmt.Errorf("failed to build page %d outline: %w", page.ID, err)
	}
	links := render.ExtractInternalLinks(rendered)
	valid := make(map[render.InternalLink]bool, len(links))
	refs := make([]data.PageLink, 0, len(links))
	for _, link := range links {
		target, err := s.pages.FindByPath(ctx, link.Locale, link.Path)
		if err != nil {
			return err
		}
		valid[link] = target != nil
		refs = append(refs, data.PageLink{PageID: page.ID, LocaleCode: link.Locale, Path: link.Path})
	}
	page.Render = render.MarkInternalLinks(rendered, valid)
	page.Toc = toc
	if err := s.pages.PatchRender(ctx, page.ID, page.Render, toc); err != nil {
		return err
	}
	return s.pages.ReplacePageLinks(ctx, page.ID, refs)
}

// invalidate evicts the local cache entry and broadcasts the eviction to
// every node. Failures are logged, not fatal: a stale cache entry is
// recoverable, an aborted workflow write is not.
func (s *WorkflowService) invalidate(ctx context.Context, hash string) {
	if err := s.cache.Delete(hash); err != nil {
		s.deps.Log.Error(err, fmt.Sprintf("Failed to evict cached page %s", hash))
	}
	if err := s.deps.Bus.Emit(ctx, events.EventDeletePageFromCache, hash); err != nil {
		s.deps.Log.Error(err, fmt.Sprintf("Failed to broadcast eviction of page %s", hash))
	}
}

// rebuildTree dispatches a tree rebuild and awaits its completion.
func (s *WorkflowService) rebuildTree(ctx context.Context) error {
	job, err := s.tree.ScheduleRebuild(ctx)
	if err != nil {
		return err
	}
	return job.Wait()
}

func (s *WorkflowService) notifySearch(ctx context.Context, notify func() error) {
	if err := notify(); err != nil {
		s.deps.Log.Error(err, "Search index notification failed")
	}
	_ = ctx
}

func (s *WorkflowService) notifyStorage(ctx context.Context, event string, page *data.Page) {
	if err := s.deps.Storage.PageEvent(ctx, event, page); err != nil {
		s.deps.Log.Error(err, fmt.Sprintf("Storage %s notification failed for page %d", event, page.ID))
	}
}

// reconnectLinks rewrites the internal link markers of every page linking
// to the given location, then invalidates their cache entries. Modes:
// "create" turns invalid links valid, "delete" turns valid links invalid,
// "move" retargets valid links from the source location.
func (s *WorkflowService) reconnectLinks(ctx context.Context, mode, locale, path, sourceLocale, sourcePath string) error {
	href := "/" + locale + "/" + path
	var from, to string
	lookupLocale, lookupPath := locale, path
	switch mode {
	case "create":
		from = fmt.Sprintf(`<a href="%s" class="%s">`, href, render.LinkMarkerInvalid)
		to = fmt.Sprintf(`<a href="%s" class="%s">`, href, render.LinkMarkerValid)
	case "delete":
		from = fmt.Sprintf(`<a href="%s" class="%s">`, href, render.LinkMarkerValid)
		to = fmt.Sprintf(`<a href="%s" class="%s">`, href, render.LinkMarkerInvalid)
	case "move":
		sourceHref := "/" + sourceLocale + "/" + sourcePath
		from = fmt.Sprintf(`<a href="%s" class="%s">`, sourceHref, render.LinkMarkerValid)
		to = fmt.Sprintf(`<a href="%s" class="%s">`, href, render.LinkMarkerValid)
		lookupLocale, lookupPath = sourceLocale, sourcePath
	default:
		return fmt.Errorf("unknown link reconnection mode %q", mode)
	}
	hashes, err := s.pages.ReplaceRenderLinks(ctx, lookupLocale, lookupPath, from, to)
	if err != nil {
		return err
	}
	if mode == "move" {
		// Keep the link rows pointing at the page's new location.
		if err := s.pages.RetargetPageLinks(ctx, sourceLocale, sourcePath, locale, path); err != nil {
			return err
		}
	}
	for _, hash := range hashes {
		s.invalidate(ctx, hash)
	}
	return nil
}

// CreateOptions carries the full payload of a page creation.
type CreateOptions struct {
	Path             string
	Locale           string
	Title            string
	Description      string
	Content          string
	ContentType      string
	EditorKey        string
	IsPublished      bool
	IsPrivate        bool
	PrivateNS        string
	PublishStartDate string
	PublishEndDate   string
	Tags             []string
	ScriptCSS        string
	ScriptJS         string
}

// Create adds a new page. Actors holding a publish-grade capability write
// live content directly with an initial approved history entry; everyone
// else gets a page shell whose content lives solely in a pending history
// entry until it is approved.
func (s *WorkflowService) Create(ctx context.Context, opts CreateOptions, actor auth.Subject) (*data.Page, error) {
	path, err := NormalizePath(opts.Path)
	if err != nil {
		return nil, err
	}
	res := auth.Resource{Locale: opts.Locale, Path: path, Tags: opts.Tags}
	if !s.can(actor, res, auth.CapWritePages) {
		return nil, ErrPageCreateForbidden
	}
	existing, err := s.pages.FindByPath(ctx, opts.Locale, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPageDuplicateCreate
	}
	if strings.TrimSpace(opts.Content) == "" {
		return nil, ErrPageEmptyContent
	}

	extra := data.PageExtra{}
	if opts.ScriptCSS != "" && s.can(actor, res, auth.CapWriteStyles) {
		extra.CSS = opts.ScriptCSS
	}
	if opts.ScriptJS != "" && s.can(actor, res, auth.CapWriteScripts) {
		extra.JS = opts.ScriptJS
	}
	canPublish := s.can(actor, res, auth.CapPublishPages, auth.CapApprovePages, auth.CapManagePages, auth.CapManageSystem)

	contentType := opts.ContentType
	if contentType == "" {
		contentType = render.ContentTypeMarkdown
	}
	now := time.Now().UTC()
	page := &data.Page{
		Path:             path,
		Hash:             data.PageHash(path, opts.Locale, opts.PrivateNS),
		LocaleCode:       opts.Locale,
		Title:            opts.Title,
		Description:      opts.Description,
		ContentType:      contentType,
		EditorKey:        opts.EditorKey,
		IsPrivate:        opts.IsPrivate,
		PrivateNS:        opts.PrivateNS,
		PublishStartDate: opts.PublishStartDate,
		PublishEndDate:   opts.PublishEndDate,
		AuthorID:         actor.ID,
		CreatorID:        actor.ID,
		Extra:            extra,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if canPublish {
		page.Content = opts.Content
		page.IsPublished = opts.IsPublished
		page.ApprovalStatus = data.ApprovalApproved
		approverID := actor.ID
		page.ApproverID = &approverID
	} else {
		page.IsPublished = false
		page.ApprovalStatus = data.ApprovalPending
	}
	pageID, err := s.pages.Create(ctx, page)
	if err != nil {
		return nil, err
	}
	page.ID = pageID

	if canPublish {
		versionID, err := s.history.Add(ctx, versionOf(page, data.ActionCreated, data.WorkflowApproved, now))
		if err != nil {
			return nil, err
		}
		if err := s.tags.ReplaceVersionTags(ctx, versionID, opts.Tags); err != nil {
			return nil, err
		}
		if err := s.tags.ReplacePageTags(ctx, pageID, opts.Tags); err != nil {
			return nil, err
		}
		if err := s.renderAndStore(ctx, page); err != nil {
			return nil, err
		}
	} else {
		version := versionOf(page, data.ActionSubmitted, data.WorkflowPending, now)
		version.Content = opts.Content
		version.IsPublished = opts.IsPublished
		versionID, err := s.history.Add(ctx, version)
		if err != nil {
			return nil, err
		}
		if err := s.tags.ReplaceVersionTags(ctx, versionID, opts.Tags); err != nil {
			return nil, err
		}
		if err := s.pages.PatchApproval(ctx, pageID, data.ApprovalPending, &versionID, nil, ""); err != nil {
			return nil, err
		}
	}

	if err := s.rebuildTree(ctx); err != nil {
		return nil, err
	}
	if err := s.reconnectLinks(ctx, "create", opts.Locale, path, "", ""); err != nil {
		return nil, err
	}
	if canPublish && page.IsPublished {
		s.notifySearch(ctx, func() error { return s.deps.Search.Created(ctx, pageID) })
	}
	s.notifyStorage(ctx, "created", page)
	return s.pages.GetByID(ctx, pageID)
}

// UpdateOptions carries the full payload of a page save. DestinationPath
// and DestinationLocale, when set to a different location, turn the save
// into a move after the content update applies.
type UpdateOptions struct {
	ID                int64
	Title             string
	Description       string
	Content           string
	ContentType       string
	EditorKey         string
	IsPublished       bool
	PublishStartDate  string
	PublishEndDate    string
	Tags              []string
	ScriptCSS         *string
	ScriptJS          *string
	ApprovalComment   string
	KeepPending       bool
	Action            string
	DestinationPath   string
	DestinationLocale string
}

// Update saves a page. Actors without a publish-grade capability, or saves
// explicitly kept pending, write to the pending history entry instead of
// the live page: created if absent, patched in place otherwise, so
// resubmissions never pile up duplicate proposals.
func (s *WorkflowService) Update(ctx context.Context, opts UpdateOptions, actor auth.Subject) (*data.Page, error) {
	ogPage, err := s.pages.GetByID(ctx, opts.ID)
	if err != nil {
		return nil, err
	}
	if ogPage == nil {
		return nil, ErrPageNotFound
	}
	res := pageResource(ogPage)
	hasWrite := s.can(actor, res, auth.CapWritePages)
	hasApproval := s.can(actor, res, auth.CapApprovePages, auth.CapManagePages, auth.CapManageSystem)
	// Approvers may edit an existing proposal even without write access.
	if !hasWrite && !(hasApproval && ogPage.PendingVersionID != nil) {
		return nil, ErrPageUpdateForbidden
	}
	if strings.TrimSpace(opts.Content) == "" {
		return nil, ErrPageEmptyContent
	}

	extra := ogPage.Extra
	if opts.ScriptCSS != nil && s.can(actor, res, auth.CapWriteStyles) {
		extra.CSS = *opts.ScriptCSS
	}
	if opts.ScriptJS != nil && s.can(actor, res, auth.CapWriteScripts) {
		extra.JS = *opts.ScriptJS
	}
	canPublish := hasWrite && s.can(actor, res, auth.CapPublishPages, auth.CapApprovePages, auth.CapManagePages, auth.CapManageSystem)

	if !canPublish || opts.KeepPending {
		return s.submitPending(ctx, ogPage, opts, extra, actor)
	}

	if _, err := s.snapshot(ctx, ogPage, historyAction(opts.Action)); err != nil {
		return nil, err
	}

	extra.ApprovalComment = ""
	page := *ogPage
	page.Title = opts.Title
	page.Description = opts.Description
	page.Content = opts.Content
	page.ContentType = opts.ContentType
	page.EditorKey = opts.EditorKey
	page.IsPublished = opts.IsPublished
	page.PublishStartDate = opts.PublishStartDate
	page.PublishEndDate = opts.PublishEndDate
	page.AuthorID = actor.ID
	page.ApprovalStatus = data.ApprovalApproved
	page.PendingVersionID = nil
	approverID := actor.ID
	page.ApproverID = &approverID
	page.ApprovalComment = ""
	page.Extra = extra
	if err := s.pages.Update(ctx, &page); err != nil {
		return nil, err
	}
	// A direct save by a publisher supersedes and settles any open proposal.
	if ogPage.PendingVersionID != nil {
		if err := s.history.SetWorkflowStatus(ctx, *ogPage.PendingVersionID, data.WorkflowApproved, data.ActionApproved, nil); err != nil {
			return nil, err
		}
	}
	if err := s.tags.ReplacePageTags(ctx, page.ID, opts.Tags); err != nil {
		return nil, err
	}
	if err := s.renderAndStore(ctx, &page); err != nil {
		return nil, err
	}
	s.invalidate(ctx, ogPage.Hash)
	if page.IsPublished {
		s.notifySearch(ctx, func() error { return s.deps.Search.Updated(ctx, page.ID) })
	} else {
		s.notifySearch(ctx, func() error { return s.deps.Search.Deleted(ctx, page.ID) })
	}
	s.notifyStorage(ctx, "updated", &page)

	if s.isMoveRequested(ogPage, opts) {
		return s.Move(ctx, MoveOptions{
			ID:                page.ID,
			DestinationPath:   opts.DestinationPath,
			DestinationLocale: opts.DestinationLocale,
		}, actor)
	}
	if page.Title != ogPage.Title {
		if err := s.tree.UpdatePageTitle(ctx, page.ID, page.Title); err != nil {
			return nil, err
		}
	}
	return s.pages.GetByID(ctx, page.ID)
}

func (s *WorkflowService) isMoveRequested(page *data.Page, opts UpdateOptions) bool {
	if opts.DestinationPath == "" {
		return false
	}
	destLocale := opts.DestinationLocale
	if destLocale == "" {
		destLocale = page.LocaleCode
	}
	return opts.DestinationPath != page.Path || destLocale != page.LocaleCode
}

func historyAction(action string) string {
	if action == "" {
		return data.ActionUpdated
	}
	return action
}

// submitPending routes a save into the approval queue. The live page is
// never touched beyond its approval linkage.
func (s *WorkflowService) submitPending(ctx context.Context, ogPage *data.Page, opts UpdateOptions, extra data.PageExtra, actor auth.Subject) (*data.Page, error) {
	extra.ApprovalComment = opts.ApprovalComment
	var versionID int64
	if ogPage.PendingVersionID != nil {
		versionID = *ogPage.PendingVersionID
		err := s.history.PatchPending(ctx, versionID, data.PendingPatch{
			Content:          opts.Content,
			Description:      opts.Description,
			Title:            opts.Title,
			PublishStartDate: opts.PublishStartDate,
			PublishEndDate:   opts.PublishEndDate,
			ContentType:      opts.ContentType,
			EditorKey:        opts.EditorKey,
			AuthorID:         actor.ID,
			Extra:            extra,
		})
		if err != nil {
			return nil, err
		}
	} else {
		version := versionOf(ogPage, data.ActionSubmitted, data.WorkflowPending, time.Now().UTC())
		version.Title = opts.Title
		version.Description = opts.Description
		version.Content = opts.Content
		version.ContentType = opts.ContentType
		version.EditorKey = opts.EditorKey
		version.IsPublished = opts.IsPublished
		version.PublishStartDate = opts.PublishStartDate
		version.PublishEndDate = opts.PublishEndDate
		version.AuthorID = actor.ID
		version.Extra = extra
		var err error
		versionID, err = s.history.Add(ctx, version)
		if err != nil {
			return nil, err
		}
	}
	if err := s.tags.ReplaceVersionTags(ctx, versionID, opts.Tags); err != nil {
		return nil, err
	}
	if err := s.pages.PatchApproval(ctx, ogPage.ID, data.ApprovalPending, &versionID, nil, opts.ApprovalComment); err != nil {
		return nil, err
	}
	s.invalidate(ctx, ogPage.Hash)
	return s.pages.GetByID(ctx, ogPage.ID)
}

// Approve settles a proposal: the pending entry's fields are copied onto
// the live page and the entry reaches its terminal approved status. When
// no pending entry exists the live fields themselves are the payload,
// which lets an approver publish an unsubmitted draft directly.
func (s *WorkflowService) Approve(ctx context.Context, pageID int64, comment string, publish bool, actor auth.Subject) (*data.Page, error) {
	page, err := s.pages.GetByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	res := pageResource(page)
	if !s.can(actor, res, auth.CapApprovePages, auth.CapManagePages, auth.CapManageSystem) {
		return nil, ErrPageUpdateForbidden
	}

	updated := *page
	var pending *data.PageVersion
	if page.PendingVersionID != nil {
		pending, err = s.history.Get(ctx, page.ID, *page.PendingVersionID)
		if err != nil {
			return nil, err
		}
		if pending == nil {
			// Broken linkage; restore the invariant before surfacing it.
			if err := s.pages.PatchApproval(ctx, page.ID, data.ApprovalDraft, nil, nil, ""); err != nil {
				return nil, err
			}
			return nil, ErrPendingVersionGone
		}
		updated.Title = pending.Title
		updated.Description = pending.Description
		updated.Content = pending.Content
		updated.ContentType = pending.ContentType
		updated.EditorKey = pending.EditorKey
		updated.PublishStartDate = pending.PublishStartDate
		updated.PublishEndDate = pending.PublishEndDate
		updated.AuthorID = pending.AuthorID
		updated.Extra = page.Extra.Merge(pending.Extra)
	}
	// The live publish state survives; only the explicit flag flips it.
	if publish {
		updated.IsPublished = true
	}
	updated.ApprovalStatus = data.ApprovalApproved
	updated.PendingVersionID = nil
	approverID := actor.ID
	updated.ApproverID = &approverID
	updated.ApprovalComment = comment
	updated.Extra.ApprovalComment = ""
	if err := s.pages.Update(ctx, &updated); err != nil {
		return nil, err
	}

	if pending != nil {
		historyExtra := pending.Extra
		historyExtra.ApprovalComment = comment
		if err := s.history.SetWorkflowStatus(ctx, pending.ID, data.WorkflowApproved, data.ActionApproved, &historyExtra); err != nil {
			return nil, err
		}
		tags, err := s.tags.VersionTags(ctx, pending.ID)
		if err != nil {
			return nil, err
		}
		if err := s.tags.ReplacePageTags(ctx, page.ID, tags); err != nil {
			return nil, err
		}
	}
	if err := s.renderAndStore(ctx, &updated); err != nil {
		return nil, err
	}
	s.invalidate(ctx, page.Hash)
	if err := s.rebuildTree(ctx); err != nil {
		return nil, err
	}
	if updated.IsPublished {
		s.notifySearch(ctx, func() error { return s.deps.Search.Updated(ctx, page.ID) })
	}
	s.notifyStorage(ctx, "updated", &updated)
	return s.pages.GetByID(ctx, page.ID)
}

// Reject settles a proposal negatively. Live content fields are never
// touched; only the approval linkage and the history entry change.
func (s *WorkflowService) Reject(ctx context.Context, pageID int64, comment string, actor auth.Subject) (*data.Page, error) {
	page, err := s.pages.GetByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	if !s.can(actor, pageResource(page), auth.CapApprovePages, auth.CapManagePages, auth.CapManageSystem) {
		return nil, ErrPageUpdateForbidden
	}
	if page.PendingVersionID == nil {
		return nil, ErrNoPendingVersion
	}
	pending, err := s.history.Get(ctx, page.ID, *page.PendingVersionID)
	if err != nil {
		return nil, err
	}
	approverID := actor.ID
	if err := s.pages.PatchApproval(ctx, page.ID, data.ApprovalRejected, nil, &approverID, comment); err != nil {
		return nil, err
	}
	if pending != nil {
		historyExtra := pending.Extra
		historyExtra.ApprovalComment = comment
		if err := s.history.SetWorkflowStatus(ctx, pending.ID, data.WorkflowRejected, data.ActionRejected, &historyExtra); err != nil {
			return nil, err
		}
	}
	s.invalidate(ctx, page.Hash)
	return s.pages.GetByID(ctx, page.ID)
}

// CancelPending withdraws a proposal and resets the page to draft. Only
// its submitter or a manager may do so; the operation is a no-op when
// nothing is pending.
func (s *WorkflowService) CancelPending(ctx context.Context, pageID int64, actor auth.Subject) (*data.Page, error) {
	page, err := s.pages.GetByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	if page.PendingVersionID == nil {
		return page, nil
	}
	pending, err := s.history.Get(ctx, page.ID, *page.PendingVersionID)
	if err != nil {
		return nil, err
	}
	submitterID := page.AuthorID
	if pending != nil {
		submitterID = pending.AuthorID
	}
	if actor.ID != submitterID && !s.can(actor, pageResource(page), auth.CapManagePages, auth.CapManageSystem) {
		return nil, ErrPageUpdateForbidden
	}
	if err := s.pages.PatchApproval(ctx, page.ID, data.ApprovalDraft, nil, nil, ""); err != nil {
		return nil, err
	}
	if pending != nil {
		historyExtra := pending.Extra
		historyExtra.ApprovalComment = ""
		if err := s.history.SetWorkflowStatus(ctx, pending.ID, data.WorkflowCancelled, data.ActionCancelled, &historyExtra); err != nil {
			return nil, err
		}
	}
	s.invalidate(ctx, page.Hash)
	return s.pages.GetByID(ctx, page.ID)
}

// MoveOptions locates a page and its destination.
type MoveOptions struct {
	ID                int64
	DestinationPath   string
	DestinationLocale string
}

// Move relocates a page. Auto-derived titles (title equal to the last path
// segment) follow the new path; explicit titles are kept.
func (s *WorkflowService) Move(ctx context.Context, opts MoveOptions, actor auth.Subject) (*data.Page, error) {
	page, err := s.pages.GetByID(ctx, opts.ID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	destPath, err := NormalizePath(opts.DestinationPath)
	if err != nil {
		return nil, err
	}
	destLocale := opts.DestinationLocale
	if destLocale == "" {
		destLocale = page.LocaleCode
	}
	if destPath == page.Path && destLocale == page.LocaleCode {
		return page, nil
	}
	if !s.can(actor, pageResource(page), auth.CapManagePages, auth.CapManageSystem) {
		return nil, ErrPageMoveForbidden
	}
	if !s.can(actor, auth.Resource{Locale: destLocale, Path: destPath}, auth.CapWritePages) {
		return nil, ErrPageMoveForbidden
	}
	occupant, err := s.pages.FindByPath(ctx, destLocale, destPath)
	if err != nil {
		return nil, err
	}
	if occupant != nil {
		return nil, ErrPagePathCollision
	}

	if _, err := s.snapshot(ctx, page, data.ActionMoved); err != nil {
		return nil, err
	}
	title := page.Title
	if title == lastSegment(page.Path) {
		title = lastSegment(destPath)
	}
	hash := data.PageHash(destPath, destLocale, page.PrivateNS)
	if err := s.pages.PatchPathInfo(ctx, page.ID, destLocale, destPath, title, hash); err != nil {
		return nil, err
	}
	s.invalidate(ctx, page.Hash)
	if err := s.rebuildTree(ctx); err != nil {
		return nil, err
	}
	s.notifySearch(ctx, func() error { return s.deps.Search.Renamed(ctx, page.ID, page.LocaleCode, page.Path) })
	if err := s.reconnectLinks(ctx, "move", destLocale, destPath, page.LocaleCode, page.Path); err != nil {
		return nil, err
	}
	if err := s.reconnectLinks(ctx, "create", destLocale, destPath, "", ""); err != nil {
		return nil, err
	}
	moved, err := s.pages.GetByID(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	if moved != nil {
		s.notifyStorage(ctx, "renamed", moved)
	}
	return moved, nil
}

func lastSegment(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// Delete removes a page, leaving a final deleted history entry behind.
func (s *WorkflowService) Delete(ctx context.Context, pageID int64, actor auth.Subject) error {
	page, err := s.pages.GetDetailed(ctx, pageID)
	if err != nil {
		return err
	}
	if page == nil {
		return ErrPageNotFound
	}
	if !s.can(actor, pageResource(page), auth.CapDeletePages, auth.CapManageSystem) {
		return ErrPageDeleteForbidden
	}
	if _, err := s.snapshot(ctx, page, data.ActionDeleted); err != nil {
		return err
	}
	if err := s.pages.Delete(ctx, pageID); err != nil {
		return err
	}
	s.invalidate(ctx, page.Hash)
	if err := s.rebuildTree(ctx); err != nil {
		return err
	}
	s.notifySearch(ctx, func() error { return s.deps.Search.Deleted(ctx, pageID) })
	s.notifyStorage(ctx, "deleted", page)
	return s.reconnectLinks(ctx, "delete", page.LocaleCode, page.Path, "", "")
}

// Restore replays a historical version through the regular save path, so
// the restore itself is recorded and subject to the same approval rules.
func (s *WorkflowService) Restore(ctx context.Context, pageID, versionID int64, actor auth.Subject) (*data.Page, error) {
	page, err := s.pages.GetByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	if !s.can(actor, pageResource(page), auth.CapWritePages, auth.CapManagePages, auth.CapManageSystem) {
		return nil, ErrPageRestoreForbidden
	}
	version, err := s.history.Get(ctx, pageID, versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, ErrVersionNotFound
	}
	tags, err := s.tags.VersionTags(ctx, versionID)
	if err != nil {
		return nil, err
	}
	scriptCSS := version.Extra.CSS
	scriptJS := version.Extra.JS
	return s.Update(ctx, UpdateOptions{
		ID:               pageID,
		Title:            version.Title,
		Description:      version.Description,
		Content:          version.Content,
		ContentType:      version.ContentType,
		EditorKey:        version.EditorKey,
		IsPublished:      page.IsPublished,
		PublishStartDate: version.PublishStartDate,
		PublishEndDate:   version.PublishEndDate,
		Tags:             tags,
		ScriptCSS:        &scriptCSS,
		ScriptJS:         &scriptJS,
		Action:           data.ActionRestored,
	}, actor)
}

// Convert transforms a page to another content type. Converting to the
// current type is a no-op. Markdown converts to HTML by adopting the
// rendered output (lossy); other combinations are unsupported.
func (s *WorkflowService) Convert(ctx context.Context, pageID int64, targetContentType string, actor auth.Subject) (*data.Page, error) {
	page, err := s.pages.GetByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	if !s.can(actor, pageResource(page), auth.CapWritePages, auth.CapManagePages, auth.CapManageSystem) {
		return nil, ErrPageUpdateForbidden
	}
	target := strings.ToLower(strings.TrimSpace(targetContentType))
	if target == page.ContentType {
		return page, nil
	}

	var newContent *string
	switch {
	case page.ContentType == render.ContentTypeMarkdown && target == render.ContentTypeHTML:
		if strings.TrimSpace(page.Render) == "" {
			return nil, ErrConversionNoRender
		}
		converted := page.Render
		newContent = &converted
	default:
		return nil, ErrConversionUnsupported
	}

	if _, err := s.snapshot(ctx, page, data.ActionUpdated); err != nil {
		return nil, err
	}
	if err := s.pages.PatchConversion(ctx, pageID, target, editorKeyFor(target), newContent); err != nil {
		return nil, err
	}
	converted, err := s.pages.GetByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if err := s.renderAndStore(ctx, converted); err != nil {
		return nil, err
	}
	s.invalidate(ctx, page.Hash)
	s.notifyStorage(ctx, "updated", converted)
	return converted, nil
}

func editorKeyFor(contentType string) string {
	switch contentType {
	case render.ContentTypeMarkdown:
		return "markdown"
	case render.ContentTypeHTML:
		return "code"
	default:
		return contentType
	}
}

// CreateFolder declares a folder without a backing page.
func (s *WorkflowService) CreateFolder(ctx context.Context, locale, path, title string, actor auth.Subject) (*data.Folder, error) {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return nil, err
	}
	if !s.can(actor, auth.Resource{Locale: locale, Path: path}, auth.CapManagePages, auth.CapManageSystem) {
		return nil, ErrPageCreateForbidden
	}
	existing, err := s.folders.FindByPath(ctx, locale, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrFolderExists
	}
	occupant, err := s.pages.FindByPath(ctx, locale, path)
	if err != nil {
		return nil, err
	}
	if occupant != nil {
		return nil, ErrFolderPageConflict
	}
	if title == "" {
		title = lastSegment(path)
	}
	folder := &data.Folder{LocaleCode: locale, Path: path, Title: title}
	folderID, err := s.folders.Create(ctx, folder)
	if err != nil {
		return nil, err
	}
	folder.ID = folderID
	if err := s.rebuildTree(ctx); err != nil {
		return nil, err
	}
	return folder, nil
}

// DeleteFolder removes a declared folder. The folder must hold no pages
// and no subfolders.
func (s *WorkflowService) DeleteFolder(ctx context.Context, locale, path string, actor auth.Subject) error {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return err
	}
	if !s.can(actor, auth.Resource{Locale: locale, Path: path}, auth.CapManagePages, auth.CapManageSystem) {
		return ErrPageDeleteForbidden
	}
	folder, err := s.folders.FindByPath(ctx, locale, path)
	if err != nil {
		return err
	}
	if folder == nil {
		return ErrFolderNotFound
	}
	hasPages, err := s.pages.HasPagesUnder(ctx, locale, path)
	if err != nil {
		return err
	}
	if hasPages {
		return ErrFolderNotEmpty
	}
	hasSubfolders, err := s.folders.HasSubfolders(ctx, locale, path)
	if err != nil {
		return err
	}
	if hasSubfolders {
		return ErrFolderHasChildren
	}
	if err := s.folders.Delete(ctx, folder.ID); err != nil {
		return err
	}
	return s.rebuildTree(ctx)
}

// MigrateToLocale bulk-moves pages from one locale to another, skipping
// paths already occupied in the target locale. The cache is flushed
// everywhere because every migrated page changes its addressable location.
func (s *WorkflowService) MigrateToLocale(ctx context.Context, sourceLocale, targetLocale string, actor auth.Subject) error {
	if !s.can(actor, auth.Resource{Locale: targetLocale, Path: "*"}, auth.CapManageSystem) {
		return ErrPageUpdateForbidden
	}
	if err := s.pages.MigrateLocale(ctx, sourceLocale, targetLocale); err != nil {
		return err
	}
	if err := s.cache.Flush(); err != nil {
		s.deps.Log.Error(err, "Failed to flush page cache after locale migration")
	}
	if err := s.deps.Bus.Emit(ctx, events.EventFlushCache, ""); err != nil {
		s.deps.Log.Error(err, "Failed to broadcast cache flush after locale migration")
	}
	return s.rebuildTree(ctx)
}
