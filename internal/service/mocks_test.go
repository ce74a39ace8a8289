//go:build unit

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/events"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/render"
	"go-wiki-engine/internal/scheduler"
	"go-wiki-engine/internal/search"
)

// mockPageRepository is an in-memory implementation of PageRepository.
type mockPageRepository struct {
	pages  map[int64]*data.Page
	links  map[int64][]data.PageLink
	nextID int64

	replaceLinksCalls []string
}

var _ PageRepository = (*mockPageRepository)(nil)

func newMockPageRepository() *mockPageRepository {
	return &mockPageRepository{
		pages: make(map[int64]*data.Page),
		links: make(map[int64][]data.PageLink),
	}
}

func (m *mockPageRepository) Create(_ context.Context, page *data.Page) (int64, error) {
	m.nextID++
	stored := *page
	stored.ID = m.nextID
	m.pages[m.nextID] = &stored
	return m.nextID, nil
}

func (m *mockPageRepository) GetByID(_ context.Context, id int64) (*data.Page, error) {
	page, ok := m.pages[id]
	if !ok {
		return nil, nil
	}
	copied := *page
	return &copied, nil
}

func (m *mockPageRepository) FindByPath(_ context.Context, locale, path string) (*data.Page, error) {
	for _, page := range m.pages {
		if page.LocaleCode == locale && page.Path == path {
			copied := *page
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockPageRepository) GetDetailed(ctx context.Context, id int64) (*data.Page, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPageRepository) GetDetailedByPath(ctx context.Context, locale, path string) (*data.Page, error) {
	return m.FindByPath(ctx, locale, path)
}

func (m *mockPageRepository) Update(_ context.Context, page *data.Page) error {
	if _, ok := m.pages[page.ID]; !ok {
		return fmt.Errorf("no page found to update with id %d", page.ID)
	}
	page.UpdatedAt = time.Now().UTC()
	stored := *page
	m.pages[page.ID] = &stored
	return nil
}

func (m *mockPageRepository) PatchApproval(_ context.Context, id int64, status string, pendingVersionID, approverID *int64, comment string) error {
	page := m.pages[id]
	page.ApprovalStatus = status
	page.PendingVersionID = pendingVersionID
	page.ApproverID = approverID
	page.ApprovalComment = comment
	page.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockPageRepository) PatchPathInfo(_ context.Context, id int64, locale, path, title, hash string) error {
	page := m.pages[id]
	page.LocaleCode = locale
	page.Path = path
	page.Title = title
	page.Hash = hash
	page.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockPageRepository) PatchConversion(_ context.Context, id int64, contentType, editorKey string, content *string) error {
	page := m.pages[id]
	page.ContentType = contentType
	page.EditorKey = editorKey
	if content != nil {
		page.Content = *content
	}
	return nil
}

func (m *mockPageRepository) PatchRender(_ context.Context, id int64, rendered, toc string) error {
	page := m.pages[id]
	page.Render = rendered
	page.Toc = toc
	return nil
}

func (m *mockPageRepository) Delete(_ context.Context, id int64) error {
	if _, ok := m.pages[id]; !ok {
		return fmt.Errorf("no page found to delete with id %d", id)
	}
	delete(m.pages, id)
	delete(m.links, id)
	return nil
}

func (m *mockPageRepository) ListForTree(_ context.Context) ([]data.TreePageRow, error) {
	rows := make([]data.TreePageRow, 0, len(m.pages))
	for _, page := range m.pages {
		rows = append(rows, data.TreePageRow{
			ID:         page.ID,
			Path:       page.Path,
			LocaleCode: page.LocaleCode,
			Title:      page.Title,
			IsPrivate:  page.IsPrivate,
			PrivateNS:  page.PrivateNS,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LocaleCode != rows[j].LocaleCode {
			return rows[i].LocaleCode < rows[j].LocaleCode
		}
		return rows[i].Path < rows[j].Path
	})
	return rows, nil
}

func (m *mockPageRepository) HasPagesUnder(_ context.Context, locale, pathPrefix string) (bool, error) {
	for _, page := range m.pages {
		if page.LocaleCode == locale && strings.HasPrefix(page.Path, pathPrefix+"/") {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPageRepository) MigrateLocale(_ context.Context, sourceLocale, targetLocale string) error {
	occupied := make(map[string]bool)
	for _, page := range m.pages {
		if page.LocaleCode == targetLocale {
			occupied[page.Path] = true
		}
	}
	for _, page := range m.pages {
		if page.LocaleCode == sourceLocale && !occupied[page.Path] {
			page.LocaleCode = targetLocale
		}
	}
	return nil
}

func (m *mockPageRepository) ReplaceRenderLinks(_ context.Context, locale, path, from, to string) ([]string, error) {
	m.replaceLinksCalls = append(m.replaceLinksCalls, locale+"/"+path)
	var hashes []string
	for pageID, links := range m.links {
		for _, link := range links {
			if link.LocaleCode != locale || link.Path != path {
				continue
			}
			if page := m.pages[pageID]; page != nil {
				page.Render = strings.ReplaceAll(page.Render, from, to)
				hashes = append(hashes, page.Hash)
			}
			break
		}
	}
	return hashes, nil
}

func (m *mockPageRepository) ReplacePageLinks(_ context.Context, pageID int64, links []data.PageLink) error {
	m.links[pageID] = append([]data.PageLink(nil), links...)
	return nil
}

func (m *mockPageRepository) RetargetPageLinks(_ context.Context, oldLocale, oldPath, newLocale, newPath string) error {
	for _, links := range m.links {
		for i := range links {
			if links[i].LocaleCode == oldLocale && links[i].Path == oldPath {
				links[i].LocaleCode = newLocale
				links[i].Path = newPath
			}
		}
	}
	return nil
}

func (m *mockPageRepository) List(_ context.Context, _ data.ListFilter) ([]*data.PageListItem, error) {
	items := make([]*data.PageListItem, 0, len(m.pages))
	for _, page := range m.pages {
		items = append(items, &data.PageListItem{
			ID:             page.ID,
			Path:           page.Path,
			LocaleCode:     page.LocaleCode,
			Title:          page.Title,
			ApprovalStatus: page.ApprovalStatus,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *mockPageRepository) ApprovalQueue(_ context.Context, filter data.ApprovalQueueFilter) ([]data.ApprovalQueueRow, error) {
	status := filter.Status
	if status == "" {
		status = data.ApprovalPending
	}
	var rows []data.ApprovalQueueRow
	for _, page := range m.pages {
		if status != "*" && page.ApprovalStatus != status {
			continue
		}
		rows = append(rows, data.ApprovalQueueRow{
			ID:               page.ID,
			Path:             page.Path,
			LocaleCode:       page.LocaleCode,
			CurrentTitle:     page.Title,
			ApprovalStatus:   page.ApprovalStatus,
			UpdatedAt:        page.UpdatedAt,
			PendingVersionID: page.PendingVersionID,
		})
	}
	return rows, nil
}

// mockHistoryRepository is an in-memory implementation of HistoryRepository.
type mockHistoryRepository struct {
	entries map[int64]*data.PageVersion
	order   []int64
	nextID  int64
}

var _ HistoryRepository = (*mockHistoryRepository)(nil)

func newMockHistoryRepository() *mockHistoryRepository {
	return &mockHistoryRepository{entries: make(map[int64]*data.PageVersion)}
}

func (m *mockHistoryRepository) Add(_ context.Context, v *data.PageVersion) (int64, error) {
	if v.Action == "" {
		v.Action = data.ActionUpdated
	}
	if v.WorkflowStatus == "" {
		v.WorkflowStatus = data.WorkflowHistory
	}
	if v.VersionDate.IsZero() {
		v.VersionDate = time.Now().UTC()
	}
	m.nextID++
	stored := *v
	stored.ID = m.nextID
	m.entries[m.nextID] = &stored
	m.order = append(m.order, m.nextID)
	return m.nextID, nil
}

func (m *mockHistoryRepository) Get(_ context.Context, pageID, versionID int64) (*data.PageVersion, error) {
	v, ok := m.entries[versionID]
	if !ok || v.PageID != pageID {
		return nil, nil
	}
	copied := *v
	return &copied, nil
}

func (m *mockHistoryRepository) GetByID(_ context.Context, versionID int64) (*data.PageVersion, error) {
	v, ok := m.entries[versionID]
	if !ok {
		return nil, nil
	}
	copied := *v
	return &copied, nil
}

func (m *mockHistoryRepository) PatchPending(_ context.Context, versionID int64, patch data.PendingPatch) error {
	v := m.entries[versionID]
	v.Content = patch.Content
	v.Description = patch.Description
	v.Title = patch.Title
	v.PublishStartDate = patch.PublishStartDate
	v.PublishEndDate = patch.PublishEndDate
	v.ContentType = patch.ContentType
	v.EditorKey = patch.EditorKey
	v.AuthorID = patch.AuthorID
	v.WorkflowStatus = data.WorkflowPending
	v.Action = data.ActionSubmitted
	v.Extra = patch.Extra
	return nil
}

func (m *mockHistoryRepository) SetWorkflowStatus(_ context.Context, versionID int64, workflowStatus, action string, extra *data.PageExtra) error {
	v := m.entries[versionID]
	v.WorkflowStatus = workflowStatus
	v.Action = action
	v.VersionDate = time.Now().UTC()
	if extra != nil {
		v.Extra = *extra
	}
	return nil
}

// metaOf projects entries for a page, most recent first.
func (m *mockHistoryRepository) metaOf(pageID int64) []data.VersionMeta {
	var rows []data.VersionMeta
	for i := len(m.order) - 1; i >= 0; i-- {
		v := m.entries[m.order[i]]
		if v == nil || v.PageID != pageID {
			continue
		}
		rows = append(rows, data.VersionMeta{
			ID:             v.ID,
			Path:           v.Path,
			AuthorID:       v.AuthorID,
			Action:         v.Action,
			VersionDate:    v.VersionDate,
			WorkflowStatus: v.WorkflowStatus,
			Extra:          v.Extra,
		})
	}
	return rows
}

func (m *mockHistoryRepository) ListMeta(_ context.Context, pageID int64, offsetPage, offsetSize int) ([]data.VersionMeta, int, error) {
	all := m.metaOf(pageID)
	start := offsetPage * offsetSize
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := start + offsetSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *mockHistoryRepository) PeekOlder(_ context.Context, pageID int64, offsetPage, offsetSize int) (*data.VersionMeta, error) {
	all := m.metaOf(pageID)
	idx := (offsetPage + 1) * offsetSize
	if idx >= len(all) {
		return nil, nil
	}
	row := all[idx]
	return &row, nil
}

func (m *mockHistoryRepository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for id, v := range m.entries {
		if v.VersionDate.Before(cutoff) {
			delete(m.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// mockTreeRepository captures the last replaced tree.
type mockTreeRepository struct {
	nodes        []data.TreeNode
	replaceCalls int
}

var _ TreeRepository = (*mockTreeRepository)(nil)

func (m *mockTreeRepository) Replace(_ context.Context, nodes []data.TreeNode, _ int) error {
	m.nodes = append([]data.TreeNode(nil), nodes...)
	m.replaceCalls++
	return nil
}

func (m *mockTreeRepository) FindByPath(_ context.Context, locale, path string) (*data.TreeNode, error) {
	for i := range m.nodes {
		if m.nodes[i].LocaleCode == locale && m.nodes[i].Path == path {
			node := m.nodes[i]
			return &node, nil
		}
	}
	return nil, nil
}

func (m *mockTreeRepository) ListChildren(_ context.Context, locale string, parent *int64, mode string, includeIDs []int64) ([]data.TreeNode, error) {
	included := make(map[int64]bool, len(includeIDs))
	for _, id := range includeIDs {
		included[id] = true
	}
	var out []data.TreeNode
	for _, node := range m.nodes {
		if node.LocaleCode != locale {
			continue
		}
		switch mode {
		case data.TreeModeFolders:
			if !node.IsFolder {
				continue
			}
		case data.TreeModePages:
			if node.PageID == nil {
				continue
			}
		}
		match := false
		if parent == nil || *parent < 1 {
			match = node.Parent == nil
		} else {
			match = (node.Parent != nil && *node.Parent == *parent) || included[node.ID]
		}
		if match {
			out = append(out, node)
		}
	}
	return out, nil
}

func (m *mockTreeRepository) UpdateTitleForPage(_ context.Context, pageID int64, title string) error {
	for i := range m.nodes {
		if m.nodes[i].PageID != nil && *m.nodes[i].PageID == pageID {
			m.nodes[i].Title = title
		}
	}
	return nil
}

// mockFolderRepository is an in-memory implementation of FolderRepository.
type mockFolderRepository struct {
	folders map[int64]*data.Folder
	nextID  int64
}

var _ FolderRepository = (*mockFolderRepository)(nil)

func newMockFolderRepository() *mockFolderRepository {
	return &mockFolderRepository{folders: make(map[int64]*data.Folder)}
}

func (m *mockFolderRepository) Create(_ context.Context, folder *data.Folder) (int64, error) {
	m.nextID++
	stored := *folder
	stored.ID = m.nextID
	m.folders[m.nextID] = &stored
	return m.nextID, nil
}

func (m *mockFolderRepository) FindByPath(_ context.Context, locale, path string) (*data.Folder, error) {
	for _, folder := range m.folders {
		if folder.LocaleCode == locale && folder.Path == path {
			copied := *folder
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockFolderRepository) List(_ context.Context) ([]data.Folder, error) {
	out := make([]data.Folder, 0, len(m.folders))
	for _, folder := range m.folders {
		out = append(out, *folder)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocaleCode != out[j].LocaleCode {
			return out[i].LocaleCode < out[j].LocaleCode
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

func (m *mockFolderRepository) HasSubfolders(_ context.Context, locale, pathPrefix string) (bool, error) {
	for _, folder := range m.folders {
		if folder.LocaleCode == locale && strings.HasPrefix(folder.Path, pathPrefix+"/") {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockFolderRepository) Delete(_ context.Context, id int64) error {
	delete(m.folders, id)
	return nil
}

// mockTagRepository is an in-memory implementation of TagRepository.
type mockTagRepository struct {
	pageTags    map[int64][]string
	versionTags map[int64][]string
}

var _ TagRepository = (*mockTagRepository)(nil)

func newMockTagRepository() *mockTagRepository {
	return &mockTagRepository{
		pageTags:    make(map[int64][]string),
		versionTags: make(map[int64][]string),
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (m *mockTagRepository) ReplacePageTags(_ context.Context, pageID int64, tags []string) error {
	m.pageTags[pageID] = normalizeTags(tags)
	return nil
}

func (m *mockTagRepository) ReplaceVersionTags(_ context.Context, versionID int64, tags []string) error {
	m.versionTags[versionID] = normalizeTags(tags)
	return nil
}

func (m *mockTagRepository) PageTags(_ context.Context, pageID int64) ([]data.TagPair, error) {
	var pairs []data.TagPair
	for _, t := range m.pageTags[pageID] {
		pairs = append(pairs, data.TagPair{Tag: t, Title: t})
	}
	return pairs, nil
}

func (m *mockTagRepository) VersionTags(_ context.Context, versionID int64) ([]string, error) {
	return m.versionTags[versionID], nil
}

// grantAccess allows the listed capabilities to every subject, on every
// resource.
type grantAccess struct {
	capabilities map[string]bool
}

var _ auth.AccessControl = (*grantAccess)(nil)

func allow(capabilities ...string) *grantAccess {
	set := make(map[string]bool, len(capabilities))
	for _, capability := range capabilities {
		set[capability] = true
	}
	return &grantAccess{capabilities: set}
}

func (g *grantAccess) CheckAccess(_ auth.Subject, capabilities []string, _ auth.Resource) bool {
	for _, capability := range capabilities {
		if g.capabilities[capability] {
			return true
		}
	}
	return false
}

// recordingIndex records lifecycle notifications.
type recordingIndex struct {
	events []string
}

var _ search.Index = (*recordingIndex)(nil)

func (r *recordingIndex) Created(_ context.Context, pageID int64) error {
	r.events = append(r.events, fmt.Sprintf("created:%d", pageID))
	return nil
}

func (r *recordingIndex) Updated(_ context.Context, pageID int64) error {
	r.events = append(r.events, fmt.Sprintf("updated:%d", pageID))
	return nil
}

func (r *recordingIndex) Deleted(_ context.Context, pageID int64) error {
	r.events = append(r.events, fmt.Sprintf("deleted:%d", pageID))
	return nil
}

func (r *recordingIndex) Renamed(_ context.Context, pageID int64, oldLocale, oldPath string) error {
	r.events = append(r.events, fmt.Sprintf("renamed:%d:%s/%s", pageID, oldLocale, oldPath))
	return nil
}

func (r *recordingIndex) Query(_ context.Context, _, _ string) ([]search.Result, error) {
	return nil, nil
}

// memCache is a map-backed PageCache.
type memCache struct {
	blobs map[string][]byte
}

var _ PageCache = (*memCache)(nil)

func newMemCache() *memCache {
	return &memCache{blobs: make(map[string][]byte)}
}

func (c *memCache) Get(hash string) ([]byte, error) {
	return c.blobs[hash], nil
}

func (c *memCache) Put(hash string, blob []byte) error {
	c.blobs[hash] = blob
	return nil
}

func (c *memCache) Delete(hash string) error {
	delete(c.blobs, hash)
	return nil
}

func (c *memCache) Flush() error {
	c.blobs = make(map[string][]byte)
	return nil
}

// testEnv wires the workflow services over the in-memory mocks.
type testEnv struct {
	pages    *mockPageRepository
	history  *mockHistoryRepository
	tree     *mockTreeRepository
	folders  *mockFolderRepository
	tags     *mockTagRepository
	cache    *memCache
	search   *recordingIndex
	workflow *WorkflowService
	queries  *QueryService
	trail    *HistoryService
}

func newTestEnv(access auth.AccessControl) *testEnv {
	env := &testEnv{
		pages:   newMockPageRepository(),
		history: newMockHistoryRepository(),
		tree:    &mockTreeRepository{},
		folders: newMockFolderRepository(),
		tags:    newMockTagRepository(),
		cache:   newMemCache(),
		search:  &recordingIndex{},
	}
	log := logger.NewNop()
	deps := Collaborators{
		Access:   access,
		Search:   env.search,
		Renderer: render.NewService(),
		Bus:      events.NewLocalBus(),
		Storage:  NoopStorage{},
		Log:      log,
	}
	builder := NewTreeBuilder(env.pages, env.folders, env.tree, scheduler.New(log), log, 100)
	env.workflow = NewWorkflowService(env.pages, env.history, env.folders, env.tags, builder, env.cache, deps)
	env.queries = NewQueryService(env.pages, env.history, env.tree, env.tags, env.cache, deps)
	env.trail = NewHistoryService(env.history, env.tags, deps)
	return env
}
