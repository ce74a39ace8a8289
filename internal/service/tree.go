package service

import (
	"context"
	"strings"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/scheduler"
)

// BuildTree derives the full navigation tree from the flat page list and
// the manually declared folders. Pages must arrive ordered by
// (locale, path) so parents are materialized before their children.
//
// Every intermediate path segment becomes a folder node. A node backing a
// page is promoted to a folder when a deeper page appears under its path;
// promotion never reverses, and the page linkage survives it. Manual
// folders are overlaid second: they force folder status and override the
// derived title at their exact path.
func BuildTree(pages []data.TreePageRow, folders []data.Folder) []data.TreeNode {
	var nodes []*data.TreeNode
	index := make(map[string]*data.TreeNode)
	var nextID int64

	for i := range pages {
		page := &pages[i]
		segments := strings.Split(page.Path, "/")
		currentPath := ""
		var parent *int64
		ancestors := data.Int64List{}
		for depth, segment := range segments {
			isFolder := depth < len(segments)-1
			if currentPath == "" {
				currentPath = segment
			} else {
				currentPath += "/" + segment
			}
			key := page.LocaleCode + "/" + currentPath
			node, ok := index[key]
			if !ok {
				nextID++
				node = &data.TreeNode{
					ID:         nextID,
					LocaleCode: page.LocaleCode,
					Path:       currentPath,
					Depth:      depth + 1,
					Title:      segment,
					IsFolder:   isFolder,
					Parent:     parent,
					Ancestors:  append(data.Int64List{}, ancestors...),
				}
				if !isFolder {
					node.Title = page.Title
					node.IsPrivate = page.IsPrivate
					if page.PrivateNS != "" {
						ns := page.PrivateNS
						node.PrivateNS = &ns
					}
					pageID := page.ID
					node.PageID = &pageID
				}
				index[key] = node
				nodes = append(nodes, node)
			} else if isFolder && !node.IsFolder {
				node.IsFolder = true
			} else if !isFolder && node.PageID == nil {
				// A folder node created by a deeper sibling turns out to
				// also be a page.
				node.Title = page.Title
				node.IsPrivate = page.IsPrivate
				if page.PrivateNS != "" {
					ns := page.PrivateNS
					node.PrivateNS = &ns
				}
				pageID := page.ID
				node.PageID = &pageID
			}
			nodeID := node.ID
			parent = &nodeID
			ancestors = append(ancestors, node.ID)
		}
	}

	for i := range folders {
		folder := &folders[i]
		segments := strings.Split(folder.Path, "/")
		currentPath := ""
		var parent *int64
		ancestors := data.Int64List{}
		for depth, segment := range segments {
			isLeaf := depth == len(segments)-1
			if currentPath == "" {
				currentPath = segment
			} else {
				currentPath += "/" + segment
			}
			key := folder.LocaleCode + "/" + currentPath
			node, ok := index[key]
			if !ok {
				nextID++
				node = &data.TreeNode{
					ID:         nextID,
					LocaleCode: folder.LocaleCode,
					Path:       currentPath,
					Depth:      depth + 1,
					Title:      segment,
					IsFolder:   true,
					Parent:     parent,
					Ancestors:  append(data.Int64List{}, ancestors...),
				}
				index[key] = node
				nodes = append(nodes, node)
			} else {
				node.IsFolder = true
			}
			if isLeaf && folder.Title != "" {
				node.Title = folder.Title
			}
			nodeID := node.ID
			parent = &nodeID
			ancestors = append(ancestors, node.ID)
		}
	}

	out := make([]data.TreeNode, len(nodes))
	for i, node := range nodes {
		out[i] = *node
	}
	return out
}

// TreeBuilder regenerates the materialized navigation tree. Rebuilds are
// destructive whole-table replacements dispatched as background jobs;
// callers that need the fresh tree await the returned job handle.
type TreeBuilder struct {
	pages     PageRepository
	folders   FolderRepository
	tree      TreeRepository
	scheduler *scheduler.Scheduler
	log       logger.Logger
	chunkSize int
}

// NewTreeBuilder creates a TreeBuilder. chunkSize bounds the rows per bulk
// insert and should match the parameter ceiling of the storage backend.
func NewTreeBuilder(pages PageRepository, folders FolderRepository, tree TreeRepository, sched *scheduler.Scheduler, log logger.Logger, chunkSize int) *TreeBuilder {
	return &TreeBuilder{
		pages:     pages,
		folders:   folders,
		tree:      tree,
		scheduler: sched,
		log:       log,
		chunkSize: chunkSize,
	}
}

// Rebuild regenerates and persists the whole tree synchronously.
func (b *TreeBuilder) Rebuild(ctx context.Context) error {
	pages, err := b.pages.ListForTree(ctx)
	if err != nil {
		return err
	}
	folders, err := b.folders.List(ctx)
	if err != nil {
		return err
	}
	nodes := BuildTree(pages, folders)
	if err := b.tree.Replace(ctx, nodes, b.chunkSize); err != nil {
		return err
	}
	b.log.Debug("Page tree rebuilt")
	return nil
}

// UpdatePageTitle patches the title of the tree node backing a page,
// avoiding a full rebuild when only the title changed.
func (b *TreeBuilder) UpdatePageTitle(ctx context.Context, pageID int64, title string) error {
	return b.tree.UpdateTitleForPage(ctx, pageID, title)
}

// ScheduleRebuild dispatches a rebuild as a background job and returns its
// awaitable handle. Overlapping rebuilds are not serialized against each
// other.
func (b *TreeBuilder) ScheduleRebuild(ctx context.Context) (*scheduler.Job, error) {
	return b.scheduler.RegisterJob(ctx, scheduler.JobSpec{
		Name: "rebuild-page-tree",
		Run:  b.Rebuild,
	})
}
