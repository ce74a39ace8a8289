package service

import (
	"context"
	"fmt"
	"time"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/events"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/render"
	"go-wiki-engine/internal/search"
)

// PageRepository is the page store consumed by the workflow services.
type PageRepository interface {
	Create(ctx context.Context, page *data.Page) (int64, error)
	GetByID(ctx context.Context, id int64) (*data.Page, error)
	FindByPath(ctx context.Context, locale, path string) (*data.Page, error)
	GetDetailed(ctx context.Context, id int64) (*data.Page, error)
	GetDetailedByPath(ctx context.Context, locale, path string) (*data.Page, error)
	Update(ctx context.Context, page *data.Page) error
	PatchApproval(ctx context.Context, id int64, status string, pendingVersionID, approverID *int64, comment string) error
	PatchPathInfo(ctx context.Context, id int64, locale, path, title, hash string) error
	PatchConversion(ctx context.Context, id int64, contentType, editorKey string, content *string) error
	PatchRender(ctx context.Context, id int64, render, toc string) error
	Delete(ctx context.Context, id int64) error
	ListForTree(ctx context.Context) ([]data.TreePageRow, error)
	HasPagesUnder(ctx context.Context, locale, pathPrefix string) (bool, error)
	MigrateLocale(ctx context.Context, sourceLocale, targetLocale string) error
	ReplaceRenderLinks(ctx context.Context, locale, path, from, to string) ([]string, error)
	ReplacePageLinks(ctx context.Context, pageID int64, links []data.PageLink) error
	RetargetPageLinks(ctx context.Context, oldLocale, oldPath, newLocale, newPath string) error
	List(ctx context.Context, filter data.ListFilter) ([]*data.PageListItem, error)
	ApprovalQueue(ctx context.Context, filter data.ApprovalQueueFilter) ([]data.ApprovalQueueRow, error)
}

// HistoryRepository is the append-only version store consumed by the
// workflow services.
type HistoryRepository interface {
	Add(ctx context.Context, v *data.PageVersion) (int64, error)
	Get(ctx context.Context, pageID, versionID int64) (*data.PageVersion, error)
	GetByID(ctx context.Context, versionID int64) (*data.PageVersion, error)
	PatchPending(ctx context.Context, versionID int64, patch data.PendingPatch) error
	SetWorkflowStatus(ctx context.Context, versionID int64, workflowStatus, action string, extra *data.PageExtra) error
	ListMeta(ctx context.Context, pageID int64, offsetPage, offsetSize int) ([]data.VersionMeta, int, error)
	PeekOlder(ctx context.Context, pageID int64, offsetPage, offsetSize int) (*data.VersionMeta, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TreeRepository persists the materialized navigation tree.
type TreeRepository interface {
	Replace(ctx context.Context, nodes []data.TreeNode, chunkSize int) error
	FindByPath(ctx context.Context, locale, path string) (*data.TreeNode, error)
	ListChildren(ctx context.Context, locale string, parent *int64, mode string, includeIDs []int64) ([]data.TreeNode, error)
	UpdateTitleForPage(ctx context.Context, pageID int64, title string) error
}

// FolderRepository stores manually declared folders.
type FolderRepository interface {
	Create(ctx context.Context, folder *data.Folder) (int64, error)
	FindByPath(ctx context.Context, locale, path string) (*data.Folder, error)
	List(ctx context.Context) ([]data.Folder, error)
	HasSubfolders(ctx context.Context, locale, pathPrefix string) (bool, error)
	Delete(ctx context.Context, id int64) error
}

// TagRepository manages tag associations for pages and history entries.
type TagRepository interface {
	ReplacePageTags(ctx context.Context, pageID int64, tags []string) error
	ReplaceVersionTags(ctx context.Context, versionID int64, tags []string) error
	PageTags(ctx context.Context, pageID int64) ([]data.TagPair, error)
	VersionTags(ctx context.Context, versionID int64) ([]string, error)
}

// PageCache is the blob cache consumed by the read path and invalidated by
// the workflow. A Get miss returns (nil, nil).
type PageCache interface {
	Get(hash string) ([]byte, error)
	Put(hash string, blob []byte) error
	Delete(hash string) error
	Flush() error
}

// StorageSink receives page lifecycle events so external storage targets
// (git mirrors, dumps) can follow along. Events are "created", "updated",
// "renamed" and "deleted".
type StorageSink interface {
	PageEvent(ctx context.Context, event string, page *data.Page) error
}

// NoopStorage is the StorageSink used when no storage target is configured.
type NoopStorage struct{}

// PageEvent discards the event.
func (NoopStorage) PageEvent(context.Context, string, *data.Page) error { return nil }

// Collaborators bundles the cross-cutting dependencies shared by the
// workflow, history and query services.
type Collaborators struct {
	Access   auth.AccessControl
	Search   search.Index
	Renderer render.Renderer
	Bus      events.Bus
	Storage  StorageSink
	Log      logger.Logger
}

// BindCacheInvalidation subscribes the local cache store to the
// invalidation events emitted by every node, this one included. Handlers
// are idempotent so duplicate delivery is harmless.
func BindCacheInvalidation(ctx context.Context, bus events.Bus, store PageCache, log logger.Logger) error {
	if err := bus.Subscribe(ctx, events.EventDeletePageFromCache, func(hash string) {
		if err := store.Delete(hash); err != nil {
			log.Error(err, fmt.Sprintf("Failed to evict cached page %s", hash))
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to cache eviction events: %w", err)
	}
	if err := bus.Subscribe(ctx, events.EventFlushCache, func(string) {
		if err := store.Flush(); err != nil {
			log.Error(err, "Failed to flush page cache")
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to cache flush events: %w", err)
	}
	return nil
}
