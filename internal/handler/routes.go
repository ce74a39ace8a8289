package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"go-wiki-engine/internal/middleware"
)

// NewRouter creates and configures a new chi router.
func NewRouter(pageHandler *PageHandler, errorMiddleware func(middleware.AppHandler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Identity)

	wrap := errorMiddleware

	// Cached page reads
	r.Method(http.MethodGet, "/p/{locale}/*", wrap(pageHandler.viewHandler))

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/pages", wrap(pageHandler.listHandler))
		r.Method(http.MethodPost, "/pages", wrap(pageHandler.createHandler))
		r.Method(http.MethodGet, "/pages/by-path/{locale}/*", wrap(pageHandler.singleByPathHandler))
		r.Method(http.MethodGet, "/pages/{id}", wrap(pageHandler.singleHandler))
		r.Method(http.MethodPut, "/pages/{id}", wrap(pageHandler.updateHandler))
		r.Method(http.MethodDelete, "/pages/{id}", wrap(pageHandler.deleteHandler))
		r.Method(http.MethodPost, "/pages/{id}/approve", wrap(pageHandler.approveHandler))
		r.Method(http.MethodPost, "/pages/{id}/reject", wrap(pageHandler.rejectHandler))
		r.Method(http.MethodPost, "/pages/{id}/cancel", wrap(pageHandler.cancelHandler))
		r.Method(http.MethodPost, "/pages/{id}/move", wrap(pageHandler.moveHandler))
		r.Method(http.MethodPost, "/pages/{id}/convert", wrap(pageHandler.convertHandler))
		r.Method(http.MethodPost, "/pages/{id}/restore/{versionId}", wrap(pageHandler.restoreHandler))
		r.Method(http.MethodGet, "/pages/{id}/history", wrap(pageHandler.historyHandler))
		r.Method(http.MethodGet, "/pages/{id}/history/{versionId}", wrap(pageHandler.versionHandler))

		r.Method(http.MethodGet, "/approvals", wrap(pageHandler.approvalQueueHandler))
		r.Method(http.MethodGet, "/approvals/{id}", wrap(pageHandler.approvalDetailHandler))

		r.Method(http.MethodGet, "/tree", wrap(pageHandler.treeHandler))
		r.Method(http.MethodGet, "/search", wrap(pageHandler.searchHandler))

		r.Method(http.MethodPost, "/folders", wrap(pageHandler.createFolderHandler))
		r.Method(http.MethodDelete, "/folders", wrap(pageHandler.deleteFolderHandler))

		r.Method(http.MethodPost, "/locales/migrate", wrap(pageHandler.migrateLocaleHandler))
		r.Method(http.MethodPost, "/history/purge", wrap(pageHandler.purgeHistoryHandler))
		r.Method(http.MethodPost, "/cache/flush", wrap(pageHandler.flushCacheHandler))
	})

	return r
}
