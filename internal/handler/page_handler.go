package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/service"
)

// PageHandler holds the dependencies for the page API handlers.
type PageHandler struct {
	workflow *service.WorkflowService
	queries  *service.QueryService
	history  *service.HistoryService
	log      logger.Logger
}

// NewPageHandler creates a new PageHandler with the given dependencies.
func NewPageHandler(workflow *service.WorkflowService, queries *service.QueryService, history *service.HistoryService, log logger.Logger) *PageHandler {
	return &PageHandler{
		workflow: workflow,
		queries:  queries,
		history:  history,
		log:      log,
	}
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) *middleware.AppError {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to encode response", Code: http.StatusInternalServerError}
	}
	return nil
}

func decodeBody(r *http.Request, dst interface{}) *middleware.AppError {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid request body", Code: http.StatusBadRequest}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, *middleware.AppError) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, &middleware.AppError{Error: err, Message: "Invalid id", Code: http.StatusBadRequest}
	}
	return id, nil
}

// toAppError maps workflow failures to HTTP status codes.
func toAppError(err error) *middleware.AppError {
	var code int
	switch {
	case errors.Is(err, service.ErrPageNotFound),
		errors.Is(err, service.ErrVersionNotFound),
		errors.Is(err, service.ErrFolderNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrPageViewForbidden),
		errors.Is(err, service.ErrPageCreateForbidden),
		errors.Is(err, service.ErrPageUpdateForbidden),
		errors.Is(err, service.ErrPageDeleteForbidden),
		errors.Is(err, service.ErrPageMoveForbidden),
		errors.Is(err, service.ErrPageRestoreForbidden):
		code = http.StatusForbidden
	case errors.Is(err, service.ErrPageDuplicateCreate),
		errors.Is(err, service.ErrPagePathCollision),
		errors.Is(err, service.ErrFolderExists),
		errors.Is(err, service.ErrFolderPageConflict):
		code = http.StatusConflict
	case errors.Is(err, service.ErrPageIllegalPath),
		errors.Is(err, service.ErrPageEmptyContent),
		errors.Is(err, service.ErrNoPendingVersion),
		errors.Is(err, service.ErrFolderNotEmpty),
		errors.Is(err, service.ErrFolderHasChildren),
		errors.Is(err, service.ErrConversionUnsupported),
		errors.Is(err, service.ErrConversionNoRender),
		errors.Is(err, service.ErrInvalidRetention):
		code = http.StatusBadRequest
	default:
		return &middleware.AppError{Error: err, Message: "Internal Server Error", Code: http.StatusInternalServerError}
	}
	return &middleware.AppError{Error: err, Message: err.Error(), Code: code}
}

// viewHandler serves a page through the binary read-through cache.
func (h *PageHandler) viewHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	locale := chi.URLParam(r, "locale")
	path := chi.URLParam(r, "*")
	page, err := h.queries.GetPage(r.Context(), service.PageLocator{
		Path:      path,
		Locale:    locale,
		PrivateNS: r.URL.Query().Get("ns"),
	})
	if err != nil {
		return toAppError(err)
	}
	if page == nil {
		return &middleware.AppError{Error: service.ErrPageNotFound, Message: "Page not found", Code: http.StatusNotFound}
	}
	return writeJSON(w, http.StatusOK, page)
}

type createRequest struct {
	Path             string   `json:"path"`
	Locale           string   `json:"locale"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Content          string   `json:"content"`
	ContentType      string   `json:"contentType"`
	EditorKey        string   `json:"editor"`
	IsPublished      bool     `json:"isPublished"`
	IsPrivate        bool     `json:"isPrivate"`
	PrivateNS        string   `json:"privateNS"`
	PublishStartDate string   `json:"publishStartDate"`
	PublishEndDate   string   `json:"publishEndDate"`
	Tags             []string `json:"tags"`
	ScriptCSS        string   `json:"scriptCss"`
	ScriptJS         string   `json:"scriptJs"`
}

func (h *PageHandler) createHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req createRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	page, err := h.workflow.Create(r.Context(), service.CreateOptions{
		Path:             req.Path,
		Locale:           req.Locale,
		Title:            req.Title,
		Description:      req.Description,
		Content:          req.Content,
		ContentType:      req.ContentType,
		EditorKey:        req.EditorKey,
		IsPublished:      req.IsPublished,
		IsPrivate:        req.IsPrivate,
		PrivateNS:        req.PrivateNS,
		PublishStartDate: req.PublishStartDate,
		PublishEndDate:   req.PublishEndDate,
		Tags:             req.Tags,
		ScriptCSS:        req.ScriptCSS,
		ScriptJS:         req.ScriptJS,
	}, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusCreated, page)
}

type updateRequest struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Content           string   `json:"content"`
	ContentType       string   `json:"contentType"`
	EditorKey         string   `json:"editor"`
	IsPublished       bool     `json:"isPublished"`
	PublishStartDate  string   `json:"publishStartDate"`
	PublishEndDate    string   `json:"publishEndDate"`
	Tags              []string `json:"tags"`
	ScriptCSS         *string  `json:"scriptCss"`
	ScriptJS          *string  `json:"scriptJs"`
	ApprovalComment   string   `json:"approvalComment"`
	KeepPending       bool     `json:"keepPending"`
	DestinationPath   string   `json:"destinationPath"`
	DestinationLocale string   `json:"destinationLocale"`
}

func (h *PageHandler) updateHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	var req updateRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	page, err := h.workflow.Update(r.Context(), service.UpdateOptions{
		ID:                id,
		Title:             req.Title,
		Description:       req.Description,
		Content:           req.Content,
		ContentType:       req.ContentType,
		EditorKey:         req.EditorKey,
		IsPublished:       req.IsPublished,
		PublishStartDate:  req.PublishStartDate,
		PublishEndDate:    req.PublishEndDate,
		Tags:              req.Tags,
		ScriptCSS:         req.ScriptCSS,
		ScriptJS:          req.ScriptJS,
		ApprovalComment:   req.ApprovalComment,
		KeepPending:       req.KeepPending,
		DestinationPath:   req.DestinationPath,
		DestinationLocale: req.DestinationLocale,
	}, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) approveHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	var req struct {
		Comment string `json:"comment"`
		Publish bool   `json:"publish"`
	}
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	page, err := h.workflow.Approve(r.Context(), id, req.Comment, req.Publish, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) rejectHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	var req struct {
		Comment string `json:"comment"`
	}
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	page, err := h.workflow.Reject(r.Context(), id, req.Comment, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) cancelHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	page, err := h.workflow.CancelPending(r.Context(), id, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) moveHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	var req struct {
		DestinationPath   string `json:"destinationPath"`
		DestinationLocale string `json:"destinationLocale"`
	}
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	page, err := h.workflow.Move(r.Context(), service.MoveOptions{
		ID:                id,
		DestinationPath:   req.DestinationPath,
		DestinationLocale: req.DestinationLocale,
	}, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) deleteHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	if err := h.workflow.Delete(r.Context(), id, middleware.GetSubject(r.Context())); err != nil {
		return toAppError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *PageHandler) restoreHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	versionID, appErr := pathID(r, "versionId")
	if appErr != nil {
		return appErr
	}
	page, err := h.workflow.Restore(r.Context(), id, versionID, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) convertHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	var req struct {
		ContentType string `json:"contentType"`
	}
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	page, err := h.workflow.Convert(r.Context(), id, req.ContentType, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) singleHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	page, err := h.queries.Single(r.Context(), id, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) singleByPathHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	locale := chi.URLParam(r, "locale")
	path := chi.URLParam(r, "*")
	page, err := h.queries.SingleByPath(r.Context(), locale, path, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, page)
}

func (h *PageHandler) listHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	q := r.URL.Query()
	filter := data.ListFilter{
		Locale:         q.Get("locale"),
		ApprovalStatus: q.Get("approvalStatus"),
		OrderBy:        q.Get("orderBy"),
		OrderDesc:      q.Get("orderDesc") == "true",
	}
	if tags, ok := q["tags"]; ok {
		filter.Tags = tags
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if creatorID, err := strconv.ParseInt(q.Get("creatorId"), 10, 64); err == nil {
		filter.CreatorID = creatorID
	}
	if authorID, err := strconv.ParseInt(q.Get("authorId"), 10, 64); err == nil {
		filter.AuthorID = authorID
	}
	pages, err := h.queries.List(r.Context(), filter, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, pages)
}

func (h *PageHandler) searchHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	results, err := h.queries.Search(r.Context(), r.URL.Query().Get("q"), r.URL.Query().Get("locale"), middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, results)
}

func (h *PageHandler) treeHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	q := r.URL.Query()
	query := service.TreeQuery{
		Locale:           q.Get("locale"),
		Path:             q.Get("path"),
		Mode:             q.Get("mode"),
		IncludeAncestors: q.Get("includeAncestors") == "true",
	}
	if parent, err := strconv.ParseInt(q.Get("parent"), 10, 64); err == nil {
		query.Parent = &parent
	}
	nodes, err := h.queries.Tree(r.Context(), query, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, nodes)
}

func (h *PageHandler) historyHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	offsetPage, _ := strconv.Atoi(r.URL.Query().Get("offsetPage"))
	offsetSize, _ := strconv.Atoi(r.URL.Query().Get("offsetSize"))
	trail, total, err := h.history.GetHistory(r.Context(), id, offsetPage, offsetSize)
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"trail": trail,
		"total": total,
	})
}

func (h *PageHandler) versionHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	versionID, appErr := pathID(r, "versionId")
	if appErr != nil {
		return appErr
	}
	version, err := h.history.GetVersion(r.Context(), id, versionID)
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, version)
}

func (h *PageHandler) approvalQueueHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	q := r.URL.Query()
	items, err := h.queries.ApprovalQueue(r.Context(), data.ApprovalQueueFilter{
		Locale:     q.Get("locale"),
		Status:     q.Get("status"),
		PathPrefix: q.Get("path"),
	}, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, items)
}

func (h *PageHandler) approvalDetailHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := pathID(r, "id")
	if appErr != nil {
		return appErr
	}
	detail, err := h.queries.GetApprovalDetail(r.Context(), id, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, detail)
}

func (h *PageHandler) createFolderHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req struct {
		Locale string `json:"locale"`
		Path   string `json:"path"`
		Title  string `json:"title"`
	}
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	folder, err := h.workflow.CreateFolder(r.Context(), req.Locale, req.Path, req.Title, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusCreated, folder)
}

func (h *PageHandler) deleteFolderHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	locale := r.URL.Query().Get("locale")
	path := r.URL.Query().Get("path")
	if err := h.workflow.DeleteFolder(r.Context(), locale, path, middleware.GetSubject(r.Context())); err != nil {
		return toAppError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *PageHandler) migrateLocaleHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req struct {
		SourceLocale string `json:"sourceLocale"`
		TargetLocale string `json:"targetLocale"`
	}
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	if err := h.workflow.MigrateToLocale(r.Context(), req.SourceLocale, req.TargetLocale, middleware.GetSubject(r.Context())); err != nil {
		return toAppError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *PageHandler) purgeHistoryHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	var req struct {
		OlderThan string `json:"olderThan"`
	}
	if appErr := decodeBody(r, &req); appErr != nil {
		return appErr
	}
	deleted, err := h.history.PurgeNow(r.Context(), req.OlderThan, middleware.GetSubject(r.Context()))
	if err != nil {
		return toAppError(err)
	}
	return writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *PageHandler) flushCacheHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	if err := h.queries.FlushCache(r.Context(), middleware.GetSubject(r.Context())); err != nil {
		return toAppError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
