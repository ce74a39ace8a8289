package service

import "errors"

// Typed failures returned by workflow operations. All are detected before
// any mutation, so a failing operation performs no partial writes of its
// own.
var (
	ErrPageNotFound    = errors.New("page not found")
	ErrVersionNotFound = errors.New("page version not found")
	ErrFolderNotFound  = errors.New("folder not found")

	ErrPageViewForbidden    = errors.New("page view forbidden")
	ErrPageCreateForbidden  = errors.New("page create forbidden")
	ErrPageUpdateForbidden  = errors.New("page update forbidden")
	ErrPageDeleteForbidden  = errors.New("page delete forbidden")
	ErrPageMoveForbidden    = errors.New("page move forbidden")
	ErrPageRestoreForbidden = errors.New("page restore forbidden")

	ErrPageIllegalPath     = errors.New("page path contains illegal characters or segments")
	ErrPageDuplicateCreate = errors.New("a page already exists at this path")
	ErrPageEmptyContent    = errors.New("page content cannot be empty")
	ErrPagePathCollision   = errors.New("destination path is already occupied")

	ErrNoPendingVersion   = errors.New("no pending version exists for this page")
	ErrPendingVersionGone = errors.New("pending version content was not found")

	ErrRenderMissing = errors.New("page has no rendered version; edit and save the page to re-render it")

	ErrFolderExists       = errors.New("folder already exists")
	ErrFolderPageConflict = errors.New("a page already exists at this path")
	ErrFolderNotEmpty     = errors.New("folder is not empty")
	ErrFolderHasChildren  = errors.New("folder contains subfolders")

	ErrConversionUnsupported = errors.New("unsupported source / destination content type combination")
	ErrConversionNoRender    = errors.New("conversion aborted because rendered page content is empty")

	ErrInvalidRetention = errors.New("retention period is not a valid ISO 8601 duration")
)
