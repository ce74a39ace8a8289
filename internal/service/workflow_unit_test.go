//go:build unit

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/data"
)

var (
	editorCaps    = []string{auth.CapReadPages, auth.CapWritePages}
	publisherCaps = []string{auth.CapReadPages, auth.CapWritePages, auth.CapPublishPages, auth.CapWriteStyles, auth.CapWriteScripts}
	approverCaps  = []string{auth.CapReadPages, auth.CapWritePages, auth.CapApprovePages}
	managerCaps   = []string{auth.CapReadPages, auth.CapWritePages, auth.CapPublishPages, auth.CapApprovePages, auth.CapManagePages, auth.CapDeletePages, auth.CapManageSystem}
)

func basicCreate(path, content string) CreateOptions {
	return CreateOptions{
		Path:        path,
		Locale:      "en",
		Title:       "Test Page",
		Description: "A test page",
		Content:     content,
		ContentType: "markdown",
		EditorKey:   "markdown",
		IsPublished: true,
	}
}

func TestCreateByPublisher(t *testing.T) {
	env := newTestEnv(allow(publisherCaps...))
	actor := auth.Subject{ID: 1, Name: "alice"}

	page, err := env.workflow.Create(context.Background(), basicCreate("guides/setup", "# Setup\n\nInstall things."), actor)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	t.Run("page is live and approved", func(t *testing.T) {
		if page.Content == "" {
			t.Error("expected live content on the page")
		}
		if !page.IsPublished {
			t.Error("expected page to be published")
		}
		if page.ApprovalStatus != data.ApprovalApproved {
			t.Errorf("expected approval status %q, got %q", data.ApprovalApproved, page.ApprovalStatus)
		}
		if page.PendingVersionID != nil {
			t.Error("expected no pending version linkage")
		}
		if page.ApproverID == nil || *page.ApproverID != actor.ID {
			t.Error("expected the creator to self-approve")
		}
		if page.Render == "" {
			t.Error("expected rendered output to be stored")
		}
	})

	t.Run("initial history entry is approved", func(t *testing.T) {
		if len(env.history.entries) != 1 {
			t.Fatalf("expected 1 history entry, got %d", len(env.history.entries))
		}
		v := env.history.entries[1]
		if v.Action != data.ActionCreated {
			t.Errorf("expected action %q, got %q", data.ActionCreated, v.Action)
		}
		if v.WorkflowStatus != data.WorkflowApproved {
			t.Errorf("expected workflow status %q, got %q", data.WorkflowApproved, v.WorkflowStatus)
		}
	})

	t.Run("tree was rebuilt", func(t *testing.T) {
		if env.tree.replaceCalls == 0 {
			t.Error("expected a tree rebuild")
		}
	})
}

func TestCreateByEditorIsPendingShell(t *testing.T) {
	env := newTestEnv(allow(editorCaps...))
	actor := auth.Subject{ID: 2, Name: "bob"}

	page, err := env.workflow.Create(context.Background(), basicCreate("guides/draft", "Proposed content."), actor)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if page.Content != "" {
		t.Errorf("expected an empty content shell, got %q", page.Content)
	}
	if page.IsPublished {
		t.Error("expected the shell to stay unpublished")
	}
	if page.ApprovalStatus != data.ApprovalPending {
		t.Errorf("expected approval status %q, got %q", data.ApprovalPending, page.ApprovalStatus)
	}
	if page.PendingVersionID == nil {
		t.Fatal("expected a pending version linkage")
	}

	pending := env.history.entries[*page.PendingVersionID]
	if pending == nil {
		t.Fatal("pending version not found in history")
	}
	if pending.Content != "Proposed content." {
		t.Errorf("expected the proposal to carry the content, got %q", pending.Content)
	}
	if !pending.IsPublished {
		t.Error("expected the proposal to carry the requested publish flag")
	}
	if pending.Action != data.ActionSubmitted {
		t.Errorf("expected action %q, got %q", data.ActionSubmitted, pending.Action)
	}
	if pending.WorkflowStatus != data.WorkflowPending {
		t.Errorf("expected workflow status %q, got %q", data.WorkflowPending, pending.WorkflowStatus)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Run("forbidden without write capability", func(t *testing.T) {
		env := newTestEnv(allow(auth.CapReadPages))
		_, err := env.workflow.Create(context.Background(), basicCreate("guides/x", "content"), auth.Subject{ID: 3})
		if !errors.Is(err, ErrPageCreateForbidden) {
			t.Errorf("expected ErrPageCreateForbidden, got %v", err)
		}
	})

	t.Run("duplicate path", func(t *testing.T) {
		env := newTestEnv(allow(publisherCaps...))
		actor := auth.Subject{ID: 1}
		if _, err := env.workflow.Create(context.Background(), basicCreate("guides/x", "content"), actor); err != nil {
			t.Fatalf("first create failed: %v", err)
		}
		_, err := env.workflow.Create(context.Background(), basicCreate("guides/x", "other"), actor)
		if !errors.Is(err, ErrPageDuplicateCreate) {
			t.Errorf("expected ErrPageDuplicateCreate, got %v", err)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		env := newTestEnv(allow(publisherCaps...))
		_, err := env.workflow.Create(context.Background(), basicCreate("guides/y", "   "), auth.Subject{ID: 1})
		if !errors.Is(err, ErrPageEmptyContent) {
			t.Errorf("expected ErrPageEmptyContent, got %v", err)
		}
	})

	t.Run("illegal path", func(t *testing.T) {
		env := newTestEnv(allow(publisherCaps...))
		for _, path := range []string{"", ".", "a//b", `a\b`, "a b"} {
			if _, err := env.workflow.Create(context.Background(), basicCreate(path, "content"), auth.Subject{ID: 1}); !errors.Is(err, ErrPageIllegalPath) {
				t.Errorf("path %q: expected ErrPageIllegalPath, got %v", path, err)
			}
		}
	})
}

func TestResubmissionPatchesPendingInPlace(t *testing.T) {
	env := newTestEnv(allow(editorCaps...))
	actor := auth.Subject{ID: 2, Name: "bob"}
	ctx := context.Background()

	page, err := env.workflow.Create(ctx, basicCreate("guides/draft", "First draft."), actor)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	firstPendingID := *page.PendingVersionID

	page, err = env.workflow.Update(ctx, UpdateOptions{
		ID:          page.ID,
		Title:       "Test Page",
		Content:     "Second draft.",
		ContentType: "markdown",
		EditorKey:   "markdown",
		IsPublished: true,
	}, actor)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if len(env.history.entries) != 1 {
		t.Fatalf("expected resubmission to reuse the pending entry, got %d entries", len(env.history.entries))
	}
	if page.PendingVersionID == nil || *page.PendingVersionID != firstPendingID {
		t.Error("expected the pending linkage to stay on the same entry")
	}
	if got := env.history.entries[firstPendingID].Content; got != "Second draft." {
		t.Errorf("expected the pending entry to hold the resubmitted content, got %q", got)
	}
	if page.Content != "" {
		t.Error("live content must stay untouched by a pending save")
	}
}

func TestPublisherSaveSupersedesPending(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	editor := auth.Subject{ID: 2, Name: "bob"}
	publisher := auth.Subject{ID: 1, Name: "alice"}
	ctx := context.Background()

	page, err := env.workflow.Create(ctx, basicCreate("guides/page", "Live content."), publisher)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	page, err = env.workflow.Update(ctx, UpdateOptions{
		ID:          page.ID,
		Title:       "Test Page",
		Content:     "Proposed change.",
		ContentType: "markdown",
		KeepPending: true,
	}, editor)
	if err != nil {
		t.Fatalf("pending save failed: %v", err)
	}
	pendingID := *page.PendingVersionID

	page, err = env.workflow.Update(ctx, UpdateOptions{
		ID:          page.ID,
		Title:       "Test Page",
		Content:     "Direct save.",
		ContentType: "markdown",
		IsPublished: true,
	}, publisher)
	if err != nil {
		t.Fatalf("direct save failed: %v", err)
	}

	if page.Content != "Direct save." {
		t.Errorf("expected the direct save to win, got %q", page.Content)
	}
	if page.PendingVersionID != nil {
		t.Error("expected the pending linkage to be cleared")
	}
	superseded := env.history.entries[pendingID]
	if superseded.WorkflowStatus != data.WorkflowApproved || superseded.Action != data.ActionApproved {
		t.Errorf("expected the superseded proposal to settle as approved, got %s/%s",
			superseded.WorkflowStatus, superseded.Action)
	}
}

func TestApprovePublishesPendingVersion(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	actor := auth.Subject{ID: 5, Name: "carol"}
	ctx := context.Background()

	// Seed the shell directly so the test controls the pending payload.
	pageID, _ := env.pages.Create(ctx, &data.Page{
		Path:           "guides/draft",
		Hash:           data.PageHash("guides/draft", "en", ""),
		LocaleCode:     "en",
		Title:          "Old Title",
		ContentType:    "markdown",
		AuthorID:       2,
		CreatorID:      2,
		ApprovalStatus: data.ApprovalPending,
	})
	versionID, _ := env.history.Add(ctx, &data.PageVersion{
		PageID:         pageID,
		Path:           "guides/draft",
		LocaleCode:     "en",
		Title:          "New Title",
		Content:        "Approved content.",
		ContentType:    "markdown",
		IsPublished:    true,
		AuthorID:       2,
		Action:         data.ActionSubmitted,
		WorkflowStatus: data.WorkflowPending,
		Extra:          data.PageExtra{CSS: "body{}", ApprovalComment: "please review"},
	})
	_ = env.tags.ReplaceVersionTags(ctx, versionID, []string{"setup", "howto"})
	_ = env.pages.PatchApproval(ctx, pageID, data.ApprovalPending, &versionID, nil, "")

	page, err := env.workflow.Approve(ctx, pageID, "looks good", false, actor)
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	if page.Content != "Approved content." {
		t.Errorf("expected the pending content to go live, got %q", page.Content)
	}
	if page.Title != "New Title" {
		t.Errorf("expected the pending title to go live, got %q", page.Title)
	}
	if page.IsPublished {
		t.Error("expected the publish state to stay with the live page")
	}
	if page.ApprovalStatus != data.ApprovalApproved {
		t.Errorf("expected approval status %q, got %q", data.ApprovalApproved, page.ApprovalStatus)
	}
	if page.PendingVersionID != nil {
		t.Error("expected the pending linkage to be cleared")
	}
	if page.ApproverID == nil || *page.ApproverID != actor.ID {
		t.Error("expected the approver to be recorded")
	}
	if page.Extra.CSS != "body{}" {
		t.Errorf("expected the proposal extras to go live, got %q", page.Extra.CSS)
	}
	if page.AuthorID != 2 {
		t.Errorf("expected authorship to stay with the submitter, got %d", page.AuthorID)
	}

	settled := env.history.entries[versionID]
	if settled.WorkflowStatus != data.WorkflowApproved || settled.Action != data.ActionApproved {
		t.Errorf("expected the entry to settle as approved, got %s/%s", settled.WorkflowStatus, settled.Action)
	}
	if settled.Extra.ApprovalComment != "looks good" {
		t.Errorf("expected the decision comment on the entry, got %q", settled.Extra.ApprovalComment)
	}
	if tags := env.tags.pageTags[pageID]; len(tags) != 2 {
		t.Errorf("expected the proposal tags to transfer to the page, got %v", tags)
	}
}

func TestApproveKeepsLivePublishState(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()

	pageID, _ := env.pages.Create(ctx, &data.Page{
		Path:           "guides/live",
		Hash:           data.PageHash("guides/live", "en", ""),
		LocaleCode:     "en",
		Title:          "Live",
		Content:        "Live content.",
		ContentType:    "markdown",
		IsPublished:    true,
		AuthorID:       2,
		CreatorID:      2,
		ApprovalStatus: data.ApprovalApproved,
	})
	versionID, _ := env.history.Add(ctx, &data.PageVersion{
		PageID:         pageID,
		Path:           "guides/live",
		LocaleCode:     "en",
		Title:          "Live",
		Content:        "Proposed change.",
		ContentType:    "markdown",
		IsPublished:    false,
		AuthorID:       2,
		Action:         data.ActionSubmitted,
		WorkflowStatus: data.WorkflowPending,
	})
	_ = env.pages.PatchApproval(ctx, pageID, data.ApprovalPending, &versionID, nil, "")

	page, err := env.workflow.Approve(ctx, pageID, "", false, auth.Subject{ID: 5, Name: "carol"})
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if !page.IsPublished {
		t.Error("approving a proposal must not unpublish a live page")
	}
	if page.Content != "Proposed change." {
		t.Errorf("expected the pending content to go live, got %q", page.Content)
	}
}

func TestApproveWithoutPendingPublishesDraft(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()
	actor := auth.Subject{ID: 5, Name: "carol"}

	opts := basicCreate("guides/unlisted", "Draft body.")
	opts.IsPublished = false
	page, err := env.workflow.Create(ctx, opts, actor)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if page.IsPublished {
		t.Fatal("precondition: page must start unpublished")
	}

	page, err = env.workflow.Approve(ctx, page.ID, "", true, actor)
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if !page.IsPublished {
		t.Error("expected publish to force the page live")
	}
	if page.Content != "Draft body." {
		t.Errorf("expected the live fields to be the payload, got %q", page.Content)
	}
}

func TestApproverWithoutWriteEditsProposalOnly(t *testing.T) {
	env := newTestEnv(allow(auth.CapApprovePages))
	ctx := context.Background()
	approver := auth.Subject{ID: 5, Name: "carol"}

	pageID, _ := env.pages.Create(ctx, &data.Page{
		Path:           "guides/page",
		Hash:           data.PageHash("guides/page", "en", ""),
		LocaleCode:     "en",
		Title:          "Page",
		Content:        "Live content.",
		ContentType:    "markdown",
		IsPublished:    true,
		AuthorID:       2,
		CreatorID:      2,
		ApprovalStatus: data.ApprovalApproved,
	})
	versionID, _ := env.history.Add(ctx, &data.PageVersion{
		PageID:         pageID,
		Path:           "guides/page",
		LocaleCode:     "en",
		Title:          "Page",
		Content:        "Submitted change.",
		ContentType:    "markdown",
		AuthorID:       2,
		Action:         data.ActionSubmitted,
		WorkflowStatus: data.WorkflowPending,
	})
	_ = env.pages.PatchApproval(ctx, pageID, data.ApprovalPending, &versionID, nil, "")

	page, err := env.workflow.Update(ctx, UpdateOptions{
		ID: pageID, Title: "Page", Content: "Tightened change.",
		ContentType: "markdown",
	}, approver)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if page.Content != "Live content." {
		t.Errorf("an approver without write access must not touch the live page, got %q", page.Content)
	}
	if page.ApprovalStatus != data.ApprovalPending {
		t.Errorf("expected the page to stay pending, got %q", page.ApprovalStatus)
	}
	if page.PendingVersionID == nil || *page.PendingVersionID != versionID {
		t.Error("expected the pending linkage to stay on the same entry")
	}
	if got := env.history.entries[versionID].Content; got != "Tightened change." {
		t.Errorf("expected the proposal to be patched in place, got %q", got)
	}
	if len(env.history.entries) != 1 {
		t.Errorf("expected no new history entries, got %d", len(env.history.entries))
	}
}

func TestApproveRestoresBrokenLinkage(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()

	pageID, _ := env.pages.Create(ctx, &data.Page{
		Path: "guides/broken", LocaleCode: "en", ContentType: "markdown",
		ApprovalStatus: data.ApprovalPending,
	})
	ghost := int64(999)
	_ = env.pages.PatchApproval(ctx, pageID, data.ApprovalPending, &ghost, nil, "")

	_, err := env.workflow.Approve(ctx, pageID, "", false, auth.Subject{ID: 5})
	if !errors.Is(err, ErrPendingVersionGone) {
		t.Fatalf("expected ErrPendingVersionGone, got %v", err)
	}
	page, _ := env.pages.GetByID(ctx, pageID)
	if page.ApprovalStatus != data.ApprovalDraft || page.PendingVersionID != nil {
		t.Errorf("expected the page to fall back to a clean draft, got %s", page.ApprovalStatus)
	}
}

func TestRejectRequiresPending(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()
	actor := auth.Subject{ID: 5, Name: "carol"}

	page, err := env.workflow.Create(ctx, basicCreate("guides/page", "Live content."), actor)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := env.workflow.Reject(ctx, page.ID, "nope", actor); !errors.Is(err, ErrNoPendingVersion) {
		t.Errorf("expected ErrNoPendingVersion, got %v", err)
	}
}

func TestRejectLeavesLiveContentUntouched(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()
	publisher := auth.Subject{ID: 1, Name: "alice"}
	editor := auth.Subject{ID: 2, Name: "bob"}

	page, err := env.workflow.Create(ctx, basicCreate("guides/page", "Live content."), publisher)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	page, err = env.workflow.Update(ctx, UpdateOptions{
		ID: page.ID, Title: "Test Page", Content: "Bad change.",
		ContentType: "markdown", KeepPending: true,
	}, editor)
	if err != nil {
		t.Fatalf("pending save failed: %v", err)
	}
	pendingID := *page.PendingVersionID

	page, err = env.workflow.Reject(ctx, page.ID, "not like this", publisher)
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}

	if page.Content != "Live content." {
		t.Errorf("live content must survive a rejection, got %q", page.Content)
	}
	if page.ApprovalStatus != data.ApprovalRejected {
		t.Errorf("expected approval status %q, got %q", data.ApprovalRejected, page.ApprovalStatus)
	}
	if page.PendingVersionID != nil {
		t.Error("expected the pending linkage to be cleared")
	}
	if page.ApprovalComment != "not like this" {
		t.Errorf("expected the decision comment on the page, got %q", page.ApprovalComment)
	}
	settled := env.history.entries[pendingID]
	if settled.WorkflowStatus != data.WorkflowRejected || settled.Action != data.ActionRejected {
		t.Errorf("expected the entry to settle as rejected, got %s/%s", settled.WorkflowStatus, settled.Action)
	}
}

func TestCancelPending(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op without a pending version", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		page, err := env.workflow.Create(ctx, basicCreate("guides/page", "Live content."), auth.Subject{ID: 1})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		got, err := env.workflow.CancelPending(ctx, page.ID, auth.Subject{ID: 1})
		if err != nil {
			t.Fatalf("CancelPending returned error: %v", err)
		}
		if got.ApprovalStatus != data.ApprovalApproved {
			t.Errorf("expected the page untouched, got status %q", got.ApprovalStatus)
		}
	})

	t.Run("pending creation falls back to draft", func(t *testing.T) {
		env := newTestEnv(allow(editorCaps...))
		editor := auth.Subject{ID: 2, Name: "bob"}
		page, err := env.workflow.Create(ctx, basicCreate("guides/draft", "Proposal."), editor)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		pendingID := *page.PendingVersionID

		page, err = env.workflow.CancelPending(ctx, page.ID, editor)
		if err != nil {
			t.Fatalf("CancelPending returned error: %v", err)
		}
		if page.ApprovalStatus != data.ApprovalDraft {
			t.Errorf("expected a shell to fall back to %q, got %q", data.ApprovalDraft, page.ApprovalStatus)
		}
		if page.PendingVersionID != nil {
			t.Error("expected the pending linkage to be cleared")
		}
		settled := env.history.entries[pendingID]
		if settled.WorkflowStatus != data.WorkflowCancelled || settled.Action != data.ActionCancelled {
			t.Errorf("expected the entry to settle as cancelled, got %s/%s", settled.WorkflowStatus, settled.Action)
		}
	})

	t.Run("pending edit resets the page to draft", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		page, err := env.workflow.Create(ctx, basicCreate("guides/page", "Live content."), auth.Subject{ID: 1})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		page, err = env.workflow.Update(ctx, UpdateOptions{
			ID: page.ID, Title: "Test Page", Content: "Change.",
			ContentType: "markdown", KeepPending: true,
		}, auth.Subject{ID: 2})
		if err != nil {
			t.Fatalf("pending save failed: %v", err)
		}
		page, err = env.workflow.CancelPending(ctx, page.ID, auth.Subject{ID: 2})
		if err != nil {
			t.Fatalf("CancelPending returned error: %v", err)
		}
		if page.ApprovalStatus != data.ApprovalDraft {
			t.Errorf("expected fallback to %q, got %q", data.ApprovalDraft, page.ApprovalStatus)
		}
		if page.Content != "Live content." {
			t.Errorf("live content must survive a cancellation, got %q", page.Content)
		}
	})

	t.Run("only the submitter or a manager may cancel", func(t *testing.T) {
		env := newTestEnv(allow(editorCaps...))
		submitter := auth.Subject{ID: 2, Name: "bob"}
		page, err := env.workflow.Create(ctx, basicCreate("guides/draft", "Proposal."), submitter)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if _, err := env.workflow.CancelPending(ctx, page.ID, auth.Subject{ID: 7, Name: "mallory"}); !errors.Is(err, ErrPageUpdateForbidden) {
			t.Errorf("expected ErrPageUpdateForbidden, got %v", err)
		}
	})
}

func TestMove(t *testing.T) {
	ctx := context.Background()

	t.Run("derived title follows the path", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		opts := basicCreate("guides/setup", "Content.")
		opts.Title = "setup"
		page, err := env.workflow.Create(ctx, opts, auth.Subject{ID: 1})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		moved, err := env.workflow.Move(ctx, MoveOptions{ID: page.ID, DestinationPath: "guides/installation"}, auth.Subject{ID: 1})
		if err != nil {
			t.Fatalf("Move returned error: %v", err)
		}
		if moved.Path != "guides/installation" {
			t.Errorf("expected the new path, got %q", moved.Path)
		}
		if moved.Title != "installation" {
			t.Errorf("expected the derived title to follow, got %q", moved.Title)
		}
		if moved.Hash == page.Hash {
			t.Error("expected the cache hash to change with the location")
		}
	})

	t.Run("explicit title is kept", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		page, err := env.workflow.Create(ctx, basicCreate("guides/setup", "Content."), auth.Subject{ID: 1})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		moved, err := env.workflow.Move(ctx, MoveOptions{ID: page.ID, DestinationPath: "guides/installation"}, auth.Subject{ID: 1})
		if err != nil {
			t.Fatalf("Move returned error: %v", err)
		}
		if moved.Title != "Test Page" {
			t.Errorf("expected the explicit title to survive, got %q", moved.Title)
		}
	})

	t.Run("occupied destination collides", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		actor := auth.Subject{ID: 1}
		a, err := env.workflow.Create(ctx, basicCreate("guides/a", "A."), actor)
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if _, err := env.workflow.Create(ctx, basicCreate("guides/b", "B."), actor); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if _, err := env.workflow.Move(ctx, MoveOptions{ID: a.ID, DestinationPath: "guides/b"}, actor); !errors.Is(err, ErrPagePathCollision) {
			t.Errorf("expected ErrPagePathCollision, got %v", err)
		}
	})

	t.Run("move records a history entry", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		page, err := env.workflow.Create(ctx, basicCreate("guides/old", "Content."), auth.Subject{ID: 1})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if _, err := env.workflow.Move(ctx, MoveOptions{ID: page.ID, DestinationPath: "guides/new"}, auth.Subject{ID: 1}); err != nil {
			t.Fatalf("Move returned error: %v", err)
		}
		var found bool
		for _, v := range env.history.entries {
			if v.Action == data.ActionMoved && v.Path == "guides/old" {
				found = true
			}
		}
		if !found {
			t.Error("expected a moved history entry snapshotting the old path")
		}
	})

	t.Run("editor may not move", func(t *testing.T) {
		env := newTestEnv(allow(editorCaps...))
		pageID, _ := env.pages.Create(ctx, &data.Page{
			Path: "guides/a", LocaleCode: "en", Title: "A", Content: "A.",
			ContentType: "markdown", ApprovalStatus: data.ApprovalApproved,
		})
		if _, err := env.workflow.Move(ctx, MoveOptions{ID: pageID, DestinationPath: "guides/c"}, auth.Subject{ID: 2}); !errors.Is(err, ErrPageMoveForbidden) {
			t.Errorf("expected ErrPageMoveForbidden, got %v", err)
		}
	})
}

func TestDelete(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()
	actor := auth.Subject{ID: 1, Name: "alice"}

	page, err := env.workflow.Create(ctx, basicCreate("guides/doomed", "Content."), actor)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := env.workflow.Delete(ctx, page.ID, actor); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if got, _ := env.pages.GetByID(ctx, page.ID); got != nil {
		t.Error("expected the page row to be gone")
	}
	var found bool
	for _, v := range env.history.entries {
		if v.Action == data.ActionDeleted && v.PageID == page.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected a final deleted history entry")
	}
	var notified bool
	for _, e := range env.search.events {
		if strings.HasPrefix(e, "deleted:") {
			notified = true
		}
	}
	if !notified {
		t.Error("expected the search index to be notified of the deletion")
	}
}

func TestRestoreReplaysVersion(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()
	actor := auth.Subject{ID: 1, Name: "alice"}

	page, err := env.workflow.Create(ctx, basicCreate("guides/page", "Version one."), actor)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	page, err = env.workflow.Update(ctx, UpdateOptions{
		ID: page.ID, Title: "Test Page", Content: "Version two.",
		ContentType: "markdown", IsPublished: true,
	}, actor)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	// The initial created entry holds version one.
	var initialID int64
	for id, v := range env.history.entries {
		if v.Action == data.ActionCreated {
			initialID = id
		}
	}
	if initialID == 0 {
		t.Fatal("no created history entry found")
	}

	restored, err := env.workflow.Restore(ctx, page.ID, initialID, actor)
	if err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	if restored.Content != "Version one." {
		t.Errorf("expected the restored content, got %q", restored.Content)
	}
	var found bool
	for _, v := range env.history.entries {
		if v.Action == data.ActionRestored {
			found = true
		}
	}
	if !found {
		t.Error("expected a restored history entry")
	}
}

func TestConvert(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()
	actor := auth.Subject{ID: 1, Name: "alice"}

	page, err := env.workflow.Create(ctx, basicCreate("guides/page", "# Heading\n\nBody."), actor)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	t.Run("same type is a no-op", func(t *testing.T) {
		got, err := env.workflow.Convert(ctx, page.ID, "markdown", actor)
		if err != nil {
			t.Fatalf("Convert returned error: %v", err)
		}
		if got.ContentType != "markdown" {
			t.Errorf("unexpected content type %q", got.ContentType)
		}
	})

	t.Run("markdown to html adopts the render", func(t *testing.T) {
		got, err := env.workflow.Convert(ctx, page.ID, "html", actor)
		if err != nil {
			t.Fatalf("Convert returned error: %v", err)
		}
		if got.ContentType != "html" {
			t.Errorf("expected content type html, got %q", got.ContentType)
		}
		if !strings.Contains(got.Content, "<h1") {
			t.Errorf("expected the rendered markup as content, got %q", got.Content)
		}
		if got.EditorKey != "code" {
			t.Errorf("expected the code editor, got %q", got.EditorKey)
		}
	})

	t.Run("unsupported combination", func(t *testing.T) {
		if _, err := env.workflow.Convert(ctx, page.ID, "markdown", actor); !errors.Is(err, ErrConversionUnsupported) {
			t.Errorf("expected ErrConversionUnsupported, got %v", err)
		}
	})
}

func TestFolders(t *testing.T) {
	ctx := context.Background()
	actor := auth.Subject{ID: 1, Name: "alice"}

	t.Run("create and delete", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		folder, err := env.workflow.CreateFolder(ctx, "en", "guides/extras", "", actor)
		if err != nil {
			t.Fatalf("CreateFolder returned error: %v", err)
		}
		if folder.Title != "extras" {
			t.Errorf("expected the title to default to the last segment, got %q", folder.Title)
		}
		if _, err := env.workflow.CreateFolder(ctx, "en", "guides/extras", "", actor); !errors.Is(err, ErrFolderExists) {
			t.Errorf("expected ErrFolderExists, got %v", err)
		}
		if err := env.workflow.DeleteFolder(ctx, "en", "guides/extras", actor); err != nil {
			t.Fatalf("DeleteFolder returned error: %v", err)
		}
		if err := env.workflow.DeleteFolder(ctx, "en", "guides/extras", actor); !errors.Is(err, ErrFolderNotFound) {
			t.Errorf("expected ErrFolderNotFound, got %v", err)
		}
	})

	t.Run("page path conflicts", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		if _, err := env.workflow.Create(ctx, basicCreate("guides/setup", "Content."), actor); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if _, err := env.workflow.CreateFolder(ctx, "en", "guides/setup", "", actor); !errors.Is(err, ErrFolderPageConflict) {
			t.Errorf("expected ErrFolderPageConflict, got %v", err)
		}
	})

	t.Run("non-empty folder refuses deletion", func(t *testing.T) {
		env := newTestEnv(allow(managerCaps...))
		if _, err := env.workflow.CreateFolder(ctx, "en", "guides", "", actor); err != nil {
			t.Fatalf("CreateFolder returned error: %v", err)
		}
		if _, err := env.workflow.Create(ctx, basicCreate("guides/setup", "Content."), actor); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := env.workflow.DeleteFolder(ctx, "en", "guides", actor); !errors.Is(err, ErrFolderNotEmpty) {
			t.Errorf("expected ErrFolderNotEmpty, got %v", err)
		}
	})
}

func TestMigrateToLocale(t *testing.T) {
	env := newTestEnv(allow(managerCaps...))
	ctx := context.Background()
	actor := auth.Subject{ID: 1, Name: "alice"}

	if _, err := env.workflow.Create(ctx, basicCreate("guides/a", "A."), actor); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	opts := basicCreate("guides/b", "B.")
	opts.Locale = "de"
	if _, err := env.workflow.Create(ctx, opts, actor); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_ = env.cache.Put("somehash", []byte("blob"))

	if err := env.workflow.MigrateToLocale(ctx, "en", "de", actor); err != nil {
		t.Fatalf("MigrateToLocale returned error: %v", err)
	}
	page, _ := env.pages.FindByPath(ctx, "de", "guides/a")
	if page == nil {
		t.Fatal("expected the page to migrate to the target locale")
	}
	if len(env.cache.blobs) != 0 {
		t.Error("expected the cache to be flushed after migration")
	}
}
