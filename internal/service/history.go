package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/scheduler"
)

// Derived trail action types.
const (
	TrailActionInitial = "initial"
	TrailActionEdit    = "edit"
	TrailActionMove    = "move"
)

// HistoryService reads the version history and runs the retention purge.
type HistoryService struct {
	history HistoryRepository
	tags    TagRepository
	deps    Collaborators
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(history HistoryRepository, tags TagRepository, deps Collaborators) *HistoryService {
	return &HistoryService{history: history, tags: tags, deps: deps}
}

// Version is the presentation form of one history entry.
type Version struct {
	ID               int64
	PageID           int64
	Path             string
	LocaleCode       string
	Title            string
	Description      string
	Content          string
	ContentType      string
	EditorKey        string
	IsPublished      bool
	PublishStartDate string
	PublishEndDate   string
	AuthorID         int64
	AuthorName       string
	Action           string
	WorkflowStatus   string
	VersionDate      time.Time
	ApprovalComment  string
	ScriptCSS        string
	ScriptJS         string
	Tags             []string
}

// GetVersion returns one version of a page with its tags. The workflow
// status is reported uppercased, matching the public enum form.
func (s *HistoryService) GetVersion(ctx context.Context, pageID, versionID int64) (*Version, error) {
	v, err := s.history.Get(ctx, pageID, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVersionNotFound
	}
	tags, err := s.tags.VersionTags(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return &Version{
		ID:               v.ID,
		PageID:           v.PageID,
		Path:             v.Path,
		LocaleCode:       v.LocaleCode,
		Title:            v.Title,
		Description:      v.Description,
		Content:          v.Content,
		ContentType:      v.ContentType,
		EditorKey:        v.EditorKey,
		IsPublished:      v.IsPublished,
		PublishStartDate: v.PublishStartDate,
		PublishEndDate:   v.PublishEndDate,
		AuthorID:         v.AuthorID,
		AuthorName:       v.AuthorName,
		Action:           v.Action,
		WorkflowStatus:   strings.ToUpper(v.WorkflowStatus),
		VersionDate:      v.VersionDate,
		ApprovalComment:  v.Extra.ApprovalComment,
		ScriptCSS:        v.Extra.CSS,
		ScriptJS:         v.Extra.JS,
		Tags:             tags,
	}, nil
}

// TrailEntry is one annotated row of the history trail.
type TrailEntry struct {
	VersionID       int64
	AuthorID        int64
	AuthorName      string
	ActionType      string
	ValueBefore     *string
	ValueAfter      *string
	VersionDate     time.Time
	WorkflowStatus  string
	ApprovalComment string
}

// GetHistory returns one page of the history trail, most recent first,
// with the total entry count. Each entry carries a derived action type:
// the very first entry of a page's history is "initial", a path change
// relative to the previous entry is "move", everything else is "edit".
// Deciding whether the oldest entry of the requested page really is the
// first requires peeking one row past the page boundary.
func (s *HistoryService) GetHistory(ctx context.Context, pageID int64, offsetPage, offsetSize int) ([]TrailEntry, int, error) {
	if offsetPage < 0 {
		offsetPage = 0
	}
	if offsetSize < 1 {
		offsetSize = 25
	}
	rows, total, err := s.history.ListMeta(ctx, pageID, offsetPage, offsetSize)
	if err != nil {
		return nil, 0, err
	}
	upperLimit := (offsetPage + 1) * offsetSize
	var prev *data.VersionMeta
	if total >= upperLimit {
		prev, err = s.history.PeekOlder(ctx, pageID, offsetPage, offsetSize)
		if err != nil {
			return nil, 0, err
		}
	}

	// Rows arrive newest first; derive oldest to newest so each entry can
	// compare against its predecessor.
	trail := make([]TrailEntry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		entry := TrailEntry{
			VersionID:       row.ID,
			AuthorID:        row.AuthorID,
			AuthorName:      row.AuthorName,
			ActionType:      TrailActionEdit,
			VersionDate:     row.VersionDate,
			WorkflowStatus:  strings.ToUpper(row.WorkflowStatus),
			ApprovalComment: strings.TrimSpace(row.Extra.ApprovalComment),
		}
		prevPath := ""
		if prev != nil {
			prevPath = prev.Path
		}
		if prev == nil && total < upperLimit {
			entry.ActionType = TrailActionInitial
		} else if prevPath != row.Path {
			entry.ActionType = TrailActionMove
			before, after := prevPath, row.Path
			entry.ValueBefore = &before
			entry.ValueAfter = &after
		}
		prev = &rows[i]
		trail = append(trail, entry)
	}
	// Back to newest first.
	for i, j := 0, len(trail)-1; i < j; i, j = i+1, j-1 {
		trail[i], trail[j] = trail[j], trail[i]
	}
	return trail, total, nil
}

// Purge deletes every history entry older than the given retention period
// (ISO 8601 duration, e.g. "P30D"). Returns the number of deleted entries.
func (s *HistoryService) Purge(ctx context.Context, olderThan string) (int64, error) {
	period, err := ParsePeriod(olderThan)
	if err != nil {
		return 0, err
	}
	cutoff := period.Before(time.Now().UTC())
	deleted, err := s.history.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.deps.Log.Info(fmt.Sprintf("Purged %d history entries older than %s", deleted, olderThan))
	}
	return deleted, nil
}

// PurgeNow runs the retention purge on demand, outside the schedule.
// Reserved for system operators.
func (s *HistoryService) PurgeNow(ctx context.Context, olderThan string, actor auth.Subject) (int64, error) {
	if !s.deps.Access.CheckAccess(actor, []string{auth.CapManageSystem}, auth.Resource{Locale: "*", Path: "*"}) {
		return 0, ErrPageUpdateForbidden
	}
	if _, err := ParsePeriod(olderThan); err != nil {
		return 0, ErrInvalidRetention
	}
	return s.Purge(ctx, olderThan)
}

// SchedulePurge registers the recurring retention purge.
func (s *HistoryService) SchedulePurge(sched *scheduler.Scheduler, cronExpr, olderThan string) error {
	// Validate the retention period up front so a bad config fails at
	// startup, not at 2am.
	if _, err := ParsePeriod(olderThan); err != nil {
		return err
	}
	return sched.Schedule(cronExpr, scheduler.JobSpec{
		Name: "purge-page-history",
		Run: func(ctx context.Context) error {
			_, err := s.Purge(ctx, olderThan)
			return err
		},
	})
}

// Period is a parsed ISO 8601 duration. Date components are applied with
// calendar arithmetic, time components with fixed arithmetic.
type Period struct {
	Years   int
	Months  int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// ParsePeriod parses an ISO 8601 duration such as "P1Y2M3D" or "PT6H".
func ParsePeriod(s string) (Period, error) {
	var p Period
	if len(s) < 2 || s[0] != 'P' {
		return p, fmt.Errorf("invalid duration %q", s)
	}
	rest := s[1:]
	inTime := false
	seen := false
	for len(rest) > 0 {
		if rest[0] == 'T' {
			if inTime {
				return p, fmt.Errorf("invalid duration %q", s)
			}
			inTime = true
			rest = rest[1:]
			continue
		}
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i == len(rest) {
			return p, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return p, fmt.Errorf("invalid duration %q", s)
		}
		unit := rest[i]
		rest = rest[i+1:]
		switch {
		case !inTime && unit == 'Y':
			p.Years = n
		case !inTime && unit == 'M':
			p.Months = n
		case !inTime && unit == 'W':
			p.Weeks = n
		case !inTime && unit == 'D':
			p.Days = n
		case inTime && unit == 'H':
			p.Hours = n
		case inTime && unit == 'M':
			p.Minutes = n
		case inTime && unit == 'S':
			p.Seconds = n
		default:
			return p, fmt.Errorf("invalid duration %q", s)
		}
		seen = true
	}
	if !seen {
		return p, fmt.Errorf("invalid duration %q", s)
	}
	return p, nil
}

// Before returns the instant one period earlier than t.
func (p Period) Before(t time.Time) time.Time {
	t = t.AddDate(-p.Years, -p.Months, -(p.Weeks*7 + p.Days))
	return t.Add(-time.Duration(p.Hours)*time.Hour -
		time.Duration(p.Minutes)*time.Minute -
		time.Duration(p.Seconds)*time.Second)
}
