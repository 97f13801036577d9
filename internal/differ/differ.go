// Package differ computes a ChangeReport from a new snapshot and the
// previously persisted state, using ID-based matching only.
package differ

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gradewatch/internal/model"
)

// ChangeType enumerates the four kinds of semantic delta the differ can
// emit.
type ChangeType string

const (
	ChangeNewAssignment    ChangeType = "new_assignment"
	ChangeGradeUpdated     ChangeType = "grade_updated"
	ChangeExceptionUpdated ChangeType = "exception_updated"
	ChangeCommentUpdated   ChangeType = "comment_updated"
)

// Change is one emitted delta, carrying enough path context to format a
// notification line without a second lookup.
type Change struct {
	Type            ChangeType
	SectionTitle    string
	PeriodName      string
	CategoryName    string
	AssignmentTitle string
	AssignmentID    string
	Old             string
	New             string
}

// Counts tallies changes by kind.
type Counts struct {
	NewAssignments int
	GradeUpdates   int
	CommentUpdates int
}

// ChangeReport is the structured diff output of one cycle.
type ChangeReport struct {
	Timestamp time.Time
	Changes   []Change
	Counts    Counts
	IsInitial bool
}

// Empty reports whether the report carries zero changes; an empty,
// non-initial report is never journaled and never triggers notification.
func (r ChangeReport) Empty() bool {
	return len(r.Changes) == 0
}

// Summary renders the suppress-zero-terms sentence used in notification
// content and journal records. Returns "" when every count is zero.
func (r ChangeReport) Summary() string {
	var parts []string
	if r.Counts.NewAssignments > 0 {
		parts = append(parts, fmt.Sprintf("%d new", r.Counts.NewAssignments))
	}
	if r.Counts.GradeUpdates > 0 {
		parts = append(parts, fmt.Sprintf("%d grade update(s)", r.Counts.GradeUpdates))
	}
	if r.Counts.CommentUpdates > 0 {
		parts = append(parts, fmt.Sprintf("%d comment update(s)", r.Counts.CommentUpdates))
	}
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

// FormatNotification renders the full notification body: the summary
// sentence followed by changes grouped section -> period -> category,
// each change as one indented line. Grouping preserves the same
// section/period/category/assignment-id ascending order the differ
// itself emits changes in.
func (r ChangeReport) FormatNotification() string {
	summary := r.Summary()
	if r.IsInitial || r.Empty() {
		return summary
	}

	var b strings.Builder
	b.WriteString(summary)
	b.WriteString("\n\n")

	var lastSection, lastPeriod, lastCategory string
	for _, c := range r.Changes {
		if c.SectionTitle != lastSection {
			fmt.Fprintf(&b, "%s\n", c.SectionTitle)
			lastSection, lastPeriod, lastCategory = c.SectionTitle, "", ""
		}
		if c.PeriodName != lastPeriod {
			fmt.Fprintf(&b, "  %s\n", c.PeriodName)
			lastPeriod, lastCategory = c.PeriodName, ""
		}
		if c.CategoryName != lastCategory {
			fmt.Fprintf(&b, "    %s\n", c.CategoryName)
			lastCategory = c.CategoryName
		}
		fmt.Fprintf(&b, "      %s\n", changeLine(c))
	}
	return b.String()
}

func changeLine(c Change) string {
	switch c.Type {
	case ChangeNewAssignment:
		return fmt.Sprintf("New: %s = %s", c.AssignmentTitle, c.New)
	case ChangeGradeUpdated:
		return fmt.Sprintf("%s: %s -> %s", c.AssignmentTitle, c.Old, c.New)
	case ChangeExceptionUpdated:
		return fmt.Sprintf("%s: %s -> %s", c.AssignmentTitle, c.Old, c.New)
	case ChangeCommentUpdated:
		return fmt.Sprintf("%s: comment updated", c.AssignmentTitle)
	default:
		return fmt.Sprintf("%s: changed", c.AssignmentTitle)
	}
}

// AssignmentStore is the narrow slice of the store's contract the differ
// needs: whether prior state exists, and point lookups during traversal.
type AssignmentStore interface {
	LatestTimestamp(ctx context.Context) (time.Time, error)
	GetAssignment(ctx context.Context, id string) (model.Assignment, bool, error)
}

// Diff computes a ChangeReport for snap against store. It never returns
// an error to its caller: any internal failure is logged and degrades to
// a fail-safe is_initial report, so the orchestrator proceeds to persist
// without emitting spurious notifications.
func Diff(ctx context.Context, logger *zap.Logger, snap model.Snapshot, store AssignmentStore) ChangeReport {
	if logger == nil {
		logger = zap.NewNop()
	}

	report, err := diff(ctx, snap, store)
	if err != nil {
		logger.Warn("diff failed, degrading to fail-safe report", zap.Error(err))
		return ChangeReport{Timestamp: snap.Timestamp, IsInitial: true}
	}
	return report
}

func diff(ctx context.Context, snap model.Snapshot, store AssignmentStore) (ChangeReport, error) {
	latest, err := store.LatestTimestamp(ctx)
	if err != nil {
		return ChangeReport{}, fmt.Errorf("read latest timestamp: %w", err)
	}
	if latest.IsZero() {
		return ChangeReport{Timestamp: snap.Timestamp, IsInitial: true}, nil
	}

	var changes []Change
	var counts Counts

	for _, sec := range sortedSections(snap.Sections) {
		for _, per := range sortedPeriods(sec.Periods) {
			for _, cat := range sortedCategories(per.Categories) {
				for _, a := range sortedAssignments(cat.Assignments) {
					if !model.IsGraded(a) {
						continue
					}

					old, found, err := store.GetAssignment(ctx, a.AssignmentID)
					if err != nil {
						return ChangeReport{}, fmt.Errorf("lookup assignment %s: %w", a.AssignmentID, err)
					}
					// An assignment can be stored while ungraded (e.g. no
					// prior points and no exception). Such a record carries
					// no prior graded state, so a newly-graded assignment
					// with the same ID is reported as new, not updated.
					if found && !model.IsGraded(old) {
						found = false
					}

					base := Change{
						SectionTitle:    sec.SectionTitle,
						PeriodName:      per.Name,
						CategoryName:    cat.Name,
						AssignmentTitle: a.Title,
						AssignmentID:    a.AssignmentID,
					}

					switch {
					case !found:
						base.Type = ChangeNewAssignment
						base.Old = "—"
						base.New = model.FormatGrade(a)
						counts.NewAssignments++
						changes = append(changes, base)
					case old.Exception != a.Exception:
						base.Type = ChangeExceptionUpdated
						base.Old = model.FormatException(old.Exception)
						base.New = model.FormatException(a.Exception)
						counts.GradeUpdates++
						changes = append(changes, base)
					case !model.GradeEqual(old, a):
						base.Type = ChangeGradeUpdated
						base.Old = model.FormatGrade(old)
						base.New = model.FormatGrade(a)
						counts.GradeUpdates++
						changes = append(changes, base)
					case model.IsSubstantiveCommentChange(old, a):
						base.Type = ChangeCommentUpdated
						base.Old = old.Comment
						base.New = a.Comment
						counts.CommentUpdates++
						changes = append(changes, base)
					}
				}
			}
		}
	}

	return ChangeReport{Timestamp: snap.Timestamp, Changes: changes, Counts: counts, IsInitial: false}, nil
}

func sortedSections(in []model.Section) []model.Section {
	out := append([]model.Section(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].SectionID < out[j].SectionID })
	return out
}

func sortedPeriods(in []model.Period) []model.Period {
	out := append([]model.Period(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodID < out[j].PeriodID })
	return out
}

func sortedCategories(in []model.Category) []model.Category {
	out := append([]model.Category(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out
}

func sortedAssignments(in []model.Assignment) []model.Assignment {
	out := append([]model.Assignment(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].AssignmentID < out[j].AssignmentID })
	return out
}
