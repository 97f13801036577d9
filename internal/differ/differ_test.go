package differ

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradewatch/internal/model"
)

// fakeStore is a minimal in-memory implementation of AssignmentStore,
// avoiding any dependency on the real SQLite-backed store in these
// algorithm-level tests.
type fakeStore struct {
	timestamp   time.Time
	assignments map[string]model.Assignment
	err         error
}

func (f *fakeStore) LatestTimestamp(ctx context.Context) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.timestamp, nil
}

func (f *fakeStore) GetAssignment(ctx context.Context, id string) (model.Assignment, bool, error) {
	if f.err != nil {
		return model.Assignment{}, false, f.err
	}
	a, ok := f.assignments[id]
	return a, ok, nil
}

func rat(n, d int64) *big.Rat { return big.NewRat(n, d) }

func snapshotWith(ts time.Time, assignments ...model.Assignment) model.Snapshot {
	return model.Snapshot{
		Timestamp: ts,
		Sections: []model.Section{
			{
				SectionID:    "S1",
				SectionTitle: "Section 1",
				Periods: []model.Period{
					{
						PeriodID: "P1",
						Name:     "Quarter 1",
						Categories: []model.Category{
							{
								CategoryID:  "C1",
								Name:        "Tests",
								Assignments: assignments,
							},
						},
					},
				},
			},
		},
	}
}

func TestScenario1InitialRun(t *testing.T) {
	store := &fakeStore{assignments: map[string]model.Assignment{}}
	a1 := model.Assignment{AssignmentID: "100", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1)}
	snap := snapshotWith(time.Now(), a1)

	report := Diff(context.Background(), nil, snap, store)

	assert.True(t, report.IsInitial)
	assert.Empty(t, report.Changes)
}

func TestScenario2NoOp(t *testing.T) {
	a1 := model.Assignment{AssignmentID: "100", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1)}
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{"100": a1}}
	snap := snapshotWith(time.Now(), a1)

	report := Diff(context.Background(), nil, snap, store)

	assert.False(t, report.IsInitial)
	assert.Empty(t, report.Changes)
	assert.True(t, report.Empty())
}

func TestScenario3GradeChange(t *testing.T) {
	old := model.Assignment{AssignmentID: "100", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1)}
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{"100": old}}
	updated := model.Assignment{AssignmentID: "100", EarnedPoints: rat(4, 1), MaxPoints: rat(5, 1)}
	snap := snapshotWith(time.Now(), updated)

	report := Diff(context.Background(), nil, snap, store)

	require.Len(t, report.Changes, 1)
	c := report.Changes[0]
	assert.Equal(t, ChangeGradeUpdated, c.Type)
	assert.Equal(t, "5 / 5", c.Old)
	assert.Equal(t, "4 / 5", c.New)
	assert.Equal(t, 1, report.Counts.GradeUpdates)
	assert.Contains(t, report.Summary(), "1 grade update(s)")
}

func TestScenario4NewGradedAssignment(t *testing.T) {
	old := model.Assignment{AssignmentID: "100", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1)}
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{"100": old}}
	a2 := model.Assignment{AssignmentID: "200", EarnedPoints: rat(10, 1), MaxPoints: rat(10, 1)}
	snap := snapshotWith(time.Now(), old, a2)

	report := Diff(context.Background(), nil, snap, store)

	require.Len(t, report.Changes, 1)
	assert.Equal(t, ChangeNewAssignment, report.Changes[0].Type)
	assert.Equal(t, "200", report.Changes[0].AssignmentID)
	assert.Equal(t, 1, report.Counts.NewAssignments)
}

func TestScenario5FormattingOnlyDrift(t *testing.T) {
	old := model.Assignment{AssignmentID: "100", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1), Comment: ""}
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{"100": old}}
	driftEarned := rat(500, 100)
	driftMax := rat(5, 1)
	drifted := model.Assignment{AssignmentID: "100", EarnedPoints: driftEarned, MaxPoints: driftMax, Comment: "No comment"}
	snap := snapshotWith(time.Now(), drifted)

	report := Diff(context.Background(), nil, snap, store)

	assert.Empty(t, report.Changes)
}

func TestScenario6ExceptionOnPreviouslyUngraded(t *testing.T) {
	old := model.Assignment{AssignmentID: "100", MaxPoints: rat(10, 1), Exception: model.ExceptionNone} // ungraded: no earned points
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{"100": old}}
	updated := model.Assignment{AssignmentID: "100", MaxPoints: rat(10, 1), Exception: model.ExceptionMissing}
	snap := snapshotWith(time.Now(), updated)

	report := Diff(context.Background(), nil, snap, store)

	require.Len(t, report.Changes, 1)
	assert.Equal(t, ChangeNewAssignment, report.Changes[0].Type, "first graded state for this ID must be reported as new, not exception_updated")
}

func TestInvariantNoSpuriousNotifications(t *testing.T) {
	a := model.Assignment{AssignmentID: "100", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1), Comment: "fine"}
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{"100": a}}
	snap := snapshotWith(time.Now(), a)

	report := Diff(context.Background(), nil, snap, store)
	assert.False(t, report.IsInitial)
	assert.Empty(t, report.Changes)
	assert.Equal(t, Counts{}, report.Counts)
}

func TestInvariantUngradedExclusion(t *testing.T) {
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{}}
	ungraded := model.Assignment{AssignmentID: "100", Exception: model.ExceptionNone}
	snap := snapshotWith(time.Now(), ungraded)

	report := Diff(context.Background(), nil, snap, store)
	assert.Empty(t, report.Changes, "an ungraded assignment must never produce a Change")
}

func TestInvariantDeletionSilence(t *testing.T) {
	old := model.Assignment{AssignmentID: "100", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1)}
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{"100": old}}
	snap := snapshotWith(time.Now()) // assignment 100 removed

	report := Diff(context.Background(), nil, snap, store)
	assert.Empty(t, report.Changes, "removing an assignment must never produce a Change")
}

func TestInvariantDeterminism(t *testing.T) {
	old1 := model.Assignment{AssignmentID: "100", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1)}
	old2 := model.Assignment{AssignmentID: "200", EarnedPoints: rat(5, 1), MaxPoints: rat(5, 1)}
	store := &fakeStore{timestamp: time.Now().Add(-time.Hour), assignments: map[string]model.Assignment{"100": old1, "200": old2}}
	new1 := model.Assignment{AssignmentID: "100", EarnedPoints: rat(3, 1), MaxPoints: rat(5, 1)}
	new2 := model.Assignment{AssignmentID: "200", EarnedPoints: rat(4, 1), MaxPoints: rat(5, 1)}
	snap := snapshotWith(time.Now(), new2, new1) // deliberately unordered input

	r1 := Diff(context.Background(), nil, snap, store)
	r2 := Diff(context.Background(), nil, snap, store)

	require.Equal(t, r1.Changes, r2.Changes)
	require.Len(t, r1.Changes, 2)
	assert.Equal(t, "100", r1.Changes[0].AssignmentID)
	assert.Equal(t, "200", r1.Changes[1].AssignmentID)
}

func TestFailSafeOnStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("boom")}
	snap := snapshotWith(time.Now())

	report := Diff(context.Background(), nil, snap, store)
	assert.True(t, report.IsInitial)
	assert.Empty(t, report.Changes)
}

func TestSummarySuppressesZeroTerms(t *testing.T) {
	r := ChangeReport{Counts: Counts{NewAssignments: 2}}
	assert.Equal(t, "2 new", r.Summary())

	r2 := ChangeReport{}
	assert.Equal(t, "", r2.Summary())
}

func TestFormatNotificationGroupsBySectionPeriodCategory(t *testing.T) {
	r := ChangeReport{
		Counts: Counts{GradeUpdates: 2},
		Changes: []Change{
			{Type: ChangeGradeUpdated, SectionTitle: "Algebra", PeriodName: "S1", CategoryName: "Homework", AssignmentTitle: "HW1", Old: "3 / 5", New: "5 / 5"},
			{Type: ChangeGradeUpdated, SectionTitle: "Algebra", PeriodName: "S1", CategoryName: "Tests", AssignmentTitle: "Quiz1", Old: "8 / 10", New: "9 / 10"},
		},
	}

	out := r.FormatNotification()

	assert.Contains(t, out, "2 grade update(s)")
	assert.Contains(t, out, "Algebra\n  S1\n    Homework\n      HW1: 3 / 5 -> 5 / 5")
	assert.Contains(t, out, "Tests\n      Quiz1: 8 / 10 -> 9 / 10")
}

func TestFormatNotificationInitialReturnsSummaryOnly(t *testing.T) {
	r := ChangeReport{IsInitial: true}
	assert.Equal(t, "", r.FormatNotification())
}
