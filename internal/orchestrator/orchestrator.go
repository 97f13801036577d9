// Package orchestrator composes one pipeline cycle: fetch, diff, notify,
// journal, persist, health-ping.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gradewatch/internal/differ"
	"github.com/noah-isme/gradewatch/internal/journal"
	"github.com/noah-isme/gradewatch/internal/metrics"
	"github.com/noah-isme/gradewatch/internal/model"
	"github.com/noah-isme/gradewatch/internal/notify"
	pipelineerr "github.com/noah-isme/gradewatch/pkg/errors"
)

// Result is the per-cycle outcome classification.
type Result string

const (
	ResultOKNoChanges   Result = "ok_no_changes"
	ResultOKChanges     Result = "ok_changes"
	ResultFetchFailed   Result = "fetch_failed"
	ResultPersistFailed Result = "persist_failed"
	ResultPartial       Result = "partial"
)

// fetcher is the external snapshot source. Authentication, HTTP, and
// decoding live entirely outside the core.
type fetcher interface {
	Fetch(ctx context.Context) (model.Snapshot, error)
}

// snapshotStore is the narrow persistence contract the orchestrator
// needs: enough to drive the differ, plus the atomic replace step.
type snapshotStore interface {
	LatestTimestamp(ctx context.Context) (time.Time, error)
	GetAssignment(ctx context.Context, id string) (model.Assignment, bool, error)
	ReplaceAll(ctx context.Context, snap model.Snapshot) error
}

// changeDiffer is the narrow differ contract, letting tests substitute a
// scripted implementation without a real store.
type changeDiffer interface {
	Diff(ctx context.Context, snap model.Snapshot, store differ.AssignmentStore) differ.ChangeReport
}

// notifier is the narrow notification contract.
type notifier interface {
	Send(ctx context.Context, msg notify.Message) map[string]bool
}

// journalWriter is the narrow audit-log contract.
type journalWriter interface {
	Append(entry journal.Entry) error
}

// pinger is the narrow health-hook contract.
type pinger interface {
	Ping(ctx context.Context, success bool)
}

// RetryConfig tunes the fetch retry loop.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// Orchestrator drives one pipeline cycle at a time. It holds no
// concurrency control of its own because the scheduler guarantees at
// most one cycle runs concurrently.
type Orchestrator struct {
	fetcher fetcher
	store   snapshotStore
	differ  changeDiffer
	notify  notifier
	journal journalWriter
	ping    pinger
	metrics *metrics.Registry
	retry   RetryConfig
	logger  *zap.Logger
}

// Deps bundles every collaborator the orchestrator needs. Unexported
// interface types above document the minimal contract each one honors;
// Deps accepts the concrete packages' public types, which all satisfy
// them structurally.
type Deps struct {
	Fetcher fetcher
	Store   snapshotStore
	Differ  changeDiffer
	Notify  notifier
	Journal journalWriter
	Ping    pinger
	Metrics *metrics.Registry
	Retry   RetryConfig
	Logger  *zap.Logger
}

// New builds an Orchestrator from Deps, defaulting retry bounds and the
// logger when unset.
func New(d Deps) *Orchestrator {
	if d.Retry.MaxAttempts <= 0 {
		d.Retry.MaxAttempts = 3
	}
	if d.Retry.Delay <= 0 {
		d.Retry.Delay = 5 * time.Second
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher: d.Fetcher,
		store:   d.Store,
		differ:  d.Differ,
		notify:  d.Notify,
		journal: d.Journal,
		ping:    d.Ping,
		metrics: d.Metrics,
		retry:   d.Retry,
		logger:  logger,
	}
}

// DefaultDiffer adapts the package-level differ.Diff function to the
// changeDiffer interface, binding a fixed logger.
type DefaultDiffer struct {
	Logger *zap.Logger
}

// Diff implements changeDiffer.
func (d DefaultDiffer) Diff(ctx context.Context, snap model.Snapshot, store differ.AssignmentStore) differ.ChangeReport {
	return differ.Diff(ctx, d.Logger, snap, store)
}

// RunCycle executes one full cycle and returns its classification.
func (o *Orchestrator) RunCycle(ctx context.Context) Result {
	start := time.Now()
	result := o.runCycle(ctx)
	if o.metrics != nil {
		o.metrics.ObserveCycle(string(result), time.Since(start))
	}
	return result
}

func (o *Orchestrator) runCycle(ctx context.Context) Result {
	snap, err := o.fetchWithRetry(ctx)
	if err != nil {
		err = pipelineerr.Wrap(err, pipelineerr.ErrFetchFailed.Code, pipelineerr.ErrFetchFailed.Status, pipelineerr.ErrFetchFailed.Message)
		o.logger.Error("fetch failed after retries", zap.Error(err))
		o.notifyFetchFailure(ctx, err)
		o.journalFetchFailure(err)
		o.ping.Ping(ctx, false)
		return ResultFetchFailed
	}

	report := o.differ.Diff(ctx, snap, o.store)

	var notifyResults map[string]bool
	if !report.IsInitial && !report.Empty() {
		msg := notify.Message{
			Title:    "Changes detected",
			Content:  report.FormatNotification(),
			Priority: notify.PriorityNormal,
			Metadata: map[string]any{
				"new_assignments": report.Counts.NewAssignments,
				"grade_updates":   report.Counts.GradeUpdates,
				"comment_updates": report.Counts.CommentUpdates,
			},
		}
		notifyResults = o.notify.Send(ctx, msg)
	}

	journalFailed := false
	if !report.Empty() {
		if err := o.journal.Append(journal.FromReport(report, notifyResults)); err != nil {
			err = pipelineerr.Wrap(err, pipelineerr.ErrJournalFailed.Code, pipelineerr.ErrJournalFailed.Status, pipelineerr.ErrJournalFailed.Message)
			o.logger.Warn("journal write failed", zap.Error(err))
			journalFailed = true
		}
	}

	persistFailed := false
	if err := o.store.ReplaceAll(ctx, snap); err != nil {
		err = pipelineerr.Wrap(err, pipelineerr.ErrPersistFailed.Code, pipelineerr.ErrPersistFailed.Status, pipelineerr.ErrPersistFailed.Message)
		o.logger.Error("persist failed", zap.Error(err))
		persistFailed = true
	}

	o.ping.Ping(ctx, !persistFailed)

	if o.metrics != nil {
		o.metrics.ObserveChanges(map[string]int{
			string(differ.ChangeNewAssignment):  report.Counts.NewAssignments,
			string(differ.ChangeGradeUpdated):   report.Counts.GradeUpdates,
			string(differ.ChangeCommentUpdated): report.Counts.CommentUpdates,
		})
	}

	return classify(report, notifyResults, journalFailed, persistFailed)
}

func classify(report differ.ChangeReport, notifyResults map[string]bool, journalFailed, persistFailed bool) Result {
	if persistFailed {
		return ResultPersistFailed
	}

	anyNotifyFailed := false
	for _, ok := range notifyResults {
		if !ok {
			anyNotifyFailed = true
			break
		}
	}
	if journalFailed || anyNotifyFailed {
		return ResultPartial
	}

	if report.IsInitial || report.Empty() {
		return ResultOKNoChanges
	}
	return ResultOKChanges
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context) (model.Snapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		snap, err := o.fetcher.Fetch(ctx)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		o.logger.Warn("fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt == o.retry.MaxAttempts {
			break
		}
		timer := time.NewTimer(o.retry.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Snapshot{}, ctx.Err()
		case <-timer.C:
		}
	}
	return model.Snapshot{}, lastErr
}

func (o *Orchestrator) notifyFetchFailure(ctx context.Context, err error) {
	msg := notify.Message{
		Title:    "Pipeline error",
		Content:  "fetch failed: " + err.Error(),
		Priority: notify.PriorityHigh,
	}
	o.notify.Send(ctx, msg)
}

func (o *Orchestrator) journalFetchFailure(err error) {
	entry := journal.ErrorEntry(time.Now(), "fetch failed: "+err.Error())
	if werr := o.journal.Append(entry); werr != nil {
		o.logger.Warn("journal write failed for fetch-error entry", zap.Error(werr))
	}
}
