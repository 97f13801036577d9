// Package store persists the current grade snapshot in a single embedded
// SQLite file and serves point lookups used by the differ.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"golang.org/x/sys/unix"

	"github.com/noah-isme/gradewatch/internal/model"
	pipelineerr "github.com/noah-isme/gradewatch/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// Store is a single-writer, file-locked SQLite snapshot store. A process
// holds the lock for its lifetime; running two instances against the same
// path is undefined, per the concurrency model.
type Store struct {
	db     *sqlx.DB
	lockFD int
	path   string
}

// Open creates (if needed) the schema at path and acquires an exclusive
// file lock for the process lifetime, per the single-writer precondition.
func Open(ctx context.Context, path string) (*Store, error) {
	lockFD, err := acquireLock(path + ".lock")
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, pipelineerr.Clone(pipelineerr.ErrStoreLocked, fmt.Sprintf("store locked: %s", path))
		}
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		unix.Close(lockFD)
		return nil, pipelineerr.Wrap(err, pipelineerr.ErrStoreUnreadable.Code, pipelineerr.ErrStoreUnreadable.Status, fmt.Sprintf("open store: %s", path))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		unix.Close(lockFD)
		return nil, pipelineerr.Wrap(err, pipelineerr.ErrStoreUnreadable.Code, pipelineerr.ErrStoreUnreadable.Status, "apply schema")
	}

	return &Store{db: db, lockFD: lockFD, path: path}, nil
}

func acquireLock(lockPath string) (int, error) {
	fd, err := unix.Open(lockPath, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return -1, err
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("store is locked by another process: %w", err)
	}
	return fd, nil
}

// Close releases the database handle and the file lock.
func (s *Store) Close() error {
	err := s.db.Close()
	unix.Close(s.lockFD)
	os.Remove(s.path + ".lock")
	return err
}

// WithTx is the scoped transactional acquisition pattern: commit on
// success, rollback on any error or panic escaping fn.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback() //nolint:errcheck
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LatestTimestamp returns the observation timestamp of the current
// snapshot, or the zero value if the store has never been populated.
func (s *Store) LatestTimestamp(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT timestamp FROM meta WHERE id = 1`)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("latest timestamp: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp: %w", err)
	}
	return t, nil
}

type assignmentRow struct {
	AssignmentID string  `db:"assignment_id"`
	CategoryID   string  `db:"category_id"`
	PeriodID     string  `db:"period_id"`
	Title        string  `db:"title"`
	EarnedPoints *string `db:"earned_points"`
	MaxPoints    *string `db:"max_points"`
	Exception    int     `db:"exception"`
	Comment      string  `db:"comment"`
	DueDate      *string `db:"due_date"`
}

func (r assignmentRow) toModel() (model.Assignment, error) {
	a := model.Assignment{
		AssignmentID: r.AssignmentID,
		Title:        r.Title,
		Exception:    model.Exception(r.Exception),
		Comment:      r.Comment,
	}
	var err error
	if a.EarnedPoints, err = parseRat(r.EarnedPoints); err != nil {
		return model.Assignment{}, fmt.Errorf("parse earned_points for %s: %w", r.AssignmentID, err)
	}
	if a.MaxPoints, err = parseRat(r.MaxPoints); err != nil {
		return model.Assignment{}, fmt.Errorf("parse max_points for %s: %w", r.AssignmentID, err)
	}
	if r.DueDate != nil {
		t, err := time.Parse(time.RFC3339Nano, *r.DueDate)
		if err != nil {
			return model.Assignment{}, fmt.Errorf("parse due_date for %s: %w", r.AssignmentID, err)
		}
		a.DueDate = &t
	}
	return a, nil
}

func parseRat(s *string) (*big.Rat, error) {
	if s == nil {
		return nil, nil
	}
	r := new(big.Rat)
	if _, ok := r.SetString(*s); !ok {
		return nil, fmt.Errorf("invalid rational literal %q", *s)
	}
	return r, nil
}

func formatRat(r *big.Rat) *string {
	if r == nil {
		return nil
	}
	s := r.RatString()
	return &s
}

// GetAssignment returns the stored assignment with the given ID, or
// found=false if no such assignment is stored. The IDs of its enclosing
// category and period are read from the row but not returned.
func (s *Store) GetAssignment(ctx context.Context, id string) (a model.Assignment, found bool, err error) {
	var row assignmentRow
	err = s.db.GetContext(ctx, &row, `SELECT assignment_id, category_id, period_id, title, earned_points, max_points, exception, comment, due_date FROM assignments WHERE assignment_id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return model.Assignment{}, false, nil
		}
		return model.Assignment{}, false, fmt.Errorf("get assignment %s: %w", id, err)
	}
	a, err = row.toModel()
	if err != nil {
		return model.Assignment{}, false, err
	}
	return a, true, nil
}

// GetCategory returns the stored category (excluding its assignments) for
// the compound key, or found=false if absent.
func (s *Store) GetCategory(ctx context.Context, categoryID, periodID string) (c model.Category, found bool, err error) {
	var row struct {
		Name   string  `db:"name"`
		Weight *string `db:"weight"`
	}
	err = s.db.GetContext(ctx, &row, `SELECT name, weight FROM categories WHERE category_id = ? AND period_id = ?`, categoryID, periodID)
	if err != nil {
		if isNoRows(err) {
			return model.Category{}, false, nil
		}
		return model.Category{}, false, fmt.Errorf("get category %s/%s: %w", categoryID, periodID, err)
	}
	weight, err := parseRat(row.Weight)
	if err != nil {
		return model.Category{}, false, fmt.Errorf("parse weight for %s/%s: %w", categoryID, periodID, err)
	}
	return model.Category{CategoryID: categoryID, Name: row.Name, Weight: weight}, true, nil
}

// AssignmentIterator is a lazy, cursor-backed sequence over every stored
// assignment. Callers must Close it.
type AssignmentIterator struct {
	rows *sqlx.Rows
}

// Next advances the cursor; it returns false when exhausted or on error
// (call Err to distinguish).
func (it *AssignmentIterator) Next() bool {
	return it.rows.Next()
}

// Scan decodes the current row.
func (it *AssignmentIterator) Scan() (model.Assignment, error) {
	var row assignmentRow
	if err := it.rows.StructScan(&row); err != nil {
		return model.Assignment{}, fmt.Errorf("scan assignment: %w", err)
	}
	return row.toModel()
}

// Err returns any error encountered while iterating.
func (it *AssignmentIterator) Err() error {
	return it.rows.Err()
}

// Close releases the underlying cursor.
func (it *AssignmentIterator) Close() error {
	return it.rows.Close()
}

// IterAssignments returns a lazy sequence over every stored assignment.
func (s *Store) IterAssignments(ctx context.Context) (*AssignmentIterator, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT assignment_id, category_id, period_id, title, earned_points, max_points, exception, comment, due_date FROM assignments`)
	if err != nil {
		return nil, fmt.Errorf("iter assignments: %w", err)
	}
	return &AssignmentIterator{rows: rows}, nil
}

// ReplaceAll atomically replaces the current snapshot: the entire new
// snapshot is visible after return, or the old one remains. Partial
// replacement never happens because the delete-then-insert pass runs
// inside a single transaction.
func (s *Store) ReplaceAll(ctx context.Context, snap model.Snapshot) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{"assignments", "categories", "periods", "sections", "meta"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (id, timestamp) VALUES (1, ?)`, snap.Timestamp.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert meta: %w", err)
		}

		for _, sec := range snap.Sections {
			if _, err := tx.ExecContext(ctx, `INSERT INTO sections (section_id, course_title, section_title) VALUES (?, ?, ?)`,
				sec.SectionID, sec.CourseTitle, sec.SectionTitle); err != nil {
				return fmt.Errorf("insert section %s: %w", sec.SectionID, err)
			}
			for _, per := range sec.Periods {
				if _, err := tx.ExecContext(ctx, `INSERT INTO periods (period_id, section_id, name) VALUES (?, ?, ?)`,
					per.PeriodID, sec.SectionID, per.Name); err != nil {
					return fmt.Errorf("insert period %s: %w", per.PeriodID, err)
				}
				for _, cat := range per.Categories {
					if _, err := tx.ExecContext(ctx, `INSERT INTO categories (category_id, period_id, name, weight) VALUES (?, ?, ?, ?)`,
						cat.CategoryID, per.PeriodID, cat.Name, formatRat(cat.Weight)); err != nil {
						return fmt.Errorf("insert category %s/%s: %w", cat.CategoryID, per.PeriodID, err)
					}
					for _, a := range cat.Assignments {
						var dueDate *string
						if a.DueDate != nil {
							f := a.DueDate.Format(time.RFC3339Nano)
							dueDate = &f
						}
						if _, err := tx.ExecContext(ctx, `INSERT INTO assignments (assignment_id, category_id, period_id, title, earned_points, max_points, exception, comment, due_date) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
							a.AssignmentID, cat.CategoryID, per.PeriodID, a.Title, formatRat(a.EarnedPoints), formatRat(a.MaxPoints), int(a.Exception), a.Comment, dueDate); err != nil {
							return fmt.Errorf("insert assignment %s: %w", a.AssignmentID, err)
						}
					}
				}
			}
		}
		return nil
	})
}

// ClearAll wipes every row including meta. Test-only.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{"assignments", "categories", "periods", "sections", "meta"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
