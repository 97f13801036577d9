// Package fetch is the minimal concrete snapshot fetcher wired into the
// binary. The remote grade API's own authentication and wire format are
// explicitly outside the core's scope — the core consumes only the
// model.Snapshot value this package builds.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gradewatch/internal/model"
	"github.com/noah-isme/gradewatch/pkg/config"
)

// Client fetches a full grade snapshot from a single JSON endpoint,
// authenticated with an "Authorization: Key <key>:<secret>" header. Grounded on the
// teacher's bounded http.Client idiom (cutover_service.go).
type Client struct {
	cfg    config.APIConfig
	client *http.Client
	logger *zap.Logger
}

// New builds a Client from API configuration.
func New(cfg config.APIConfig, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: timeout}, logger: logger}
}

// Fetch implements the orchestrator's Fetcher contract: one GET, decoded
// into a model.Snapshot. Any HTTP, status, or decode failure is returned
// as an ordinary error; the orchestrator's retry loop handles transient
// and permanent failures identically, per spec.
func (c *Client) Fetch(ctx context.Context) (model.Snapshot, error) {
	return c.fetchFrom(ctx, fmt.Sprintf("https://%s/v1/snapshot", c.cfg.Domain))
}

func (c *Client) fetchFrom(ctx context.Context, url string) (model.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("fetch: building request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Key %s:%s", c.cfg.Key, c.cfg.Secret))
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return model.Snapshot{}, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	var dto snapshotDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return model.Snapshot{}, fmt.Errorf("fetch: decoding response: %w", err)
	}

	return dto.toModel()
}

type snapshotDTO struct {
	Timestamp time.Time    `json:"timestamp"`
	Sections  []sectionDTO `json:"sections"`
}

type sectionDTO struct {
	SectionID    string      `json:"section_id"`
	CourseTitle  string      `json:"course_title"`
	SectionTitle string      `json:"section_title"`
	Periods      []periodDTO `json:"periods"`
}

type periodDTO struct {
	PeriodID   string        `json:"period_id"`
	Name       string        `json:"name"`
	Categories []categoryDTO `json:"categories"`
}

type categoryDTO struct {
	CategoryID  string          `json:"category_id"`
	Name        string          `json:"name"`
	Weight      *string         `json:"weight"`
	Assignments []assignmentDTO `json:"assignments"`
}

type assignmentDTO struct {
	AssignmentID string  `json:"assignment_id"`
	Title        string  `json:"title"`
	EarnedPoints *string `json:"earned_points"`
	MaxPoints    *string `json:"max_points"`
	Exception    string  `json:"exception"`
	Comment      string  `json:"comment"`
	DueDate      *string `json:"due_date"`
}

func (d snapshotDTO) toModel() (model.Snapshot, error) {
	sections := make([]model.Section, 0, len(d.Sections))
	for _, s := range d.Sections {
		periods := make([]model.Period, 0, len(s.Periods))
		for _, p := range s.Periods {
			categories := make([]model.Category, 0, len(p.Categories))
			for _, c := range p.Categories {
				weight, err := parseRat(c.Weight)
				if err != nil {
					return model.Snapshot{}, fmt.Errorf("category %s: weight: %w", c.CategoryID, err)
				}
				assignments := make([]model.Assignment, 0, len(c.Assignments))
				for _, a := range c.Assignments {
					assignment, err := a.toModel()
					if err != nil {
						return model.Snapshot{}, fmt.Errorf("assignment %s: %w", a.AssignmentID, err)
					}
					assignments = append(assignments, assignment)
				}
				categories = append(categories, model.Category{
					CategoryID:  c.CategoryID,
					Name:        c.Name,
					Weight:      weight,
					Assignments: assignments,
				})
			}
			periods = append(periods, model.Period{PeriodID: p.PeriodID, Name: p.Name, Categories: categories})
		}
		sections = append(sections, model.Section{
			SectionID:    s.SectionID,
			CourseTitle:  s.CourseTitle,
			SectionTitle: s.SectionTitle,
			Periods:      periods,
		})
	}
	return model.Snapshot{Timestamp: d.Timestamp, Sections: sections}, nil
}

func (a assignmentDTO) toModel() (model.Assignment, error) {
	earned, err := parseRat(a.EarnedPoints)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("earned_points: %w", err)
	}
	max, err := parseRat(a.MaxPoints)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("max_points: %w", err)
	}
	exception, err := parseException(a.Exception)
	if err != nil {
		return model.Assignment{}, err
	}
	due, err := parseDueDate(a.DueDate)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("due_date: %w", err)
	}
	return model.Assignment{
		AssignmentID: a.AssignmentID,
		Title:        a.Title,
		EarnedPoints: earned,
		MaxPoints:    max,
		Exception:    exception,
		Comment:      a.Comment,
		DueDate:      due,
	}, nil
}

func parseRat(s *string) (*big.Rat, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	r, ok := new(big.Rat).SetString(*s)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", *s)
	}
	return r, nil
}

func parseException(s string) (model.Exception, error) {
	switch s {
	case "", "none":
		return model.ExceptionNone, nil
	case "excused":
		return model.ExceptionExcused, nil
	case "incomplete":
		return model.ExceptionIncomplete, nil
	case "missing":
		return model.ExceptionMissing, nil
	default:
		return model.ExceptionNone, fmt.Errorf("unknown exception %q", s)
	}
}

func parseDueDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
