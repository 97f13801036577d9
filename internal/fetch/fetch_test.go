package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradewatch/pkg/config"
)

const sampleBody = `{
	"timestamp": "2026-08-06T12:00:00Z",
	"sections": [
		{
			"section_id": "S1",
			"course_title": "Algebra",
			"section_title": "Period 1",
			"periods": [
				{
					"period_id": "P1",
					"name": "Semester 1",
					"categories": [
						{
							"category_id": "C1",
							"name": "Homework",
							"weight": "40",
							"assignments": [
								{
									"assignment_id": "A1",
									"title": "HW1",
									"earned_points": "8.5",
									"max_points": "10",
									"exception": "none",
									"comment": "good work",
									"due_date": "2026-08-01T00:00:00Z"
								}
							]
						}
					]
				}
			]
		}
	]
}`

func TestFetchDecodesSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Key "))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer server.Close()

	c := New(config.APIConfig{Key: "k", Secret: "s", Domain: "example.com"}, time.Second, nil)

	snap, err := c.fetchFrom(context.Background(), server.URL+"/v1/snapshot")
	require.NoError(t, err)

	require.Len(t, snap.Sections, 1)
	section := snap.Sections[0]
	assert.Equal(t, "Algebra", section.CourseTitle)
	require.Len(t, section.Periods, 1)
	require.Len(t, section.Periods[0].Categories, 1)
	cat := section.Periods[0].Categories[0]
	require.Len(t, cat.Assignments, 1)
	a := cat.Assignments[0]
	assert.Equal(t, "HW1", a.Title)
	assert.Equal(t, "17/2", a.EarnedPoints.RatString())
	assert.NotNil(t, a.DueDate)
}

func TestFetchRejectsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(config.APIConfig{Domain: "example.com"}, time.Second, nil)
	_, err := c.fetchFrom(context.Background(), server.URL)

	assert.Error(t, err)
}
