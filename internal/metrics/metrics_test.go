package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCycleIncrementsCounterAndHistogram(t *testing.T) {
	r := New()

	r.ObserveCycle("ok_changes", 250*time.Millisecond)
	r.ObserveCycle("ok_changes", 100*time.Millisecond)
	r.ObserveCycle("fetch_failed", 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.CyclesTotal.WithLabelValues("ok_changes")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.CyclesTotal.WithLabelValues("fetch_failed")))

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "gradewatch_cycle_duration_seconds" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(3), samples)
}

func TestObserveChangesSkipsZeroCounts(t *testing.T) {
	r := New()

	r.ObserveChanges(map[string]int{
		"new_assignment": 3,
		"grade_updated":  0,
	})

	assert.Equal(t, float64(3), testutil.ToFloat64(r.ChangesDetectedTotal.WithLabelValues("new_assignment")))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.ChangesDetectedTotal.WithLabelValues("grade_updated")))
}
