package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New()

	r.ObserveCandidate("matched", 1)
	r.ObserveCandidate("matched", 3)
	r.ObserveCandidate("rejected", 1)
	r.ObserveRow(120 * time.Millisecond)
	r.ObserveChunk()

	assert.InDelta(t, 2, testutil.ToFloat64(r.candidates.WithLabelValues("matched")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.candidates.WithLabelValues("rejected")), 1e-9)
	assert.InDelta(t, 5, testutil.ToFloat64(r.attempts), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.rows), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.chunks), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(r.rowDuration))
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveChunk()

	assert.InDelta(t, 1, testutil.ToFloat64(a.chunks), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(b.chunks), 1e-9)
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := New()
	r.ObserveCandidate("no_match", 2)

	path := filepath.Join(t.TempDir(), "emissions.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `emissions_candidates_total{outcome="no_match"} 1`)
	assert.Contains(t, string(data), "emissions_estimate_attempts_total 2")
}

func TestRecorder_WriteTextfileBadDir(t *testing.T) {
	r := New()
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	require.Error(t, err)
}
