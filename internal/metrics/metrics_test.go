// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/refine"
	"github.com/pdiddy/deep-research/pkg/types"
)

func item(id, section string) types.EvidenceItem {
	return types.EvidenceItem{
		ID:      id,
		Source:  types.SourcePublication,
		Title:   "Title " + id,
		URL:     "https://example.org/" + id,
		Section: section,
	}
}

func TestObserveRound(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewObserver(reg)

	store := evidence.NewStore()
	merge := store.Merge([]types.EvidenceItem{item("a", "epidemiology"), item("b", "epidemiology")})
	merge.Absorb(store.Merge([]types.EvidenceItem{item("a", "epidemiology")}))
	merge.Fail("trials", errors.New("HTTP 503"))

	o.ObserveRound(refine.RoundReport{
		Round:             1,
		Dispatched:        []string{"epidemiology", "trials"},
		Merge:             merge,
		Gaps:              []types.Gap{{Section: "trials", MissingQuestions: []string{"q1", "q2"}}},
		NewlyUnresolvable: []string{"trials"},
		StoreSize:         store.Len(),
		Elapsed:           3 * time.Second,
	}, store)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.rounds))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.items.WithLabelValues("epidemiology", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.items.WithLabelValues("epidemiology", "deduplicated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.collectorFails.WithLabelValues("trials")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.storeItems))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.sectionItems.WithLabelValues("epidemiology")))
	assert.Equal(t, 0.0, testutil.ToFloat64(o.sectionItems.WithLabelValues("trials")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.missingQuestions.WithLabelValues("trials")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.unresolvable))
	assert.Equal(t, 1, testutil.CollectAndCount(o.roundDuration))
}

func TestMissingQuestionsReset(t *testing.T) {
	o := NewObserver(prometheus.NewRegistry())
	store := evidence.NewStore()

	o.ObserveRound(refine.RoundReport{Gaps: []types.Gap{{Section: "trials", MissingQuestions: []string{"q"}}}}, store)
	assert.Equal(t, 1, testutil.CollectAndCount(o.missingQuestions))

	o.ObserveRound(refine.RoundReport{}, store)
	assert.Equal(t, 0, testutil.CollectAndCount(o.missingQuestions))
}

func TestUnresolvableTracksCurrentRun(t *testing.T) {
	o := NewObserver(prometheus.NewRegistry())
	store := evidence.NewStore()

	o.ObserveRound(refine.RoundReport{Round: 1, NewlyUnresolvable: []string{"trials"}}, store)
	o.ObserveRound(refine.RoundReport{Round: 2, NewlyUnresolvable: []string{"safety"}}, store)
	assert.Equal(t, 2.0, testutil.ToFloat64(o.unresolvable))
	o.ObserveDone(refine.Result{StopReason: refine.StopUnresolvable, Unresolvable: []string{"trials", "safety"}})
	assert.Equal(t, 2.0, testutil.ToFloat64(o.unresolvable))

	// A second run starts from zero.
	o.ObserveRound(refine.RoundReport{Round: 1}, store)
	assert.Equal(t, 0.0, testutil.ToFloat64(o.unresolvable))
	o.ObserveDone(refine.Result{StopReason: refine.StopNoGaps})
	assert.Equal(t, 0.0, testutil.ToFloat64(o.unresolvable))
}

func TestObserveDone(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewObserver(reg)

	o.ObserveDone(refine.Result{StopReason: refine.StopNoGaps})
	o.ObserveDone(refine.Result{StopReason: refine.StopMaxRounds})
	o.ObserveDone(refine.Result{StopReason: refine.StopMaxRounds})

	expected := `
# HELP deep_research_refine_runs_total Finished refinement runs by stop reason
# TYPE deep_research_refine_runs_total counter
deep_research_refine_runs_total{stop_reason="max_rounds"} 2
deep_research_refine_runs_total{stop_reason="no_gaps"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "deep_research_refine_runs_total"))
}

func TestNewObserverRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewObserver(reg)
	assert.Panics(t, func() { NewObserver(reg) })
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", prometheus.NewRegistry(), nil) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeBadAddress(t *testing.T) {
	err := Serve(context.Background(), "not-an-address", prometheus.NewRegistry(), nil)
	assert.Error(t, err)
}
