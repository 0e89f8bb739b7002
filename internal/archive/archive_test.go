// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/gap"
	"github.com/pdiddy/deep-research/internal/refine"
	"github.com/pdiddy/deep-research/pkg/types"
)

// --- test helpers ---

func testArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(types.ArchiveConfig{RunsDir: filepath.Join(t.TempDir(), "runs")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func samplePlan() types.ResearchPlan {
	return types.ResearchPlan{
		Topic: "psoriasis",
		Sections: []types.PlanSection{
			{Name: "epidemiology", KeyQuestions: []string{"prevalence?"}},
			{Name: "trials", KeyQuestions: []string{"phase 3 results?", "safety?"}},
		},
	}
}

// sampleResult runs a two-round loop in which the trials section never
// answers its questions and one epidemiology item is also found for trials.
func sampleResult(t *testing.T) refine.Result {
	t.Helper()
	shared := types.EvidenceItem{
		ID:                 "ev-shared",
		Source:             types.SourcePublication,
		Title:              "Psoriasis burden",
		URL:                "https://doi.org/10.1/shared",
		Quote:              "Psoriasis affects 3% of adults.",
		Year:               2021,
		Tags:               []string{"openalex"},
		SupportedQuestions: []string{"prevalence?"},
	}
	collector := refine.CollectorFunc(func(_ context.Context, task refine.Task) ([]types.EvidenceItem, error) {
		switch task.Section.Name {
		case "epidemiology":
			it := shared
			it.Section = "epidemiology"
			return []types.EvidenceItem{it}, nil
		default:
			dup := shared
			dup.ID = "ev-shared-copy"
			dup.Section = "trials"
			trial := types.EvidenceItem{
				ID: "NCT03624127", Source: types.SourceTrialRecord, Title: "POETYK PSO-1",
				URL: "https://clinicaltrials.gov/study/NCT03624127", Section: "trials",
			}
			return []types.EvidenceItem{dup, trial}, nil
		}
	})
	analyzer := gap.NewAnalyzer(gap.SupportedQuestionsJudge{Min: 1}, types.GapConfig{DefaultSectionMin: 1}, nil)
	cfg := types.LoopConfig{MaxRounds: 2, ZeroProgressLimit: 5, CollectorTimeout: time.Second}

	res, err := refine.New(collector, analyzer, cfg).Run(context.Background(), samplePlan())
	require.NoError(t, err)
	require.Equal(t, refine.StopMaxRounds, res.StopReason)
	return res
}

// --- tests ---

func TestOpenCreatesSchema(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "runs")
	a, err := Open(types.ArchiveConfig{RunsDir: dir}, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.FileExists(t, filepath.Join(dir, dbFile))
	assert.Equal(t, dir, a.Dir())

	// Reopening an existing archive is fine.
	b, err := Open(types.ArchiveConfig{RunsDir: dir}, nil)
	require.NoError(t, err)
	b.Close()
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()
	res := sampleResult(t)
	id := NewRunID()

	require.NoError(t, a.Save(ctx, id, samplePlan(), time.Now(), res))

	snap, err := a.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot, snap)
	assert.Equal(t, []string{"ev-shared", "NCT03624127"}, snap.SectionIDs("trials"))
}

func TestSaveTwiceFails(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()
	res := sampleResult(t)
	id := NewRunID()

	require.NoError(t, a.Save(ctx, id, samplePlan(), time.Now(), res))
	assert.Error(t, a.Save(ctx, id, samplePlan(), time.Now(), res))
}

func TestRunSummary(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()
	res := sampleResult(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id := NewRunID()
	require.NoError(t, a.Save(ctx, id, samplePlan(), started, res))

	run, err := a.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "psoriasis", run.Topic)
	assert.True(t, started.Equal(run.StartedAt))
	assert.Equal(t, string(refine.StopMaxRounds), run.StopReason)
	assert.Equal(t, 2, run.Rounds)
	assert.Equal(t, res.CollectorCalls, run.CollectorCalls)
	assert.Equal(t, len(res.Snapshot.Items), run.Items)
	assert.Equal(t, res.Elapsed, run.Elapsed)

	plan, err := a.Plan(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, samplePlan(), plan)
}

func TestRunsNewestFirst(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()
	res := sampleResult(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.Save(ctx, "older", samplePlan(), base, res))
	require.NoError(t, a.Save(ctx, "newer", samplePlan(), base.Add(time.Hour), res))

	runs, err := a.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].ID)
	assert.Equal(t, "older", runs[1].ID)
}

func TestRunNotFound(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	_, err := a.Run(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = a.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = a.Plan(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, a.Export(ctx, "missing", FormatYAML, &bytes.Buffer{}), ErrNotFound)
}

func TestRoundsAndGapHistory(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()
	res := sampleResult(t)
	id := NewRunID()
	require.NoError(t, a.Save(ctx, id, samplePlan(), time.Now(), res))

	rounds, err := a.Rounds(ctx, id)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, res.Rounds[0].Dispatched, rounds[0].Dispatched)
	assert.Equal(t, res.Rounds[0].Merge.Totals(), rounds[0].Merge.Totals())
	assert.Equal(t, []string{"trials"}, rounds[1].Dispatched)

	history, err := a.GapHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []GapRecord{
		{Round: 1, Section: "trials", Question: "phase 3 results?"},
		{Round: 1, Section: "trials", Question: "safety?"},
		{Round: 2, Section: "trials", Question: "phase 3 results?"},
		{Round: 2, Section: "trials", Question: "safety?"},
	}, history)
}

func TestExport(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()
	res := sampleResult(t)
	id := NewRunID()
	require.NoError(t, a.Save(ctx, id, samplePlan(), time.Now(), res))

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, a.Export(ctx, id, FormatYAML, &buf))
		var doc ExportDoc
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, id, doc.Run.ID)
		assert.Len(t, doc.Snapshot.Items, len(res.Snapshot.Items))
		assert.Equal(t, res.Gaps, doc.Gaps)

		_, err := evidence.Restore(doc.Snapshot)
		assert.NoError(t, err)
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, a.Export(ctx, id, FormatJSON, &buf))
		var doc ExportDoc
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, res.Snapshot.HashIndex, doc.Snapshot.HashIndex)
	})

	t.Run("csl", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, a.Export(ctx, id, FormatCSL, &buf))
		var items []CSLItem
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &items))
		require.Len(t, items, len(res.Snapshot.Items))

		byID := make(map[string]CSLItem)
		for _, it := range items {
			byID[it.ID] = it
		}
		trial := byID["NCT03624127"]
		assert.Equal(t, "dataset", trial.Type)
		assert.Empty(t, trial.DOI)
		for _, it := range items {
			if it.URL == "https://doi.org/10.1/shared" {
				assert.Equal(t, "10.1/shared", it.DOI)
				assert.Equal(t, "article-journal", it.Type)
				require.NotNil(t, it.Issued)
				assert.Equal(t, [][]int{{2021}}, it.Issued.DateParts)
			}
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		err := a.Export(ctx, id, "xml", &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown format")
	})
}

func TestSnapshotDetectsTampering(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()
	res := sampleResult(t)
	id := NewRunID()
	require.NoError(t, a.Save(ctx, id, samplePlan(), time.Now(), res))

	_, err := a.db.Exec(`INSERT INTO memberships (run_id, section, seq, evidence_id) VALUES (?, 'trials', 9, 'ghost')`, id)
	require.NoError(t, err)

	_, err = a.Snapshot(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, evidence.ErrCorrupt))
}

func TestSnapshotRejectsCorruptColumns(t *testing.T) {
	for _, col := range []string{"tags", "supported_questions"} {
		t.Run(col, func(t *testing.T) {
			a := testArchive(t)
			ctx := context.Background()
			id := NewRunID()
			require.NoError(t, a.Save(ctx, id, samplePlan(), time.Now(), sampleResult(t)))

			_, err := a.db.Exec(`UPDATE evidence SET `+col+` = '[not json' WHERE run_id = ? AND id = 'ev-shared'`, id)
			require.NoError(t, err)

			_, err = a.Snapshot(ctx, id)
			assert.ErrorContains(t, err, "ev-shared")
		})
	}
}

func TestWriteRunFiles(t *testing.T) {
	res := sampleResult(t)
	dir := filepath.Join(t.TempDir(), "run-1")
	require.NoError(t, WriteRunFiles(dir, res))

	data, err := os.ReadFile(filepath.Join(dir, "snapshot.yaml"))
	require.NoError(t, err)
	var snap evidence.Snapshot
	require.NoError(t, yaml.Unmarshal(data, &snap))
	assert.Equal(t, res.Snapshot, snap)

	data, err = os.ReadFile(filepath.Join(dir, "gaps.yaml"))
	require.NoError(t, err)
	var gaps struct {
		StopReason string      `yaml:"stop_reason"`
		Gaps       []types.Gap `yaml:"gaps"`
	}
	require.NoError(t, yaml.Unmarshal(data, &gaps))
	assert.Equal(t, "max_rounds", gaps.StopReason)
	assert.Equal(t, res.Gaps, gaps.Gaps)
}
