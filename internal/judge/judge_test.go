// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/internal/gap"
	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

func init() {
	backoffBase = time.Millisecond
	httputil.RetryBaseDelay = time.Millisecond
}

func sampleItems() []types.EvidenceItem {
	return []types.EvidenceItem{
		{ID: "ev-a", Source: types.SourcePublication, Title: "Psoriasis prevalence in adults", Quote: "Prevalence was 3%.", Year: 2021, Section: "epidemiology"},
		{ID: "ev-b", Source: types.SourcePublication, Title: "Incidence trends", Quote: "Incidence rose.", Section: "epidemiology"},
	}
}

// claudeServer replies with text wrapped in a Messages API response and
// counts calls.
func claudeServer(t *testing.T, text string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req claudeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 1)

		resp := claudeResponse{Content: []claudeContent{{Type: "text", Text: text}}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func withAPIURL(t *testing.T, url string) {
	t.Helper()
	old := claudeAPIURL
	claudeAPIURL = url
	t.Cleanup(func() { claudeAPIURL = old })
}

func testJudge(client *http.Client) *ClaudeJudge {
	return &ClaudeJudge{APIKey: "test-key", Model: "test-model", Client: client, MaxRetries: 2}
}

func TestClaudeJudgeCovered(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"covered with known support", `{"covered": true, "supporting": ["ev-a"], "reason": "reports prevalence"}`, true},
		{"not covered", `{"covered": false, "supporting": [], "reason": "no prevalence figure"}`, false},
		{"covered with unknown ids only", `{"covered": true, "supporting": ["ev-zzz"], "reason": "x"}`, false},
		{"fenced json", "```json\n{\"covered\": true, \"supporting\": [\"ev-b\"]}\n```", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			ts := claudeServer(t, tt.text, &calls)
			withAPIURL(t, ts.URL)

			got, err := testJudge(ts.Client()).Covered(context.Background(), "What is the prevalence?", sampleItems())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestClaudeJudgeNoItemsSkipsCall(t *testing.T) {
	var calls atomic.Int32
	ts := claudeServer(t, `{"covered": true}`, &calls)
	withAPIURL(t, ts.URL)

	got, err := testJudge(ts.Client()).Covered(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Zero(t, calls.Load())
}

func TestClaudeJudgeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"overloaded"}`)
			return
		}
		json.NewEncoder(w).Encode(claudeResponse{Content: []claudeContent{
			{Type: "text", Text: `{"covered": true, "supporting": ["ev-a"]}`},
		}})
	}))
	defer ts.Close()
	withAPIURL(t, ts.URL)

	got, err := testJudge(ts.Client()).Covered(context.Background(), "q", sampleItems())
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClaudeJudgeGivesUp(t *testing.T) {
	var calls atomic.Int32
	ts := claudeServer(t, "I cannot answer that.", &calls)
	withAPIURL(t, ts.URL)

	_, err := testJudge(ts.Client()).Covered(context.Background(), "q", sampleItems())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Contains(t, err.Error(), "no JSON object")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClaudeJudgeMaxItems(t *testing.T) {
	var prompt string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req claudeRequest
		if assert.NoError(t, json.Unmarshal(body, &req)) && len(req.Messages) > 0 {
			prompt = req.Messages[0].Content
		}
		json.NewEncoder(w).Encode(claudeResponse{Content: []claudeContent{
			{Type: "text", Text: `{"covered": true, "supporting": ["ev-b"]}`},
		}})
	}))
	defer ts.Close()
	withAPIURL(t, ts.URL)

	j := testJudge(ts.Client())
	j.MaxItems = 1
	got, err := j.Covered(context.Background(), "q", sampleItems())
	require.NoError(t, err)
	assert.False(t, got, "ev-b was not shown to the model")
	assert.Contains(t, prompt, "id: ev-a")
	assert.NotContains(t, prompt, "id: ev-b")
}

func TestRenderPrompt(t *testing.T) {
	prompt, err := renderPrompt("What is the prevalence?", sampleItems())
	require.NoError(t, err)
	assert.Contains(t, prompt, "Question: What is the prevalence?")
	assert.Contains(t, prompt, "title: Psoriasis prevalence in adults (2021)")
	assert.Contains(t, prompt, "quote: Prevalence was 3%.")
	assert.Contains(t, prompt, "title: Incidence trends\n")
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict(`Here you go: {"covered": true, "supporting": ["a", "b"], "reason": "r"} thanks`)
	require.NoError(t, err)
	assert.Equal(t, Verdict{Covered: true, Supporting: []string{"a", "b"}, Reason: "r"}, v)

	_, err = parseVerdict("no braces")
	assert.Error(t, err)
	_, err = parseVerdict(`{"covered": maybe}`)
	assert.Error(t, err)
}

func TestNewClaudeJudgeRequiresKey(t *testing.T) {
	_, err := NewClaudeJudge(types.AIConfig{Model: "m"}, nil, nil)
	assert.Error(t, err)

	j, err := NewClaudeJudge(types.AIConfig{Model: "m", APIKey: "k", MaxRetries: 4}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, j.MaxRetries)
}

// --- Cached ---

func TestCachedMemoizes(t *testing.T) {
	var calls int
	inner := gap.JudgeFunc(func(_ context.Context, q string, items []types.EvidenceItem) (bool, error) {
		calls++
		return strings.Contains(q, "prevalence") && len(items) > 1, nil
	})
	c := NewCached(inner)
	ctx := context.Background()
	items := sampleItems()

	for range 3 {
		got, err := c.Covered(ctx, "prevalence?", items)
		require.NoError(t, err)
		assert.True(t, got)
	}
	assert.Equal(t, 1, calls)

	// Order of items does not change the key.
	reversed := []types.EvidenceItem{items[1], items[0]}
	_, err := c.Covered(ctx, "prevalence?", reversed)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// New evidence or a different question is a miss.
	_, err = c.Covered(ctx, "prevalence?", items[:1])
	require.NoError(t, err)
	_, err = c.Covered(ctx, "incidence?", items)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	hits, misses := c.Stats()
	assert.Equal(t, 3, hits)
	assert.Equal(t, 3, misses)
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	var calls int
	inner := gap.JudgeFunc(func(context.Context, string, []types.EvidenceItem) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("transient")
		}
		return true, nil
	})
	c := NewCached(inner)

	_, err := c.Covered(context.Background(), "q", sampleItems())
	assert.Error(t, err)
	got, err := c.Covered(context.Background(), "q", sampleItems())
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 2, calls)
}

func TestFromConfig(t *testing.T) {
	ai := types.AIConfig{Model: "m", APIKey: "k"}

	j, err := FromConfig(types.GapConfig{Judge: types.JudgeCount, MinEvidence: 3}, ai, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, gap.CountJudge{Min: 3}, j)

	j, err = FromConfig(types.GapConfig{Judge: types.JudgeSupported, MinEvidence: 2}, ai, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, gap.SupportedQuestionsJudge{Min: 2}, j)

	j, err = FromConfig(types.GapConfig{Judge: types.JudgeClaude}, ai, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, j)

	_, err = FromConfig(types.GapConfig{Judge: types.JudgeClaude}, types.AIConfig{}, nil, nil)
	assert.Error(t, err)

	_, err = FromConfig(types.GapConfig{Judge: "oracle"}, ai, nil, nil)
	assert.Error(t, err)
}
