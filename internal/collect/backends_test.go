// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

func testOpts() Options {
	return Options{MaxResults: 5, UserAgent: "test/0.1"}
}

// jsonServer replies with body and records the last request.
func jsonServer(t *testing.T, status int, body string, last **http.Request) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if last != nil {
			*last = r
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// --- OpenAlex ---

const sampleOpenAlexJSON = `{
  "meta": {"count": 2, "per_page": 5, "page": 1},
  "results": [
    {
      "id": "https://openalex.org/W2741809807",
      "title": "Prevalence of psoriasis in adults",
      "doi": "https://doi.org/10.1001/jamadermatol.2021.2007",
      "publication_year": 2021,
      "abstract_inverted_index": {"Psoriasis": [0], "is": [1], "common.": [2], "It": [3], "persists.": [4]}
    },
    {
      "id": "https://openalex.org/W3210812345",
      "title": "Untitled registry analysis",
      "doi": "",
      "publication_year": 2019,
      "abstract_inverted_index": {}
    }
  ]
}`

func TestOpenAlexBackendSearch(t *testing.T) {
	var last *http.Request
	ts := jsonServer(t, http.StatusOK, sampleOpenAlexJSON, &last)

	old := openAlexSearchBase
	openAlexSearchBase = ts.URL
	defer func() { openAlexSearchBase = old }()

	b := &OpenAlexBackend{Client: ts.Client(), Email: "test@example.com"}
	opts := testOpts()
	opts.FromYear = 2015
	hits, err := b.Search(context.Background(), "psoriasis prevalence", opts)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "10.1001/jamadermatol.2021.2007", hits[0].NativeID)
	assert.Equal(t, "https://doi.org/10.1001/jamadermatol.2021.2007", hits[0].URL)
	assert.Equal(t, "Psoriasis is common. It persists.", hits[0].Abstract)
	assert.Equal(t, 2021, hits[0].Year)
	assert.Equal(t, types.SourcePublication, hits[0].Kind)

	assert.Equal(t, "https://openalex.org/W3210812345", hits[1].NativeID)
	assert.Equal(t, "https://openalex.org/W3210812345", hits[1].URL)

	q := last.URL.Query()
	assert.Equal(t, "psoriasis prevalence", q.Get("search"))
	assert.Equal(t, "5", q.Get("per_page"))
	assert.Equal(t, "from_publication_date:2015-01-01", q.Get("filter"))
	assert.Equal(t, "test@example.com", q.Get("mailto"))
	assert.Equal(t, "test/0.1", last.Header.Get("User-Agent"))
}

func TestOpenAlexBackendHTTPError(t *testing.T) {
	ts := jsonServer(t, http.StatusInternalServerError, `{}`, nil)
	old := openAlexSearchBase
	openAlexSearchBase = ts.URL
	defer func() { openAlexSearchBase = old }()

	b := &OpenAlexBackend{Client: ts.Client()}
	_, err := b.Search(context.Background(), "x", testOpts())
	assert.ErrorContains(t, err, "HTTP 500")
}

func TestOpenAlexBackendEmptyQuery(t *testing.T) {
	b := &OpenAlexBackend{Client: http.DefaultClient}
	_, err := b.Search(context.Background(), "  ", testOpts())
	assert.Error(t, err)
}

func TestReconstructAbstract(t *testing.T) {
	assert.Equal(t, "", reconstructAbstract(nil))
	assert.Equal(t, "the cat sat on the mat", reconstructAbstract(map[string][]int{
		"the": {0, 4}, "cat": {1}, "sat": {2}, "on": {3}, "mat": {5},
	}))
}

// --- Semantic Scholar ---

const sampleSemanticJSON = `{
  "total": 3,
  "data": [
    {"paperId": "abc", "title": "Deucravacitinib phase 3", "abstract": "A trial. More.", "year": 2022,
     "url": "https://www.semanticscholar.org/paper/abc", "externalIds": {"DOI": "10.1016/j.jaad.2022.07.002"}},
    {"paperId": "def", "title": "PubMed only", "abstract": null, "year": 2020,
     "url": "https://www.semanticscholar.org/paper/def", "externalIds": {"PubMed": "31234567"}},
    {"paperId": "ghi", "title": "No external ids", "year": 0,
     "url": "https://www.semanticscholar.org/paper/ghi", "externalIds": {}}
  ]
}`

func TestSemanticScholarBackendSearch(t *testing.T) {
	var last *http.Request
	ts := jsonServer(t, http.StatusOK, sampleSemanticJSON, &last)

	old := semanticAPIBase
	semanticAPIBase = ts.URL
	defer func() { semanticAPIBase = old }()

	b := &SemanticScholarBackend{Client: ts.Client(), APIKey: "secret"}
	opts := testOpts()
	opts.FromYear = 2019
	hits, err := b.Search(context.Background(), "deucravacitinib", opts)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "https://doi.org/10.1016/j.jaad.2022.07.002", hits[0].URL)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/31234567/", hits[1].URL)
	assert.Equal(t, "31234567", hits[1].NativeID)
	assert.Equal(t, "ghi", hits[2].NativeID)
	assert.Equal(t, "https://www.semanticscholar.org/paper/ghi", hits[2].URL)

	assert.Equal(t, "secret", last.Header.Get("x-api-key"))
	assert.Equal(t, "2019-", last.URL.Query().Get("year"))
}

func TestSemanticScholarBackendRetriesRateLimit(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"total":0,"data":[]}`)
	}))
	defer ts.Close()

	old := semanticAPIBase
	semanticAPIBase = ts.URL
	defer func() { semanticAPIBase = old }()

	b := &SemanticScholarBackend{Client: ts.Client()}
	hits, err := b.Search(context.Background(), "x", testOpts())
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 2, calls)
}

// --- ClinicalTrials.gov ---

const sampleTrialsJSON = `{
  "studies": [
    {"protocolSection": {
      "identificationModule": {"nctId": "NCT03624127", "briefTitle": "POETYK PSO-1", "officialTitle": "A Phase 3 Study of Deucravacitinib"},
      "statusModule": {"startDateStruct": {"date": "2018-08-07"}},
      "descriptionModule": {"briefSummary": "The purpose of this study is to evaluate efficacy. Secondary aims follow."}
    }},
    {"protocolSection": {
      "identificationModule": {"nctId": "NCT00000001", "briefTitle": "Old trial"},
      "statusModule": {"startDateStruct": {"date": "2001-01"}}
    }},
    {"protocolSection": {
      "identificationModule": {"briefTitle": "Missing id"}
    }}
  ]
}`

func TestClinicalTrialsBackendSearch(t *testing.T) {
	var last *http.Request
	ts := jsonServer(t, http.StatusOK, sampleTrialsJSON, &last)

	old := clinicalTrialsBase
	clinicalTrialsBase = ts.URL
	defer func() { clinicalTrialsBase = old }()

	b := &ClinicalTrialsBackend{Client: ts.Client()}
	opts := testOpts()
	opts.FromYear = 2010
	hits, err := b.Search(context.Background(), "deucravacitinib psoriasis", opts)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	h := hits[0]
	assert.Equal(t, "NCT03624127", h.NativeID)
	assert.Equal(t, "A Phase 3 Study of Deucravacitinib", h.Title)
	assert.Equal(t, "https://clinicaltrials.gov/study/NCT03624127", h.URL)
	assert.Equal(t, 2018, h.Year)
	assert.Equal(t, types.SourceTrialRecord, h.Kind)
	assert.Equal(t, "deucravacitinib psoriasis", last.URL.Query().Get("query.term"))
	assert.Equal(t, "5", last.URL.Query().Get("pageSize"))

	it, ok := ToEvidence(h, "trials", "phase 3 results?")
	require.True(t, ok)
	assert.Equal(t, "The purpose of this study is to evaluate efficacy.", it.Quote)
	assert.NoError(t, it.Validate())
}

func TestClinicalTrialsBackendHTTPError(t *testing.T) {
	ts := jsonServer(t, http.StatusBadRequest, `{}`, nil)
	old := clinicalTrialsBase
	clinicalTrialsBase = ts.URL
	defer func() { clinicalTrialsBase = old }()

	b := &ClinicalTrialsBackend{Client: ts.Client()}
	_, err := b.Search(context.Background(), "x", testOpts())
	assert.ErrorContains(t, err, "HTTP 400")
}

func TestStartYear(t *testing.T) {
	assert.Equal(t, 2019, startYear("2019-05"))
	assert.Equal(t, 2019, startYear("2019-05-14"))
	assert.Equal(t, 0, startYear(""))
	assert.Equal(t, 0, startYear("May 2019"))
}
