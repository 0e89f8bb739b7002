// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// clinicalTrialsBase is the ClinicalTrials.gov v2 studies endpoint.
// Declared as a var so tests can substitute an httptest server.
var clinicalTrialsBase = "https://clinicaltrials.gov/api/v2/studies"

const clinicalTrialsStudyURL = "https://clinicaltrials.gov/study/"

// ClinicalTrialsBackend queries the ClinicalTrials.gov registry for trial
// records.
type ClinicalTrialsBackend struct {
	Client *http.Client
}

// Name returns the backend identifier.
func (b *ClinicalTrialsBackend) Name() string { return "clinicaltrials" }

// Search queries the registry and returns one hit per study.
func (b *ClinicalTrialsBackend) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty ClinicalTrials.gov query")
	}

	pageSize := opts.MaxResults
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 1000 {
		pageSize = 1000
	}

	params := url.Values{
		"query.term": {query},
		"pageSize":   {strconv.Itoa(pageSize)},
		"format":     {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clinicalTrialsBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("ClinicalTrials.gov API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ClinicalTrials.gov API returned HTTP %d", resp.StatusCode)
	}

	var cr ctResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("parsing ClinicalTrials.gov response: %w", err)
	}

	var hits []Hit
	for _, study := range cr.Studies {
		ps := study.ProtocolSection
		nct := ps.Identification.NCTID
		if nct == "" {
			continue
		}
		year := startYear(ps.Status.StartDate.Date)
		if opts.FromYear > 0 && year > 0 && year < opts.FromYear {
			continue
		}
		title := ps.Identification.OfficialTitle
		if title == "" {
			title = ps.Identification.BriefTitle
		}
		hits = append(hits, Hit{
			Backend:  b.Name(),
			Kind:     types.SourceTrialRecord,
			NativeID: nct,
			Title:    title,
			URL:      clinicalTrialsStudyURL + nct,
			Abstract: ps.Description.BriefSummary,
			Year:     year,
		})
	}
	return hits, nil
}

// startYear parses the year from a registry date ("2019-05" or
// "2019-05-14"); zero when absent or malformed.
func startYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// ClinicalTrials.gov v2 JSON structures.
type ctResponse struct {
	Studies []ctStudy `json:"studies"`
}

type ctStudy struct {
	ProtocolSection ctProtocol `json:"protocolSection"`
}

type ctProtocol struct {
	Identification ctIdentification `json:"identificationModule"`
	Status         ctStatus         `json:"statusModule"`
	Description    ctDescription    `json:"descriptionModule"`
}

type ctIdentification struct {
	NCTID         string `json:"nctId"`
	BriefTitle    string `json:"briefTitle"`
	OfficialTitle string `json:"officialTitle"`
}

type ctStatus struct {
	StartDate ctDate `json:"startDateStruct"`
}

type ctDate struct {
	Date string `json:"date"`
}

type ctDescription struct {
	BriefSummary string `json:"briefSummary"`
}
