// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package aggregate

import (
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// RepairURL fills in a missing URL when the item id names a record whose
// address is known: a numeric PubMed id for publications, or an NCT
// number for trial records. Other items are returned unchanged.
func RepairURL(item types.EvidenceItem) types.EvidenceItem {
	if item.URL != "" {
		return item
	}
	id := strings.TrimSpace(item.ID)
	switch item.Source {
	case types.SourcePublication:
		pmid := strings.TrimPrefix(strings.TrimPrefix(strings.ToUpper(id), "PMID"), ":")
		if isDigits(pmid) {
			item.URL = "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/"
		}
	case types.SourceTrialRecord:
		if nct := strings.ToUpper(id); strings.HasPrefix(nct, "NCT") && isDigits(nct[3:]) {
			item.URL = "https://clinicaltrials.gov/study/" + nct
		}
	}
	return item
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
