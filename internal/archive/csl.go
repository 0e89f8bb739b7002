// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package archive

import (
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/pkg/types"
)

// CSLItem is a bibliography entry in CSL-YAML, the format Pandoc and
// reference managers read.
type CSLItem struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"`
	Title    string   `yaml:"title"`
	Issued   *CSLDate `yaml:"issued,omitempty"`
	DOI      string   `yaml:"DOI,omitempty"`
	URL      string   `yaml:"URL,omitempty"`
	Note     string   `yaml:"note,omitempty"`
	Keywords string   `yaml:"keyword,omitempty"`
}

// CSLDate is a CSL date using date-parts.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

const doiPrefix = "https://doi.org/"

// writeCSL writes items as a CSL-YAML list, one entry per evidence item.
func writeCSL(items []types.EvidenceItem, w io.Writer) error {
	out := make([]CSLItem, len(items))
	for i, it := range items {
		out[i] = toCSLItem(it)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(out)
}

func toCSLItem(it types.EvidenceItem) CSLItem {
	c := CSLItem{
		ID:       it.ID,
		Type:     cslType(it.Source),
		Title:    it.Title,
		URL:      it.URL,
		Note:     it.Quote,
		Keywords: strings.Join(it.Tags, ", "),
	}
	if it.Year > 0 {
		c.Issued = &CSLDate{DateParts: [][]int{{it.Year}}}
	}
	if doi, ok := strings.CutPrefix(it.URL, doiPrefix); ok {
		c.DOI = doi
	}
	return c
}

func cslType(k types.SourceKind) string {
	switch k {
	case types.SourcePublication:
		return "article-journal"
	case types.SourceTrialRecord:
		return "dataset"
	case types.SourceWeb:
		return "webpage"
	default:
		return "document"
	}
}
