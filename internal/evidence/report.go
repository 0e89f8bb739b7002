// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evidence

// SectionCounts tallies merge outcomes for one section.
type SectionCounts struct {
	Inserted     int `json:"inserted" yaml:"inserted"`
	Deduplicated int `json:"deduplicated" yaml:"deduplicated"`
	Rejected     int `json:"rejected" yaml:"rejected"`

	// Linked counts duplicates that made an existing item a member of
	// this section. Linked items are also counted as Deduplicated.
	Linked int `json:"linked" yaml:"linked"`
}

// Total returns the number of items offered for the section.
func (c SectionCounts) Total() int {
	return c.Inserted + c.Deduplicated + c.Rejected
}

func (c SectionCounts) plus(o SectionCounts) SectionCounts {
	return SectionCounts{
		Inserted:     c.Inserted + o.Inserted,
		Deduplicated: c.Deduplicated + o.Deduplicated,
		Rejected:     c.Rejected + o.Rejected,
		Linked:       c.Linked + o.Linked,
	}
}

// MergeReport summarizes one merge of collector output into a store.
type MergeReport struct {
	// Sections lists the sections with counts, in the order first seen.
	Sections []string                 `json:"sections" yaml:"sections"`
	Counts   map[string]SectionCounts `json:"counts" yaml:"counts"`

	// FailedSections lists sections whose collector reported an error.
	FailedSections []string `json:"failed_sections,omitempty" yaml:"failed_sections,omitempty"`

	// Errors holds one message per rejected item or failed collector.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func (r *MergeReport) add(section string, c SectionCounts) {
	if r.Counts == nil {
		r.Counts = make(map[string]SectionCounts)
	}
	prev, seen := r.Counts[section]
	if !seen {
		r.Sections = append(r.Sections, section)
	}
	r.Counts[section] = prev.plus(c)
}

// Absorb folds other into r, keeping r's section order first.
func (r *MergeReport) Absorb(other MergeReport) {
	for _, sec := range other.Sections {
		r.add(sec, other.Counts[sec])
	}
	r.FailedSections = append(r.FailedSections, other.FailedSections...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Fail records a failed collector for section.
func (r *MergeReport) Fail(section string, err error) {
	r.FailedSections = append(r.FailedSections, section)
	if err != nil {
		r.Errors = append(r.Errors, section+": "+err.Error())
	}
}

// Section returns the counts for one section.
func (r MergeReport) Section(name string) SectionCounts {
	return r.Counts[name]
}

// Totals sums the counts over all sections.
func (r MergeReport) Totals() SectionCounts {
	var t SectionCounts
	for _, c := range r.Counts {
		t = t.plus(c)
	}
	return t
}

// HasFailures reports whether any item was rejected or any collector failed.
func (r MergeReport) HasFailures() bool {
	return len(r.FailedSections) > 0 || r.Totals().Rejected > 0
}
