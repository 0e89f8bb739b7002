// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// PlanSection is one named subdivision of a research plan.
type PlanSection struct {
	// Name identifies the section (e.g. "epidemiology").
	Name string `json:"name" yaml:"name"`

	// Description says what the section should cover.
	Description string `json:"description" yaml:"description"`

	// KeyQuestions are the section-specific questions evidence must answer.
	KeyQuestions []string `json:"key_questions" yaml:"key_questions"`

	// Scope says what to include and exclude.
	Scope string `json:"scope" yaml:"scope"`

	// MinEvidence overrides the configured section minimum when positive.
	MinEvidence int `json:"min_evidence,omitempty" yaml:"min_evidence,omitempty"`
}

// ResearchPlan is produced by a planner and read, never written, by the
// refinement loop.
type ResearchPlan struct {
	// Topic is the research subject (e.g. an indication and a drug).
	Topic string `json:"topic,omitempty" yaml:"topic,omitempty"`

	// Sections are ordered; that order drives aggregation and gap reporting.
	Sections []PlanSection `json:"sections" yaml:"sections"`
}

// SectionNames returns the section names in plan order.
func (p ResearchPlan) SectionNames() []string {
	names := make([]string, len(p.Sections))
	for i, s := range p.Sections {
		names[i] = s.Name
	}
	return names
}

// Section looks up a section by name.
func (p ResearchPlan) Section(name string) (PlanSection, bool) {
	for _, s := range p.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return PlanSection{}, false
}

// Gap is a plan section with at least one key question that the evidence
// store does not yet cover.
type Gap struct {
	Section          string   `json:"section" yaml:"section"`
	MissingQuestions []string `json:"missing_questions" yaml:"missing_questions"`
}

// GapSections returns the section names of gaps, in order.
func GapSections(gaps []Gap) []string {
	names := make([]string, len(gaps))
	for i, g := range gaps {
		names[i] = g.Section
	}
	return names
}
