// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package plan loads and validates research plans written by a planner.
// Plans are YAML or JSON files holding a topic and ordered sections.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/pkg/types"
)

// ErrInvalidPlan is returned for plans that cannot drive a research run.
var ErrInvalidPlan = errors.New("invalid research plan")

// Load reads a plan from path. Files ending in .json are decoded as JSON;
// everything else is decoded as YAML.
func Load(path string) (types.ResearchPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ResearchPlan{}, fmt.Errorf("reading plan file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Parse decodes and validates a plan. Section names and questions are
// trimmed of surrounding whitespace.
func Parse(data []byte, isJSON bool) (types.ResearchPlan, error) {
	var p types.ResearchPlan
	if isJSON {
		if err := json.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parsing plan JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parsing plan YAML: %w", err)
		}
	}
	normalize(&p)
	if err := Validate(p); err != nil {
		return p, err
	}
	return p, nil
}

// Validate checks that the plan has at least one section, that section
// names are present and unique, and that no section repeats a key
// question.
func Validate(p types.ResearchPlan) error {
	if len(p.Sections) == 0 {
		return fmt.Errorf("%w: no sections", ErrInvalidPlan)
	}
	seen := make(map[string]bool, len(p.Sections))
	for i, sec := range p.Sections {
		if sec.Name == "" {
			return fmt.Errorf("%w: section %d has no name", ErrInvalidPlan, i+1)
		}
		if seen[sec.Name] {
			return fmt.Errorf("%w: duplicate section %q", ErrInvalidPlan, sec.Name)
		}
		seen[sec.Name] = true
		if sec.MinEvidence < 0 {
			return fmt.Errorf("%w: section %q has negative min_evidence", ErrInvalidPlan, sec.Name)
		}

		questions := make(map[string]bool, len(sec.KeyQuestions))
		for _, q := range sec.KeyQuestions {
			if q == "" {
				return fmt.Errorf("%w: section %q has an empty key question", ErrInvalidPlan, sec.Name)
			}
			if questions[q] {
				return fmt.Errorf("%w: section %q repeats question %q", ErrInvalidPlan, sec.Name, q)
			}
			questions[q] = true
		}
	}
	return nil
}

func normalize(p *types.ResearchPlan) {
	p.Topic = strings.TrimSpace(p.Topic)
	for i := range p.Sections {
		sec := &p.Sections[i]
		sec.Name = strings.TrimSpace(sec.Name)
		for j, q := range sec.KeyQuestions {
			sec.KeyQuestions[j] = strings.TrimSpace(q)
		}
	}
}

// Write saves a plan as YAML.
func Write(path string, p types.ResearchPlan) error {
	data, err := yaml.Marshal(&p)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
