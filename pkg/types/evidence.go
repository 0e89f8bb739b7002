// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared records of the deep-research pipeline:
// evidence items, research plans, gaps, and stage configuration.
//
// Records carry json and yaml tags so the run archive and the CLI can
// serialize them as plain structured data.
package types

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SourceKind classifies where a piece of evidence came from.
type SourceKind string

const (
	SourcePublication SourceKind = "publication"
	SourceTrialRecord SourceKind = "trial_record"
	SourceWeb         SourceKind = "web"
	SourceOther       SourceKind = "other"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourcePublication, SourceTrialRecord, SourceWeb, SourceOther:
		return true
	}
	return false
}

// EvidenceItem is one evidential claim produced by a collector. Items are
// values: once a collector hands an item over, nothing modifies it.
type EvidenceItem struct {
	// ID is assigned by the collector and must be unique within a store.
	ID string `json:"id" yaml:"id" validate:"notblank"`

	// Source is the kind of source the evidence was taken from.
	Source SourceKind `json:"source" yaml:"source" validate:"required,oneof=publication trial_record web other"`

	// Title is the exact title of the source.
	Title string `json:"title" yaml:"title" validate:"notblank"`

	// URL is the canonical absolute reference to the source, if known.
	URL string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`

	// Quote is a verbatim excerpt from the source supporting the claim.
	Quote string `json:"quote,omitempty" yaml:"quote,omitempty"`

	// Year is the publication year; zero when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty" validate:"omitempty,gte=1800,lte=2100"`

	// Tags are unordered topical labels.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Section is the research plan section this evidence supports.
	Section string `json:"section" yaml:"section" validate:"notblank"`

	// SupportedQuestions lists the plan key questions the collector
	// claims this item answers.
	SupportedQuestions []string `json:"supported_questions,omitempty" yaml:"supported_questions,omitempty"`
}

// itemValidate is shared by all EvidenceItem validations.
var itemValidate *validator.Validate

func init() {
	itemValidate = validator.New()
	if err := itemValidate.RegisterValidation("notblank", validateNotBlank); err != nil {
		panic(fmt.Sprintf("registering notblank validation: %v", err))
	}
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validate checks required fields, the source kind, the URL shape, and
// the year range.
func (e EvidenceItem) Validate() error {
	if err := itemValidate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("evidence %q: field %s failed %q check", e.ID, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("evidence %q: %w", e.ID, err)
	}
	return nil
}

// HasTag reports whether the item carries tag.
func (e EvidenceItem) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// Supports reports whether the collector marked question as supported.
func (e EvidenceItem) Supports(question string) bool {
	return slices.Contains(e.SupportedQuestions, question)
}

// Clone returns a copy that shares no slices with e.
func (e EvidenceItem) Clone() EvidenceItem {
	e.Tags = slices.Clone(e.Tags)
	e.SupportedQuestions = slices.Clone(e.SupportedQuestions)
	return e
}
