// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gap

import (
	"context"

	"github.com/pdiddy/deep-research/pkg/types"
)

// CountJudge covers every question once the section holds at least Min
// items. A Min below one is treated as one.
type CountJudge struct {
	Min int
}

// Covered implements Judge.
func (j CountJudge) Covered(_ context.Context, _ string, items []types.EvidenceItem) (bool, error) {
	return len(items) >= max(j.Min, 1), nil
}

// SupportedQuestionsJudge covers a question once at least Min items list
// it in SupportedQuestions. A Min below one is treated as one.
type SupportedQuestionsJudge struct {
	Min int
}

// Covered implements Judge.
func (j SupportedQuestionsJudge) Covered(_ context.Context, question string, items []types.EvidenceItem) (bool, error) {
	n := 0
	for _, item := range items {
		if item.Supports(question) {
			n++
		}
	}
	return n >= max(j.Min, 1), nil
}
