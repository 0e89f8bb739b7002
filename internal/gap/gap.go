// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gap decides which research plan sections still lack evidence.
//
// The Analyzer walks the plan in order and asks a Judge, per key question,
// whether the evidence collected for the section answers it. A section
// with fewer items than its minimum reports every question missing
// without consulting the judge.
package gap

import (
	"context"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Judge decides whether a set of evidence items covers a key question.
// Implementations must not modify items.
type Judge interface {
	Covered(ctx context.Context, question string, items []types.EvidenceItem) (bool, error)
}

// JudgeFunc adapts a function to the Judge interface.
type JudgeFunc func(ctx context.Context, question string, items []types.EvidenceItem) (bool, error)

// Covered calls f.
func (f JudgeFunc) Covered(ctx context.Context, question string, items []types.EvidenceItem) (bool, error) {
	return f(ctx, question, items)
}

// Analyzer computes the gap list for a plan against an evidence view.
type Analyzer struct {
	judge  Judge
	cfg    types.GapConfig
	logger *zap.Logger
}

// NewAnalyzer returns an Analyzer using judge for relevance decisions and
// cfg for section minimums. A nil logger discards log output.
func NewAnalyzer(judge Judge, cfg types.GapConfig, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{judge: judge, cfg: cfg, logger: logger}
}

// SectionMin returns the number of items sec needs before any of its
// questions can be covered. The plan's own MinEvidence takes precedence
// over the configured per-section and default minimums.
func (a *Analyzer) SectionMin(sec types.PlanSection) int {
	if sec.MinEvidence > 0 {
		return sec.MinEvidence
	}
	if n, ok := a.cfg.SectionMin[sec.Name]; ok {
		return n
	}
	return a.cfg.DefaultSectionMin
}

// Analyze returns one Gap per plan section with at least one uncovered
// key question, in plan order. Questions keep their plan order. Judge
// errors are logged and the question is treated as uncovered.
func (a *Analyzer) Analyze(ctx context.Context, view evidence.View, plan types.ResearchPlan) []types.Gap {
	var gaps []types.Gap
	for _, sec := range plan.Sections {
		items := view.Section(sec.Name)
		missing := a.missingQuestions(ctx, sec, items)
		if len(missing) == 0 {
			continue
		}
		a.logger.Debug("section has gaps",
			zap.String("section", sec.Name),
			zap.Int("items", len(items)),
			zap.Int("missing_questions", len(missing)))
		gaps = append(gaps, types.Gap{Section: sec.Name, MissingQuestions: missing})
	}
	return gaps
}

func (a *Analyzer) missingQuestions(ctx context.Context, sec types.PlanSection, items []types.EvidenceItem) []string {
	if len(items) < a.SectionMin(sec) {
		return append([]string(nil), sec.KeyQuestions...)
	}

	var missing []string
	for _, q := range sec.KeyQuestions {
		ok, err := a.judge.Covered(ctx, q, items)
		if err != nil {
			a.logger.Warn("relevance judgment failed",
				zap.String("section", sec.Name),
				zap.String("question", q),
				zap.Error(err))
			ok = false
		}
		if !ok {
			missing = append(missing, q)
		}
	}
	return missing
}
