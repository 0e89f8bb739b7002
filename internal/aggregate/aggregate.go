// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package aggregate merges per-section collector buffers into the
// evidence store in a deterministic order.
package aggregate

import (
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Buffer is the output of one collector task for one section. Err is set
// when the collector failed; the aggregator then ignores Items.
type Buffer struct {
	Section string
	Items   []types.EvidenceItem
	Err     error
}

// Aggregator merges buffers into a store.
type Aggregator struct {
	logger *zap.Logger
}

// New returns an Aggregator that logs through logger. A nil logger
// discards log output.
func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

// Aggregate merges buffers into store using a no-op logger.
func Aggregate(plan types.ResearchPlan, buffers map[string]Buffer, store *evidence.Store) evidence.MergeReport {
	return New(nil).Aggregate(plan, buffers, store)
}

// Aggregate merges buffers into store. Buffers are visited in plan
// section order, then any sections outside the plan sorted by name, so the
// resulting store does not depend on the order collectors finished in.
// Missing buffers contribute nothing. A failed buffer is recorded in the
// report and treated as empty: none of its items reach the store.
func (a *Aggregator) Aggregate(plan types.ResearchPlan, buffers map[string]Buffer, store *evidence.Store) evidence.MergeReport {
	var report evidence.MergeReport
	for _, section := range MergeOrder(plan, buffers) {
		buf, ok := buffers[section]
		if !ok {
			continue
		}
		if buf.Err != nil {
			a.logger.Warn("collector failed",
				zap.String("section", section),
				zap.Int("discarded_items", len(buf.Items)),
				zap.Error(buf.Err))
			report.Fail(section, buf.Err)
			continue
		}
		if len(buf.Items) == 0 {
			continue
		}

		items := make([]types.EvidenceItem, len(buf.Items))
		for i, item := range buf.Items {
			items[i] = RepairURL(item)
		}
		merged := store.Merge(items)
		for _, msg := range merged.Errors {
			a.logger.Warn("dropping evidence", zap.String("section", section), zap.String("reason", msg))
		}
		report.Absorb(merged)
	}

	totals := report.Totals()
	a.logger.Info("aggregated evidence",
		zap.Int("inserted", totals.Inserted),
		zap.Int("deduplicated", totals.Deduplicated),
		zap.Int("rejected", totals.Rejected),
		zap.Int("linked", totals.Linked),
		zap.Strings("failed_sections", report.FailedSections),
		zap.Int("store_size", store.Len()))
	return report
}

// MergeOrder returns the order buffers are merged in: plan sections
// first, then the remaining buffer keys sorted.
func MergeOrder(plan types.ResearchPlan, buffers map[string]Buffer) []string {
	order := plan.SectionNames()
	var extra []string
	for _, key := range slices.Sorted(maps.Keys(buffers)) {
		if !slices.Contains(order, key) {
			extra = append(extra, key)
		}
	}
	return append(order, extra...)
}
