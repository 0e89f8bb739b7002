// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/refine"
	"github.com/pdiddy/deep-research/pkg/types"
)

// progressPrinter writes one block per round to w.
type progressPrinter struct {
	w io.Writer
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) ObserveRound(r refine.RoundReport, _ evidence.View) {
	fmt.Fprintf(p.w, "round %d (%s)\n", r.Round, r.Elapsed.Round(100*time.Millisecond))
	for _, sec := range r.Dispatched {
		c := r.Merge.Section(sec)
		if slices.Contains(r.Merge.FailedSections, sec) {
			fmt.Fprintf(p.w, "  failed  %-24s +%d new, %d dup\n", sec, c.Inserted, c.Deduplicated)
			continue
		}
		fmt.Fprintf(p.w, "  merged  %-24s +%d new, %d dup, %d rejected\n", sec, c.Inserted, c.Deduplicated, c.Rejected)
	}
	for _, sec := range r.NewlyUnresolvable {
		fmt.Fprintf(p.w, "  gave up %s: no new evidence\n", sec)
	}
	fmt.Fprintf(p.w, "  store %d items, %d section(s) with gaps\n\n", r.StoreSize, len(r.Gaps))
}

func (p *progressPrinter) ObserveDone(res refine.Result) {
	fmt.Fprintf(p.w, "stopped: %s after %d round(s), %d collector call(s)\n",
		res.StopReason, len(res.Rounds), res.CollectorCalls)
}

// printCoverage writes a per-section table of item counts and status,
// followed by the questions still missing.
func printCoverage(w io.Writer, p types.ResearchPlan, res refine.Result) {
	open := make(map[string]types.Gap, len(res.Gaps))
	for _, g := range res.Gaps {
		open[g.Section] = g
	}

	fmt.Fprintf(w, "\n%-24s  %5s  %s\n", "Section", "Items", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 48))
	for _, sec := range p.Sections {
		status := "covered"
		if g, ok := open[sec.Name]; ok {
			status = fmt.Sprintf("%d/%d questions open", len(g.MissingQuestions), len(sec.KeyQuestions))
		}
		if slices.Contains(res.Unresolvable, sec.Name) {
			status += ", unresolvable"
		}
		fmt.Fprintf(w, "%-24s  %5d  %s\n", sec.Name, len(res.Snapshot.SectionIDs(sec.Name)), status)
	}

	for _, g := range res.Gaps {
		fmt.Fprintf(w, "\n%s:\n", g.Section)
		for _, q := range g.MissingQuestions {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
}
