// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package refine

import (
	"time"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/pkg/types"
)

// RoundReport summarizes one collect, aggregate, gap-check cycle.
type RoundReport struct {
	Round int `json:"round" yaml:"round"`

	// Dispatched lists the sections a collector task ran for.
	Dispatched []string `json:"dispatched" yaml:"dispatched"`

	Merge evidence.MergeReport `json:"merge" yaml:"merge"`

	// Gaps is the gap list computed at the end of the round.
	Gaps []types.Gap `json:"gaps" yaml:"gaps"`

	// NewlyUnresolvable lists sections marked unresolvable this round.
	NewlyUnresolvable []string `json:"newly_unresolvable,omitempty" yaml:"newly_unresolvable,omitempty"`

	StoreSize int           `json:"store_size" yaml:"store_size"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Result is what the loop hands back when it stops.
type Result struct {
	Snapshot evidence.Snapshot `json:"snapshot" yaml:"snapshot"`

	// Gaps are the residual gaps after the last round.
	Gaps []types.Gap `json:"gaps" yaml:"gaps"`

	// Unresolvable lists sections the loop gave up on, in the order marked.
	Unresolvable []string `json:"unresolvable,omitempty" yaml:"unresolvable,omitempty"`

	Rounds         []RoundReport `json:"rounds" yaml:"rounds"`
	StopReason     StopReason    `json:"stop_reason" yaml:"stop_reason"`
	Trace          []State       `json:"trace" yaml:"trace"`
	CollectorCalls int           `json:"collector_calls" yaml:"collector_calls"`
	Elapsed        time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Complete reports whether the loop stopped with every gap closed.
func (r Result) Complete() bool {
	return r.StopReason == StopNoGaps
}

// Observer receives loop progress. Calls happen on the loop goroutine.
type Observer interface {
	ObserveRound(report RoundReport, view evidence.View)
	ObserveDone(result Result)
}
