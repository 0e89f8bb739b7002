// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package refine

import "fmt"

// State is a phase of the refinement loop.
type State int

const (
	StatePlanningDone State = iota
	StateCollecting
	StateAggregating
	StateGapCheck
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePlanningDone:
		return "planning_done"
	case StateCollecting:
		return "collecting"
	case StateAggregating:
		return "aggregating"
	case StateGapCheck:
		return "gap_check"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name so traces serialize readably.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StatePlanningDone; st <= StateDone; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown loop state %q", text)
}

// StopReason says why the loop reached StateDone.
type StopReason string

const (
	StopNoGaps       StopReason = "no_gaps"
	StopMaxRounds    StopReason = "max_rounds"
	StopMaxDuration  StopReason = "max_duration"
	StopCallBudget   StopReason = "collector_budget"
	StopCancelled    StopReason = "cancelled"
	StopUnresolvable StopReason = "all_unresolvable"
)

// allowed lists the legal transitions of the loop.
var allowed = map[State][]State{
	StatePlanningDone: {StateCollecting},
	StateCollecting:   {StateAggregating},
	StateAggregating:  {StateGapCheck},
	StateGapCheck:     {StateCollecting, StateDone},
}

// canTransition reports whether the loop may move from one state to another.
func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
