// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package refine drives research collection as a bounded state machine:
// dispatch collectors, aggregate their output, check for gaps, and repeat
// for the sections that still lack evidence.
//
// The loop owns the evidence store. Only the aggregation step writes to
// it; the gap analyzer and observers see it through evidence.View.
package refine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/aggregate"
	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/pkg/types"
)

// ErrEmptyPlan is returned by Run for a plan without sections.
var ErrEmptyPlan = errors.New("research plan has no sections")

// GapAnalyzer computes the open gaps of a plan against the store.
type GapAnalyzer interface {
	Analyze(ctx context.Context, view evidence.View, plan types.ResearchPlan) []types.Gap
}

// Loop is the refinement loop. A Loop may be run once per store; create a
// new Loop, or pass a fresh store, for each run.
type Loop struct {
	collector  Collector
	analyzer   GapAnalyzer
	aggregator *aggregate.Aggregator
	cfg        types.LoopConfig
	store      *evidence.Store
	observers  []Observer
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger. The aggregator logs through it too.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers an observer for round and completion events.
func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, o) }
}

// WithStore seeds the loop with an existing store, for example one
// restored from an earlier run's snapshot.
func WithStore(store *evidence.Store) Option {
	return func(l *Loop) { l.store = store }
}

// WithClock replaces the wall clock used for the duration budget.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// New returns a Loop that gathers evidence with collector and checks
// coverage with analyzer, bounded by cfg.
func New(collector Collector, analyzer GapAnalyzer, cfg types.LoopConfig, opts ...Option) *Loop {
	l := &Loop{
		collector: collector,
		analyzer:  analyzer,
		cfg:       cfg,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = evidence.NewStore()
	}
	l.aggregator = aggregate.New(l.logger)
	return l
}

// Store returns the loop's evidence store as a read-only view.
func (l *Loop) Store() evidence.View {
	return l.store
}

// run holds the mutable state of one Run call.
type run struct {
	plan     types.ResearchPlan
	state    State
	trace    []State
	round    int
	calls    int
	start    time.Time
	progress *progress
	rounds   []RoundReport
	gaps     []types.Gap
}

func (r *run) enter(s State) {
	if !canTransition(r.state, s) {
		panic(fmt.Sprintf("refine: illegal transition %s -> %s", r.state, s))
	}
	r.state = s
	r.trace = append(r.trace, s)
}

// Run executes the loop until every gap is closed or a bound is reached.
// It always joins every collector task it started before returning. The
// only error is a store that fails verification after aggregation, which
// wraps evidence.ErrCorrupt; the partial result is still returned.
func (l *Loop) Run(ctx context.Context, plan types.ResearchPlan) (Result, error) {
	if len(plan.Sections) == 0 {
		return Result{}, ErrEmptyPlan
	}

	r := &run{
		plan:     plan,
		state:    StatePlanningDone,
		trace:    []State{StatePlanningDone},
		start:    l.now(),
		progress: newProgress(l.cfg.ZeroProgressLimit),
	}
	maxRounds := max(l.cfg.MaxRounds, 1)

	tasks := initialTasks(plan)
	for {
		r.enter(StateCollecting)
		r.round++
		roundStart := l.now()
		tasks = l.withinCallBudget(tasks, r.calls)
		for i := range tasks {
			tasks[i].Round = r.round
		}
		l.logger.Info("dispatching collectors",
			zap.Int("round", r.round),
			zap.Strings("sections", taskSections(tasks)))
		buffers := l.dispatch(ctx, tasks)
		r.calls += len(tasks)

		r.enter(StateAggregating)
		merge := l.aggregator.Aggregate(plan, buffers, l.store)
		if err := l.store.Verify(); err != nil {
			l.logger.Error("evidence store failed verification", zap.Int("round", r.round), zap.Error(err))
			return l.result(r, ""), fmt.Errorf("round %d: %w", r.round, err)
		}
		var marked []string
		for _, task := range tasks {
			name := task.Section.Name
			if r.progress.record(name, merge.Section(name).Inserted) {
				l.logger.Warn("section unresolvable",
					zap.String("section", name),
					zap.Int("rounds_without_progress", l.cfg.ZeroProgressLimit))
				marked = append(marked, name)
			}
		}

		r.enter(StateGapCheck)
		r.gaps = l.analyzer.Analyze(ctx, l.store, plan)
		report := RoundReport{
			Round:             r.round,
			Dispatched:        taskSections(tasks),
			Merge:             merge,
			Gaps:              r.gaps,
			NewlyUnresolvable: marked,
			StoreSize:         l.store.Len(),
			Elapsed:           l.sinceStart(roundStart),
		}
		r.rounds = append(r.rounds, report)
		for _, o := range l.observers {
			o.ObserveRound(report, l.store)
		}
		l.logger.Info("round complete",
			zap.Int("round", r.round),
			zap.Int("inserted", merge.Totals().Inserted),
			zap.Int("store_size", report.StoreSize),
			zap.Strings("open_gaps", types.GapSections(r.gaps)))

		next, stop := l.decide(ctx, r, maxRounds)
		if stop != "" {
			r.enter(StateDone)
			res := l.result(r, stop)
			l.logger.Info("refinement finished",
				zap.String("stop_reason", string(stop)),
				zap.Int("rounds", r.round),
				zap.Int("collector_calls", r.calls),
				zap.Strings("residual_gaps", types.GapSections(r.gaps)),
				zap.Strings("unresolvable", res.Unresolvable))
			for _, o := range l.observers {
				o.ObserveDone(res)
			}
			return res, nil
		}
		tasks = next
	}
}

// decide picks the next round's tasks or a stop reason. Bounds are
// checked in a fixed order so the reported reason is deterministic.
func (l *Loop) decide(ctx context.Context, r *run, maxRounds int) ([]Task, StopReason) {
	switch {
	case len(r.gaps) == 0:
		return nil, StopNoGaps
	case ctx.Err() != nil:
		return nil, StopCancelled
	case r.round >= maxRounds:
		return nil, StopMaxRounds
	case l.cfg.MaxDuration > 0 && l.sinceStart(r.start) >= l.cfg.MaxDuration:
		return nil, StopMaxDuration
	case l.cfg.MaxCollectorCalls > 0 && r.calls >= l.cfg.MaxCollectorCalls:
		return nil, StopCallBudget
	}

	var next []Task
	for _, g := range r.gaps {
		if r.progress.isUnresolvable(g.Section) {
			continue
		}
		sec, ok := r.plan.Section(g.Section)
		if !ok {
			continue
		}
		next = append(next, Task{Topic: r.plan.Topic, Section: sec, Questions: g.MissingQuestions})
	}
	if len(next) == 0 {
		return nil, StopUnresolvable
	}
	return next, ""
}

// withinCallBudget trims tasks to the collector calls left, keeping plan
// order.
func (l *Loop) withinCallBudget(tasks []Task, used int) []Task {
	if l.cfg.MaxCollectorCalls <= 0 {
		return tasks
	}
	left := max(l.cfg.MaxCollectorCalls-used, 0)
	if len(tasks) > left {
		return tasks[:left]
	}
	return tasks
}

func (l *Loop) result(r *run, stop StopReason) Result {
	return Result{
		Snapshot:       l.store.Snapshot(),
		Gaps:           r.gaps,
		Unresolvable:   r.progress.sections(),
		Rounds:         r.rounds,
		StopReason:     stop,
		Trace:          r.trace,
		CollectorCalls: r.calls,
		Elapsed:        l.sinceStart(r.start),
	}
}

func initialTasks(plan types.ResearchPlan) []Task {
	tasks := make([]Task, len(plan.Sections))
	for i, sec := range plan.Sections {
		tasks[i] = Task{Topic: plan.Topic, Section: sec, Questions: append([]string(nil), sec.KeyQuestions...)}
	}
	return tasks
}

func taskSections(tasks []Task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Section.Name
	}
	return names
}
