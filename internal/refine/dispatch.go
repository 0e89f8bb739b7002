// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package refine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/internal/aggregate"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Task is one unit of collector work: gather evidence for a section,
// focusing on the listed questions.
type Task struct {
	Round   int
	Topic   string
	Section types.PlanSection

	// Questions are the section's uncovered key questions. The first round
	// asks every key question.
	Questions []string
}

// Collector gathers evidence for a task. It must honor ctx cancellation
// and must not retain or modify the returned items.
type Collector interface {
	Collect(ctx context.Context, task Task) ([]types.EvidenceItem, error)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(ctx context.Context, task Task) ([]types.EvidenceItem, error)

// Collect calls f.
func (f CollectorFunc) Collect(ctx context.Context, task Task) ([]types.EvidenceItem, error) {
	return f(ctx, task)
}

// dispatch runs every task concurrently, bounded by MaxConcurrency, and
// waits for all of them. Each task writes only its own buffer slot.
func (l *Loop) dispatch(ctx context.Context, tasks []Task) map[string]aggregate.Buffer {
	results := make([]aggregate.Buffer, len(tasks))

	var g errgroup.Group
	if l.cfg.MaxConcurrency > 0 {
		g.SetLimit(l.cfg.MaxConcurrency)
	}
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = l.collect(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	buffers := make(map[string]aggregate.Buffer, len(tasks))
	for _, buf := range results {
		buffers[buf.Section] = buf
	}
	return buffers
}

// collect runs one task under the per-task timeout. A panicking collector
// is reported as a failed buffer.
func (l *Loop) collect(ctx context.Context, task Task) (buf aggregate.Buffer) {
	buf.Section = task.Section.Name
	if l.cfg.CollectorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.CollectorTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			buf.Items = nil
			buf.Err = fmt.Errorf("collector panicked: %v", r)
		}
	}()

	start := l.now()
	items, err := l.collector.Collect(ctx, task)
	buf.Items = items
	buf.Err = err

	fields := []zap.Field{
		zap.Int("round", task.Round),
		zap.String("section", task.Section.Name),
		zap.Int("items", len(items)),
		zap.Duration("elapsed", l.now().Sub(start)),
	}
	if err != nil {
		l.logger.Warn("collector task failed", append(fields, zap.Error(err))...)
	} else {
		l.logger.Debug("collector task done", fields...)
	}
	return buf
}

// sinceStart is the loop's elapsed wall-clock time.
func (l *Loop) sinceStart(start time.Time) time.Duration {
	return l.now().Sub(start)
}
