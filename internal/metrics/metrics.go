// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exports refinement loop progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/refine"
)

const (
	namespace = "deep_research"
	subsystem = "refine"
)

// Observer records round and run metrics. It implements refine.Observer.
type Observer struct {
	rounds           prometheus.Counter
	items            *prometheus.CounterVec
	collectorFails   *prometheus.CounterVec
	storeItems       prometheus.Gauge
	sectionItems     *prometheus.GaugeVec
	missingQuestions *prometheus.GaugeVec
	unresolvable     prometheus.Gauge
	roundDuration    prometheus.Histogram
	runs             *prometheus.CounterVec

	// marked is the number of unresolvable sections in the current run.
	marked int
}

var _ refine.Observer = (*Observer)(nil)

// NewObserver registers the loop metrics with reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		// rounds counts completed collect, aggregate, gap-check cycles.
		rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rounds_total",
			Help:      "Completed refinement rounds",
		}),
		// items counts merge outcomes.
		// Labels: section, outcome (inserted, deduplicated, rejected, linked)
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_total",
			Help:      "Evidence items offered to the store by merge outcome",
		}, []string{"section", "outcome"}),
		collectorFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "collector_failures_total",
			Help:      "Collector tasks that returned an error",
		}, []string{"section"}),
		storeItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_items",
			Help:      "Distinct evidence items in the store",
		}),
		sectionItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "section_items",
			Help:      "Evidence items that are members of each section",
		}, []string{"section"}),
		missingQuestions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "missing_questions",
			Help:      "Uncovered key questions per section after the latest round",
		}, []string{"section"}),
		unresolvable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unresolvable_sections",
			Help:      "Sections the current run stopped dispatching",
		}),
		roundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "round_duration_seconds",
			Help:      "Wall-clock time of one refinement round",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		// runs counts finished runs.
		// Labels: stop_reason
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Finished refinement runs by stop reason",
		}, []string{"stop_reason"}),
	}
}

// ObserveRound implements refine.Observer.
func (o *Observer) ObserveRound(report refine.RoundReport, view evidence.View) {
	o.rounds.Inc()
	o.roundDuration.Observe(report.Elapsed.Seconds())

	for _, sec := range report.Merge.Sections {
		c := report.Merge.Section(sec)
		o.items.WithLabelValues(sec, "inserted").Add(float64(c.Inserted))
		o.items.WithLabelValues(sec, "deduplicated").Add(float64(c.Deduplicated))
		o.items.WithLabelValues(sec, "rejected").Add(float64(c.Rejected))
		o.items.WithLabelValues(sec, "linked").Add(float64(c.Linked))
	}
	for _, sec := range report.Merge.FailedSections {
		o.collectorFails.WithLabelValues(sec).Inc()
	}

	o.storeItems.Set(float64(report.StoreSize))
	for _, sec := range report.Dispatched {
		o.sectionItems.WithLabelValues(sec).Set(float64(len(view.Section(sec))))
	}

	o.missingQuestions.Reset()
	for _, g := range report.Gaps {
		o.missingQuestions.WithLabelValues(g.Section).Set(float64(len(g.MissingQuestions)))
	}
	if report.Round <= 1 {
		o.marked = 0
	}
	o.marked += len(report.NewlyUnresolvable)
	o.unresolvable.Set(float64(o.marked))
}

// ObserveDone implements refine.Observer.
func (o *Observer) ObserveDone(result refine.Result) {
	o.runs.WithLabelValues(string(result.StopReason)).Inc()
	o.marked = len(result.Unresolvable)
	o.unresolvable.Set(float64(o.marked))
}

// Serve exposes the metrics in g at /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
