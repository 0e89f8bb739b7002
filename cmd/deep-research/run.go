// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/archive"
	"github.com/pdiddy/deep-research/internal/collect"
	"github.com/pdiddy/deep-research/internal/gap"
	"github.com/pdiddy/deep-research/internal/judge"
	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/plan"
	"github.com/pdiddy/deep-research/internal/refine"
	"github.com/pdiddy/deep-research/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect evidence for a research plan until its questions are covered",
	Long: `Run loads a research plan, dispatches one collector per section, merges
the results into a deduplicated evidence store, and re-dispatches only the
sections whose key questions remain uncovered. Sections that stop yielding
new evidence are marked unresolvable.

The snapshot and residual gaps are written to <out>/<run-id>/ and the run
is recorded in the archive database under <out>.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("plan", "", "research plan file (YAML or JSON)")
	runCmd.Flags().Int("max-rounds", 0, "maximum refinement rounds (default 3)")
	runCmd.Flags().Duration("max-duration", 0, "wall-clock budget for the run (default unlimited)")
	runCmd.Flags().Int("max-calls", 0, "collector call budget (default unlimited)")
	runCmd.Flags().Duration("collector-timeout", 0, "timeout for one collector task (default 5m)")
	runCmd.Flags().Int("concurrency", 0, "maximum concurrent collector tasks (default all)")
	runCmd.Flags().String("judge", "", "relevance judge: count, supported, or claude (default supported)")
	runCmd.Flags().StringSlice("backends", nil, "search backends (default openalex,semantic_scholar,clinicaltrials)")
	runCmd.Flags().Int("from-year", 0, "only collect sources published in or after this year")
	runCmd.Flags().String("out", "", "runs directory (default runs)")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	_ = runCmd.MarkFlagRequired("plan")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides cfg with the flags the user set.
func applyRunFlags(cmd *cobra.Command, cfg *types.PipelineConfig) {
	flags := cmd.Flags()
	if flags.Changed("max-rounds") {
		cfg.Loop.MaxRounds, _ = flags.GetInt("max-rounds")
	}
	if flags.Changed("max-duration") {
		cfg.Loop.MaxDuration, _ = flags.GetDuration("max-duration")
	}
	if flags.Changed("max-calls") {
		cfg.Loop.MaxCollectorCalls, _ = flags.GetInt("max-calls")
	}
	if flags.Changed("collector-timeout") {
		cfg.Loop.CollectorTimeout, _ = flags.GetDuration("collector-timeout")
	}
	if flags.Changed("concurrency") {
		cfg.Loop.MaxConcurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("judge") {
		j, _ := flags.GetString("judge")
		cfg.Gap.Judge = types.JudgeKind(j)
	}
	if flags.Changed("backends") {
		cfg.Collect.Backends, _ = flags.GetStringSlice("backends")
	}
	if flags.Changed("from-year") {
		cfg.Collect.FromYear, _ = flags.GetInt("from-year")
	}
	if flags.Changed("out") {
		cfg.Archive.RunsDir, _ = flags.GetString("out")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := pipelineConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)

	planPath, _ := cmd.Flags().GetString("plan")
	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}

	backends, err := collect.NewBackends(cfg.Collect)
	if err != nil {
		return err
	}
	collector := collect.NewSearchCollector(backends, cfg.Collect, logger)

	j, err := judge.FromConfig(cfg.Gap, cfg.Judge, &http.Client{Timeout: cfg.Collect.Timeout}, logger)
	if err != nil {
		return err
	}
	analyzer := gap.NewAnalyzer(j, cfg.Gap, logger)

	arch, err := archive.Open(cfg.Archive, logger)
	if err != nil {
		return err
	}
	defer arch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []refine.Option{
		refine.WithLogger(logger),
		refine.WithObserver(newProgressPrinter(os.Stdout)),
	}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, refine.WithObserver(metrics.NewObserver(reg)))
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	runID := archive.NewRunID()
	started := time.Now()
	fmt.Fprintf(os.Stdout, "run %s: %s (%d sections)\n\n", runID, planTitle(p), len(p.Sections))

	res, runErr := refine.New(collector, analyzer, cfg.Loop, opts...).Run(ctx, p)
	if len(res.Trace) == 0 {
		return runErr
	}

	runDir := filepath.Join(cfg.Archive.RunsDir, runID)
	if err := archive.WriteRunFiles(runDir, res); err != nil {
		return err
	}
	if err := arch.Save(context.Background(), runID, p, started, res); err != nil {
		return err
	}

	printCoverage(os.Stdout, p, res)
	fmt.Fprintf(os.Stdout, "\nwrote %s\n", runDir)
	if runErr != nil {
		return runErr
	}
	if !res.Complete() {
		return fmt.Errorf("%d section(s) still have gaps (%s)", len(res.Gaps), res.StopReason)
	}
	return nil
}

func planTitle(p types.ResearchPlan) string {
	if p.Topic != "" {
		return p.Topic
	}
	return strings.Join(p.SectionNames(), ", ")
}
