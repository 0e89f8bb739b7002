// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/deep-research/internal/archive"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [run-id]",
	Short: "List archived runs or show the coverage and gap history of one run",
	Long: `Inspect without arguments lists the archived runs, newest first. Given a
run id it prints the run summary, the evidence count per plan section, and
the missing questions recorded after every round.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().String("runs-dir", "", "runs directory (default runs)")
	rootCmd.AddCommand(inspectCmd)
}

// openArchive opens the archive in the configured or flagged runs directory.
func openArchive(cmd *cobra.Command) (*archive.Archive, error) {
	cfg, err := pipelineConfig()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("runs-dir") {
		cfg.Archive.RunsDir, _ = cmd.Flags().GetString("runs-dir")
	}
	return archive.Open(cfg.Archive, logger)
}

func runInspect(cmd *cobra.Command, args []string) error {
	arch, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer arch.Close()

	ctx := context.Background()
	if len(args) == 0 {
		runs, err := arch.Runs(ctx)
		if err != nil {
			return err
		}
		printRuns(os.Stdout, runs)
		return nil
	}
	return printRun(ctx, os.Stdout, arch, args[0])
}

func printRuns(w io.Writer, runs []archive.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs archived.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-16s  %6s  %5s  %s\n", "Run", "Started", "Stop", "Rounds", "Items", "Topic")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %-16s  %6d  %5d  %s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.StopReason, r.Rounds, r.Items, r.Topic)
	}
}

func printRun(ctx context.Context, w io.Writer, arch *archive.Archive, id string) error {
	run, err := arch.Run(ctx, id)
	if err != nil {
		return err
	}
	p, err := arch.Plan(ctx, id)
	if err != nil {
		return err
	}
	snap, err := arch.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	history, err := arch.GapHistory(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run:        %s\n", run.ID)
	fmt.Fprintf(w, "topic:      %s\n", run.Topic)
	fmt.Fprintf(w, "started:    %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "stopped:    %s after %d round(s), %d collector call(s), %s\n",
		run.StopReason, run.Rounds, run.CollectorCalls, run.Elapsed.Round(time.Second))
	fmt.Fprintf(w, "evidence:   %d item(s)\n", len(snap.Items))
	if len(run.Unresolvable) > 0 {
		fmt.Fprintf(w, "gave up on: %s\n", strings.Join(run.Unresolvable, ", "))
	}

	fmt.Fprintf(w, "\n%-24s  %5s  %s\n", "Section", "Items", "Questions")
	fmt.Fprintln(w, strings.Repeat("-", 48))
	for _, sec := range p.Sections {
		fmt.Fprintf(w, "%-24s  %5d  %d\n", sec.Name, len(snap.SectionIDs(sec.Name)), len(sec.KeyQuestions))
	}

	if len(history) == 0 {
		fmt.Fprintln(w, "\nNo gaps recorded.")
		return nil
	}
	fmt.Fprintln(w, "\nGap history:")
	round := 0
	for _, g := range history {
		if g.Round != round {
			round = g.Round
			fmt.Fprintf(w, "round %d\n", round)
		}
		fmt.Fprintf(w, "  %-22s  %s\n", g.Section, g.Question)
	}
	return nil
}
