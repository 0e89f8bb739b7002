// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/deep-research/internal/archive"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Write the evidence snapshot and residual gaps of a run",
	Long: `Export reads a run from the archive and writes its summary, evidence
snapshot (items, section membership, source and fingerprint indexes), and
the gaps left after the last round as YAML or JSON. The csl format writes
only the evidence, as a CSL-YAML bibliography for Pandoc.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("format", archive.FormatYAML, "output format: yaml, json, or csl")
	exportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	exportCmd.Flags().String("runs-dir", "", "runs directory (default runs)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case archive.FormatYAML, archive.FormatJSON, archive.FormatCSL:
	default:
		return fmt.Errorf("unknown format %q (valid: yaml, json, csl)", format)
	}

	arch, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer arch.Close()

	var w io.Writer = os.Stdout
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	return arch.Export(context.Background(), args[0], format, w)
}
