// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/refine"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Export formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatCSL  = "csl"
)

// ExportDoc is the document written by Export: the run summary, its
// evidence snapshot, and the gaps left after the last round.
type ExportDoc struct {
	Run      Run               `json:"run" yaml:"run"`
	Snapshot evidence.Snapshot `json:"snapshot" yaml:"snapshot"`
	Gaps     []types.Gap       `json:"gaps" yaml:"gaps"`
}

// Export writes a run as YAML or JSON to w. FormatCSL writes only the
// run's evidence as a CSL-YAML bibliography.
func (a *Archive) Export(ctx context.Context, id, format string, w io.Writer) error {
	run, err := a.Run(ctx, id)
	if err != nil {
		return err
	}
	snap, err := a.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	if format == FormatCSL {
		return writeCSL(snap.Items, w)
	}
	rounds, err := a.Rounds(ctx, id)
	if err != nil {
		return err
	}

	doc := ExportDoc{Run: run, Snapshot: snap}
	if len(rounds) > 0 {
		doc.Gaps = rounds[len(rounds)-1].Gaps
	}

	data, err := marshal(doc, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteRunFiles writes snapshot.yaml and gaps.yaml for a finished run
// into dir, creating it if needed.
func WriteRunFiles(dir string, res refine.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	files := map[string]any{
		"snapshot.yaml": res.Snapshot,
		"gaps.yaml": struct {
			StopReason   refine.StopReason `yaml:"stop_reason"`
			Gaps         []types.Gap       `yaml:"gaps"`
			Unresolvable []string          `yaml:"unresolvable,omitempty"`
		}{res.StopReason, res.Gaps, res.Unresolvable},
	}
	for name, v := range files {
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func marshal(v any, format string) ([]byte, error) {
	switch format {
	case FormatYAML, "":
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshaling YAML: %w", err)
		}
		return data, nil
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling JSON: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format %q (valid: yaml, json, csl)", format)
	}
}
