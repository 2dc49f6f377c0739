// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"
)

// Export formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

const exportLimit = 100000

// Export writes every run, newest first and with evidence, to w as YAML or
// JSON.
func (s *Store) Export(ctx context.Context, w io.Writer, format string) error {
	runs, err := s.List(ctx, exportLimit)
	if err != nil {
		return fmt.Errorf("querying for export: %w", err)
	}
	for i := range runs {
		if runs[i].Evidence, err = s.evidence(ctx, runs[i].ID); err != nil {
			return err
		}
	}
	if runs == nil {
		runs = []Record{}
	}
	return Encode(w, format, runs)
}

// Encode writes v to w as YAML or JSON.
func Encode(w io.Writer, format string, v any) error {
	switch format {
	case FormatYAML, "yml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported export format %q (want yaml or json)", format)
	}
}
