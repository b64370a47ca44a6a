package cmd

import (
	"encoding/json"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orchestkit/ork-coord/internal/errors"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func addOutputFlag(cmd *cobra.Command, def string) {
	cmd.Flags().StringP("output", "o", def, "output format: table, json, yaml")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("output")
	format = strings.ToLower(format)
	if !slices.Contains([]string{outputTable, outputJSON, outputYAML}, format) {
		return "", errors.NewUserError(
			errors.Wrapf(errors.ErrInvalidInput, "unknown output format %q", format),
			"use --output table, json or yaml")
	}
	return format, nil
}

// render writes v in the requested format; table is used for "table".
func render(w io.Writer, format string, v any, table func() string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "encoding json")
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "encoding yaml")
		}
		return errors.Wrap(enc.Close(), "encoding yaml")
	default:
		_, err := io.WriteString(w, table())
		return err
	}
}
