package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// printStructured writes v as JSON or YAML and reports whether it did.
// The table format is left to the caller.
func printStructured(w io.Writer, v any) (bool, error) {
	switch strings.ToLower(outputFormat) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "table", "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q", outputFormat)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printTableHeader(w io.Writer, headers ...string) {
	fmt.Fprintln(w, strings.Join(headers, "\t"))
}
