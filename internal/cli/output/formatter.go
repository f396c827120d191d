// Package output renders CLI results as a table, JSON or YAML.
package output

import (
	"fmt"
	"os"
	"strings"
)

// EnvOutputFormat overrides the default format when no flag is given.
const EnvOutputFormat = "FEDSEARCH_OUTPUT"

// Tabular is implemented by results that know how to lay themselves out
// as rows. Table output requires it; JSON and YAML marshal the value itself.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}

// Formatter formats structured data for CLI output.
type Formatter interface {
	// Format renders data. Table output needs data to be Tabular.
	Format(data interface{}) (string, error)

	// FormatError renders a structured error.
	FormatError(err StructuredError) (string, error)
}

// NewFormatter creates a formatter for the specified format.
// Supported formats: table, json, yaml (case-insensitive).
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{Decorated: isTerminal(os.Stdout)}, nil
	default:
		return nil, NewStructuredError(ErrCodeInvalidOutputFormat,
			fmt.Sprintf("unknown output format: %s (valid: table, json, yaml)", format))
	}
}

// ResolveFormat picks the output format: flag, then FEDSEARCH_OUTPUT, then table.
func ResolveFormat(outputFlag string) string {
	if outputFlag != "" {
		return outputFlag
	}
	if envFormat := os.Getenv(EnvOutputFormat); envFormat != "" {
		return envFormat
	}
	return "table"
}
