package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// TableFormatter formats output as an aligned plain-text table.
type TableFormatter struct {
	// Decorated draws a rule under the header row. Enabled on terminals.
	Decorated bool
}

// Format renders a Tabular value.
func (f *TableFormatter) Format(data interface{}) (string, error) {
	t, ok := data.(Tabular)
	if !ok {
		return "", fmt.Errorf("table output is not supported for %T", data)
	}
	return f.FormatTable(t.Headers(), t.Rows())
}

// FormatError renders an error in human-readable format.
func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Error: %s\n", err.Message)
	if err.Guidance != "" {
		fmt.Fprintf(&buf, "  Hint: %s\n", err.Guidance)
	}
	return buf.String(), nil
}

// FormatTable renders headers and rows with tab-aligned columns.
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	if f.Decorated {
		rule := make([]string, len(headers))
		for i, h := range headers {
			rule[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintln(w, strings.Join(rule, "\t"))
	}

	for _, row := range rows {
		cells := make([]string, len(headers))
		copy(cells, row)
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
