package util

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// TabbedStringBuilder builds tab-aligned tables into a strings.Builder.
// Writes to a strings.Builder never fail, so none of its methods return errors.
type TabbedStringBuilder struct {
	sb     *strings.Builder
	writer *tabwriter.Writer
}

// NewTabbedStringBuilder creates a new TabbedStringBuilder. All parameters are those of tabwriter.NewWriter.
func NewTabbedStringBuilder(minwidth, tabwidth, padding int, padchar byte, flags uint) *TabbedStringBuilder {
	sb := &strings.Builder{}
	return &TabbedStringBuilder{
		sb:     sb,
		writer: tabwriter.NewWriter(sb, minwidth, tabwidth, padding, padchar, flags),
	}
}

func (t *TabbedStringBuilder) Writef(format string, a ...any) {
	_, _ = fmt.Fprintf(t.writer, format, a...)
}

// WriteRow writes the cells as a single tab-separated, newline-terminated row.
func (t *TabbedStringBuilder) WriteRow(cells ...string) {
	_, _ = fmt.Fprint(t.writer, strings.Join(cells, "\t")+"\n")
}

// String flushes the table and returns the accumulated string.
func (t *TabbedStringBuilder) String() string {
	_ = t.writer.Flush()
	return t.sb.String()
}
