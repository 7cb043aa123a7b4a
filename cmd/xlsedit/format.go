package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/maruel/xlsedit/internal/dataset"
	"github.com/maruel/xlsedit/internal/edit"
	"github.com/maruel/xlsedit/internal/journal"
	"github.com/maruel/xlsedit/internal/persist"
)

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	// Don't uppercase the header values.
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row(header))
	return t
}

// formatValue renders a cell value. Integral floats print without exponent.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// writeSheets lists the sheets, marking current.
func writeSheets(w io.Writer, st dataset.Stats, current string) {
	t := newTable(w, "", "Sheet", "Rows", "Clusters", "Unsaved")
	for _, s := range st.Sheets {
		mark := ""
		if s.Name == current {
			mark = "*"
		}
		unsaved := ""
		if s.Dirty {
			unsaved = "yes"
		}
		t.AppendRow(table.Row{mark, s.Name, s.Rows, s.Clusters, unsaved})
	}
	t.Render()
}

// writeClusters lists the clusters of a sheet, marking current.
func writeClusters(w io.Writer, ds *dataset.Dataset, sheet, current string) error {
	clusters, err := ds.Clusters(sheet)
	if err != nil {
		return err
	}
	t := newTable(w, "", "Cluster", "Rows")
	for _, c := range clusters {
		rows, err := ds.ClusterRows(sheet, c)
		if err != nil {
			return err
		}
		mark := ""
		if c == current {
			mark = "*"
		}
		t.AppendRow(table.Row{mark, c, len(rows)})
	}
	t.Render()
	return nil
}

// writeCluster prints the rows of a cluster. Editable columns are suffixed
// with "*"; cursor is the highlighted row offset, -1 for none.
func writeCluster(w io.Writer, ds *dataset.Dataset, e *edit.Engine, sheet, cluster string, cursor int) error {
	columns, err := ds.Columns(sheet)
	if err != nil {
		return err
	}
	rows, err := ds.ClusterData(sheet, cluster)
	if err != nil {
		return err
	}
	header := make(table.Row, 0, len(columns)+1)
	header = append(header, "#")
	for _, c := range columns {
		if e.IsColumnEditable(c) {
			c += " *"
		}
		header = append(header, c)
	}
	t := newTable(w, header...)
	for i, r := range rows {
		pos := strconv.Itoa(i)
		if i == cursor {
			pos = ">" + pos
		}
		line := make(table.Row, 0, len(columns)+1)
		line = append(line, pos)
		for _, c := range columns {
			line = append(line, formatValue(r[c]))
		}
		t.AppendRow(line)
	}
	t.Render()
	return nil
}

// writeHistory prints the last n records, oldest first.
func writeHistory(w io.Writer, records []edit.Record, n int) {
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	t := newTable(w, "ID", "Version", "Sheet", "Cluster", "Row", "Column", "Previous", "New", "Reverts")
	for _, r := range records {
		reverts := ""
		if !r.Reverts.IsZero() {
			reverts = r.Reverts.String()
		}
		t.AppendRow(table.Row{r.ID.String(), r.Version, r.Sheet, r.Cluster, r.Offset, r.Column, formatValue(r.Prev), formatValue(r.New), reverts})
	}
	t.Render()
}

// writeEntries prints journaled edits, oldest first.
func writeEntries(w io.Writer, entries []journal.Entry) {
	t := newTable(w, "ID", "Time", "Version", "Sheet", "Cluster", "Row", "Column", "Previous", "New", "Snapshot")
	for _, e := range entries {
		t.AppendRow(table.Row{e.ID.String(), e.Time.Local().Format("2006-01-02 15:04:05"), e.Version, e.Sheet, e.Cluster, e.Offset, e.Column, formatValue(e.Prev), formatValue(e.New), e.Snapshot})
	}
	t.Render()
}

// describe summarizes an edit as sheet!cluster row N COLUMN: prev -> new.
func describe(r edit.Record) string {
	return fmt.Sprintf("%s!%s row %d %s: %s -> %s", r.Sheet, r.Cluster, r.Offset, r.Column, formatValue(r.Prev), formatValue(r.New))
}

func formatStatus(st persist.Status, version int64) string {
	s := fmt.Sprintf("%s, version %d", st.State, version)
	if st.Path != "" {
		s += fmt.Sprintf(", saved v%d to %s at %s", st.Version, st.Path, st.SavedAt.Format("15:04:05"))
	} else {
		s += ", nothing saved yet"
	}
	if st.Err != nil {
		s += fmt.Sprintf(", attempt %d failed: %v", st.Attempt, st.Err)
	}
	return s
}
