// Package xlsx converts workbooks to and from dataset tables.
//
// Each worksheet's first row holds the column names. Cell values are read raw,
// without number formats: integers become int64, other numbers float64 and
// everything else a string. Empty cells are nil.
package xlsx

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/maruel/xlsedit/internal/dataset"
	"github.com/xuri/excelize/v2"
)

// Workbook is the content of a workbook file.
type Workbook struct {
	Path string
	// Order lists the loaded sheets in workbook order.
	Order  []string
	Sheets map[string]*dataset.Table
	// Skipped maps the sheets that were not loaded to the reason.
	Skipped map[string]error
}

// ReadAll reads every worksheet of path that has clusterColumn.
//
// Other worksheets are skipped with a warning.
func ReadAll(path, clusterColumn string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	wb := &Workbook{Path: path, Sheets: map[string]*dataset.Table{}, Skipped: map[string]error{}}
	for _, name := range f.GetSheetList() {
		l, err := readLayout(f, name)
		if err != nil {
			return nil, err
		}
		if !l.table.HasColumn(clusterColumn) {
			err := fmt.Errorf("no %s column", clusterColumn)
			slog.Warn("Skipping sheet", "sheet", name, "err", err)
			wb.Skipped[name] = err
			continue
		}
		wb.Order = append(wb.Order, name)
		wb.Sheets[name] = l.table
	}
	return wb, nil
}

// layout is a sheet's table plus the position of every value in the sheet.
type layout struct {
	table *dataset.Table
	// rowNums holds the 1-based sheet row of each table row.
	rowNums []int
	// colNums holds the 1-based sheet column of each table column.
	colNums map[string]int
}

func readLayout(f *excelize.File, sheet string) (*layout, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	l := &layout{table: &dataset.Table{}, colNums: map[string]int{}}
	if len(rows) == 0 {
		return l, nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, dup := l.colNums[h]; dup {
			return nil, fmt.Errorf("sheet %q: duplicate column %q", sheet, h)
		}
		header[i] = h
		l.colNums[h] = i + 1
		l.table.Columns = append(l.table.Columns, h)
	}
	for r, cells := range rows[1:] {
		row := make(dataset.Row, len(l.table.Columns))
		empty := true
		for i, h := range header {
			if h == "" {
				continue
			}
			var v any
			if i < len(cells) {
				v = parseValue(cells[i])
			}
			if v != nil {
				empty = false
			}
			row[h] = v
		}
		if empty {
			continue
		}
		l.table.Rows = append(l.table.Rows, row)
		l.rowNums = append(l.rowNums, r+2)
	}
	return l, nil
}

// parseValue returns int64 for integers, float64 for other numbers, nil for
// blank cells and the string otherwise.
func parseValue(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return s
}
