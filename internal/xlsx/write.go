package xlsx

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/maruel/xlsedit/internal/dataset"
	"github.com/maruel/xlsedit/internal/fsutil"
	"github.com/maruel/xlsedit/internal/persist"
	"github.com/xuri/excelize/v2"
)

// Codec writes snapshots next to their source workbook. It implements
// persist.SnapshotWriter.
type Codec struct {
	// Now returns the snapshot timestamp. It defaults to time.Now.
	Now func() time.Time
}

var snapshotSuffix = regexp.MustCompile(`_edited_\d{8}_\d{6}_\d{3}_v\d+$`)

// Stem returns the file name of source without extension nor snapshot
// suffix.
func Stem(source string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return snapshotSuffix.ReplaceAllString(base, "")
}

// SnapshotName returns the name of the snapshot of source at version.
func SnapshotName(source string, t time.Time, version int64) string {
	return fmt.Sprintf("%s_edited_%s_%03d_v%d.xlsx", Stem(source), t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond), version)
}

// Snapshots returns the snapshots of source found next to it, oldest first.
func Snapshots(source string) ([]string, error) {
	pattern := filepath.Join(filepath.Dir(source), globEscape(Stem(source))+"_edited_*.xlsx")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".xlsx")
		if snapshotSuffix.MatchString(name) && Stem(m) == Stem(source) {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}

// WriteSnapshot copies the base workbook, updates the cells of the sheets in
// s that differ and atomically writes the result as a new file next to the
// source.
//
// Styles, widths, number formats, formulas of untouched cells and sheets not
// in s are preserved.
func (c *Codec) WriteSnapshot(ctx context.Context, s persist.Snapshot) (string, error) {
	base := s.Base
	if base == "" {
		base = s.Source
	}
	f, err := excelize.OpenFile(base)
	if err != nil {
		return "", fmt.Errorf("failed to open base workbook: %w", err)
	}
	defer f.Close()

	names := make([]string, 0, len(s.Sheets))
	for name := range s.Sheets {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := updateSheet(f, name, s.Sheets[name]); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	dst := filepath.Join(filepath.Dir(s.Source), SnapshotName(s.Source, now(), s.Version))
	err = fsutil.WriteFile(dst, 0o644, func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return dst, nil
}

// updateSheet writes the cells of t that differ from the sheet.
func updateSheet(f *excelize.File, name string, t *dataset.Table) error {
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("sheet %q: %w", name, err)
	}
	if idx == -1 {
		return fmt.Errorf("sheet %q missing from base workbook", name)
	}
	l, err := readLayout(f, name)
	if err != nil {
		return err
	}
	if len(l.rowNums) != len(t.Rows) {
		return fmt.Errorf("sheet %q has %d rows in the base workbook, want %d", name, len(l.rowNums), len(t.Rows))
	}
	for i, row := range t.Rows {
		for _, col := range t.Columns {
			c, ok := l.colNums[col]
			if !ok {
				return fmt.Errorf("sheet %q: column %q missing from base workbook", name, col)
			}
			v := row[col]
			if l.table.Rows[i][col] == v {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c, l.rowNums[i])
			if err != nil {
				return err
			}
			if v == nil {
				err = f.SetCellDefault(name, cell, "")
			} else {
				err = f.SetCellValue(name, cell, v)
			}
			if err != nil {
				return fmt.Errorf("sheet %q cell %s: %w", name, cell, err)
			}
		}
	}
	return nil
}

// globEscape quotes the glob metacharacters of s.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`*?[\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
