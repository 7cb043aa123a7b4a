// Provides the Table and Row types and the cluster index built over them.

package dataset

import (
	"fmt"
	"math"
	"slices"
	"strconv"
)

// Row maps column names to cell values.
//
// Values are nil (empty cell), int64, float64, string or bool.
type Row map[string]any

// Clone returns a shallow copy; cell values are immutable scalars.
func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Table is an ordered list of rows sharing the same columns.
type Table struct {
	Columns []string
	Rows    []Row
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{
		Columns: slices.Clone(t.Columns),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		c.Rows[i] = r.Clone()
	}
	return c
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// ClusterKey returns the canonical cluster identifier for a cell value.
//
// Integral numbers render without a fraction so that 7, int64(7) and 7.0 map
// to the same cluster. It returns false for empty cells.
func ClusterKey(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'g', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}

// clusterIndex maps each cluster id to the ordered row positions that belong
// to it.
type clusterIndex struct {
	order []string
	rows  map[string][]int
}

// buildClusterIndex groups consecutive rows of t by the value of column.
//
// Rows sharing an id must be contiguous and every row must carry an id.
func buildClusterIndex(t *Table, column string) (*clusterIndex, error) {
	if !t.HasColumn(column) {
		return nil, fmt.Errorf("%w: missing cluster column %q", ErrMalformedData, column)
	}
	idx := &clusterIndex{rows: make(map[string][]int)}
	prev := ""
	for i, row := range t.Rows {
		id, ok := ClusterKey(row[column])
		if !ok {
			return nil, fmt.Errorf("%w: row %d has no %s value", ErrMalformedData, i, column)
		}
		if id != prev {
			if _, seen := idx.rows[id]; seen {
				return nil, fmt.Errorf("%w: rows of cluster %s are not contiguous (row %d)", ErrMalformedData, id, i)
			}
			idx.order = append(idx.order, id)
			prev = id
		}
		idx.rows[id] = append(idx.rows[id], i)
	}
	return idx, nil
}

// covers reports whether the index partitions exactly n rows.
func (idx *clusterIndex) covers(n int) bool {
	seen := make([]bool, n)
	count := 0
	for _, id := range idx.order {
		for _, p := range idx.rows[id] {
			if p < 0 || p >= n || seen[p] {
				return false
			}
			seen[p] = true
			count++
		}
	}
	return count == n
}
