// Provides Dataset, the lock-guarded record of truth mutated by the edit engine.

package dataset

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

type sheet struct {
	table   *Table
	index   *clusterIndex
	dirty   bool
	dirtyAt int64
}

// Dataset is the in-memory working copy of every loaded sheet.
//
// The zero value is not usable; call New.
type Dataset struct {
	mu            sync.RWMutex
	clusterColumn string
	sheets        map[string]*sheet
	order         []string
	version       int64
}

// New returns an empty dataset that clusters rows by clusterColumn.
func New(clusterColumn string) *Dataset {
	return &Dataset{clusterColumn: clusterColumn, sheets: make(map[string]*sheet)}
}

// ClusterColumn returns the name of the column rows are clustered by.
func (d *Dataset) ClusterColumn() string {
	return d.clusterColumn
}

// LoadSheet replaces the sheet's table and rebuilds its cluster index.
//
// The dataset keeps t; the caller must not modify it afterward. On error the
// previous content of the sheet, if any, is kept.
func (d *Dataset) LoadSheet(name string, t *Table) error {
	if t == nil {
		return fmt.Errorf("%w: sheet %q has no table", ErrMalformedData, name)
	}
	idx, err := buildClusterIndex(t, d.clusterColumn)
	if err != nil {
		return fmt.Errorf("sheet %q: %w", name, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sheets[name]; !ok {
		d.order = append(d.order, name)
	}
	d.sheets[name] = &sheet{table: t, index: idx}
	return nil
}

// Update runs fn while holding the exclusive lock.
//
// Everything fn does through tx is observed atomically by readers. fn must
// not call other Dataset methods.
func (d *Dataset) Update(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(&Tx{d: d, write: true})
}

// View runs fn while holding the shared lock. Mutating methods of tx fail.
func (d *Dataset) View(fn func(tx *Tx) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fn(&Tx{d: d})
}

// Sheets returns the sheet names in load order.
func (d *Dataset) Sheets() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.order)
}

// Clusters returns the cluster ids of a sheet in row order.
func (d *Dataset) Clusters(name string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, err := d.sheet(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.index.order), nil
}

// ClusterRows returns the absolute row positions of a cluster, in order.
func (d *Dataset) ClusterRows(name, cluster string) ([]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.clusterRows(name, cluster)
	return slices.Clone(rows), err
}

// ClusterData returns copies of the rows of a cluster, in order.
func (d *Dataset) ClusterData(name, cluster string) ([]Row, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.clusterRows(name, cluster)
	if err != nil {
		return nil, err
	}
	t := d.sheets[name].table
	out := make([]Row, len(rows))
	for i, p := range rows {
		out[i] = t.Rows[p].Clone()
	}
	return out, nil
}

// Columns returns the column names of a sheet.
func (d *Dataset) Columns(name string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, err := d.sheet(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.table.Columns), nil
}

// Cell returns the value at an absolute row position.
func (d *Dataset) Cell(name string, row int, column string) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cell(name, row, column)
}

// IsDirty reports whether the sheet has unsaved changes.
func (d *Dataset) IsDirty(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sheets[name]
	return ok && s.dirty
}

// Dirty reports whether any sheet has unsaved changes.
func (d *Dataset) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sheets {
		if s.dirty {
			return true
		}
	}
	return false
}

// ClearDirty clears the sheet's dirty flag if it was not mutated after
// version. It reports whether the flag is now clear.
func (d *Dataset) ClearDirty(name string, version int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sheets[name]
	if !ok {
		return false
	}
	if s.dirtyAt > version {
		return false
	}
	s.dirty = false
	return true
}

// Version returns the number of committed transactions.
func (d *Dataset) Version() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// DirtySnapshot returns the current version and a deep copy of every dirty
// sheet. It holds the shared lock only for the copy.
func (d *Dataset) DirtySnapshot() (int64, map[string]*Table) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*Table)
	for name, s := range d.sheets {
		if s.dirty {
			out[name] = s.table.Clone()
		}
	}
	return d.version, out
}

// SheetStats summarizes one sheet.
type SheetStats struct {
	Name     string
	Rows     int
	Clusters int
	Dirty    bool
}

// Stats summarizes the dataset.
type Stats struct {
	Version int64
	Sheets  []SheetStats
}

// Stats returns a summary of every sheet in load order.
func (d *Dataset) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := Stats{Version: d.version, Sheets: make([]SheetStats, 0, len(d.order))}
	for _, name := range d.order {
		s := d.sheets[name]
		st.Sheets = append(st.Sheets, SheetStats{
			Name:     name,
			Rows:     len(s.table.Rows),
			Clusters: len(s.index.order),
			Dirty:    s.dirty,
		})
	}
	return st
}

// Partitioned reports whether every sheet's cluster index covers each row
// exactly once.
func (d *Dataset) Partitioned() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sheets {
		if !s.index.covers(len(s.table.Rows)) {
			return false
		}
	}
	return true
}

func (d *Dataset) sheet(name string) (*sheet, error) {
	s, ok := d.sheets[name]
	if !ok {
		return nil, fmt.Errorf("%w: sheet %q", ErrNotFound, name)
	}
	return s, nil
}

func (d *Dataset) clusterRows(name, cluster string) ([]int, error) {
	s, err := d.sheet(name)
	if err != nil {
		return nil, err
	}
	rows, ok := s.index.rows[cluster]
	if !ok {
		return nil, fmt.Errorf("%w: cluster %s in sheet %q", ErrNotFound, cluster, name)
	}
	return rows, nil
}

func (d *Dataset) cell(name string, row int, column string) (any, error) {
	s, err := d.sheet(name)
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= len(s.table.Rows) {
		return nil, fmt.Errorf("%w: row %d not in sheet %q (%d rows)", ErrOutOfRange, row, name, len(s.table.Rows))
	}
	if !s.table.HasColumn(column) {
		return nil, fmt.Errorf("%w: column %q in sheet %q", ErrOutOfRange, column, name)
	}
	return s.table.Rows[row][column], nil
}

// Tx is the handle passed to Update and View callbacks. It is only valid
// during the callback.
type Tx struct {
	d     *Dataset
	write bool
}

var errReadOnly = fmt.Errorf("%w: mutation in a read-only transaction", ErrOutOfRange)

// ApplyCell sets a cell without validation and returns the previous value.
func (tx *Tx) ApplyCell(name string, row int, column string, value any) (any, error) {
	if !tx.write {
		return nil, errReadOnly
	}
	prev, err := tx.d.cell(name, row, column)
	if err != nil {
		return nil, err
	}
	tx.d.sheets[name].table.Rows[row][column] = value
	return prev, nil
}

// MarkDirty flags the sheet as modified at the version the current
// transaction commits.
func (tx *Tx) MarkDirty(name string) error {
	if !tx.write {
		return errReadOnly
	}
	s, err := tx.d.sheet(name)
	if err != nil {
		return err
	}
	s.dirty = true
	s.dirtyAt = tx.d.version + 1
	return nil
}

// BumpVersion increments the dataset version and returns the new value.
//
// Call it once per committed transaction, after MarkDirty.
func (tx *Tx) BumpVersion() int64 {
	if !tx.write {
		return tx.d.version
	}
	tx.d.version++
	return tx.d.version
}

// Version returns the dataset version.
func (tx *Tx) Version() int64 {
	return tx.d.version
}

// ClusterRows returns the absolute row positions of a cluster. The slice
// must not be modified.
func (tx *Tx) ClusterRows(name, cluster string) ([]int, error) {
	return tx.d.clusterRows(name, cluster)
}

// Cell returns the value at an absolute row position.
func (tx *Tx) Cell(name string, row int, column string) (any, error) {
	return tx.d.cell(name, row, column)
}

// Column returns the sheet's spelling of column, matched case-insensitively.
func (tx *Tx) Column(name, column string) (string, bool) {
	s, ok := tx.d.sheets[name]
	if !ok {
		return "", false
	}
	if s.table.HasColumn(column) {
		return column, true
	}
	for _, c := range s.table.Columns {
		if strings.EqualFold(c, column) {
			return c, true
		}
	}
	return "", false
}
