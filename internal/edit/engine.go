// Package edit applies validated cell edits to a dataset as transactions.
//
// Each committed transaction (single edit, batch or rollback) bumps the
// dataset version exactly once, marks the touched sheets dirty and appends
// its records to a bounded history.
package edit

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"github.com/maruel/xlsedit/internal/dataset"
	"github.com/maruel/xlsedit/internal/validate"
)

// DefaultHistorySize is the number of records retained when Config does not
// set one.
const DefaultHistorySize = 1000

// Config configures an Engine.
type Config struct {
	// HistorySize bounds the retained records.
	HistorySize int
	// OnCommit is called with the records of each committed transaction,
	// after every lock is released. It must not block for long.
	OnCommit func([]Record)
}

// Engine applies edits. It is safe for concurrent use.
type Engine struct {
	ds       *dataset.Dataset
	rules    *validate.Registry
	onCommit func([]Record)

	// mu serializes transactions and guards history. It is always acquired
	// before the dataset lock.
	mu      sync.Mutex
	history *history
}

// NewEngine returns an engine mutating ds with the rules of r.
func NewEngine(ds *dataset.Dataset, r *validate.Registry, cfg Config) *Engine {
	size := cfg.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Engine{ds: ds, rules: r, onCommit: cfg.OnCommit, history: newHistory(size)}
}

// IsColumnEditable reports whether column accepts edits.
func (e *Engine) IsColumnEditable(column string) bool {
	if strings.EqualFold(column, e.ds.ClusterColumn()) {
		return false
	}
	return e.rules.Editable(column)
}

// EditOne validates and applies a single edit.
//
// On failure the dataset is untouched and the message explains why.
func (e *Engine) EditOne(sheet, cluster string, offset int, column string, raw any) (bool, string) {
	ok, results := e.EditBatch([]Request{{Sheet: sheet, Cluster: cluster, Offset: offset, Column: column, Value: raw}})
	if !ok {
		return false, results[0].Message
	}
	return true, ""
}

var errRejected = errors.New("batch rejected")

type target struct {
	sheet  string
	row    int
	column string
}

// EditBatch validates every request in order and applies all of them as one
// transaction, or none.
//
// Every failing entry is reported. Two entries targeting the same cell
// conflict; the later one fails. An empty batch succeeds without a version
// bump.
func (e *Engine) EditBatch(reqs []Request) (bool, []Result) {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return true, results
	}
	values := make([]any, len(reqs))
	failed := false
	for i, r := range reqs {
		res := e.validate(r.Column, r.Value)
		if !res.Valid {
			results[i] = Result{Index: i, Message: res.Message}
			failed = true
			continue
		}
		results[i] = Result{Index: i, OK: true}
		values[i] = res.Value
	}

	e.mu.Lock()
	var records []Record
	err := e.ds.Update(func(tx *dataset.Tx) error {
		targets := make([]target, len(reqs))
		seen := make(map[target]int, len(reqs))
		for i, r := range reqs {
			t, err := resolve(tx, r)
			if err != nil {
				if results[i].OK {
					results[i] = Result{Index: i, Message: err.Error()}
				}
				failed = true
				continue
			}
			targets[i] = t
			if j, dup := seen[t]; dup {
				if results[i].OK {
					results[i] = Result{Index: i, Message: fmt.Sprintf("conflicts with edit %d: row %d column %s edited twice", j, r.Offset, t.column)}
				}
				failed = true
				continue
			}
			seen[t] = i
		}
		if failed {
			return errRejected
		}
		now := time.Now()
		version := tx.Version() + 1
		records = make([]Record, len(reqs))
		for i, r := range reqs {
			t := targets[i]
			prev, err := tx.ApplyCell(t.sheet, t.row, t.column, values[i])
			if err != nil {
				// resolve checked the coordinates under the same lock.
				panic(err)
			}
			records[i] = Record{
				ID:      ksid.NewID(),
				Time:    now,
				Version: version,
				Sheet:   t.sheet,
				Cluster: r.Cluster,
				Offset:  r.Offset,
				Row:     t.row,
				Column:  t.column,
				Prev:    prev,
				New:     values[i],
			}
		}
		commit(tx, records)
		return nil
	})
	if err == nil {
		for _, r := range records {
			e.history.add(r)
		}
	}
	e.mu.Unlock()
	if err != nil {
		return false, results
	}
	e.notify(records)
	return true, results
}

// Rollback restores the previous value of the record id as a new
// compensating edit. It returns false when id is not retained in history or
// its cell no longer exists.
func (e *Engine) Rollback(id ksid.ID) bool {
	e.mu.Lock()
	orig, ok := e.history.find(id)
	if !ok {
		e.mu.Unlock()
		return false
	}
	var rec Record
	err := e.ds.Update(func(tx *dataset.Tx) error {
		cur, err := tx.ApplyCell(orig.Sheet, orig.Row, orig.Column, orig.Prev)
		if err != nil {
			return err
		}
		rec = Record{
			ID:      ksid.NewID(),
			Time:    time.Now(),
			Version: tx.Version() + 1,
			Sheet:   orig.Sheet,
			Cluster: orig.Cluster,
			Offset:  orig.Offset,
			Row:     orig.Row,
			Column:  orig.Column,
			Prev:    cur,
			New:     orig.Prev,
			Reverts: orig.ID,
		}
		commit(tx, []Record{rec})
		return nil
	})
	if err == nil {
		e.history.add(rec)
	}
	e.mu.Unlock()
	if err != nil {
		return false
	}
	e.notify([]Record{rec})
	return true
}

// History returns the retained records, oldest first.
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.snapshot()
}

// Lookup returns the retained record with the given id.
func (e *Engine) Lookup(id ksid.ID) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.find(id)
}

func (e *Engine) validate(column string, raw any) validate.Result {
	if strings.EqualFold(column, e.ds.ClusterColumn()) {
		return validate.Result{Message: fmt.Sprintf("column %q is read-only and cannot be modified", column)}
	}
	return e.rules.Validate(column, raw)
}

func (e *Engine) notify(records []Record) {
	if e.onCommit != nil {
		e.onCommit(records)
	}
}

func resolve(tx *dataset.Tx, r Request) (target, error) {
	rows, err := tx.ClusterRows(r.Sheet, r.Cluster)
	if err != nil {
		return target{}, err
	}
	if r.Offset < 0 || r.Offset >= len(rows) {
		return target{}, fmt.Errorf("%w: row %d not in cluster %s (%d rows)", dataset.ErrOutOfRange, r.Offset, r.Cluster, len(rows))
	}
	col, ok := tx.Column(r.Sheet, r.Column)
	if !ok {
		return target{}, fmt.Errorf("%w: column %q in sheet %q", dataset.ErrOutOfRange, r.Column, r.Sheet)
	}
	return target{sheet: r.Sheet, row: rows[r.Offset], column: col}, nil
}

// commit marks the touched sheets dirty and bumps the version once.
func commit(tx *dataset.Tx, records []Record) {
	for _, r := range records {
		// The sheet was resolved under the same lock.
		_ = tx.MarkDirty(r.Sheet)
	}
	tx.BumpVersion()
}
