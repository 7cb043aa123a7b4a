// Package journal keeps the audit trail of the edits of a workbook.
//
// Every edit that reached a durable snapshot is appended to a JSONL log which
// lives in a git repository; each snapshot produces one commit so the log
// history can be inspected with any git client.
package journal

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/ksid"
	"github.com/maruel/xlsedit/internal/edit"
	"github.com/maruel/xlsedit/internal/jsonl"
	"github.com/maruel/xlsedit/internal/xlsx"
)

// Entry is one journaled edit.
type Entry struct {
	// Run identifies the process that made the edit.
	Run      uuid.UUID `json:"run"`
	ID       ksid.ID   `json:"id"`
	Time     time.Time `json:"time"`
	Version  int64     `json:"version"`
	Sheet    string    `json:"sheet"`
	Cluster  string    `json:"cluster"`
	Offset   int       `json:"offset"`
	Row      int       `json:"row"`
	Column   string    `json:"column"`
	Prev     any       `json:"prev"`
	New      any       `json:"new"`
	Reverts  ksid.ID   `json:"reverts,omitzero"`
	Snapshot string    `json:"snapshot"`
}

// Clone implements jsonl.Cloner. Values are scalars.
func (e Entry) Clone() Entry {
	return e
}

// Journal is the audit log of one workbook.
type Journal struct {
	repo   *repo
	table  *jsonl.Table[Entry]
	file   string
	source string
	run    uuid.UUID
}

// Open opens or creates the journal of source inside dir.
func Open(ctx context.Context, dir, source string) (*Journal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := openRepo(dir, "xlsedit", "xlsedit@localhost")
	if err != nil {
		return nil, err
	}
	file := xlsx.Stem(source) + ".edits.jsonl"
	table, err := jsonl.NewTable[Entry](filepath.Join(dir, file))
	if err != nil {
		return nil, err
	}
	return &Journal{repo: r, table: table, file: file, source: filepath.Base(source), run: uuid.New()}, nil
}

// Run returns the identifier of this process' entries.
func (j *Journal) Run() uuid.UUID {
	return j.run
}

// Path returns the JSONL log file.
func (j *Journal) Path() string {
	return j.table.Path()
}

// Record appends the records persisted by the snapshot at version and
// commits the log.
func (j *Journal) Record(ctx context.Context, version int64, snapshot string, records []edit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	name := filepath.Base(snapshot)
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{
			Run:      j.run,
			ID:       r.ID,
			Time:     r.Time,
			Version:  r.Version,
			Sheet:    r.Sheet,
			Cluster:  r.Cluster,
			Offset:   r.Offset,
			Row:      r.Row,
			Column:   r.Column,
			Prev:     r.Prev,
			New:      r.New,
			Reverts:  r.Reverts,
			Snapshot: name,
		}
	}
	if err := j.table.Append(entries...); err != nil {
		return err
	}
	var body strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&body, "%s!%s row %d %s: %v -> %v\n", e.Sheet, e.Cluster, e.Offset, e.Column, e.Prev, e.New)
	}
	msg := fmt.Sprintf("save v%d of %s\n\n%d edits, snapshot %s\n\n%s", version, j.source, len(entries), name, body.String())
	_, err := j.repo.commit(msg, j.file)
	return err
}

// Entries iterates over the journaled edits, oldest first.
func (j *Journal) Entries() iter.Seq[Entry] {
	return j.table.All()
}

// Len returns the number of journaled edits.
func (j *Journal) Len() int {
	return j.table.Len()
}

// Commits returns up to n commits of the log, newest first.
func (j *Journal) Commits(ctx context.Context, n int) ([]Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return j.repo.history(j.file, n)
}

// EntriesAt returns the journaled edits as of a commit, oldest first. hash
// may be abbreviated.
func (j *Journal) EntriesAt(ctx context.Context, hash string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := j.repo.fileAt(hash, j.file)
	if err != nil {
		return nil, err
	}
	entries, err := jsonl.Decode[Entry](bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("journal at %s: %w", hash, err)
	}
	return entries, nil
}
