package journal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maruel/ksid"
	"github.com/maruel/xlsedit/internal/edit"
)

func TestJournal(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "journal")
	source := filepath.Join(t.TempDir(), "book.xlsx")

	j, err := Open(t.Context(), dir, source)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if commits, err := j.Commits(t.Context(), 10); err != nil || len(commits) != 0 {
		t.Fatalf("Commits() on a new journal = %v, %v", commits, err)
	}
	first := edit.Record{ID: ksid.NewID(), Time: time.Now(), Version: 1, Sheet: "S1", Cluster: "7", Offset: 1, Row: 1, Column: "VIEW", Prev: 2.0, New: 12.5}
	rollback := edit.Record{ID: ksid.NewID(), Time: time.Now(), Version: 2, Sheet: "S1", Cluster: "7", Offset: 1, Row: 1, Column: "VIEW", Prev: 12.5, New: 2.0, Reverts: first.ID}
	snap := "/data/book_edited_20261019_101112_345_v2.xlsx"
	if err := j.Record(t.Context(), 2, snap, []edit.Record{first, rollback}); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := j.Record(t.Context(), 2, snap, nil); err != nil {
		t.Fatalf("Record(nil) failed: %v", err)
	}

	commits, err := j.Commits(t.Context(), 10)
	if err != nil {
		t.Fatalf("Commits() failed: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("%d commits, want 1", len(commits))
	}
	c := commits[0]
	if c.Subject != "save v2 of book.xlsx" {
		t.Errorf("Subject = %q", c.Subject)
	}
	if !strings.Contains(c.Body, "2 edits") || c.Author != "xlsedit" {
		t.Errorf("commit = %+v", c)
	}
	for _, rev := range []string{c.Hash, c.Hash[:12], "HEAD"} {
		at, err := j.EntriesAt(t.Context(), rev)
		if err != nil {
			t.Fatalf("EntriesAt(%s) failed: %v", rev, err)
		}
		if len(at) != 2 || at[0].ID != first.ID || at[1].Reverts != first.ID {
			t.Errorf("EntriesAt(%s) = %+v", rev, at)
		}
	}
	if _, err := j.EntriesAt(t.Context(), "0123456789ab"); err == nil {
		t.Error("EntriesAt() of an unknown commit succeeded")
	}

	t.Run("reopen", func(t *testing.T) {
		j2, err := Open(t.Context(), dir, source)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		if j2.Run() == j.Run() {
			t.Error("run id reused")
		}
		if j2.Len() != 2 {
			t.Fatalf("Len() = %d, want 2", j2.Len())
		}
		var got []Entry
		for e := range j2.Entries() {
			got = append(got, e)
		}
		if got[0].ID != first.ID || got[0].Run != j.Run() || got[0].New != 12.5 {
			t.Errorf("entry 0 = %+v", got[0])
		}
		if got[1].Reverts != first.ID || got[1].Snapshot != filepath.Base(snap) {
			t.Errorf("entry 1 = %+v", got[1])
		}
		if !got[0].Reverts.IsZero() {
			t.Errorf("entry 0 Reverts = %v", got[0].Reverts)
		}
		rec := rollback
		rec.Version = 3
		rec.ID = ksid.NewID()
		if err := j2.Record(t.Context(), 3, snap, []edit.Record{rec}); err != nil {
			t.Fatal(err)
		}
		commits, err := j2.Commits(t.Context(), 10)
		if err != nil || len(commits) != 2 || commits[0].Subject != "save v3 of book.xlsx" {
			t.Errorf("Commits() = %+v, %v", commits, err)
		}
	})
}
