package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/maruel/xlsedit/internal/config"
	"github.com/maruel/xlsedit/internal/workbench"
)

func shellScript(t *testing.T, w *workbench.Workbench, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	in := &scanLines{s: bufio.NewScanner(strings.NewReader(strings.Join(lines, "\n")))}
	if err := runShell(t.Context(), w, in, &out); err != nil {
		t.Fatalf("runShell() failed: %v", err)
	}
	return out.String()
}

func TestShell(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	w, err := workbench.Open(t.Context(), workbench.Options{Path: writeBook(t), DataDir: t.TempDir(), Config: &cfg})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() {
		if err := w.Close(t.Context()); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	}()

	out := shellScript(t, w,
		"help",
		"sheets",
		"clusters",
		"cluster 8",
		"set 0 VIEW 9",
		"set 0 VIEW -1",
		"set 0 NAME x",
		"set x VIEW 1",
		"clear 0 SHORTLIMIT",
		"show",
		"history",
		"rollback nope",
		"rollback 0123456789",
		"cluster 42",
		"save",
		"status",
		"bogus",
		"quit",
		"set 0 VIEW 1",
	)
	for _, want := range []string{
		"rollback ID",
		"ok, version 1",
		"error: VIEW must be a positive number greater than 0",
		`error: column "NAME" is read-only and cannot be modified`,
		`error: invalid row "x"`,
		"ok, version 2",
		"error: invalid edit id",
		"error: edit 0123456789 is not in the history",
		"error: not found: cluster 42",
		"saved v2 to",
		`error: unknown command "bogus", try help`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if st := w.Session(); st.Sheet != "S1" || st.Cluster != "8" {
		t.Errorf("Session() = %+v", st)
	}
	rows, err := w.Dataset().ClusterRows("S1", "8")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := w.Dataset().Cell("S1", rows[0], "VIEW"); v != 9.0 {
		t.Errorf("VIEW = %v, want 9 (the edit after quit ran)", v)
	}
	if w.Dataset().IsDirty("S1") {
		t.Error("S1 dirty after save")
	}

	t.Run("rollback", func(t *testing.T) {
		first := w.Engine().History()[0]
		out := shellScript(t, w, "rollback "+first.ID.String(), "history 1")
		if !strings.Contains(out, "rolled back "+first.ID.String()+" (S1!8 row 0 VIEW: 4 -> 9), version 3") {
			t.Errorf("output:\n%s", out)
		}
		if v, _ := w.Dataset().Cell("S1", rows[0], "VIEW"); v != int64(4) {
			t.Errorf("VIEW = %v after rollback, want 4", v)
		}
		if h := w.Engine().History(); h[len(h)-1].Reverts != first.ID {
			t.Errorf("last record = %+v", h[len(h)-1])
		}
	})
}
