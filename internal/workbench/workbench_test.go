package workbench

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/maruel/xlsedit/internal/config"
	"github.com/maruel/xlsedit/internal/dataset"
	"github.com/maruel/xlsedit/internal/xlsx"
	"github.com/xuri/excelize/v2"
)

func writeBook(t *testing.T, sheets map[string][][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for name, rows := range sheets {
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatal(err)
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatal(err)
		}
		for i, r := range rows {
			for j, v := range r {
				if v == nil {
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
				if err := f.SetCellValue(name, cell, v); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	p := filepath.Join(t.TempDir(), "book.xlsx")
	if err := f.SaveAs(p); err != nil {
		t.Fatalf("SaveAs() failed: %v", err)
	}
	return p
}

var s1 = [][]any{
	{"CLUSTER", "NAME", "VIEW", "SHORTLIMIT"},
	{7, "alpha", 1.5, -2},
	{7, "beta", 2, nil},
	{7, "gamma", 3, -1},
	{8, "delta", 4, nil},
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Autosave.Debounce = config.Duration(10 * time.Millisecond)
	cfg.Autosave.RetryBase = config.Duration(time.Millisecond)
	cfg.Autosave.RetryMax = config.Duration(10 * time.Millisecond)
	return &cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWorkbench(t *testing.T) {
	t.Parallel()
	path := writeBook(t, map[string][][]any{"S1": s1})
	dataDir := t.TempDir()
	w, err := Open(t.Context(), Options{Path: path, DataDir: dataDir, Config: testConfig(), Watch: true})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if st := w.Session(); st.File != path || st.Sheet != "S1" || st.Cluster != "7" {
		t.Errorf("Session() = %+v", st)
	}

	if ok, msg := w.Engine().EditOne("S1", "7", 1, "VIEW", "12.5"); !ok {
		t.Fatalf("EditOne() failed: %s", msg)
	}
	if ok, _ := w.Engine().EditOne("S1", "7", 1, "VIEW", "-3"); ok {
		t.Fatal("EditOne(-3) succeeded")
	}
	if v := w.Dataset().Version(); v != 1 {
		t.Errorf("Version() = %d, want 1", v)
	}
	waitFor(t, "autosave", func() bool { return w.Journal().Len() == 1 })
	if w.Dataset().IsDirty("S1") {
		t.Error("S1 still dirty after autosave")
	}

	if ok, msg := w.Engine().EditOne("S1", "8", 0, "SHORTLIMIT", "-4"); !ok {
		t.Fatalf("EditOne() failed: %s", msg)
	}
	if err := w.Navigate("S1", "8", 0); err != nil {
		t.Fatalf("Navigate() failed: %v", err)
	}
	if err := w.Navigate("S1", "42", 0); !errors.Is(err, dataset.ErrNotFound) {
		t.Errorf("Navigate(42) = %v", err)
	}
	if err := w.Close(t.Context()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := w.Close(t.Context()); err == nil {
		t.Error("second Close() succeeded")
	}
	if w.Journal().Len() != 2 {
		t.Errorf("journal has %d entries, want 2", w.Journal().Len())
	}

	snaps, err := xlsx.Snapshots(path)
	if err != nil || len(snaps) == 0 {
		t.Fatalf("Snapshots() = %v, %v", snaps, err)
	}
	book, err := xlsx.ReadAll(snaps[len(snaps)-1], "CLUSTER")
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	rows := book.Sheets["S1"].Rows
	if rows[1]["VIEW"] != 12.5 || rows[3]["SHORTLIMIT"] != int64(-4) {
		t.Errorf("snapshot rows = %v", rows)
	}
	orig, err := xlsx.ReadAll(path, "CLUSTER")
	if err != nil {
		t.Fatal(err)
	}
	if orig.Sheets["S1"].Rows[1]["VIEW"] != int64(2) {
		t.Errorf("source modified: %v", orig.Sheets["S1"].Rows[1])
	}

	t.Run("reopen", func(t *testing.T) {
		w2, err := Open(t.Context(), Options{Path: path, DataDir: dataDir, Config: testConfig()})
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		if st := w2.Session(); st.Sheet != "S1" || st.Cluster != "8" || st.Row != 0 {
			t.Errorf("restored session = %+v", st)
		}
		if n := len(w2.Scheduler().Backups()); n == 0 {
			t.Error("existing snapshots not adopted")
		}
		if err := w2.Close(t.Context()); err != nil {
			t.Fatalf("Close() failed: %v", err)
		}
	})
}

func TestOpenSkipsMalformed(t *testing.T) {
	t.Parallel()
	path := writeBook(t, map[string][][]any{
		"S1":    s1,
		"Split": {{"CLUSTER", "VIEW"}, {1, 1}, {2, 2}, {1, 3}},
		"Notes": {{"text"}, {"free"}},
	})
	w, err := Open(t.Context(), Options{Path: path, DataDir: t.TempDir(), Config: testConfig()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() {
		if err := w.Close(t.Context()); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	}()
	if got := w.Dataset().Sheets(); len(got) != 1 || got[0] != "S1" {
		t.Errorf("Sheets() = %v", got)
	}
	if err := w.Skipped()["Split"]; !errors.Is(err, dataset.ErrMalformedData) {
		t.Errorf("Split skipped with %v", err)
	}
	if _, ok := w.Skipped()["Notes"]; !ok {
		t.Error("Notes not reported as skipped")
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	t.Run("no clustered sheet", func(t *testing.T) {
		t.Parallel()
		path := writeBook(t, map[string][][]any{"Notes": {{"text"}, {"free"}}})
		if _, err := Open(t.Context(), Options{Path: path, DataDir: t.TempDir()}); !errors.Is(err, dataset.ErrMalformedData) {
			t.Errorf("Open() = %v", err)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		if _, err := Open(t.Context(), Options{Path: filepath.Join(t.TempDir(), "nope.xlsx"), DataDir: t.TempDir()}); err == nil {
			t.Error("Open() succeeded")
		}
	})
	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.HistorySize = 0
		path := writeBook(t, map[string][][]any{"S1": s1})
		if _, err := Open(t.Context(), Options{Path: path, DataDir: t.TempDir(), Config: &cfg}); err == nil {
			t.Error("Open() succeeded")
		}
	})
}
