package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/xlsedit/internal/edit"
	"github.com/maruel/xlsedit/internal/xlsx"
	"github.com/xuri/excelize/v2"
)

// writeBook creates book.xlsx with a clustered sheet S1 and a Notes sheet.
func writeBook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", "S1"); err != nil {
		t.Fatal(err)
	}
	rows := [][]any{
		{"CLUSTER", "NAME", "VIEW", "SHORTLIMIT"},
		{7, "alpha", 1.5, -2},
		{7, "beta", 2, nil},
		{8, "gamma", 4, nil},
	}
	for i, r := range rows {
		for j, v := range r {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			if err := f.SetCellValue("S1", cell, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	if _, err := f.NewSheet("Notes"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Notes", "A1", "free text"); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "book.xlsx")
	if err := f.SaveAs(p); err != nil {
		t.Fatalf("SaveAs() failed: %v", err)
	}
	return p
}

func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--data-dir", dataDir, "--log-level", "warn"}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	t.Parallel()
	book := writeBook(t)
	dataDir := t.TempDir()

	out, err := run(t, dataDir, "sheets", book)
	if err != nil {
		t.Fatalf("sheets failed: %v", err)
	}
	if !strings.Contains(out, "S1") || !strings.Contains(out, "skipped Notes") {
		t.Errorf("sheets output:\n%s", out)
	}

	out, err = run(t, dataDir, "clusters", book, "--sheet", "S1")
	if err != nil {
		t.Fatalf("clusters failed: %v", err)
	}
	if !strings.Contains(out, "7") || !strings.Contains(out, "8") {
		t.Errorf("clusters output:\n%s", out)
	}
	if _, err := run(t, dataDir, "clusters", book, "--sheet", "Nope"); err == nil {
		t.Error("clusters of an unknown sheet succeeded")
	}

	out, err = run(t, dataDir, "set", book, "--sheet", "S1", "--cluster", "7", "--row", "1", "--column", "VIEW", "--value", "12.5")
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if !strings.HasPrefix(out, "saved ") {
		t.Errorf("set output: %q", out)
	}
	snaps, err := xlsx.Snapshots(book)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("Snapshots() = %v, %v", snaps, err)
	}
	if !strings.Contains(out, snaps[0]) {
		t.Errorf("set output %q does not name %s", out, snaps[0])
	}

	_, err = run(t, dataDir, "set", book, "--sheet", "S1", "--cluster", "7", "--row", "1", "--column", "VIEW", "--value", "-3")
	if err == nil || err.Error() != "VIEW must be a positive number greater than 0" {
		t.Errorf("set -3 = %v", err)
	}
	if _, err := run(t, dataDir, "set", book, "--sheet", "S1", "--cluster", "7", "--column", "VIEW"); err == nil {
		t.Error("set without --value nor --clear succeeded")
	}

	out, err = run(t, dataDir, "show", snaps[0], "--sheet", "S1", "--cluster", "7")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, "12.5") || !strings.Contains(out, "VIEW *") || strings.Contains(out, "CLUSTER *") {
		t.Errorf("show output:\n%s", out)
	}

	out, err = run(t, dataDir, "batch", book, "--edit", "S1:7:0:VIEW=3", "--edit", "S1:8:0:SHORTLIMIT=5")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 edits failed") {
		t.Errorf("batch = %v", err)
	}
	if !strings.Contains(out, "edit 2 (S1:8:0:SHORTLIMIT=5): SHORTLIMIT must be negative or empty") {
		t.Errorf("batch output:\n%s", out)
	}
	out, err = run(t, dataDir, "batch", book, "--edit", "S1:7:0:VIEW=3", "--edit", "S1:7:0:SHORTLIMIT=")
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if !strings.HasPrefix(out, "applied 2 edits") {
		t.Errorf("batch output: %q", out)
	}

	out, err = run(t, dataDir, "log", book, "-v")
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if !strings.Contains(out, "save v1 of book.xlsx") || !strings.Contains(out, "S1!7 row 1 VIEW: 2 -> 12.5") {
		t.Errorf("log output:\n%s", out)
	}

	out, err = run(t, dataDir, "log", book, "--at", "HEAD~1")
	if err != nil {
		t.Fatalf("log --at failed: %v", err)
	}
	if !strings.Contains(out, "12.5") || !strings.Contains(out, filepath.Base(snaps[0])) || strings.Contains(out, "SHORTLIMIT") {
		t.Errorf("log --at output:\n%s", out)
	}
	if _, err := run(t, dataDir, "log", book, "--at", "nope"); err == nil {
		t.Error("log --at of an unknown commit succeeded")
	}

	out, err = run(t, dataDir, "config-schema")
	if err != nil {
		t.Fatalf("config-schema failed: %v", err)
	}
	if !strings.Contains(out, `"cluster_column"`) {
		t.Errorf("config-schema output:\n%s", out)
	}

	if _, err := run(t, dataDir, "--log-level", "loud", "config-schema"); err == nil || !strings.Contains(err.Error(), "unknown log level") {
		t.Errorf("bad log level = %v", err)
	}
}

func TestParseEdit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want edit.Request
	}{
		{"S1:7:1:VIEW=12.5", edit.Request{Sheet: "S1", Cluster: "7", Offset: 1, Column: "VIEW", Value: "12.5"}},
		{"S1:7:0:SHORTLIMIT=", edit.Request{Sheet: "S1", Cluster: "7", Column: "SHORTLIMIT"}},
		{"a:b:7:2:VIEW=1e3", edit.Request{Sheet: "a:b", Cluster: "7", Offset: 2, Column: "VIEW", Value: "1e3"}},
		{"S1:7:0:NOTE=x=y", edit.Request{Sheet: "S1", Cluster: "7", Column: "NOTE", Value: "x=y"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseEdit(tt.in)
			if err != nil {
				t.Fatalf("parseEdit() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseEdit() = %+v, want %+v", got, tt.want)
			}
		})
	}
	for _, in := range []string{"S1:7:1:VIEW", "7:1:VIEW=1", "S1:7:x:VIEW=1"} {
		if _, err := parseEdit(in); err == nil {
			t.Errorf("parseEdit(%q) succeeded", in)
		}
	}
}

func TestFormatValue(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		in   any
		want string
	}{
		{nil, ""},
		{12.5, "12.5"},
		{1e21, "1000000000000000000000"},
		{int64(-4), "-4"},
		{"abc", "abc"},
		{true, "true"},
	} {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
