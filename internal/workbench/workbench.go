// Package workbench wires the components editing one workbook.
//
// A Workbench owns the dataset loaded from the source workbook, the edit
// engine, the background persistence scheduler, the audit journal, the
// session state and a watcher reporting external changes to the source.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/xlsedit/internal/config"
	"github.com/maruel/xlsedit/internal/dataset"
	"github.com/maruel/xlsedit/internal/edit"
	"github.com/maruel/xlsedit/internal/journal"
	"github.com/maruel/xlsedit/internal/persist"
	"github.com/maruel/xlsedit/internal/session"
	"github.com/maruel/xlsedit/internal/validate"
	"github.com/maruel/xlsedit/internal/xlsx"
)

// Options configures Open.
type Options struct {
	// Path is the source workbook.
	Path string
	// DataDir holds the journal and the session state.
	DataDir string
	// Config defaults to config.Default().
	Config *config.Config
	// OnStatus is called on every persistence state change.
	OnStatus func(persist.Status)
	// Watch enables the external modification watcher.
	Watch bool
}

// Workbench is one open workbook.
type Workbench struct {
	path    string
	cfg     *config.Config
	ds      *dataset.Dataset
	engine  *edit.Engine
	sched   *persist.Scheduler
	journal *journal.Journal
	store   *session.Store
	skipped map[string]error
	watcher *fsnotify.Watcher
	watched chan struct{}

	mu      sync.Mutex
	state   session.State
	pending []edit.Record
	closed  bool
}

// Open loads the workbook and starts its background services.
func Open(ctx context.Context, opts Options) (*Workbench, error) {
	cfg := opts.Config
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, err
	}
	book, err := xlsx.ReadAll(path, cfg.ClusterColumn)
	if err != nil {
		return nil, err
	}
	w := &Workbench{
		path:    path,
		cfg:     cfg,
		ds:      dataset.New(cfg.ClusterColumn),
		skipped: book.Skipped,
	}
	for _, name := range book.Order {
		if err := w.ds.LoadSheet(name, book.Sheets[name]); err != nil {
			if !errors.Is(err, dataset.ErrMalformedData) {
				return nil, err
			}
			slog.WarnContext(ctx, "Skipping sheet", "sheet", name, "err", err)
			w.skipped[name] = err
		}
	}
	if len(w.ds.Sheets()) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheet with a %s column", dataset.ErrMalformedData, filepath.Base(path), cfg.ClusterColumn)
	}

	w.journal, err = journal.Open(ctx, filepath.Join(opts.DataDir, "journal"), path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	rules := validate.New(cfg.Columns.Positive, cfg.Columns.NegativeOrEmpty)
	w.engine = edit.NewEngine(w.ds, rules, edit.Config{HistorySize: cfg.HistorySize, OnCommit: w.onCommit})
	existing, err := xlsx.Snapshots(path)
	if err != nil {
		return nil, err
	}
	w.sched = persist.New(w.ds, &xlsx.Codec{}, persist.Config{
		Source:      path,
		Existing:    existing,
		Debounce:    cfg.Autosave.Debounce.D(),
		RetryBase:   cfg.Autosave.RetryBase.D(),
		RetryMax:    cfg.Autosave.RetryMax.D(),
		MaxAttempts: cfg.Autosave.MaxAttempts,
		Backups:     cfg.Autosave.Backups,
		SaveTimeout: cfg.Autosave.SaveTimeout.D(),
		OnStatus:    opts.OnStatus,
		AfterSave:   w.journalUpTo,
	})

	w.store = session.NewStore(opts.DataDir, session.Config{
		Interval: cfg.Session.CheckpointInterval.D(),
		Keep:     cfg.Session.Backups,
	})
	// The error is already logged and the defaults are usable.
	st, _ := w.store.Load()
	w.state = w.restore(st)

	if opts.Watch {
		if err := w.watch(ctx); err != nil {
			slog.WarnContext(ctx, "Failed to watch source workbook", "path", path, "err", err)
		}
	}
	return w, nil
}

// Path returns the absolute path of the source workbook.
func (w *Workbench) Path() string {
	return w.path
}

// Config returns the effective configuration.
func (w *Workbench) Config() *config.Config {
	return w.cfg
}

// Dataset returns the working dataset.
func (w *Workbench) Dataset() *dataset.Dataset {
	return w.ds
}

// Engine returns the edit engine.
func (w *Workbench) Engine() *edit.Engine {
	return w.engine
}

// Scheduler returns the persistence scheduler.
func (w *Workbench) Scheduler() *persist.Scheduler {
	return w.sched
}

// Journal returns the audit journal.
func (w *Workbench) Journal() *journal.Journal {
	return w.journal
}

// Skipped returns the sheets that were not loaded and why.
func (w *Workbench) Skipped() map[string]error {
	return w.skipped
}

// Session returns the current cursor position.
func (w *Workbench) Session() session.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Navigate moves the cursor and checkpoints the session when due.
func (w *Workbench) Navigate(sheet, cluster string, row int) error {
	if _, err := w.ds.ClusterRows(sheet, cluster); err != nil {
		return err
	}
	w.mu.Lock()
	w.state.Sheet = sheet
	w.state.Cluster = cluster
	w.state.Row = row
	st := w.state
	w.mu.Unlock()
	_, err := w.store.CheckpointIfDue(st)
	return err
}

// Close stops the background services. The final save is bounded by the
// configured shutdown timeout; its failure is returned.
func (w *Workbench) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return persist.ErrClosed
	}
	w.closed = true
	st := w.state
	w.mu.Unlock()

	if w.watcher != nil {
		_ = w.watcher.Close()
		<-w.watched
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ShutdownTimeout.D())
	defer cancel()
	var errs []error
	if err := w.sched.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	// Records whose commit callback ran after the last snapshot was taken.
	last := w.sched.Status()
	if err := w.journalUpTo(ctx, last.Version, last.Path); err != nil {
		slog.WarnContext(ctx, "Failed to journal edits", "version", last.Version, "err", err)
	}
	if err := w.store.Save(st); err != nil {
		errs = append(errs, err)
	} else if _, err := w.store.Backup(); err != nil {
		errs = append(errs, err)
	} else if err := w.store.Rotate(0); err != nil {
		slog.WarnContext(ctx, "Failed to rotate session backups", "err", err)
	}
	return errors.Join(errs...)
}

func (w *Workbench) onCommit(records []edit.Record) {
	w.mu.Lock()
	w.pending = append(w.pending, records...)
	w.mu.Unlock()
	w.sched.Notify()
}

// journalUpTo records the pending edits included in the snapshot at version.
func (w *Workbench) journalUpTo(ctx context.Context, version int64, path string) error {
	if path == "" {
		return nil
	}
	w.mu.Lock()
	var ready, rest []edit.Record
	for _, r := range w.pending {
		if r.Version <= version {
			ready = append(ready, r)
		} else {
			rest = append(rest, r)
		}
	}
	w.pending = rest
	w.mu.Unlock()
	return w.journal.Record(ctx, version, path, ready)
}

// restore validates the saved cursor against the loaded workbook.
func (w *Workbench) restore(st session.State) session.State {
	sheets := w.ds.Sheets()
	if st.File != w.path || !slices.Contains(sheets, st.Sheet) {
		st.File = w.path
		st.Sheet = sheets[0]
		st.Cluster = ""
		st.Row = 0
	}
	clusters, err := w.ds.Clusters(st.Sheet)
	if err != nil || len(clusters) == 0 {
		st.Cluster = ""
		st.Row = 0
		return st
	}
	if !slices.Contains(clusters, st.Cluster) {
		st.Cluster = clusters[0]
		st.Row = 0
	}
	if rows, err := w.ds.ClusterRows(st.Sheet, st.Cluster); err == nil && st.Row >= len(rows) {
		st.Row = 0
	}
	return st
}

// watch warns when another program modifies the source workbook.
func (w *Workbench) watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors replace files, watch the directory.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.watched = make(chan struct{})
	go func() {
		defer close(w.watched)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Name != w.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
					continue
				}
				slog.WarnContext(ctx, "Source workbook modified externally, edits are saved as new snapshots only", "path", w.path, "op", event.Op.String())
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching source workbook", "err", err)
			}
		}
	}()
	return nil
}

