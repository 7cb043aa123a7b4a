// Package persist turns dataset changes into durable snapshots in the
// background.
//
// A Scheduler owns one worker goroutine. Notifications are debounced with a
// timer; when it fires the worker copies the dirty sheets under the dataset's
// shared lock, writes them without holding any lock, then clears the dirty
// flags of the sheets that were not modified in the meantime. Failed writes
// are retried with exponential backoff.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/maruel/xlsedit/internal/dataset"
)

// Snapshot is the content handed to a SnapshotWriter.
type Snapshot struct {
	// Source is the workbook the dataset was loaded from.
	Source string
	// Base is the workbook to copy the sheets absent from Sheets from.
	Base    string
	Version int64
	// Sheets holds copies of the dirty sheets only.
	Sheets map[string]*dataset.Table
}

// SnapshotWriter durably writes a snapshot and returns its path.
//
// The write must be atomic: either the returned path holds the complete
// snapshot or nothing was created.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, s Snapshot) (string, error)
}

// Config configures a Scheduler. Zero values take the defaults.
type Config struct {
	// Source is the workbook the dataset was loaded from. It is never
	// overwritten nor deleted.
	Source string
	// Existing lists earlier snapshots of Source, oldest first. They seed the
	// backup set.
	Existing    []string
	Debounce    time.Duration
	RetryBase   time.Duration
	RetryMax    time.Duration
	MaxAttempts int
	Backups     int
	// SaveTimeout bounds each write attempt.
	SaveTimeout time.Duration
	// OnStatus is called on every state change, without locks held. Calls
	// come from both the notifying goroutine and the worker and may be
	// delivered out of order; Status.Seq orders them.
	OnStatus func(Status)
	// AfterSave runs on the worker after each durable snapshot. An error is
	// logged and does not fail the save.
	AfterSave func(ctx context.Context, version int64, path string) error
}

// Defaults.
const (
	DefaultDebounce    = 500 * time.Millisecond
	DefaultRetryBase   = 200 * time.Millisecond
	DefaultRetryMax    = 5 * time.Second
	DefaultMaxAttempts = 5
	DefaultBackups     = 3
	DefaultSaveTimeout = 30 * time.Second
)

func (c *Config) setDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backups <= 0 {
		c.Backups = DefaultBackups
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
}

type flushReq struct {
	ctx  context.Context
	done chan error
}

// Scheduler debounces change notifications into background saves.
type Scheduler struct {
	ds  *dataset.Dataset
	w   SnapshotWriter
	cfg Config

	wake    chan struct{}
	flushc  chan flushReq
	closing chan struct{}
	stop    chan struct{}
	done    chan struct{}
	// bg is the context of background saves, canceled by Close.
	bg       context.Context
	cancelBg context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	gen     int
	pending bool
	closed  bool
	status  Status
	base    string
	backups *BackupSet
}

// New starts the worker of a scheduler saving ds through w.
func New(ds *dataset.Dataset, w SnapshotWriter, cfg Config) *Scheduler {
	cfg.setDefaults()
	var existing []string
	for _, p := range cfg.Existing {
		if p != cfg.Source {
			existing = append(existing, p)
		}
	}
	bg, cancelBg := context.WithCancel(context.Background())
	s := &Scheduler{
		ds:       ds,
		w:        w,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		flushc:   make(chan flushReq),
		closing:  make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		bg:       bg,
		cancelBg: cancelBg,
		base:     cfg.Source,
		backups:  NewBackupSet(cfg.Backups, existing),
	}
	go s.run()
	return s
}

// Notify reports that the dataset changed. It (re)starts the debounce timer,
// or defers it until the running save completes.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if st := s.status.State; st == Saving || st == Retrying {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.armLocked()
	st := s.setStateLocked(Debouncing)
	s.mu.Unlock()
	s.emit(st)
}

// SaveNow starts a save immediately, skipping the debounce delay and any
// backoff wait. It does not wait for the save.
func (s *Scheduler) SaveNow() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.disarmLocked()
	s.mu.Unlock()
	s.signal()
}

// Flush saves synchronously and returns once the dirty sheets are durable.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.flush(ctx)
}

// Close cancels the pending debounce and any running background save,
// performs a final save bounded by ctx and stops the worker.
//
// The worker exits even when ctx expires first; a write ignoring its context
// delays the exit until it returns.
//
// The returned error wraps ErrSaveFailed when unsaved changes remain.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.pending = false
	s.disarmLocked()
	s.mu.Unlock()
	close(s.closing)
	s.cancelBg()

	err := s.flush(ctx)
	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("%w: %w", ErrSaveFailed, context.Cause(ctx))
		}
	}
	return err
}

// Status returns the current status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Backups returns the retained snapshots, oldest first.
func (s *Scheduler) Backups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backups.Paths()
}

func (s *Scheduler) flush(ctx context.Context) error {
	req := flushReq{ctx: ctx, done: make(chan error, 1)}
	select {
	case s.flushc <- req:
	case <-s.done:
		if s.ds.Dirty() {
			return fmt.Errorf("%w: %w", ErrSaveFailed, ErrClosed)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSaveFailed, context.Cause(ctx))
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSaveFailed, context.Cause(ctx))
	}
}

// armLocked (re)starts the debounce timer.
func (s *Scheduler) armLocked() {
	s.disarmLocked()
	gen := s.gen
	s.timer = time.AfterFunc(s.cfg.Debounce, func() {
		s.mu.Lock()
		stale := gen != s.gen
		if !stale {
			s.timer = nil
		}
		s.mu.Unlock()
		if !stale {
			s.signal()
		}
	})
}

func (s *Scheduler) disarmLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			if s.isClosed() {
				continue
			}
			_ = s.save(s.bg, false)
		case <-s.stop:
			return
		case req := <-s.flushc:
			s.mu.Lock()
			s.disarmLocked()
			s.mu.Unlock()
			req.done <- s.save(req.ctx, true)
			if s.isClosed() {
				return
			}
		}
	}
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// save runs attempts until one succeeds, they are exhausted or ctx is done.
//
// The backoff wait of a background save is abandoned when the scheduler
// starts closing; the final flush takes over.
func (s *Scheduler) save(ctx context.Context, final bool) error {
	var err error
	for attempt := 1; ; attempt++ {
		s.update(func(st *Status) {
			st.State = Saving
			st.Attempt = attempt
		})
		if err = s.attempt(ctx); err == nil {
			s.finish(func(st *Status) {
				st.State = Idle
				st.Err = nil
			})
			return nil
		}
		if !final && s.isClosed() {
			return s.interrupted(err)
		}
		if attempt >= s.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		wait := backoff(attempt, s.cfg.RetryBase, s.cfg.RetryMax)
		slog.Warn("Save attempt failed", "attempt", attempt, "backoff", wait, "err", err)
		s.update(func(st *Status) {
			st.State = Retrying
			st.Err = err
		})
		t := time.NewTimer(wait)
		var closing <-chan struct{}
		if !final {
			closing = s.closing
		}
		select {
		case <-t.C:
		case <-s.wake:
			t.Stop()
		case <-closing:
			t.Stop()
			return s.interrupted(err)
		case <-ctx.Done():
			t.Stop()
		}
		if !final && s.isClosed() {
			return s.interrupted(err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("%w (%w)", err, context.Cause(ctx))
	}
	slog.Error("Save failed, changes kept in memory", "attempts", s.Status().Attempt, "err", err)
	s.finish(func(st *Status) {
		st.State = Failed
		st.Err = err
	})
	return fmt.Errorf("%w: %w", ErrSaveFailed, err)
}

// interrupted ends a background save cut short by Close; the final flush
// takes over.
func (s *Scheduler) interrupted(err error) error {
	err = fmt.Errorf("interrupted by shutdown: %w", err)
	s.finish(func(st *Status) {
		st.State = Failed
		st.Err = err
	})
	return fmt.Errorf("%w: %w", ErrSaveFailed, err)
}

// attempt writes one snapshot of the dirty sheets.
func (s *Scheduler) attempt(ctx context.Context) error {
	version, sheets := s.ds.DirtySnapshot()
	if len(sheets) == 0 {
		return nil
	}
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SaveTimeout)
	defer cancel()
	path, err := s.w.WriteSnapshot(ctx, Snapshot{Source: s.cfg.Source, Base: base, Version: version, Sheets: sheets})
	if err != nil {
		return err
	}
	names := make([]string, 0, len(sheets))
	for name := range sheets {
		s.ds.ClearDirty(name, version)
		names = append(names, name)
	}
	s.mu.Lock()
	s.base = path
	evicted := s.backups.Add(path)
	s.status.Version = version
	s.status.Path = path
	s.status.SavedAt = time.Now()
	s.mu.Unlock()
	slog.Info("Saved snapshot", "version", version, "path", path, "sheets", names)
	for _, p := range evicted {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to delete old snapshot", "path", p, "err", err)
		}
	}
	if s.cfg.AfterSave != nil {
		if err := s.cfg.AfterSave(ctx, version, path); err != nil {
			slog.Warn("After save hook failed", "version", version, "err", err)
		}
	}
	return nil
}

// finish applies the terminal status and restarts the debounce for
// notifications received during the save.
func (s *Scheduler) finish(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.status.Seq++
	if s.pending && !s.closed {
		s.pending = false
		s.armLocked()
		s.status.State = Debouncing
	}
	st := s.status
	s.mu.Unlock()
	s.emit(st)
}

func (s *Scheduler) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.status.Seq++
	st := s.status
	s.mu.Unlock()
	s.emit(st)
}

func (s *Scheduler) setStateLocked(state State) Status {
	s.status.State = state
	s.status.Seq++
	return s.status
}

func (s *Scheduler) emit(st Status) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(st)
	}
}
