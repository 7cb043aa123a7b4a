// Package session persists the cursor position of the user across runs.
//
// The session file is independent of the workbook: losing it only loses the
// position, never edits.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maruel/xlsedit/internal/fsutil"
	"golang.org/x/time/rate"
)

// ErrRecovery is returned by Load when the session file exists but cannot be
// used. The returned state is the default one.
var ErrRecovery = errors.New("session recovery")

// Default window size.
const (
	DefaultWidth  = 120
	DefaultHeight = 40
)

const (
	fileName     = "session.json"
	backupPrefix = "session_backup_"
	backupSuffix = ".json"
	backupLayout = "20060102_150405.000"
)

// State is the persisted cursor position.
type State struct {
	File     string    `json:"file,omitempty"`
	Sheet    string    `json:"sheet,omitempty"`
	Cluster  string    `json:"cluster,omitempty"`
	Row      int       `json:"row"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Modified time.Time `json:"modified,omitzero"`
}

// Default returns the state of a first run.
func Default() State {
	return State{Width: DefaultWidth, Height: DefaultHeight}
}

// Same reports whether both states point at the same position, ignoring the
// modification time.
func (s State) Same(o State) bool {
	s.Modified = time.Time{}
	o.Modified = time.Time{}
	return s == o
}

func (s *State) normalize() {
	if s.Width <= 0 {
		s.Width = DefaultWidth
	}
	if s.Height <= 0 {
		s.Height = DefaultHeight
	}
	if s.Row < 0 {
		s.Row = 0
	}
}

// Config configures a Store.
type Config struct {
	// Interval is the minimum delay between two checkpoints.
	Interval time.Duration
	// Keep is the number of backups Rotate retains when called with 0.
	Keep  int
	Codec Codec
}

// Store loads and saves the session state of one directory.
type Store struct {
	dir   string
	codec Codec
	keep  int

	mu      sync.Mutex
	limiter *rate.Limiter
	last    State
	saved   bool
}

// NewStore returns a store keeping its files in dir.
func NewStore(dir string, cfg Config) *Store {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 5
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	return &Store{
		dir:     dir,
		codec:   cfg.Codec,
		keep:    cfg.Keep,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
	}
}

// Path returns the path of the session file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, fileName)
}

// Load returns the saved state, or the defaults when there is none.
//
// An unreadable file yields the defaults and an error wrapping ErrRecovery
// which is already logged; it is never fatal.
func (s *Store) Load() (State, error) {
	st, err := s.codec.Read(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrRecovery, s.Path(), err)
		slog.Warn("Session file unreadable, using defaults", "err", err)
		return Default(), err
	}
	st.normalize()
	s.mu.Lock()
	s.last = st
	s.saved = true
	s.mu.Unlock()
	return st, nil
}

// Save writes the state unconditionally.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

// CheckpointIfDue saves the state when it differs from the last persisted
// one and the checkpoint interval allows it. It reports whether it saved.
//
// The first checkpoint of a run is always allowed. A failed write leaves the
// next call free to retry immediately.
func (s *Store) CheckpointIfDue(st State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved && s.last.Same(st) {
		return false, nil
	}
	now := time.Now()
	r := s.limiter.ReserveN(now, 1)
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return false, nil
	}
	if err := s.saveLocked(st); err != nil {
		// A failed write does not count against the interval.
		r.CancelAt(now)
		return false, err
	}
	return true, nil
}

func (s *Store) saveLocked(st State) error {
	st.normalize()
	st.Modified = time.Now().UTC()
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	if err := s.codec.Write(s.Path(), st); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.last = st
	s.saved = true
	return nil
}

// Backup copies the session file to a timestamped backup and returns its
// path. It returns "" when there is no session file.
func (s *Store) Backup() (string, error) {
	src, err := os.Open(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer src.Close()
	dst := filepath.Join(s.dir, backupPrefix+time.Now().UTC().Format(backupLayout)+backupSuffix)
	err = fsutil.WriteFile(dst, 0o600, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to back up session: %w", err)
	}
	return dst, nil
}

// Backups returns the backup files, oldest first.
func (s *Store) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if n := e.Name(); !e.IsDir() && strings.HasPrefix(n, backupPrefix) && strings.HasSuffix(n, backupSuffix) {
			out = append(out, filepath.Join(s.dir, n))
		}
	}
	slices.Sort(out)
	return out, nil
}

// Rotate deletes all but the keep newest backups. keep <= 0 uses the
// configured count.
func (s *Store) Rotate(keep int) error {
	if keep <= 0 {
		keep = s.keep
	}
	backups, err := s.Backups()
	if err != nil || len(backups) <= keep {
		return err
	}
	var errs []error
	for _, p := range backups[:len(backups)-keep] {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
