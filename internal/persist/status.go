package persist

import (
	"errors"
	"time"
)

var (
	// ErrSaveFailed wraps the last error of a save that exhausted its
	// attempts or ran out of time.
	ErrSaveFailed = errors.New("save failed")
	// ErrClosed is returned by operations on a closed Scheduler.
	ErrClosed = errors.New("scheduler closed")
)

// State is the state of the persistence worker.
type State int

// Worker states.
const (
	Idle State = iota
	Debouncing
	Saving
	Retrying
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Saving:
		return "saving"
	case Retrying:
		return "retrying"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point in time view of the scheduler.
type Status struct {
	// Seq increases on every state change. Observers use it to discard stale
	// statuses delivered late.
	Seq   uint64
	State State
	// Attempt is the current or last attempt number of the running save.
	Attempt int
	// Err is the last save error. It is cleared by a successful save.
	Err error
	// Version is the dataset version of the last durable snapshot.
	Version int64
	// Path is the last durable snapshot.
	Path    string
	SavedAt time.Time
}
