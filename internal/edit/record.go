// Provides the immutable audit record of a committed cell edit.

package edit

import (
	"time"

	"github.com/maruel/ksid"
)

// Record is one committed cell change. It is never mutated after creation.
type Record struct {
	ID      ksid.ID
	Time    time.Time
	Version int64
	Sheet   string
	Cluster string
	Offset  int
	Row     int
	Column  string
	Prev    any
	New     any
	// Reverts is the ID of the record this one compensates, zero otherwise.
	Reverts ksid.ID
}

// Request addresses one cell edit by cluster and offset within the cluster.
type Request struct {
	Sheet   string
	Cluster string
	Offset  int
	Column  string
	Value   any
}

// Result is the outcome of one entry of a batch.
//
// OK reports whether the entry passed its own checks. When another entry
// fails, every entry is rejected even if OK is true.
type Result struct {
	Index   int
	OK      bool
	Message string
}
