package persist

import "slices"

// BackupSet is the ordered list of the most recent durable snapshots, oldest
// first.
//
// It is not safe for concurrent use; the Scheduler guards it.
type BackupSet struct {
	keep  int
	paths []string
}

// NewBackupSet returns a set retaining keep snapshots, seeded with existing
// snapshot paths sorted oldest first.
//
// Seeded entries beyond keep are evicted by the next Add, not immediately.
func NewBackupSet(keep int, existing []string) *BackupSet {
	if keep < 1 {
		keep = 1
	}
	return &BackupSet{keep: keep, paths: slices.Clone(existing)}
}

// Add appends a confirmed snapshot and returns the evicted paths, oldest
// first. The caller deletes them.
func (b *BackupSet) Add(path string) []string {
	b.paths = slices.DeleteFunc(b.paths, func(p string) bool { return p == path })
	b.paths = append(b.paths, path)
	if len(b.paths) <= b.keep {
		return nil
	}
	n := len(b.paths) - b.keep
	evicted := slices.Clone(b.paths[:n])
	b.paths = slices.Delete(b.paths, 0, n)
	return evicted
}

// Paths returns the retained snapshots, oldest first.
func (b *BackupSet) Paths() []string {
	return slices.Clone(b.paths)
}
