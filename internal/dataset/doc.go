// Package dataset holds the in-memory working copy of a workbook.
//
// # Overview
//
// A [Dataset] owns one [Table] per sheet plus a cluster index that partitions
// the sheet's rows into contiguous groups sharing the value of the cluster
// column. Every row belongs to exactly one cluster.
//
// # Concurrency
//
// A single sync.RWMutex guards all state. Mutations run inside
// [Dataset.Update], which holds the exclusive lock for the whole callback so
// a multi-cell transaction is observed atomically. Read queries take the
// shared lock so browsing never waits behind anything but a brief mutation.
// No method performs I/O.
//
// # Versioning
//
// The dataset version increases once per committed transaction. Each sheet
// remembers the version of its last mutation so a persisted snapshot can clear
// the dirty flag only when nothing changed after the snapshot was taken.
package dataset
