// Package index defines the key index contract consumed by the segment layer
// and provides an in-memory implementation with compressed snapshots.
//
// The index maps a key digest to the Location of the record that currently
// holds the key's value. Segments interact with it in three ways:
//
//   - Update: a committed write publishes its new location
//   - CompareAndUpdate: compaction/migration relocate a record only if the
//     index still points at the copy they read
//   - Remove: compare-and-delete, used for stale entries and tombstones
package index
