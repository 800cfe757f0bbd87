// Package segment implements the write-buffering core: it packs key/value
// records into fixed-size segment buffers and commits each buffer to a volume
// with a single write.
//
// # Packing
//
// A Buffer starts empty with two cursors. Under the DualCursor layout, small
// records (header followed by payload) grow from just past the segment header
// towards the end, while block-sized payloads are placed in whole blocks
// growing backwards from the end of the segment; their headers still join the
// head chain. Under the SingleCursor layout every record goes to the head and
// a fixed checksum trailer is reserved at the end.
//
// # Completion
//
// ReqSegment carries blocked producers (Requests) and wakes each exactly once
// after the device write. SliceSegment carries already-live slices for
// compaction and migration and updates the index on the calling goroutine.
//
// A Buffer performs no locking of its own. Exactly one goroutine may append
// to an open buffer; Request completion is the only state shared across
// goroutines.
package segment
