package hlkvds

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/engine"
	"github.com/yonger1516/HLKVDS/index"
	"github.com/yonger1516/HLKVDS/segment"
	"github.com/yonger1516/HLKVDS/volume"
)

// Batch collects writes that are committed together in one segment.
type Batch = engine.Batch

// CompactionResult summarizes a compaction or migration pass.
type CompactionResult = engine.CompactionResult

// Stats describes the store state.
type Stats = engine.Stats

// DB is a key-value store on one volume.
//
// All methods are safe for concurrent use.
type DB struct {
	eng    *engine.Engine
	vol    volume.Volume
	idx    *index.MemoryIndex
	digest digest.Engine
	logger *Logger
	path   string

	// owned is closed together with the store.
	owned bool
}

// Open opens or creates a store in dir. The segments live in one
// preallocated data file and the index is snapshotted next to it.
func Open(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	if err := o.fileSystem.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	if o.snapshotPath == "" {
		o.snapshotPath = filepath.Join(dir, snapshotFileName)
	}

	path := filepath.Join(dir, dataFileName)
	vol, err := volume.OpenFileVolume(o.fileSystem, path, volume.Geometry{
		ID:          o.volumeID,
		SegmentSize: o.segmentSize,
		NumSegments: o.numSegments,
	})
	if err != nil {
		o.logger.LogRecovery(ctx, path, 0, 0, err)
		return nil, err
	}

	db, err := open(ctx, vol, path, o)
	if err != nil {
		_ = vol.Close()
		return nil, err
	}
	db.owned = true
	return db, nil
}

// OpenVolume opens a store on vol. The caller keeps ownership of vol.
// Without WithIndexSnapshot the index is rebuilt from the segments on
// every open.
func OpenVolume(ctx context.Context, vol volume.Volume, optFns ...Option) (*DB, error) {
	return open(ctx, vol, fmt.Sprintf("volume-%d", vol.ID()), applyOptions(optFns))
}

func open(ctx context.Context, vol volume.Volume, path string, o options) (*DB, error) {
	idx := index.NewMemoryIndex()
	eng, err := engine.Open(ctx, vol, idx, func(eo *engine.Options) {
		eo.Logger = o.logger.Logger
		if o.shards > 0 {
			eo.Shards = o.shards
		}
		eo.SegmentTimeout = o.segmentTimeout
		eo.Digest = o.digest
		eo.Metrics = o.observer
		eo.Resources = o.resources
		eo.LatencyFriendly = o.latencyFriendly
		eo.SnapshotPath = o.snapshotPath
		eo.FileSystem = o.fileSystem
		eo.GarbageThreshold = o.garbage
	})
	if err != nil {
		o.logger.LogRecovery(ctx, path, 0, 0, err)
		return nil, translateError(err)
	}

	d := o.digest
	if d == nil {
		d = digest.Default
	}

	s := eng.Stats()
	o.logger.LogRecovery(ctx, path, s.TrxID, s.CommittedSegments, nil)
	return &DB{
		eng:    eng,
		vol:    vol,
		idx:    idx,
		digest: d,
		logger: o.logger,
		path:   path,
	}, nil
}

// Put stores value under key. It returns once the record is durable.
func (db *DB) Put(ctx context.Context, key, value []byte) error {
	err := db.eng.Put(ctx, key, value)
	if errors.Is(err, segment.ErrRecordTooLarge) {
		err = &ErrRecordTooLarge{Size: len(value), Limit: db.eng.MaxValueSize(), cause: err}
	}
	db.logger.LogPut(ctx, key, len(value), err)
	return translateError(err)
}

// Delete removes key. Deleting a missing key succeeds.
func (db *DB) Delete(ctx context.Context, key []byte) error {
	err := db.eng.Delete(ctx, key)
	db.logger.LogDelete(ctx, key, err)
	return translateError(err)
}

// Get returns the value stored under key, or ErrNotFound.
func (db *DB) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := db.eng.Lookup(ctx, key)
	return v, translateError(err)
}

// Has reports whether key has a value.
func (db *DB) Has(key []byte) (bool, error) {
	d, err := segment.NewSlice(key, nil).Digest(db.digest)
	if err != nil {
		return false, translateError(err)
	}
	_, ok := db.idx.Lookup(d)
	return ok, nil
}

// Len returns the number of keys with a value.
func (db *DB) Len() int { return db.idx.Len() }

// Write commits every operation of b in one segment. Either all of them
// become visible or none does.
func (db *DB) Write(ctx context.Context, b *Batch) error {
	if b == nil {
		return nil
	}
	err := db.eng.Write(ctx, b)
	db.logger.LogWrite(ctx, b.Len(), err)
	return translateError(err)
}

// Compact rewrites segments whose garbage ratio reached the configured
// threshold and frees them.
func (db *DB) Compact(ctx context.Context) (CompactionResult, error) {
	res, err := db.eng.Compact(ctx)
	db.logger.LogCompaction(ctx, "compaction", res.Segments, res.Moved, err)
	return res, translateError(err)
}

// Attach makes the records the index maps to v readable. A store opened
// on a new volume with the index snapshot of an old one attaches the old
// volume until Migrate has moved everything.
func (db *DB) Attach(v volume.Volume) error {
	return db.eng.Attach(v)
}

// Migrate moves the live records of segments ids of src into this store.
// Only records the index still maps to src are moved.
func (db *DB) Migrate(ctx context.Context, src volume.Volume, ids []uint32) (CompactionResult, error) {
	res, err := db.eng.Migrate(ctx, src, ids)
	db.logger.LogCompaction(ctx, "migration", res.Segments, res.Moved, err)
	return res, translateError(err)
}

// Stats returns a snapshot of the store state.
func (db *DB) Stats() Stats { return db.eng.Stats() }

// Close commits pending writes, saves the index snapshot and, for stores
// created by Open, closes the data file.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	var firstErr error
	if err := db.eng.Close(); err != nil {
		firstErr = err
	}
	if db.owned {
		if err := db.vol.Close(); err != nil && !errors.Is(err, volume.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		db.logger.Error("close failed", "path", db.path, "error", firstErr)
	}
	return firstErr
}
