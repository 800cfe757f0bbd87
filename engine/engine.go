package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/yonger1516/HLKVDS/index"
	"github.com/yonger1516/HLKVDS/internal/fs"
	"github.com/yonger1516/HLKVDS/metrics"
	"github.com/yonger1516/HLKVDS/segment"
	"github.com/yonger1516/HLKVDS/volume"
)

// Snapshotter is implemented by indexes that can persist themselves with a
// transaction watermark.
type Snapshotter interface {
	SaveFile(fsys fs.FileSystem, path string, watermark uint64) error
	LoadFile(fsys fs.FileSystem, path string) (uint64, error)
}

// Engine writes key/value records into the segments of one volume.
type Engine struct {
	opts    Options
	vol     volume.Volume
	idx     index.Manager
	snap    Snapshotter
	logger  *slog.Logger
	metrics metrics.Observer

	shards []*shard
	pool   *WorkerPool
	arena  *segment.Arena
	trx    *trxTracker
	wg     sync.WaitGroup

	// closeMu orders request submission against Close.
	closeMu sync.RWMutex
	closed  bool

	// publishMu is held shared by commits and exclusively by relocation.
	// Commits publish in transaction id order through trx.awaitTurn; a
	// relocation sees no commit in flight.
	publishMu sync.RWMutex

	// freeMu is held shared by readers and exclusively while segments are
	// released, so a location is never read after its segment was reused.
	freeMu sync.RWMutex

	mu        sync.Mutex
	alloc     *volume.Allocator
	committed *roaring.Bitmap
	used      map[uint32]uint32
	garbage   map[uint32]uint32
	vols      map[uint16]volume.Volume

	// compactMu serializes Compact and Migrate.
	compactMu sync.Mutex
}

// Open starts an engine on vol, recovering the index from the optional
// snapshot and the committed segments.
func Open(ctx context.Context, vol volume.Volume, idx index.Manager, optFns ...func(o *Options)) (*Engine, error) {
	if vol == nil || idx == nil {
		return nil, errors.New("engine: volume and index are required")
	}

	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.normalize()

	if vol.SegmentSize()%segment.BlockSize != 0 {
		return nil, fmt.Errorf("%w: segment size %d", segment.ErrInvalidLayout, vol.SegmentSize())
	}

	e := &Engine{
		opts:      opts,
		vol:       vol,
		idx:       idx,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		arena:     segment.NewArena(),
		alloc:     volume.NewAllocator(vol.NumSegments()),
		committed: roaring.New(),
		used:      make(map[uint32]uint32),
		garbage:   make(map[uint32]uint32),
		vols:      map[uint16]volume.Volume{vol.ID(): vol},
	}

	if opts.SnapshotPath != "" {
		s, ok := idx.(Snapshotter)
		if !ok {
			return nil, fmt.Errorf("engine: index %T does not support snapshots", idx)
		}
		e.snap = s
	}

	base, err := e.recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	e.trx = newTrxTracker(base)

	// Segments found dead above are about to be reused; the replayed index
	// has to be durable before that.
	if err := e.saveSnapshot(); err != nil {
		return nil, err
	}

	e.pool = NewWorkerPool(opts.Shards)
	e.shards = make([]*shard, opts.Shards)
	for i := range e.shards {
		e.shards[i] = newShard(e, i)
		e.wg.Add(1)
		go e.shards[i].run()
	}
	return e, nil
}

// Volume returns the volume the engine writes to.
func (e *Engine) Volume() volume.Volume { return e.vol }

// Index returns the index manager.
func (e *Engine) Index() index.Manager { return e.idx }

// MaxValueSize returns the largest value a single Put accepts.
func (e *Engine) MaxValueSize() int {
	c := int(segment.Capacity(e.vol.SegmentSize(), e.directLayout()))
	if c < segment.RecordHeaderSize {
		return 0
	}
	return c - segment.RecordHeaderSize
}

func (e *Engine) directLayout() segment.Layout {
	if e.opts.LatencyFriendly {
		return segment.SingleCursor
	}
	return segment.DualCursor
}

func (e *Engine) segmentOptions(trx uint64, segs uint32) []segment.Option {
	return []segment.Option{
		segment.WithDigest(e.opts.Digest),
		segment.WithClock(e.opts.Clock),
		segment.WithTrx(trx, segs),
	}
}

// Put stores value under key. It returns once the record is committed.
func (e *Engine) Put(ctx context.Context, key, value []byte) error {
	return e.submit(ctx, metrics.OpPut, e.newSlice(ctx, key, value))
}

// Delete removes key. Deleting a missing key succeeds.
func (e *Engine) Delete(ctx context.Context, key []byte) error {
	return e.submit(ctx, metrics.OpDelete, segment.NewTombstone(key))
}

// newSlice borrows key and value unless ctx can end the wait before the
// record was copied into its segment.
func (e *Engine) newSlice(ctx context.Context, key, value []byte) *segment.Slice {
	if ctx.Done() != nil {
		return segment.NewOwnedSlice(key, value)
	}
	return segment.NewSlice(key, value)
}

func (e *Engine) submit(ctx context.Context, op string, s *segment.Slice) (err error) {
	start := time.Now()
	defer func() {
		e.metrics.OnRequest(op, time.Since(start), err)
	}()

	d, err := s.Digest(e.opts.Digest)
	if err != nil {
		return err
	}

	layout := segment.DualCursor
	if e.opts.LatencyFriendly {
		layout = e.directLayout()
	}
	if segment.RecordSize(s, layout) > int64(segment.Capacity(e.vol.SegmentSize(), layout)) {
		return fmt.Errorf("%w: %d byte value", segment.ErrRecordTooLarge, s.ValueLen())
	}

	if e.opts.LatencyFriendly {
		return e.writeDirect(ctx, []*segment.Slice{s})
	}

	if cur, ok := e.idx.Lookup(d); ok {
		s.SetBefore(cur)
	}
	sh := e.shards[d.Uint64()%uint64(len(e.shards))]
	r := segment.NewRequest(s, sh.id)

	if err := e.enqueue(ctx, sh, r); err != nil {
		return err
	}

	st, err := r.WaitContext(ctx)
	if err != nil {
		return err
	}
	if st != segment.StatusSuccess {
		return ErrCommitFailed
	}
	return nil
}

func (e *Engine) enqueue(ctx context.Context, sh *shard, r *segment.Request) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case sh.reqCh <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Batch collects writes that are committed together in one segment.
type Batch struct {
	slices []*segment.Slice
}

// Put adds a write of key. Key and value are copied.
func (b *Batch) Put(key, value []byte) {
	b.slices = append(b.slices, segment.NewOwnedSlice(key, value))
}

// Delete adds a deletion of key.
func (b *Batch) Delete(key []byte) {
	b.slices = append(b.slices, segment.NewTombstone(append([]byte(nil), key...)))
}

// Len returns the number of queued writes.
func (b *Batch) Len() int { return len(b.slices) }

// Write commits b atomically into a segment of its own. Later writes of a
// key in b win over earlier ones.
func (e *Engine) Write(ctx context.Context, b *Batch) (err error) {
	start := time.Now()
	defer func() {
		e.metrics.OnRequest(metrics.OpWrite, time.Since(start), err)
	}()
	if b == nil || len(b.slices) == 0 {
		return nil
	}
	for _, s := range b.slices {
		if _, err := s.Digest(e.opts.Digest); err != nil {
			return err
		}
	}
	return e.writeDirect(ctx, b.slices)
}

// writeDirect writes slices into one segment on the calling goroutine.
func (e *Engine) writeDirect(ctx context.Context, slices []*segment.Slice) error {
	// Close waits for direct writes through closeMu.
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	id, err := e.allocate()
	if err != nil {
		return err
	}

	e.publishMu.RLock()
	defer e.publishMu.RUnlock()
	trx := e.trx.begin()
	defer e.trx.end(trx)

	var seg *segment.SliceSegment
	if e.opts.LatencyFriendly {
		seg, err = segment.NewLatencyFriendly(e.vol, id, e.idx, e.segmentOptions(trx, 1)...)
	} else {
		seg, err = segment.NewSliceSegment(e.vol, id, e.idx, segment.PurposeDirect, e.segmentOptions(trx, 1)...)
	}
	if err != nil {
		e.release(id)
		return err
	}
	defer seg.Buffer().Release()

	if err := seg.PutList(slices); err != nil {
		e.release(id)
		if errors.Is(err, segment.ErrSegmentFull) {
			return fmt.Errorf("%w: %d records", ErrBatchTooLarge, len(slices))
		}
		return err
	}
	if err := seg.WriteSegToDevice(ctx); err != nil {
		e.release(id)
		e.logError("direct write failed", err, slog.Uint64("segment", uint64(id)))
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	e.trx.awaitTurn(trx)
	e.markCommitted(id, seg.Buffer().Used())
	stale, err := seg.UpdateToIndex()
	e.addGarbage(stale)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	return nil
}

// Lookup returns the value stored under key.
func (e *Engine) Lookup(ctx context.Context, key []byte) (value []byte, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, ErrNotFound) {
			e.metrics.OnRequest(metrics.OpLookup, time.Since(start), nil)
			return
		}
		e.metrics.OnRequest(metrics.OpLookup, time.Since(start), err)
	}()

	d, err := segment.NewSlice(key, nil).Digest(e.opts.Digest)
	if err != nil {
		return nil, err
	}

	e.freeMu.RLock()
	defer e.freeMu.RUnlock()

	entry, ok := e.idx.Lookup(d)
	if !ok {
		return nil, ErrNotFound
	}
	return e.readValue(ctx, entry.Location)
}

func (e *Engine) readValue(ctx context.Context, loc index.Location) ([]byte, error) {
	e.mu.Lock()
	vol, ok := e.vols[loc.Volume]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVolume, loc.Volume)
	}

	base, err := vol.SegmentOffset(loc.SegmentID)
	if err != nil {
		return nil, err
	}
	value := make([]byte, loc.DataSize)
	if _, err := vol.ReadAt(ctx, value, base+int64(loc.DataOffset)); err != nil {
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	return value, nil
}

// Attach registers another volume so that lookups can read records the
// index maps to it, typically before they are migrated.
func (e *Engine) Attach(v volume.Volume) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.vols[v.ID()]; ok && cur != v {
		return fmt.Errorf("engine: volume id %d already attached", v.ID())
	}
	e.vols[v.ID()] = v
	return nil
}

func (e *Engine) allocate() (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alloc.Allocate()
}

// release returns an id whose segment never became committed.
func (e *Engine) release(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.alloc.Free(id)
}

func (e *Engine) markCommitted(id, used uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed.Add(id)
	e.used[id] = used
}

func (e *Engine) unmarkCommitted(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed.Remove(id)
	delete(e.used, id)
	delete(e.garbage, id)
	_ = e.alloc.Free(id)
}

// addGarbage charges superseded records to their segments. Records of other
// volumes and of segments no longer committed are ignored.
func (e *Engine) addGarbage(stale []index.Entry) {
	if len(stale) == 0 {
		return
	}
	volID := e.vol.ID()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range stale {
		loc := s.Location
		if loc.Volume != volID || !e.committed.Contains(loc.SegmentID) {
			continue
		}
		g := e.garbage[loc.SegmentID] + recordBytes(loc)
		if u := e.used[loc.SegmentID]; g > u {
			g = u
		}
		e.garbage[loc.SegmentID] = g
	}
}

func recordBytes(loc index.Location) uint32 {
	return segment.RecordHeaderSize + loc.DataSize
}

func (e *Engine) isClosed() bool {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	return e.closed
}

// Stats describes the engine state.
type Stats struct {
	Shards            int
	OpenSegments      int
	CommittedSegments int
	FreeSegments      uint64
	LiveBytes         uint64
	GarbageBytes      uint64
	TrxID             uint64
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	s := Stats{
		Shards:       len(e.shards),
		OpenSegments: e.arena.Len(),
		TrxID:        e.trx.current(),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.CommittedSegments = int(e.committed.GetCardinality())
	s.FreeSegments = e.alloc.FreeCount()
	for id, u := range e.used {
		g := e.garbage[id]
		s.LiveBytes += uint64(u - g)
		s.GarbageBytes += uint64(g)
	}
	return s
}

// GarbageRatio returns the share of segment id taken by superseded records.
func (e *Engine) GarbageRatio(id uint32) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.garbageRatioLocked(id)
}

func (e *Engine) garbageRatioLocked(id uint32) float64 {
	u := e.used[id]
	if u == 0 {
		return 1
	}
	return float64(e.garbage[id]) / float64(u)
}

// Close commits the open segments, waits for in-flight commits and saves
// the index snapshot when configured. The volume is not closed.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	e.closeMu.Unlock()

	e.compactMu.Lock()
	defer e.compactMu.Unlock()

	for _, s := range e.shards {
		close(s.reqCh)
	}
	e.wg.Wait()
	e.pool.Close()

	if err := e.saveSnapshot(); err != nil {
		e.logError("snapshot on close failed", err)
		return err
	}
	return nil
}

func (e *Engine) saveSnapshot() error {
	if e.snap == nil {
		return nil
	}
	w := e.trx.watermark()
	if err := e.snap.SaveFile(e.opts.FileSystem, e.opts.SnapshotPath, w); err != nil {
		return fmt.Errorf("save index snapshot: %w", err)
	}
	if e.logger != nil {
		e.logger.Debug("index snapshot saved", "path", e.opts.SnapshotPath, "watermark", w)
	}
	return nil
}

func (e *Engine) logError(msg string, err error, attrs ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Error(msg, append(attrs, slog.Any("error", err))...)
}
