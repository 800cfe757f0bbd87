package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/internal/fs"
	"github.com/yonger1516/HLKVDS/internal/hash"
)

const (
	snapshotMagic = "HLKVIDX1"
	entrySize     = digest.Size + 2 + 4*4
)

var (
	// ErrInvalidSnapshot is returned when a snapshot is malformed.
	ErrInvalidSnapshot = errors.New("invalid index snapshot")
	// ErrSnapshotChecksum is returned when the snapshot trailer does not match.
	ErrSnapshotChecksum = errors.New("index snapshot checksum mismatch")
)

// Save writes a zstd-compressed snapshot of the index to w.
// watermark is the highest transaction id reflected in the snapshot.
//
// Format (before compression):
// [Magic: 8] [Watermark: 8] [Count: 8] [Entry...] [CRC32C: 4]
// Entry: [Digest: 20] [Volume: 2] [SegmentID: 4] [HeaderOffset: 4] [DataOffset: 4] [DataSize: 4]
func (idx *MemoryIndex) Save(w io.Writer, watermark uint64) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("index snapshot: %w", err)
	}

	crc := hash.NewCRC32C()
	bw := bufio.NewWriter(io.MultiWriter(enc, crc))

	head := make([]byte, 24)
	copy(head[0:8], snapshotMagic)
	binary.LittleEndian.PutUint64(head[8:], watermark)
	binary.LittleEndian.PutUint64(head[16:], uint64(len(idx.m)))
	if _, err := bw.Write(head); err != nil {
		_ = enc.Close()
		return err
	}

	buf := make([]byte, entrySize)
	for d, loc := range idx.m {
		encodeEntry(buf, d, loc)
		if _, err := bw.Write(buf); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}

	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], crc.Sum32())
	if _, err := enc.Write(trailer[:]); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Load replaces the index content with the snapshot read from r and returns
// the snapshot watermark.
func (idx *MemoryIndex) Load(r io.Reader) (uint64, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("index snapshot: %w", err)
	}
	defer dec.Close()

	crc := hash.NewCRC32C()
	tr := io.TeeReader(dec, crc)

	head := make([]byte, 24)
	if _, err := io.ReadFull(tr, head); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if string(head[0:8]) != snapshotMagic {
		return 0, fmt.Errorf("%w: magic %q", ErrInvalidSnapshot, head[0:8])
	}
	watermark := binary.LittleEndian.Uint64(head[8:])
	count := binary.LittleEndian.Uint64(head[16:])

	m := make(map[digest.Digest]Location, min(count, 1<<20))
	buf := make([]byte, entrySize)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(tr, buf); err != nil {
			return 0, fmt.Errorf("%w: entry %d: %w", ErrInvalidSnapshot, i, err)
		}
		d, loc := decodeEntry(buf)
		m[d] = loc
	}

	var trailer [4]byte
	if _, err := io.ReadFull(dec, trailer[:]); err != nil {
		return 0, fmt.Errorf("%w: trailer: %w", ErrInvalidSnapshot, err)
	}
	if binary.LittleEndian.Uint32(trailer[:]) != crc.Sum32() {
		return 0, ErrSnapshotChecksum
	}

	idx.mu.Lock()
	idx.m = m
	idx.mu.Unlock()
	return watermark, nil
}

// SaveFile atomically writes a snapshot to path (write to temp file, sync, rename).
func (idx *MemoryIndex) SaveFile(fsys fs.FileSystem, path string, watermark uint64) error {
	if fsys == nil {
		fsys = fs.Default
	}
	tmp := path + ".tmp"
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := idx.Save(f, watermark); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	return fsys.Rename(tmp, path)
}

// LoadFile loads a snapshot written by SaveFile.
// A missing file is reported with an error satisfying errors.Is(err, os.ErrNotExist).
func (idx *MemoryIndex) LoadFile(fsys fs.FileSystem, path string) (uint64, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return idx.Load(f)
}

func encodeEntry(buf []byte, d digest.Digest, loc Location) {
	copy(buf[0:digest.Size], d[:])
	off := digest.Size
	binary.LittleEndian.PutUint16(buf[off:], loc.Volume)
	binary.LittleEndian.PutUint32(buf[off+2:], loc.SegmentID)
	binary.LittleEndian.PutUint32(buf[off+6:], loc.HeaderOffset)
	binary.LittleEndian.PutUint32(buf[off+10:], loc.DataOffset)
	binary.LittleEndian.PutUint32(buf[off+14:], loc.DataSize)
}

func decodeEntry(buf []byte) (digest.Digest, Location) {
	var d digest.Digest
	copy(d[:], buf[0:digest.Size])
	off := digest.Size
	return d, Location{
		Volume:       binary.LittleEndian.Uint16(buf[off:]),
		SegmentID:    binary.LittleEndian.Uint32(buf[off+2:]),
		HeaderOffset: binary.LittleEndian.Uint32(buf[off+6:]),
		DataOffset:   binary.LittleEndian.Uint32(buf[off+10:]),
		DataSize:     binary.LittleEndian.Uint32(buf[off+14:]),
	}
}
