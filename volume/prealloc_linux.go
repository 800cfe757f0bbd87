//go:build linux

package volume

import (
	"errors"

	"github.com/yonger1516/HLKVDS/internal/fs"
	"golang.org/x/sys/unix"
)

type fder interface {
	Fd() uintptr
}

func preallocate(f fs.File, size int64) error {
	fd, ok := f.(fder)
	if !ok {
		return errNoPrealloc
	}
	err := unix.Fallocate(int(fd.Fd()), 0, 0, size)
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return errNoPrealloc
	}
	return err
}

// datasync flushes file data without forcing a metadata update.
func datasync(f fs.File) error {
	if fd, ok := f.(fder); ok {
		return unix.Fdatasync(int(fd.Fd()))
	}
	return f.Sync()
}
