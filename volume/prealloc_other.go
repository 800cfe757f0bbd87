//go:build !linux

package volume

import "github.com/yonger1516/HLKVDS/internal/fs"

func preallocate(fs.File, int64) error {
	return errNoPrealloc
}

func datasync(f fs.File) error {
	return f.Sync()
}
