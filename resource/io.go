package resource

import (
	"context"

	"github.com/yonger1516/HLKVDS/volume"
)

// throttledVolume charges every read and write against the IO limit.
type throttledVolume struct {
	volume.Volume
	rc *Controller
}

// ThrottleVolume wraps v so background work respects the IO limit of rc.
// With a nil controller or no IO limit, v is returned unchanged.
func ThrottleVolume(v volume.Volume, rc *Controller) volume.Volume {
	if rc == nil || rc.ioLimiter == nil {
		return v
	}
	return &throttledVolume{Volume: v, rc: rc}
}

func (t *throttledVolume) Write(ctx context.Context, extents []volume.Extent) error {
	n := 0
	for _, e := range extents {
		n += len(e.Data)
	}
	if err := t.rc.AcquireIO(ctx, n); err != nil {
		return err
	}
	return t.Volume.Write(ctx, extents)
}

func (t *throttledVolume) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := t.rc.AcquireIO(ctx, len(p)); err != nil {
		return 0, err
	}
	return t.Volume.ReadAt(ctx, p, off)
}

// Discard forwards to the wrapped volume when it supports discarding.
func (t *throttledVolume) Discard(ctx context.Context, id uint32) error {
	if d, ok := t.Volume.(volume.Discarder); ok {
		return d.Discard(ctx, id)
	}
	return nil
}
