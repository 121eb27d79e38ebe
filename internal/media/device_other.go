//go:build !linux

package media

import "context"

// DeviceSource reports ErrUnsupportedPlatform; capture drivers are linux only.
type DeviceSource struct{}

func NewDeviceSource() (*DeviceSource, error) {
	return &DeviceSource{}, nil
}

func (*DeviceSource) Acquire(context.Context, Constraints) (TrackSet, error) {
	return nil, ErrUnsupportedPlatform
}

func (*DeviceSource) AcquireDisplay(context.Context) (*Track, error) {
	return nil, ErrUnsupportedPlatform
}
