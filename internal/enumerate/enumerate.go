// Package enumerate discovers attached USB devices.
//
// The monitor consumes the Enumerator and Resetter interfaces; the sysfs
// implementation is the only real one, tests use scripted fakes.
package enumerate

import (
	"context"

	"usbscope/internal/domain"
)

// Enumerator produces flat device records and signals topology changes.
type Enumerator interface {
	// Scan returns one record per attached device, unordered, untreed.
	Scan(ctx context.Context) ([]*domain.DeviceRecord, error)

	// Watch returns a channel that receives a notification whenever the
	// attached device set may have changed. The channel closes when ctx is
	// cancelled. Notifications are a hint to rescan, not a description of
	// what changed.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Resetter performs a hardware re-enumeration of one device.
type Resetter interface {
	Reset(ctx context.Context, address string) error
}
