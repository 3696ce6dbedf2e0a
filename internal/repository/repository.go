package repository

import (
	"context"

	"usbscope/internal/domain"
)

// Store defines the interface for annotation persistence
type Store interface {
	// Device names, keyed "vendor:product". An empty name deletes the entry.
	DeviceNames(ctx context.Context) (map[string]string, error)
	SetDeviceName(ctx context.Context, key, name string) error

	// Hub labels, keyed "vendor:product", "vendor:product@address" or
	// "motherboard". An empty label deletes the entry.
	HubLabels(ctx context.Context) (map[string]string, error)
	SetHubLabel(ctx context.Context, key, label string) error

	// Physical groups. Add steals overlapping members from existing groups
	// and deletes groups emptied by the steal. Update and Remove fail with
	// domain.ErrNotFound for unknown names.
	PhysicalGroups(ctx context.Context) ([]domain.PhysicalGroup, error)
	AddPhysicalGroup(ctx context.Context, group domain.PhysicalGroup) error
	UpdatePhysicalGroup(ctx context.Context, group domain.PhysicalGroup) error
	RemovePhysicalGroup(ctx context.Context, name string) error

	// Close releases resources
	Close() error
}
