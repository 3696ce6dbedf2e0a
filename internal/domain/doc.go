// Package domain defines the core domain types for the usbscope topology engine.
//
// This package contains the entities and value objects representing the USB
// bus topology: device records, immutable topology snapshots, physical hub
// groups, and the event envelope pushed to viewers.
//
// # Core Types
//
// DeviceRecord represents one attached USB device or hub, identified by its
// port path (e.g. "5-1.2.4", root hubs "usb5"). The port path doubles as the
// stable address used as the diff key across snapshots.
//
// Snapshot is a rooted forest of DeviceRecords (one tree per root hub). A
// snapshot is immutable once built; consumers read it or copy it, never
// mutate it in place.
//
// PhysicalGroup is a set of port paths believed to be hub chips inside one
// physical enclosure, either proposed heuristically (unconfirmed) or
// confirmed by a learning session.
//
// Event is the JSON envelope sent over the push channel for full trees,
// incremental adds/removals, error annotations, and control results.
//
// # Design Principles
//
// - Immutable value objects where possible
// - Parent/child relationships expressed as address references, not pointers
//   across snapshots
// - No database or external dependencies
package domain
