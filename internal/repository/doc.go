// Package repository defines the data access interface for usbscope.
//
// The store holds the user's annotations: custom device names, hub labels,
// and confirmed physical groups. The live topology itself is never
// persisted; it is rebuilt from sysfs on every start. The actual
// implementation is in the sqlite subpackage.
//
// # Keys
//
// Device names are keyed by silicon identity ("vendor:product") so the name
// follows the device across ports. Hub labels additionally allow
// port-qualified keys ("vendor:product@address") to tell identical hubs
// apart, plus the reserved "motherboard" key for the host-controller
// pseudo-group.
//
// # Group ownership
//
// A hub address belongs to at most one physical group. Saving a group steals
// overlapping members from existing groups, and groups emptied by the steal
// are deleted, all in one transaction.
package repository
