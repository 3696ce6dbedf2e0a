package topology

import (
	"slices"
	"sort"
	"time"

	"usbscope/internal/domain"
)

// Diff compares two snapshots and returns the minimal ordered event stream
// turning prev into cur:
//
//   - additions, shallowest-first, so subscribers see parents before children
//   - removals, deepest-first, so subscribers drop children before parents
//     (a removed hub implicitly removes its whole subtree, one event per
//     descendant)
//   - error updates for addresses present in both with changed error lists
//
// prev may be nil; everything in cur is then an addition. Replaying the
// returned adds/removes against prev yields exactly the address set of cur.
func Diff(prev, cur *domain.Snapshot, now time.Time) []domain.Event {
	before := prev.Flatten()
	after := cur.Flatten()

	var added, removed, changed []string
	for addr := range after {
		if _, ok := before[addr]; !ok {
			added = append(added, addr)
		}
	}
	for addr, old := range before {
		d, ok := after[addr]
		if !ok {
			removed = append(removed, addr)
			continue
		}
		if !slices.Equal(old.Errors, d.Errors) {
			changed = append(changed, addr)
		}
	}

	sort.Slice(added, func(i, j int) bool { return addressLess(added[i], added[j]) })
	sort.Slice(removed, func(i, j int) bool { return addressLess(removed[j], removed[i]) })
	sort.Slice(changed, func(i, j int) bool {
		return domain.CompareAddresses(changed[i], changed[j]) < 0
	})

	events := make([]domain.Event, 0, len(added)+len(removed)+len(changed))
	for _, addr := range removed {
		events = append(events, domain.NewDeviceRemoved(addr, before[addr], now))
	}
	for _, addr := range added {
		events = append(events, domain.NewDeviceAdded(after[addr], now))
	}
	for _, addr := range changed {
		d := after[addr]
		message := ""
		if len(d.Errors) > 0 {
			message = d.Errors[len(d.Errors)-1]
		}
		events = append(events, domain.NewDeviceError(addr, d, message, now))
	}

	return events
}

// addressLess orders addresses depth-first-shallowest: parents before
// children, siblings by port number. Reversed, it yields the deepest-first
// order removals need.
func addressLess(a, b string) bool {
	da, db := domain.AddressDepth(a), domain.AddressDepth(b)
	if da != db {
		return da < db
	}
	return domain.CompareAddresses(a, b) < 0
}
