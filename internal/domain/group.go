package domain

import "time"

// MotherboardGroupName is the reserved name (and hub-label key) for the
// fixed host-controller pseudo-group covering all root hubs. It is a display
// aid, never persisted.
const MotherboardGroupName = "motherboard"

// PhysicalGroup is a set of hub addresses believed to be chips inside one
// physical enclosure. Unconfirmed groups come from the static heuristic;
// confirmed groups come from a completed learning session (or explicit user
// creation) and are persisted via the label store.
type PhysicalGroup struct {
	Name      string   `json:"name"`
	Label     string   `json:"label,omitempty"`
	Members   []string `json:"members"`
	Confirmed bool     `json:"confirmed"`
}

// Contains reports whether the address is a member of the group.
func (g *PhysicalGroup) Contains(address string) bool {
	for _, m := range g.Members {
		if m == address {
			return true
		}
	}
	return false
}

// ConfirmedMembers collects every address claimed by a confirmed group.
func ConfirmedMembers(groups []PhysicalGroup) map[string]struct{} {
	claimed := make(map[string]struct{})
	for _, g := range groups {
		if !g.Confirmed {
			continue
		}
		for _, m := range g.Members {
			claimed[m] = struct{}{}
		}
	}
	return claimed
}

// DeviceSummary is the compact per-member description reported with a
// detected group.
type DeviceSummary struct {
	Address     string      `json:"port_path"`
	Name        string      `json:"name"`
	DeviceClass DeviceClass `json:"device_class"`
}

// DetectedGroup is the outcome of a completed learning session: the largest
// burst of correlated hub disappearances. SkippedExisting lists addresses
// that disconnected in the same burst but were already claimed by a
// confirmed group, reported for transparency only. HasStorage warns that a
// storage device sat below one of the burst's hubs when it was unplugged.
type DetectedGroup struct {
	Members         []string        `json:"members"`
	Devices         []DeviceSummary `json:"devices"`
	SkippedExisting []string        `json:"skipped_existing,omitempty"`
	HasStorage      bool            `json:"has_storage"`
	Timestamp       time.Time       `json:"timestamp"`
}
