package domain

import "time"

// EventType identifies the kind of a push-channel event.
type EventType string

const (
	EventFullTree        EventType = "full_tree"
	EventDeviceAdded     EventType = "device_added"
	EventDeviceRemoved   EventType = "device_removed"
	EventDeviceError     EventType = "device_error"
	EventNameUpdated     EventType = "name_updated"
	EventResetResult     EventType = "reset_result"
	EventResync          EventType = "resync"
	EventLearningStarted EventType = "learning_started"
	EventLearningStopped EventType = "learning_stopped"
)

// Event is the JSON envelope pushed to viewers and consumed internally by
// the learning session. Data carries the affected record (or, for full_tree,
// the list of roots); removed devices keep their last known record so
// viewers can show what just vanished.
type Event struct {
	Type    EventType `json:"type"`
	Time    time.Time `json:"timestamp"`
	Address string    `json:"port_path,omitempty"`
	Data    any       `json:"data,omitempty"`

	// Error carries the newest kernel log message for device_error events.
	Error string `json:"error,omitempty"`

	// Success reports the outcome of a reset_result.
	Success *bool `json:"success,omitempty"`

	// Recovered marks a device_added that coalesced a fast remove/re-add.
	Recovered bool `json:"recovered,omitempty"`

	// Detected carries the result of a stopped learning session.
	Detected *DetectedGroup `json:"detected_group,omitempty"`
}

// Record returns the event payload as a device record when it carries one.
func (e Event) Record() *DeviceRecord {
	d, _ := e.Data.(*DeviceRecord)
	return d
}

// NewFullTree builds the synthetic event delivered to a fresh subscriber.
func NewFullTree(snap *Snapshot, now time.Time) Event {
	var roots []*DeviceRecord
	if snap != nil {
		roots = snap.Roots
	}
	return Event{Type: EventFullTree, Time: now, Data: roots}
}

// NewDeviceAdded builds an incremental add event.
func NewDeviceAdded(d *DeviceRecord, now time.Time) Event {
	return Event{Type: EventDeviceAdded, Time: now, Address: d.Address, Data: d}
}

// NewDeviceRemoved builds a removal event carrying the last known record.
func NewDeviceRemoved(address string, last *DeviceRecord, now time.Time) Event {
	return Event{Type: EventDeviceRemoved, Time: now, Address: address, Data: last}
}

// NewDeviceError builds an error-update event for an address.
func NewDeviceError(address string, d *DeviceRecord, message string, now time.Time) Event {
	return Event{Type: EventDeviceError, Time: now, Address: address, Data: d, Error: message}
}

// NewResetResult reports the outcome of a hardware reset request.
func NewResetResult(address string, ok bool, now time.Time) Event {
	return Event{Type: EventResetResult, Time: now, Address: address, Success: &ok}
}

// NewResync is the marker telling one subscriber its diff stream has a gap
// and it must request a fresh full snapshot.
func NewResync(now time.Time) Event {
	return Event{Type: EventResync, Time: now}
}
