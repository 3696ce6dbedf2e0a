package topology

import (
	"sort"
	"time"

	"usbscope/internal/domain"
)

// DefaultDebounceWindow is how long a removal is held back waiting for the
// same address to re-appear. Devices that power-cycle during re-enumeration
// typically come back well inside this window.
const DefaultDebounceWindow = 300 * time.Millisecond

// Coalescer debounces remove→re-add flaps for the same address.
//
// A DeviceRemoved is not dispatched immediately; it is held for the
// configured window. If a DeviceAdded for the same address arrives in time,
// the removal is suppressed and the add goes out once, marked recovered,
// with the record's error history cleared. If nothing comes back, Flush
// releases the removal with its original timestamp.
//
// The coalescer is driven by the single writer goroutine and is not safe
// for concurrent use.
type Coalescer struct {
	window  time.Duration
	pending map[string]pendingRemoval
}

type pendingRemoval struct {
	event    domain.Event
	deadline time.Time
}

// NewCoalescer creates a coalescer with the given debounce window. A zero
// or negative window disables debouncing entirely.
func NewCoalescer(window time.Duration) *Coalescer {
	return &Coalescer{
		window:  window,
		pending: make(map[string]pendingRemoval),
	}
}

// SetWindow adjusts the debounce window; pending removals keep the deadline
// they were enqueued with.
func (c *Coalescer) SetWindow(window time.Duration) {
	c.window = window
}

// Feed passes a batch of diff events through the debounce filter and
// returns the ones ready for dispatch now. Removals are withheld; re-adds
// inside the window cancel them and come out as a single recovered add.
func (c *Coalescer) Feed(events []domain.Event, now time.Time) []domain.Event {
	if c.window <= 0 {
		return events
	}

	out := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		switch ev.Type {
		case domain.EventDeviceRemoved:
			c.pending[ev.Address] = pendingRemoval{event: ev, deadline: now.Add(c.window)}

		case domain.EventDeviceAdded:
			if _, held := c.pending[ev.Address]; held {
				delete(c.pending, ev.Address)
				ev.Recovered = true
				// Recovery clears prior error history: the device came back,
				// whatever was logged belongs to its previous life. The record
				// is shared with the published snapshot, so the cleared
				// history goes on a copy.
				if d := ev.Record(); d != nil && len(d.Errors) > 0 {
					clean := d.Clone()
					clean.Errors = nil
					ev.Data = clean
				}
			}
			out = append(out, ev)

		default:
			out = append(out, ev)
		}
	}
	return out
}

// Flush releases withheld removals whose window has expired, deepest-first
// so children still precede their hub. Call it whenever NextDeadline fires.
func (c *Coalescer) Flush(now time.Time) []domain.Event {
	var expired []domain.Event
	for addr, p := range c.pending {
		if !p.deadline.After(now) {
			expired = append(expired, p.event)
			delete(c.pending, addr)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return addressLess(expired[j].Address, expired[i].Address)
	})
	return expired
}

// NextDeadline reports the earliest pending flush deadline, if any removal
// is currently withheld.
func (c *Coalescer) NextDeadline() (time.Time, bool) {
	var next time.Time
	for _, p := range c.pending {
		if next.IsZero() || p.deadline.Before(next) {
			next = p.deadline
		}
	}
	return next, !next.IsZero()
}

// Pending reports how many removals are currently withheld.
func (c *Coalescer) Pending() int {
	return len(c.pending)
}
