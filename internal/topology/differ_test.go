package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usbscope/internal/domain"
)

func snapOf(t *testing.T, records ...*domain.DeviceRecord) *domain.Snapshot {
	t.Helper()
	snap, orphans := Build(records, testTime)
	require.Empty(t, orphans)
	return snap
}

func TestDiff(t *testing.T) {
	now := testTime.Add(time.Second)

	t.Run("nil previous means everything is added", func(t *testing.T) {
		cur := snapOf(t, dev("usb5"), dev("5-1"))
		events := Diff(nil, cur, now)
		require.Len(t, events, 2)
		assert.Equal(t, domain.EventDeviceAdded, events[0].Type)
		assert.Equal(t, "usb5", events[0].Address, "parent added before child")
		assert.Equal(t, "5-1", events[1].Address)
	})

	t.Run("identical snapshots produce no events", func(t *testing.T) {
		a := snapOf(t, dev("usb5"), dev("5-1"))
		b := snapOf(t, dev("usb5"), dev("5-1"))
		assert.Empty(t, Diff(a, b, now))
	})

	t.Run("unplugged hub emits one removal per descendant, deepest first", func(t *testing.T) {
		prev := snapOf(t, dev("usb5"), hubDev("5-1", "05e3", "0610"), dev("5-1.2"), dev("5-1.3"), dev("5-4"))
		cur := snapOf(t, dev("usb5"), dev("5-4"))

		events := Diff(prev, cur, now)
		require.Len(t, events, 3)
		for _, ev := range events {
			assert.Equal(t, domain.EventDeviceRemoved, ev.Type)
		}
		assert.Equal(t, "5-1.2", events[0].Address)
		assert.Equal(t, "5-1.3", events[1].Address)
		assert.Equal(t, "5-1", events[2].Address, "hub removed after its children")
	})

	t.Run("removal events carry the last known record", func(t *testing.T) {
		gone := dev("5-1")
		gone.Product = "Flash Drive"
		prev := snapOf(t, dev("usb5"), gone)
		cur := snapOf(t, dev("usb5"))

		events := Diff(prev, cur, now)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].Record())
		assert.Equal(t, "Flash Drive", events[0].Record().Product)
	})

	t.Run("changed error list emits device_error with newest message", func(t *testing.T) {
		before := dev("5-1")
		after := dev("5-1")
		after.Errors = []string{"[ERROR] device descriptor read/64, error -71", "[WARNING] reset high-speed USB device"}

		events := Diff(snapOf(t, dev("usb5"), before), snapOf(t, dev("usb5"), after), now)
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventDeviceError, events[0].Type)
		assert.Equal(t, "5-1", events[0].Address)
		assert.Equal(t, "[WARNING] reset high-speed USB device", events[0].Error)
	})

	t.Run("replaying the diff reproduces the target address set", func(t *testing.T) {
		prev := snapOf(t, dev("usb5"), hubDev("5-1", "05e3", "0610"), dev("5-1.2"))
		cur := snapOf(t, dev("usb5"), dev("5-3"), hubDev("5-4", "05e3", "0610"), dev("5-4.1"))

		have := make(map[string]bool)
		for addr := range prev.Flatten() {
			have[addr] = true
		}
		for _, ev := range Diff(prev, cur, now) {
			switch ev.Type {
			case domain.EventDeviceAdded:
				have[ev.Address] = true
			case domain.EventDeviceRemoved:
				delete(have, ev.Address)
			}
		}

		want := make(map[string]bool)
		for addr := range cur.Flatten() {
			want[addr] = true
		}
		assert.Equal(t, want, have)
	})
}
