package topology

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usbscope/internal/domain"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// dev builds a minimal enumeration record for an address. Root hub paths
// ("usbN") come out flagged as root hubs.
func dev(addr string) *domain.DeviceRecord {
	d := &domain.DeviceRecord{
		Address:   addr,
		VendorID:  "1d6b",
		ProductID: "0003",
		Class:     domain.ClassUnknown,
		Speed:     "480M",
	}
	if strings.HasPrefix(addr, "usb") {
		d.IsRootHub = true
		d.Class = domain.ClassHub
	}
	return d
}

// hubDev builds a non-root hub record with a given silicon identity.
func hubDev(addr, vid, pid string) *domain.DeviceRecord {
	d := dev(addr)
	d.Class = domain.ClassHub
	d.VendorID = vid
	d.ProductID = pid
	return d
}

func TestBuild(t *testing.T) {
	t.Run("assembles forest with children in port order", func(t *testing.T) {
		snap, orphans := Build([]*domain.DeviceRecord{
			dev("5-1.10"),
			dev("usb5"),
			dev("5-1.9"),
			dev("5-1"),
			dev("5-2"),
		}, testTime)

		require.Empty(t, orphans)
		require.Len(t, snap.Roots, 1)
		root := snap.Roots[0]
		assert.Equal(t, "usb5", root.Address)

		require.Len(t, root.Children, 2)
		assert.Equal(t, "5-1", root.Children[0].Address)
		assert.Equal(t, "5-2", root.Children[1].Address)

		hub := root.Children[0]
		require.Len(t, hub.Children, 2)
		assert.Equal(t, "5-1.9", hub.Children[0].Address, "port 9 before port 10")
		assert.Equal(t, "5-1.10", hub.Children[1].Address)
	})

	t.Run("derives missing parent addresses", func(t *testing.T) {
		snap, orphans := Build([]*domain.DeviceRecord{dev("usb3"), dev("3-4")}, testTime)
		require.Empty(t, orphans)
		d := snap.Lookup("3-4")
		require.NotNil(t, d)
		assert.Equal(t, "usb3", d.ParentAddress)
	})

	t.Run("records with missing ancestors become orphans", func(t *testing.T) {
		// 5-1 is absent, so 5-1.2 and its child 5-1.2.3 are both unreachable.
		snap, orphans := Build([]*domain.DeviceRecord{
			dev("usb5"),
			dev("5-1.2"),
			dev("5-1.2.3"),
			dev("5-2"),
		}, testTime)

		require.Len(t, orphans, 2)
		assert.Equal(t, "5-1.2", orphans[0].Address)
		assert.Equal(t, "5-1.2.3", orphans[1].Address)

		assert.Nil(t, snap.Lookup("5-1.2"))
		assert.NotNil(t, snap.Lookup("5-2"))
		assert.Equal(t, 2, snap.Len())
	})

	t.Run("addresses are unique within a snapshot", func(t *testing.T) {
		snap, _ := Build([]*domain.DeviceRecord{dev("usb1"), dev("1-1"), dev("1-1")}, testTime)
		count := 0
		for range snap.Flatten() {
			count++
		}
		assert.Equal(t, snap.Len(), count)
	})

	t.Run("input order does not affect the result", func(t *testing.T) {
		a := []*domain.DeviceRecord{dev("usb5"), dev("5-1"), dev("5-1.2"), dev("5-3")}
		b := []*domain.DeviceRecord{dev("5-3"), dev("5-1.2"), dev("5-1"), dev("usb5")}

		s1, _ := Build(a, testTime)
		s2, _ := Build(b, testTime)
		assert.Equal(t, s1.Addresses(), s2.Addresses())
		require.Len(t, s1.Roots, 1)
		require.Len(t, s2.Roots, 1)
		assert.Equal(t, s1.Roots[0].Children[0].Address, s2.Roots[0].Children[0].Address)
	})

	t.Run("input records stay untouched", func(t *testing.T) {
		in := dev("usb7")
		Build([]*domain.DeviceRecord{in, dev("7-1")}, testTime)
		assert.Nil(t, in.Children, "caller's record must not grow children")
	})
}
