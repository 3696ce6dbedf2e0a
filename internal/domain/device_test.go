package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	t.Run("custom name wins", func(t *testing.T) {
		d := &DeviceRecord{CustomName: "Left desk hub", Product: "USB2.0 Hub", VendorID: "05e3", ProductID: "0610"}
		assert.Equal(t, "Left desk hub", d.DisplayName())
	})

	t.Run("product string before vendor", func(t *testing.T) {
		d := &DeviceRecord{Product: "USB2.0 Hub", Manufacturer: "Genesys Logic"}
		assert.Equal(t, "USB2.0 Hub", d.DisplayName())
	})

	t.Run("vendor plus friendly type", func(t *testing.T) {
		d := &DeviceRecord{Manufacturer: "Logitech", Class: ClassHIDMouse}
		assert.Equal(t, "Logitech (Mouse)", d.DisplayName())
	})

	t.Run("falls back to ids", func(t *testing.T) {
		d := &DeviceRecord{VendorID: "05e3", ProductID: "0610"}
		assert.Equal(t, "05e3:0610", d.DisplayName())
	})
}

func TestParentAddressOf(t *testing.T) {
	cases := []struct {
		address string
		want    string
	}{
		{"5-1.2.4", "5-1.2"},
		{"5-1.2", "5-1"},
		{"5-1", "usb5"},
		{"usb5", ""},
		{"12-3.10", "12-3"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParentAddressOf(tc.address), "parent of %s", tc.address)
	}
}

func TestAddressDepth(t *testing.T) {
	assert.Equal(t, 0, AddressDepth("usb5"))
	assert.Equal(t, 1, AddressDepth("5-1"))
	assert.Equal(t, 2, AddressDepth("5-1.2"))
	assert.Equal(t, 3, AddressDepth("5-1.2.4"))
}

func TestIsAncestorAddress(t *testing.T) {
	assert.True(t, IsAncestorAddress("5-1", "5-1.2"))
	assert.True(t, IsAncestorAddress("5-1", "5-1.2.4"))
	assert.True(t, IsAncestorAddress("usb5", "5-1.2"))
	assert.False(t, IsAncestorAddress("5-1", "5-1"))
	assert.False(t, IsAncestorAddress("5-1", "5-10"), "5-10 is a sibling port, not a child")
	assert.False(t, IsAncestorAddress("5-1.2", "5-1"))
	assert.False(t, IsAncestorAddress("usb5", "6-1"))
}

func TestCompareAddresses(t *testing.T) {
	t.Run("numeric segment ordering", func(t *testing.T) {
		assert.Negative(t, CompareAddresses("5-1.9", "5-1.10"))
		assert.Negative(t, CompareAddresses("5-1", "5-2"))
		assert.Negative(t, CompareAddresses("5-1", "5-1.1"))
		assert.Positive(t, CompareAddresses("6-1", "5-9"))
		assert.Zero(t, CompareAddresses("5-1.2", "5-1.2"))
	})

	t.Run("root hubs sort by bus", func(t *testing.T) {
		assert.Negative(t, CompareAddresses("usb2", "usb10"))
	})
}

func TestSubtreeContains(t *testing.T) {
	d := &DeviceRecord{
		Address: "5-1",
		Class:   ClassHub,
		Children: []*DeviceRecord{
			{Address: "5-1.2", Class: ClassHIDKeyboard},
			{Address: "5-1.4", Class: ClassHub, Children: []*DeviceRecord{
				{Address: "5-1.4.1", Class: ClassStorage},
			}},
		},
	}

	assert.True(t, d.SubtreeContains(ClassHub), "matches the record itself")
	assert.True(t, d.SubtreeContains(ClassStorage), "matches a nested descendant")
	assert.False(t, d.SubtreeContains(ClassVideo))
	assert.False(t, (*DeviceRecord)(nil).SubtreeContains(ClassHub))
}

func TestDeviceRecordClone(t *testing.T) {
	d := &DeviceRecord{
		Address: "5-1",
		Class:   ClassHub,
		Errors:  []string{"[ERROR] Over-current detected"},
		Children: []*DeviceRecord{
			{Address: "5-1.2", ParentAddress: "5-1"},
		},
	}

	c := d.Clone()
	c.Errors[0] = "changed"
	c.Children[0].Address = "changed"

	assert.Equal(t, "[ERROR] Over-current detected", d.Errors[0])
	assert.Equal(t, "5-1.2", d.Children[0].Address)
}

func TestDeviceRecordMarshalJSON(t *testing.T) {
	d := &DeviceRecord{
		Address:   "5-1.2",
		VendorID:  "05e3",
		ProductID: "0610",
		Product:   "USB2.0 Hub",
		Class:     ClassHub,
		Errors:    []string{"[ERROR] Port cannot reset"},
	}

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "USB2.0 Hub", got["display_name"])
	assert.Equal(t, true, got["has_errors"])
	assert.Equal(t, "5-1.2", got["port_path"])
}
