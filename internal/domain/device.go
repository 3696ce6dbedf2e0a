package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DeviceClass categorises a USB device for icon and colour mapping.
type DeviceClass string

const (
	ClassHub         DeviceClass = "hub"
	ClassHIDKeyboard DeviceClass = "hid_keyboard"
	ClassHIDMouse    DeviceClass = "hid_mouse"
	ClassHIDOther    DeviceClass = "hid_other"
	ClassAudio       DeviceClass = "audio"
	ClassVideo       DeviceClass = "video"
	ClassStorage     DeviceClass = "storage"
	ClassPrinter     DeviceClass = "printer"
	ClassWireless    DeviceClass = "wireless"
	ClassComm        DeviceClass = "comm"
	ClassUnknown     DeviceClass = "unknown"
)

// friendlyName maps a device class to a short human label, used when no
// product string is available.
func (c DeviceClass) friendlyName() string {
	switch c {
	case ClassHub:
		return "Hub"
	case ClassHIDKeyboard:
		return "Keyboard"
	case ClassHIDMouse:
		return "Mouse"
	case ClassHIDOther:
		return "Input Device"
	case ClassAudio:
		return "Audio"
	case ClassVideo:
		return "Webcam"
	case ClassStorage:
		return "Storage"
	case ClassPrinter:
		return "Printer"
	case ClassWireless:
		return "Wireless"
	case ClassComm:
		return "Serial"
	}
	return ""
}

// DeviceRecord represents one attached USB device or hub.
//
// Address is the port path, e.g. "5-1.2.4"; root hubs use "usb<bus>". It is
// unique within a snapshot and stable across rebuilds while the device stays
// plugged in.
type DeviceRecord struct {
	Bus    int `json:"bus"`
	Device int `json:"device"`

	Address       string `json:"port_path"`
	ParentAddress string `json:"parent_path,omitempty"`

	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`

	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Serial       string `json:"serial,omitempty"`

	Speed      string      `json:"speed"`
	USBVersion string      `json:"usb_version,omitempty"`
	Class      DeviceClass `json:"device_class"`

	// NumPorts is only set for hubs.
	NumPorts    int `json:"num_ports,omitempty"`
	PowerDrawMA int `json:"power_draw_ma"`

	Driver      string   `json:"driver,omitempty"`
	DeviceNodes []string `json:"dev_nodes,omitempty"`

	CustomName string `json:"custom_name,omitempty"`
	IsRootHub  bool   `json:"is_root_hub"`

	Errors []string `json:"errors"`

	Children []*DeviceRecord `json:"children,omitempty"`
}

// DisplayName returns the best available name for display: the custom name
// if set, then the product string, then vendor plus device type, falling
// back to the raw vendor:product ids.
func (d *DeviceRecord) DisplayName() string {
	if d.CustomName != "" {
		return d.CustomName
	}
	if d.Product != "" {
		return d.Product
	}

	friendly := d.Class.friendlyName()
	if d.Manufacturer != "" && friendly != "" {
		return fmt.Sprintf("%s (%s)", d.Manufacturer, friendly)
	}
	if d.Manufacturer != "" {
		return d.Manufacturer
	}
	if friendly != "" {
		return fmt.Sprintf("Unknown (%s)", friendly)
	}

	return fmt.Sprintf("%s:%s", d.VendorID, d.ProductID)
}

// HasErrors reports whether any kernel log errors are attached.
func (d *DeviceRecord) HasErrors() bool {
	return len(d.Errors) > 0
}

// Key returns the silicon identity key "vendor:product".
func (d *DeviceRecord) Key() string {
	return d.VendorID + ":" + d.ProductID
}

// IsHub reports whether the record is a hub, root hubs included.
func (d *DeviceRecord) IsHub() bool {
	return d.Class == ClassHub
}

// SubtreeContains reports whether the record or any descendant is of the
// given class.
func (d *DeviceRecord) SubtreeContains(class DeviceClass) bool {
	if d == nil {
		return false
	}
	if d.Class == class {
		return true
	}
	for _, c := range d.Children {
		if c.SubtreeContains(class) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record and its subtree.
func (d *DeviceRecord) Clone() *DeviceRecord {
	if d == nil {
		return nil
	}
	c := *d
	if d.Errors != nil {
		c.Errors = append([]string(nil), d.Errors...)
	}
	if d.DeviceNodes != nil {
		c.DeviceNodes = append([]string(nil), d.DeviceNodes...)
	}
	if d.Children != nil {
		c.Children = make([]*DeviceRecord, len(d.Children))
		for i, child := range d.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// MarshalJSON adds the derived display_name and has_errors fields so viewers
// never have to re-derive them.
func (d *DeviceRecord) MarshalJSON() ([]byte, error) {
	type alias DeviceRecord
	return json.Marshal(struct {
		*alias
		DisplayName string `json:"display_name"`
		HasErrors   bool   `json:"has_errors"`
	}{
		alias:       (*alias)(d),
		DisplayName: d.DisplayName(),
		HasErrors:   d.HasErrors(),
	})
}

// ParentAddressOf derives the upstream address from a port path.
//
// "5-1.2.4" -> "5-1.2", "5-1" -> "usb5", "usb5" -> "" (root).
func ParentAddressOf(address string) string {
	if strings.HasPrefix(address, "usb") {
		return ""
	}
	if i := strings.LastIndex(address, "."); i >= 0 {
		return address[:i]
	}
	if i := strings.Index(address, "-"); i >= 0 {
		return "usb" + address[:i]
	}
	return ""
}

// AddressDepth returns the nesting depth of a port path: 0 for a root hub,
// 1 for a device on a root port, plus one per cascaded hub level.
func AddressDepth(address string) int {
	if strings.HasPrefix(address, "usb") {
		return 0
	}
	return 1 + strings.Count(address, ".")
}

// IsAncestorAddress reports whether ancestor sits above address in the tree.
// A root hub "usb5" is an ancestor of every "5-..." path on its bus.
func IsAncestorAddress(ancestor, address string) bool {
	if ancestor == address {
		return false
	}
	if strings.HasPrefix(ancestor, "usb") {
		bus := strings.TrimPrefix(ancestor, "usb")
		return strings.HasPrefix(address, bus+"-")
	}
	return strings.HasPrefix(address, ancestor+".")
}

// CompareAddresses orders port paths segment-wise and numerically, so
// "5-1.9" sorts before "5-1.10" and trees render stably across rebuilds.
func CompareAddresses(a, b string) int {
	if a == b {
		return 0
	}
	as := splitAddress(a)
	bs := splitAddress(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}
	if len(as) < len(bs) {
		return -1
	}
	if len(as) > len(bs) {
		return 1
	}
	return strings.Compare(a, b)
}

// splitAddress breaks a port path into numeric segments: "5-1.12" -> [5 1 12].
// Root hub paths ("usb5") yield just the bus number.
func splitAddress(address string) []int {
	address = strings.TrimPrefix(address, "usb")
	address = strings.ReplaceAll(address, "-", ".")
	parts := strings.Split(address, ".")
	segs := make([]int, 0, len(parts))
	for _, p := range parts {
		n := 0
		for _, r := range p {
			if r < '0' || r > '9' {
				break
			}
			n = n*10 + int(r-'0')
		}
		segs = append(segs, n)
	}
	return segs
}
