package enumerate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"usbscope/internal/domain"
	"usbscope/internal/logger"
)

// DefaultSysfsRoot is where the kernel exposes the USB device tree.
const DefaultSysfsRoot = "/sys/bus/usb/devices"

// DefaultPollInterval is how often the sysfs tree is re-checked for changes.
const DefaultPollInterval = time.Second

// Sysfs enumerates USB devices from the kernel's sysfs tree and resets
// devices through the per-device authorized toggle. It implements both
// Enumerator and Resetter.
type Sysfs struct {
	root string
	poll time.Duration
	log  zerolog.Logger
}

// NewSysfs creates a sysfs enumerator rooted at root (DefaultSysfsRoot when
// empty).
func NewSysfs(root string, poll time.Duration) *Sysfs {
	if root == "" {
		root = DefaultSysfsRoot
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Sysfs{root: root, poll: poll, log: logger.WithComponent("sysfs")}
}

// Scan walks the sysfs device directory and builds one record per device.
// Interface entries ("5-1:1.0") are skipped; only whole devices count.
func (s *Sysfs) Scan(ctx context.Context) ([]*domain.DeviceRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.root, err)
	}

	var records []*domain.DeviceRecord
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := e.Name()
		if !isDeviceEntry(name) {
			continue
		}

		d, err := s.readDevice(name)
		if err != nil {
			// A device yanked mid-scan leaves a half-readable entry behind.
			s.log.Debug().Err(err).Str("entry", name).Msg("skipping unreadable device")
			continue
		}
		records = append(records, d)
	}

	return records, nil
}

// Watch polls the sysfs tree and notifies when the device set changes.
// sysfs directories do not deliver inotify events, so polling is the only
// portable trigger; the notification is just a rescan hint.
func (s *Sysfs) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)

	last, err := s.signature()
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(changes)
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			sig, err := s.signature()
			if err != nil {
				s.log.Warn().Err(err).Msg("sysfs poll failed")
				continue
			}
			if sig == last {
				continue
			}
			last = sig

			select {
			case changes <- struct{}{}:
			default:
				// A rescan is already pending; one hint is enough.
			}
		}
	}()

	return changes, nil
}

// Reset re-enumerates a device by bouncing its authorized flag. The kernel
// tears the device down on 0 and re-enumerates from scratch on 1.
func (s *Sysfs) Reset(ctx context.Context, address string) error {
	path := filepath.Join(s.root, address, "authorized")
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrResetFailed, address, err)
	}

	if err := os.WriteFile(path, []byte("0"), 0644); err != nil {
		return fmt.Errorf("%w: deauthorize %s: %v", domain.ErrResetFailed, address, err)
	}

	select {
	case <-ctx.Done():
		// Re-authorize anyway; leaving the device dead would be worse.
		_ = os.WriteFile(path, []byte("1"), 0644)
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("1"), 0644); err != nil {
		return fmt.Errorf("%w: reauthorize %s: %v", domain.ErrResetFailed, address, err)
	}

	s.log.Info().Str("port_path", address).Msg("device reset")
	return nil
}

// signature is a cheap change detector: the sorted entry names plus each
// device's devnum, which changes on every re-enumeration.
func (s *Sysfs) signature() (string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !isDeviceEntry(name) {
			continue
		}
		devnum := readAttr(filepath.Join(s.root, name), "devnum")
		parts = append(parts, name+"="+devnum)
	}
	sort.Strings(parts)
	return strings.Join(parts, ","), nil
}

func (s *Sysfs) readDevice(name string) (*domain.DeviceRecord, error) {
	dir := filepath.Join(s.root, name)

	busnum, err := strconv.Atoi(readAttr(dir, "busnum"))
	if err != nil {
		return nil, fmt.Errorf("busnum: %w", err)
	}
	devnum, err := strconv.Atoi(readAttr(dir, "devnum"))
	if err != nil {
		return nil, fmt.Errorf("devnum: %w", err)
	}

	driver := readDriver(dir)

	d := &domain.DeviceRecord{
		Bus:          busnum,
		Device:       devnum,
		Address:      name,
		VendorID:     orDefault(readAttr(dir, "idVendor"), "0000"),
		ProductID:    orDefault(readAttr(dir, "idProduct"), "0000"),
		Manufacturer: readAttr(dir, "manufacturer"),
		Product:      readAttr(dir, "product"),
		Serial:       readAttr(dir, "serial"),
		Speed:        formatSpeed(readAttr(dir, "speed")),
		USBVersion:   readAttr(dir, "version"),
		Driver:       driver,
		IsRootHub:    strings.HasPrefix(name, "usb"),
		DeviceNodes:  findDeviceNodes(s.root, name),
	}
	d.ParentAddress = domain.ParentAddressOf(name)
	d.Class = inferClass(driver, readAttr(dir, "bDeviceClass"))
	if d.Class == domain.ClassHIDOther {
		d.Class = refineHIDClass(s.root, name)
	}

	if n, err := strconv.Atoi(readAttr(dir, "maxchild")); err == nil && n > 0 {
		d.NumPorts = n
	}
	if mA := strings.TrimSuffix(readAttr(dir, "bMaxPower"), "mA"); mA != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(mA)); err == nil {
			d.PowerDrawMA = n
		}
	}

	return d, nil
}

// isDeviceEntry accepts whole-device entries ("usb5", "5-1.2.4") and rejects
// interfaces ("5-1:1.0") and anything else living in the directory.
func isDeviceEntry(name string) bool {
	if strings.Contains(name, ":") {
		return false
	}
	if strings.HasPrefix(name, "usb") {
		_, err := strconv.Atoi(strings.TrimPrefix(name, "usb"))
		return err == nil
	}
	bus, _, ok := strings.Cut(name, "-")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(bus)
	return err == nil
}

// formatSpeed renders the sysfs speed attribute (Mbit/s) the way lsusb does:
// "480" -> "480M", "5000" -> "5G".
func formatSpeed(raw string) string {
	if raw == "" {
		return "Unknown"
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return raw
	}
	if n >= 5000 {
		return fmt.Sprintf("%dG", n/1000)
	}
	return fmt.Sprintf("%dM", n)
}

// inferClass maps the bound driver, falling back to the descriptor class
// code, onto a device class.
func inferClass(driver, classCode string) domain.DeviceClass {
	switch driver {
	case "hub":
		return domain.ClassHub
	case "usbhid", "hid-generic":
		return domain.ClassHIDOther
	case "snd-usb-audio", "snd_usb_audio":
		return domain.ClassAudio
	case "uvcvideo", "uvc":
		return domain.ClassVideo
	case "usb-storage", "uas":
		return domain.ClassStorage
	case "usblp":
		return domain.ClassPrinter
	case "btusb", "ath3k", "rtl8xxxu":
		return domain.ClassWireless
	case "cdc_acm", "cdc_ether", "ch341", "cp210x", "ftdi_sio", "pl2303":
		return domain.ClassComm
	}

	if code, err := strconv.ParseInt(classCode, 16, 32); err == nil {
		switch code {
		case 0x09:
			return domain.ClassHub
		case 0x01:
			return domain.ClassAudio
		case 0x02:
			return domain.ClassComm
		case 0x03:
			return domain.ClassHIDOther
		case 0x07:
			return domain.ClassPrinter
		case 0x08:
			return domain.ClassStorage
		case 0x0e:
			return domain.ClassVideo
		case 0xe0:
			return domain.ClassWireless
		}
	}

	return domain.ClassUnknown
}

// refineHIDClass inspects the device's interface directories to tell
// keyboards and mice apart from generic HID. The boot-interface protocol
// (bInterfaceProtocol 1 or 2 on a class-03 interface) is the only marker
// sysfs exposes for this.
func refineHIDClass(root, name string) domain.DeviceClass {
	matches, _ := filepath.Glob(filepath.Join(root, name+":*"))
	for _, iface := range matches {
		if readAttr(iface, "bInterfaceClass") != "03" {
			continue
		}
		switch readAttr(iface, "bInterfaceProtocol") {
		case "01":
			return domain.ClassHIDKeyboard
		case "02":
			return domain.ClassHIDMouse
		}
	}
	return domain.ClassHIDOther
}

// findDeviceNodes collects /dev nodes exposed through the device's
// interfaces: serial adapters under tty/, disks under block/.
func findDeviceNodes(root, name string) []string {
	var nodes []string

	for _, pattern := range []string{
		filepath.Join(root, name+":*", "tty", "tty*"),
		filepath.Join(root, name+":*", "tty*"),
		filepath.Join(root, name+":*", "block", "*"),
	} {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			nodes = append(nodes, "/dev/"+filepath.Base(m))
		}
	}

	if len(nodes) == 0 {
		return nil
	}
	sort.Strings(nodes)
	return dedupeStrings(nodes)
}

func dedupeStrings(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// readAttr reads a single-line sysfs attribute, empty on any failure.
func readAttr(dir, attr string) string {
	data, err := os.ReadFile(filepath.Join(dir, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readDriver resolves the driver symlink to its base name.
func readDriver(dir string) string {
	target, err := os.Readlink(filepath.Join(dir, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
