// Package dmesg extracts USB errors from the kernel log.
//
// The kernel logs USB trouble in a handful of well-known shapes; the parser
// matches those and resolves each to the port path of the affected device so
// errors can be pinned onto the topology tree.
package dmesg

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Severity classifies a matched kernel log line.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// USBError is one matched kernel log line, pinned to a port path.
type USBError struct {
	Time     time.Time `json:"timestamp"`
	Address  string    `json:"port_path"`
	Message  string    `json:"message"`
	Raw      string    `json:"raw_line"`
	Severity Severity  `json:"severity"`
}

// Display renders the error the way it is attached to a device record.
func (e USBError) Display() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Severity)), e.Message)
}

type pattern struct {
	re      *regexp.Regexp
	message string
}

// patterns cover the error shapes the kernel actually emits for USB
// devices and hub ports. Group 1 always captures the location.
var patterns = []pattern{
	// Device errors
	{regexp.MustCompile(`usb (\d+-[\d.]+): device descriptor read.*, error (-?\d+)`), "Device descriptor read failed"},
	{regexp.MustCompile(`usb (\d+-[\d.]+): device not accepting address .*, error (-?\d+)`), "Device not accepting address"},
	{regexp.MustCompile(`usb (\d+-[\d.]+): USB disconnect, device number (\d+)`), "Device disconnected"},
	{regexp.MustCompile(`usb (\d+-[\d.]+): can't .*, error (-?\d+)`), "Device error"},

	// Root hub port errors ("usb5-port1")
	{regexp.MustCompile(`usb (usb\d+-port\d+): disabled by hub \(EMI\?\)`), "Port disabled (possible EMI)"},
	{regexp.MustCompile(`usb (usb\d+-port\d+): cannot reset`), "Port cannot reset"},
	{regexp.MustCompile(`usb (usb\d+-port\d+): unable to enumerate USB device`), "Cannot enumerate device"},
	{regexp.MustCompile(`usb (usb\d+-port\d+): attempt power cycle`), "Power cycle attempted"},
	{regexp.MustCompile(`usb (usb\d+-port\d+): connect-debounce failed`), "Connect debounce failed"},

	// Downstream hub port errors ("5-1.4-port2")
	{regexp.MustCompile(`usb (\d+-[\d.]+)-port(\d+): disabled by hub`), "Port disabled by hub"},
	{regexp.MustCompile(`usb (\d+-[\d.]+)-port(\d+): cannot`), "Port error"},

	// Over-current
	{regexp.MustCompile(`usb (\d+-[\d.]+): over-current`), "Over-current detected"},

	// Reset errors
	{regexp.MustCompile(`usb (\d+-[\d.]+): reset.*failed`), "Reset failed"},
}

// ParseLine matches a single kernel log line against the known USB error
// shapes. It returns nil for lines that are not USB errors.
func ParseLine(line string, now time.Time) *USBError {
	if !strings.Contains(strings.ToLower(line), "usb") {
		return nil
	}

	for _, p := range patterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		return &USBError{
			Time:     now,
			Address:  normalizeAddress(m[1]),
			Message:  p.message,
			Raw:      strings.TrimSpace(line),
			Severity: severityOf(line),
		}
	}

	return nil
}

// Parse runs ParseLine over a whole dmesg dump.
func Parse(output string, now time.Time) []USBError {
	var errors []USBError
	for _, line := range strings.Split(output, "\n") {
		if e := ParseLine(line, now); e != nil {
			errors = append(errors, *e)
		}
	}
	return errors
}

// ErrorsFor collects display strings for errors hitting an address, its own
// or one of its ancestors' port errors.
func ErrorsFor(address string, errors []USBError) []string {
	var out []string
	for _, e := range errors {
		if e.Address == address || strings.HasPrefix(address, e.Address+".") {
			out = append(out, e.Display())
		}
	}
	return out
}

// normalizeAddress converts root-port notation to the port path of the
// device plugged into it: "usb5-port1" -> "5-1".
func normalizeAddress(addr string) string {
	if strings.HasPrefix(addr, "usb") && strings.Contains(addr, "-port") {
		bus, port, ok := strings.Cut(strings.TrimPrefix(addr, "usb"), "-port")
		if ok {
			return bus + "-" + port
		}
	}
	return addr
}

func severityOf(line string) Severity {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "disconnect") {
		return SeverityInfo
	}
	if strings.Contains(lower, "warning") {
		return SeverityWarning
	}
	return SeverityError
}
