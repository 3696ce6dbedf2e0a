package dmesg

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("device errors resolve to the device port path", func(t *testing.T) {
		cases := []struct {
			line     string
			addr     string
			message  string
			severity Severity
		}{
			{
				"[12345.678] usb 5-1.2: device descriptor read/64, error -71",
				"5-1.2", "Device descriptor read failed", SeverityError,
			},
			{
				"usb 5-1: device not accepting address 9, error -62",
				"5-1", "Device not accepting address", SeverityError,
			},
			{
				"usb 5-1.2: USB disconnect, device number 14",
				"5-1.2", "Device disconnected", SeverityInfo,
			},
			{
				"usb 3-2: over-current condition",
				"3-2", "Over-current detected", SeverityError,
			},
			{
				"usb 5-1: reset high-speed USB device number 4 failed",
				"5-1", "Reset failed", SeverityError,
			},
		}

		for _, tc := range cases {
			e := ParseLine(tc.line, now)
			require.NotNil(t, e, tc.line)
			assert.Equal(t, tc.addr, e.Address, tc.line)
			assert.Equal(t, tc.message, e.Message, tc.line)
			assert.Equal(t, tc.severity, e.Severity, tc.line)
			assert.Equal(t, now, e.Time)
		}
	})

	t.Run("root port notation is normalized to a port path", func(t *testing.T) {
		e := ParseLine("usb usb5-port1: disabled by hub (EMI?)", now)
		require.NotNil(t, e)
		assert.Equal(t, "5-1", e.Address)
		assert.Equal(t, "Port disabled (possible EMI)", e.Message)

		e = ParseLine("usb usb3-port2: unable to enumerate USB device", now)
		require.NotNil(t, e)
		assert.Equal(t, "3-2", e.Address)
	})

	t.Run("downstream hub port errors pin to the hub", func(t *testing.T) {
		e := ParseLine("usb 5-1.4-port2: disabled by hub", now)
		require.NotNil(t, e)
		assert.Equal(t, "5-1.4", e.Address)
	})

	t.Run("non-matching lines yield nil", func(t *testing.T) {
		assert.Nil(t, ParseLine("eth0: link up", now))
		assert.Nil(t, ParseLine("usb 5-1: new high-speed USB device number 4", now))
		assert.Nil(t, ParseLine("", now))
	})
}

func TestParse(t *testing.T) {
	now := time.Now()
	output := `[1.0] usb 5-1: new high-speed USB device number 4
[2.0] usb 5-1.2: device descriptor read/64, error -71
[3.0] random kernel noise
[4.0] usb usb5-port1: attempt power cycle`

	errs := Parse(output, now)
	require.Len(t, errs, 2)
	assert.Equal(t, "5-1.2", errs[0].Address)
	assert.Equal(t, "5-1", errs[1].Address)
	assert.Equal(t, "Power cycle attempted", errs[1].Message)
}

func TestErrorsFor(t *testing.T) {
	now := time.Now()
	errs := []USBError{
		{Time: now, Address: "5-1", Message: "Device error", Severity: SeverityError},
		{Time: now, Address: "5-1.2", Message: "Device disconnected", Severity: SeverityInfo},
		{Time: now, Address: "3-2", Message: "Over-current detected", Severity: SeverityError},
	}

	t.Run("exact match", func(t *testing.T) {
		assert.Equal(t, []string{"[ERROR] Over-current detected"}, ErrorsFor("3-2", errs))
	})

	t.Run("ancestor port errors apply to descendants", func(t *testing.T) {
		got := ErrorsFor("5-1.2", errs)
		assert.Equal(t, []string{"[ERROR] Device error", "[INFO] Device disconnected"}, got)
	})

	t.Run("sibling prefixes do not leak", func(t *testing.T) {
		assert.Empty(t, ErrorsFor("5-10", errs), "5-1 is not an ancestor of 5-10")
	})
}

func TestMonitor(t *testing.T) {
	t.Run("baseline errors are retained but not emitted", func(t *testing.T) {
		m := NewMonitor(10*time.Millisecond, 50)
		output := "usb 5-1: device descriptor read/64, error -71\n"
		m.read = func(context.Context) (string, error) { return output, nil }

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ch := m.Run(ctx)

		select {
		case e, ok := <-ch:
			if ok {
				t.Fatalf("baseline error emitted: %+v", e)
			}
		case <-time.After(100 * time.Millisecond):
		}

		require.Len(t, m.Recent(), 1)
	})

	t.Run("new lines are emitted once", func(t *testing.T) {
		var (
			mu     sync.Mutex
			output string
		)
		m := NewMonitor(10*time.Millisecond, 50)
		m.read = func(context.Context) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			return output, nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ch := m.Run(ctx)

		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		output = "usb 5-1.2: device not accepting address 9, error -62\n"
		mu.Unlock()

		select {
		case e := <-ch:
			assert.Equal(t, "5-1.2", e.Address)
		case <-time.After(2 * time.Second):
			t.Fatal("new error never emitted")
		}

		select {
		case e := <-ch:
			t.Fatalf("duplicate emission: %+v", e)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("unreadable dmesg degrades quietly", func(t *testing.T) {
		m := NewMonitor(10*time.Millisecond, 50)
		m.read = func(context.Context) (string, error) { return "", errors.New("permission denied") }

		ctx, cancel := context.WithCancel(context.Background())
		ch := m.Run(ctx)
		time.Sleep(50 * time.Millisecond)
		cancel()

		for range ch {
			t.Fatal("errors emitted from a dead dmesg")
		}
		assert.Empty(t, m.Recent())
	})

	t.Run("history is capped", func(t *testing.T) {
		m := NewMonitor(time.Hour, 2)
		m.absorb([]USBError{
			{Raw: "a", Address: "5-1"},
			{Raw: "b", Address: "5-2"},
			{Raw: "c", Address: "5-3"},
		}, nil)

		recent := m.Recent()
		require.Len(t, recent, 2)
		assert.Equal(t, "5-2", recent[0].Address)
		assert.Equal(t, "5-3", recent[1].Address)
	})

	t.Run("lines trimmed from history stay deduplicated", func(t *testing.T) {
		m := NewMonitor(time.Hour, 2)
		batch := []USBError{
			{Raw: "a", Address: "5-1"},
			{Raw: "b", Address: "5-2"},
			{Raw: "c", Address: "5-3"},
		}
		m.absorb(batch, nil)

		// dmesg replays its whole ring buffer on every poll, including
		// lines older than our history cap.
		var fresh []USBError
		m.absorb(batch, &fresh)
		assert.Empty(t, fresh, "replayed old lines are not fresh")
		assert.Len(t, m.Recent(), 2)
	})
}
