package dmesg

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"

	"usbscope/internal/logger"
)

const (
	maxRetries     = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
	commandTimeout = 5 * time.Second
)

// Monitor polls the kernel log and emits USB errors it has not seen before.
// Lines present at startup form the baseline and are retained for queries
// but never emitted; only errors appearing after the monitor started flow
// into the pipeline.
type Monitor struct {
	interval time.Duration
	history  int
	log      zerolog.Logger

	// read runs the dmesg command; swapped out in tests.
	read func(ctx context.Context) (string, error)

	mu     sync.Mutex
	recent []USBError
	seen   map[string]struct{}
}

// NewMonitor creates a kernel log poller. history caps how many errors are
// retained for the /api/errors report.
func NewMonitor(interval time.Duration, history int) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if history <= 0 {
		history = 200
	}
	return &Monitor{
		interval: interval,
		history:  history,
		log:      logger.WithComponent("dmesg"),
		read:     runDmesg,
		seen:     make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled, sending each new error to the returned
// channel. The channel closes on cancellation. A host where dmesg is not
// readable degrades to an empty error feed, not a failure.
func (m *Monitor) Run(ctx context.Context) <-chan USBError {
	out := make(chan USBError, 16)

	go func() {
		defer close(out)

		// Baseline: whatever is already in the log is old news.
		if output, err := m.readWithRetry(ctx); err == nil {
			m.absorb(Parse(output, time.Now()), nil)
		} else {
			m.log.Warn().Err(err).Msg("dmesg unavailable, error annotation disabled until it recovers")
		}

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			output, err := m.readWithRetry(ctx)
			if err != nil {
				m.log.Debug().Err(err).Msg("dmesg poll failed")
				continue
			}

			var fresh []USBError
			m.absorb(Parse(output, time.Now()), &fresh)

			for _, e := range fresh {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Recent returns the retained errors, newest last.
func (m *Monitor) Recent() []USBError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]USBError(nil), m.recent...)
}

// absorb records errors not seen before. When fresh is non-nil the new ones
// are also appended to it for emission.
func (m *Monitor) absorb(errors []USBError, fresh *[]USBError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range errors {
		if _, dup := m.seen[e.Raw]; dup {
			continue
		}
		m.seen[e.Raw] = struct{}{}
		m.recent = append(m.recent, e)
		if fresh != nil {
			*fresh = append(*fresh, e)
		}
	}

	// Trim the report history only. The seen set must keep every raw line:
	// dmesg keeps replaying lines older than our cap, and forgetting them
	// would re-emit them as fresh errors. The set is bounded by the kernel's
	// own log ring buffer.
	if len(m.recent) > m.history {
		m.recent = append([]USBError(nil), m.recent[len(m.recent)-m.history:]...)
	}
}

func (m *Monitor) readWithRetry(ctx context.Context) (string, error) {
	return retry.DoWithData(func() (string, error) {
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return m.read(cctx)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
}

func runDmesg(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "dmesg").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
