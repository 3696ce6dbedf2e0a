package topology

import (
	"sort"
	"time"

	"usbscope/internal/domain"
)

// DefaultLearningWindow bounds how far apart two hub disappearances may be
// and still count as one physical unplug. Cascaded chips inside one enclosure
// drop off within tens of milliseconds of each other; two seconds leaves
// generous slack for slow kernels without merging separate unplugs.
const DefaultLearningWindow = 2 * time.Second

// SessionState is the lifecycle phase of a learning session.
type SessionState string

const (
	SessionIdle  SessionState = "idle"
	SessionArmed SessionState = "armed"
)

// observation is one hub disappearance seen while armed.
type observation struct {
	at     time.Time
	addr   string
	record *domain.DeviceRecord
}

// Session implements interactive group learning: the user arms the session,
// physically unplugs the enclosure they want to name, and stops. While
// armed, the session watches the published event stream for hub removals;
// on stop, the densest burst of disappearances is the detected group.
//
// The session is owned and driven by the single writer goroutine alongside
// the coalescer, so it carries no locking of its own.
type Session struct {
	window  time.Duration
	state   SessionState
	started time.Time
	claimed map[string]struct{}
	seen    []observation
}

// NewSession creates an idle session with the given correlation window. A
// zero or negative window falls back to DefaultLearningWindow.
func NewSession(window time.Duration) *Session {
	if window <= 0 {
		window = DefaultLearningWindow
	}
	return &Session{window: window, state: SessionIdle}
}

// SetWindow adjusts the correlation window for future sessions. It does not
// re-cluster observations already recorded by an armed session.
func (s *Session) SetWindow(window time.Duration) {
	if window > 0 {
		s.window = window
	}
}

// State reports the current lifecycle phase.
func (s *Session) State() SessionState { return s.state }

// Armed reports whether the session is currently recording.
func (s *Session) Armed() bool { return s.state == SessionArmed }

// StartedAt reports when the armed session began recording.
func (s *Session) StartedAt() time.Time { return s.started }

// Observed reports how many hub disappearances the armed session has seen.
func (s *Session) Observed() int { return len(s.seen) }

// Start arms the session. Addresses already claimed by a confirmed group are
// noted so that, at stop time, they can be reported as skipped rather than
// proposed again. Starting an armed session fails with ErrAlreadyArmed.
func (s *Session) Start(confirmed []domain.PhysicalGroup, now time.Time) error {
	if s.state == SessionArmed {
		return domain.ErrAlreadyArmed
	}
	s.state = SessionArmed
	s.started = now
	s.claimed = domain.ConfirmedMembers(confirmed)
	s.seen = nil
	return nil
}

// Observe feeds one published event to the session. Only removals of
// non-root hubs are recorded; everything else is ignored. Coalesced flaps
// never reach the session because the coalescer suppresses them upstream.
func (s *Session) Observe(ev domain.Event) {
	if s.state != SessionArmed || ev.Type != domain.EventDeviceRemoved {
		return
	}
	d := ev.Record()
	if d == nil || !d.IsHub() || d.IsRootHub {
		return
	}
	s.seen = append(s.seen, observation{at: ev.Time, addr: ev.Address, record: d})
}

// Stop disarms the session and clusters its observations: disappearances are
// grouped into bursts, a new burst starting whenever the gap from the
// burst's first event exceeds the window, and the largest burst wins. Bursts
// of a single hub are discarded as noise.
//
// Within the winning burst, addresses already claimed by a confirmed group
// go to SkippedExisting; the rest become Members. Stop returns nil when no
// burst of at least two hubs was seen, or when every hub in the winning
// burst was already claimed. Stopping an idle session fails with
// ErrNotArmed.
func (s *Session) Stop(now time.Time) (*domain.DetectedGroup, error) {
	if s.state != SessionArmed {
		return nil, domain.ErrNotArmed
	}
	s.state = SessionIdle

	seen := s.seen
	s.seen = nil
	return s.detect(seen, now), nil
}

// Preview clusters what the armed session has recorded so far without
// disarming it, so the user can check whether the unplug registered before
// committing. Previewing an idle session fails with ErrNotArmed.
func (s *Session) Preview(now time.Time) (*domain.DetectedGroup, error) {
	if s.state != SessionArmed {
		return nil, domain.ErrNotArmed
	}
	return s.detect(s.seen, now), nil
}

// detect runs the burst clustering over a set of observations. It copies
// before sorting so a preview never reorders the live recording.
func (s *Session) detect(obs []observation, now time.Time) *domain.DetectedGroup {
	if len(obs) == 0 {
		return nil
	}

	seen := append([]observation(nil), obs...)
	sort.SliceStable(seen, func(i, j int) bool { return seen[i].at.Before(seen[j].at) })

	var bursts [][]observation
	start := seen[0].at
	current := []observation{seen[0]}
	for _, o := range seen[1:] {
		if o.at.Sub(start) > s.window {
			bursts = append(bursts, current)
			current = nil
			start = o.at
		}
		current = append(current, o)
	}
	bursts = append(bursts, current)

	var best []observation
	for _, b := range bursts {
		if len(b) > len(best) {
			best = b
		}
	}
	if len(dedupe(best)) < 2 {
		return nil
	}

	detected := &domain.DetectedGroup{Timestamp: now}
	for _, o := range dedupe(best) {
		// The removal record carries the hub's last known subtree; a storage
		// device below any burst member means the unplug severed a disk.
		if o.record.SubtreeContains(domain.ClassStorage) {
			detected.HasStorage = true
		}
		if _, taken := s.claimed[o.addr]; taken {
			detected.SkippedExisting = append(detected.SkippedExisting, o.addr)
			continue
		}
		detected.Members = append(detected.Members, o.addr)
		detected.Devices = append(detected.Devices, domain.DeviceSummary{
			Address:     o.addr,
			Name:        o.record.DisplayName(),
			DeviceClass: o.record.Class,
		})
	}
	sort.Strings(detected.Members)
	sort.Strings(detected.SkippedExisting)
	sort.Slice(detected.Devices, func(i, j int) bool {
		return detected.Devices[i].Address < detected.Devices[j].Address
	})

	if len(detected.Members) == 0 {
		return nil
	}
	return detected
}

// dedupe keeps the first observation per address, preserving arrival order.
func dedupe(obs []observation) []observation {
	seen := make(map[string]struct{}, len(obs))
	out := obs[:0:0]
	for _, o := range obs {
		if _, dup := seen[o.addr]; dup {
			continue
		}
		seen[o.addr] = struct{}{}
		out = append(out, o)
	}
	return out
}
