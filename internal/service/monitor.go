package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"usbscope/internal/config"
	"usbscope/internal/dmesg"
	"usbscope/internal/domain"
	"usbscope/internal/enumerate"
	"usbscope/internal/hub"
	"usbscope/internal/logger"
	"usbscope/internal/repository"
	"usbscope/internal/topology"
)

// Options wires the monitor's collaborators.
type Options struct {
	Enumerator enumerate.Enumerator
	Resetter   enumerate.Resetter
	Store      repository.Store

	// Errors feeds kernel log errors into the pipeline. Nil disables error
	// annotation.
	Errors <-chan dmesg.USBError

	Config config.MonitorConfig
}

// Monitor owns the canonical topology state.
type Monitor struct {
	enum     enumerate.Enumerator
	resetter enumerate.Resetter
	store    repository.Store
	hub      *hub.Hub
	errsIn   <-chan dmesg.USBError
	log      zerolog.Logger

	current atomic.Pointer[domain.Snapshot]

	// Everything below is owned by the run loop.
	coalescer *topology.Coalescer
	session   *topology.Session
	names     map[string]string   // "vendor:product" -> custom name
	labels    map[string]string   // hub label key -> label
	groups    []domain.PhysicalGroup
	errors    map[string][]string // address -> attached error strings

	requests   chan func(ctx context.Context)
	flushTimer *time.Timer
}

// NewMonitor creates a monitor and its broadcast hub.
func NewMonitor(opts Options) *Monitor {
	cfg := opts.Config

	m := &Monitor{
		enum:      opts.Enumerator,
		resetter:  opts.Resetter,
		store:     opts.Store,
		errsIn:    opts.Errors,
		log:       logger.WithComponent("monitor"),
		coalescer: topology.NewCoalescer(cfg.DebounceWindow.Duration()),
		session:   topology.NewSession(cfg.LearningWindow.Duration()),
		names:     make(map[string]string),
		labels:    make(map[string]string),
		errors:    make(map[string][]string),
		requests:  make(chan func(ctx context.Context)),
	}
	m.hub = hub.New(cfg.ClientQueueSize, m.Snapshot)
	m.flushTimer = time.NewTimer(time.Hour)
	m.flushTimer.Stop()

	return m
}

// Hub exposes the broadcast hub for the HTTP layer.
func (m *Monitor) Hub() *hub.Hub { return m.hub }

// Snapshot returns the current immutable topology snapshot. Safe from any
// goroutine; may be nil before the first scan completes.
func (m *Monitor) Snapshot() *domain.Snapshot {
	return m.current.Load()
}

// Run drives the monitor until ctx is cancelled. It performs the initial
// scan itself, so callers should start it before serving requests.
func (m *Monitor) Run(ctx context.Context) error {
	m.loadAnnotations(ctx)
	m.rescan(ctx)

	changes, err := m.enum.Watch(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, ok := <-changes:
			if !ok {
				return ctx.Err()
			}
			m.rescan(ctx)

		case e, ok := <-m.errsIn:
			if !ok {
				m.errsIn = nil
				continue
			}
			m.attachError(ctx, e)

		case <-m.flushTimer.C:
			m.flush()

		case fn := <-m.requests:
			fn(ctx)
		}
	}
}

// do runs fn on the event loop and waits for it, so every state mutation is
// serialised through one goroutine.
func (m *Monitor) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	wrapped := func(c context.Context) {
		defer close(done)
		fn(c)
	}

	select {
	case m.requests <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadAnnotations pulls names, labels and groups from the store. A broken
// store degrades to an unannotated tree rather than a dead server.
func (m *Monitor) loadAnnotations(ctx context.Context) {
	if names, err := m.store.DeviceNames(ctx); err != nil {
		m.log.Error().Err(err).Msg("loading device names failed")
	} else {
		m.names = names
	}

	if labels, err := m.store.HubLabels(ctx); err != nil {
		m.log.Error().Err(err).Msg("loading hub labels failed")
	} else {
		m.labels = labels
	}

	if groups, err := m.store.PhysicalGroups(ctx); err != nil {
		m.log.Error().Err(err).Msg("loading physical groups failed")
	} else {
		m.groups = groups
	}
}

// rescan runs the full pipeline: enumerate, annotate, build, diff against
// the previous snapshot, debounce, publish.
func (m *Monitor) rescan(ctx context.Context) {
	records, err := m.enum.Scan(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("enumeration failed, keeping previous snapshot")
		return
	}

	now := time.Now()
	m.annotate(records)

	snap, orphans := topology.Build(records, now)
	for _, o := range orphans {
		m.log.Warn().Err(domain.ErrOrphanRecord).
			Str("port_path", o.Address).
			Str("parent_path", o.ParentAddress).
			Msg("dropping record with missing parent")
	}

	prev := m.current.Swap(snap)
	events := topology.Diff(prev, snap, now)
	m.publish(m.coalescer.Feed(events, now))
	m.scheduleFlush()
}

// annotate applies custom names and attached errors to fresh records.
func (m *Monitor) annotate(records []*domain.DeviceRecord) {
	for _, r := range records {
		if name, ok := m.names[r.Key()]; ok {
			r.CustomName = name
		}
		if errs, ok := m.errors[r.Address]; ok {
			r.Errors = append([]string(nil), errs...)
		}
	}
}

// rebuild re-derives the snapshot from its own records after an annotation
// change. No diff: presence did not change, viewers are told separately.
func (m *Monitor) rebuild(now time.Time) {
	cur := m.current.Load()
	if cur == nil {
		return
	}
	records := cur.Records()
	m.annotate(records)
	snap, _ := topology.Build(records, now)
	m.current.Store(snap)
}

// attachError pins a kernel log error onto the affected device and emits a
// device_error event.
func (m *Monitor) attachError(ctx context.Context, e dmesg.USBError) {
	cur := m.current.Load()
	if cur == nil || cur.Lookup(e.Address) == nil {
		// Error for a device we do not (or no longer) track; the dmesg
		// monitor keeps it in its history, nothing to pin it on.
		return
	}

	now := time.Now()
	display := e.Display()
	m.errors[e.Address] = append(m.errors[e.Address], display)
	m.rebuild(now)

	d := m.current.Load().Lookup(e.Address)
	m.publish([]domain.Event{domain.NewDeviceError(e.Address, d, display, now)})

	m.log.Warn().
		Str("port_path", e.Address).
		Str("severity", string(e.Severity)).
		Msg(e.Message)
}

// flush releases expired pending removals.
func (m *Monitor) flush() {
	m.publish(m.coalescer.Flush(time.Now()))
	m.scheduleFlush()
}

func (m *Monitor) scheduleFlush() {
	m.flushTimer.Stop()
	if deadline, ok := m.coalescer.NextDeadline(); ok {
		m.flushTimer.Reset(time.Until(deadline))
	}
}

// publish hands events to subscribers and to the learning session, which
// observes the same stream viewers see.
func (m *Monitor) publish(events []domain.Event) {
	for _, ev := range events {
		if ev.Type == domain.EventDeviceAdded && ev.Recovered {
			delete(m.errors, ev.Address)
		}
		m.hub.Publish(ev)
		m.session.Observe(ev)
	}
}
