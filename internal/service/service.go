package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"usbscope/internal/config"
	"usbscope/internal/domain"
	"usbscope/internal/hub"
	"usbscope/internal/topology"
)

// Device returns one device by port path.
func (m *Monitor) Device(address string) (*domain.DeviceRecord, error) {
	snap := m.Snapshot()
	if snap == nil {
		return nil, domain.ErrNotFound
	}
	d := snap.Lookup(address)
	if d == nil {
		return nil, domain.ErrNotFound
	}
	return d.Clone(), nil
}

// Tree returns the current root forest.
func (m *Monitor) Tree() []*domain.DeviceRecord {
	snap := m.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.Roots
}

// Refresh forces a rescan of the bus.
func (m *Monitor) Refresh(ctx context.Context) error {
	return m.do(ctx, func(c context.Context) {
		m.rescan(c)
	})
}

// SetDeviceName persists a custom name for a silicon identity and tells
// viewers to re-render. An empty name clears the entry.
func (m *Monitor) SetDeviceName(ctx context.Context, vendorID, productID, name string) error {
	key := vendorID + ":" + productID

	var opErr error
	err := m.do(ctx, func(c context.Context) {
		if opErr = m.store.SetDeviceName(c, key, name); opErr != nil {
			return
		}
		if name == "" {
			delete(m.names, key)
		} else {
			m.names[key] = name
		}
		m.rebuild(time.Now())
		m.publish([]domain.Event{{Type: domain.EventNameUpdated, Time: time.Now()}})
	})
	if err != nil {
		return err
	}
	return opErr
}

// HubLabels returns the persisted hub labels.
func (m *Monitor) HubLabels(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := m.do(ctx, func(context.Context) {
		out = make(map[string]string, len(m.labels))
		for k, v := range m.labels {
			out[k] = v
		}
	})
	return out, err
}

// SetHubLabel persists a hub label. An empty label clears the entry.
func (m *Monitor) SetHubLabel(ctx context.Context, key, label string) error {
	var opErr error
	err := m.do(ctx, func(c context.Context) {
		if opErr = m.store.SetHubLabel(c, key, label); opErr != nil {
			return
		}
		if label == "" {
			delete(m.labels, key)
		} else {
			m.labels[key] = label
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Groups returns the persisted physical groups.
func (m *Monitor) Groups(ctx context.Context) ([]domain.PhysicalGroup, error) {
	var out []domain.PhysicalGroup
	err := m.do(ctx, func(context.Context) {
		out = append([]domain.PhysicalGroup(nil), m.groups...)
	})
	return out, err
}

// CandidateGroups runs the grouping heuristic against the current snapshot,
// suppressing candidates fully covered by confirmed groups.
func (m *Monitor) CandidateGroups(ctx context.Context) ([]domain.PhysicalGroup, error) {
	var out []domain.PhysicalGroup
	err := m.do(ctx, func(context.Context) {
		out = topology.DetectGroups(m.current.Load(), m.groups)
	})
	return out, err
}

// AddGroup persists a confirmed group, stealing members from overlapping
// groups.
func (m *Monitor) AddGroup(ctx context.Context, group domain.PhysicalGroup) error {
	if group.Name == "" {
		return fmt.Errorf("group name required")
	}
	if group.Name == domain.MotherboardGroupName {
		return fmt.Errorf("%q is reserved", domain.MotherboardGroupName)
	}
	group.Confirmed = true

	var opErr error
	err := m.do(ctx, func(c context.Context) {
		if opErr = m.store.AddPhysicalGroup(c, group); opErr != nil {
			return
		}
		opErr = m.reloadGroups(c)
	})
	if err != nil {
		return err
	}
	return opErr
}

// UpdateGroup changes an existing group's label or membership.
func (m *Monitor) UpdateGroup(ctx context.Context, group domain.PhysicalGroup) error {
	group.Confirmed = true

	var opErr error
	err := m.do(ctx, func(c context.Context) {
		if opErr = m.store.UpdatePhysicalGroup(c, group); opErr != nil {
			return
		}
		opErr = m.reloadGroups(c)
	})
	if err != nil {
		return err
	}
	return opErr
}

// RemoveGroup deletes a persisted group.
func (m *Monitor) RemoveGroup(ctx context.Context, name string) error {
	var opErr error
	err := m.do(ctx, func(c context.Context) {
		if opErr = m.store.RemovePhysicalGroup(c, name); opErr != nil {
			return
		}
		opErr = m.reloadGroups(c)
	})
	if err != nil {
		return err
	}
	return opErr
}

// reloadGroups refreshes the group cache after a store mutation; the store
// may have stolen members or pruned groups as side effects.
func (m *Monitor) reloadGroups(ctx context.Context) error {
	groups, err := m.store.PhysicalGroups(ctx)
	if err != nil {
		return err
	}
	m.groups = groups
	return nil
}

// LearningStatus reports the learning session state.
type LearningStatus struct {
	Armed     bool      `json:"armed"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Observed  int       `json:"observed"`
}

// LearningStart warns the user what an unplug is about to risk: storage
// devices currently mounted below external hubs, which lose power when
// their enclosure is pulled.
type LearningStart struct {
	StorageWarning  bool                   `json:"storage_warning"`
	StorageDevices  []domain.DeviceSummary `json:"storage_devices,omitempty"`
	HubsWithStorage []string               `json:"hubs_with_storage,omitempty"`
}

// StartLearning arms the learning session and reports which storage devices
// sit below external hubs so the user can unmount before unplugging.
func (m *Monitor) StartLearning(ctx context.Context) (*LearningStart, error) {
	var (
		start *LearningStart
		opErr error
	)
	err := m.do(ctx, func(context.Context) {
		now := time.Now()
		if opErr = m.session.Start(m.groups, now); opErr != nil {
			return
		}
		start = m.storageExposure()
		m.hub.Publish(domain.Event{Type: domain.EventLearningStarted, Time: now, Data: start})
	})
	if err != nil {
		return nil, err
	}
	return start, opErr
}

// storageExposure walks the current snapshot for storage devices that hang
// below a non-root hub. Loop-owned, so reading the live tree is safe.
func (m *Monitor) storageExposure() *LearningStart {
	start := &LearningStart{}
	snap := m.current.Load()
	if snap == nil {
		return start
	}

	hubs := make(map[string]struct{})
	var walk func(d *domain.DeviceRecord, underHub string)
	walk = func(d *domain.DeviceRecord, underHub string) {
		if d.Class == domain.ClassStorage && underHub != "" {
			start.StorageDevices = append(start.StorageDevices, domain.DeviceSummary{
				Address:     d.Address,
				Name:        d.DisplayName(),
				DeviceClass: d.Class,
			})
			hubs[underHub] = struct{}{}
		}
		if d.IsHub() && !d.IsRootHub {
			underHub = d.Address
		}
		for _, c := range d.Children {
			walk(c, underHub)
		}
	}
	for _, r := range snap.Roots {
		walk(r, "")
	}

	for h := range hubs {
		start.HubsWithStorage = append(start.HubsWithStorage, h)
	}
	sort.Strings(start.HubsWithStorage)
	start.StorageWarning = len(start.StorageDevices) > 0
	return start
}

// PreviewLearning clusters what the armed session has seen so far without
// stopping it.
func (m *Monitor) PreviewLearning(ctx context.Context) (*domain.DetectedGroup, error) {
	var (
		detected *domain.DetectedGroup
		opErr    error
	)
	err := m.do(ctx, func(context.Context) {
		detected, opErr = m.session.Preview(time.Now())
	})
	if err != nil {
		return nil, err
	}
	return detected, opErr
}

// LearningHub describes one external hub a learning session could capture.
type LearningHub struct {
	Address    string `json:"port_path"`
	Name       string `json:"name"`
	VendorID   string `json:"vendor_id"`
	ProductID  string `json:"product_id"`
	HasStorage bool   `json:"has_storage"`
}

// LearningHubs lists the external hubs on the bus, flagging the ones with
// storage devices below them.
func (m *Monitor) LearningHubs(ctx context.Context) ([]LearningHub, error) {
	var out []LearningHub
	err := m.do(ctx, func(context.Context) {
		snap := m.current.Load()
		if snap == nil {
			return
		}
		var walk func(d *domain.DeviceRecord)
		walk = func(d *domain.DeviceRecord) {
			if d.IsHub() && !d.IsRootHub {
				out = append(out, LearningHub{
					Address:    d.Address,
					Name:       d.DisplayName(),
					VendorID:   d.VendorID,
					ProductID:  d.ProductID,
					HasStorage: d.SubtreeContains(domain.ClassStorage),
				})
			}
			for _, c := range d.Children {
				walk(c)
			}
		}
		for _, r := range snap.Roots {
			walk(r)
		}
		sort.Slice(out, func(i, j int) bool {
			return domain.CompareAddresses(out[i].Address, out[j].Address) < 0
		})
	})
	return out, err
}

// HubTest reports a hub identification pulse: the hub being power cycled
// and the hubs cascaded below it that will drop alongside.
type HubTest struct {
	Address    string   `json:"port_path"`
	Cascaded   []string `json:"cascaded,omitempty"`
	HasStorage bool     `json:"has_storage"`
}

// TestHub power cycles one external hub so the user can see which physical
// enclosure blinks. The outcome arrives as a reset_result broadcast, like a
// plain device reset; the returned HubTest says what to expect meanwhile.
func (m *Monitor) TestHub(ctx context.Context, address string) (*HubTest, error) {
	snap := m.Snapshot()
	if snap == nil {
		return nil, domain.ErrNotFound
	}
	d := snap.Lookup(address)
	if d == nil {
		return nil, domain.ErrNotFound
	}
	if !d.IsHub() || d.IsRootHub {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotHub, address)
	}
	if m.resetter == nil {
		return nil, domain.ErrResetFailed
	}

	test := &HubTest{Address: address, HasStorage: d.SubtreeContains(domain.ClassStorage)}
	var walk func(r *domain.DeviceRecord)
	walk = func(r *domain.DeviceRecord) {
		for _, c := range r.Children {
			if c.IsHub() {
				test.Cascaded = append(test.Cascaded, c.Address)
			}
			walk(c)
		}
	}
	walk(d)
	sort.Strings(test.Cascaded)

	go func() {
		err := m.resetter.Reset(context.Background(), address)
		if err != nil {
			m.log.Error().Err(err).Str("port_path", address).Msg("hub test failed")
		}
		m.hub.Publish(domain.NewResetResult(address, err == nil, time.Now()))
	}()

	return test, nil
}

// StopLearning disarms the session. When save is set and a group was
// detected, it is persisted confirmed under the given name (derived from
// the first member when empty).
func (m *Monitor) StopLearning(ctx context.Context, save bool, name, label string) (*domain.DetectedGroup, error) {
	var (
		detected *domain.DetectedGroup
		opErr    error
	)
	err := m.do(ctx, func(c context.Context) {
		now := time.Now()
		detected, opErr = m.session.Stop(now)
		if opErr != nil {
			return
		}

		if save && detected != nil {
			groupName := name
			if groupName == "" {
				groupName = "group-" + detected.Members[0]
			}
			group := domain.PhysicalGroup{
				Name:      groupName,
				Label:     label,
				Members:   detected.Members,
				Confirmed: true,
			}
			if opErr = m.store.AddPhysicalGroup(c, group); opErr != nil {
				return
			}
			if opErr = m.reloadGroups(c); opErr != nil {
				return
			}
		}

		m.hub.Publish(domain.Event{
			Type:     domain.EventLearningStopped,
			Time:     now,
			Detected: detected,
		})
	})
	if err != nil {
		return nil, err
	}
	return detected, opErr
}

// Learning reports whether the session is armed and what it has seen.
func (m *Monitor) Learning(ctx context.Context) (LearningStatus, error) {
	var st LearningStatus
	err := m.do(ctx, func(context.Context) {
		st = LearningStatus{
			Armed:    m.session.Armed(),
			Observed: m.session.Observed(),
		}
		if st.Armed {
			st.StartedAt = m.session.StartedAt()
		}
	})
	return st, err
}

// ResetDevice re-enumerates one device. The reset itself runs off-loop (it
// sleeps while the kernel bounces the device); the outcome is broadcast as
// reset_result and the topology change arrives via the normal watch path.
func (m *Monitor) ResetDevice(ctx context.Context, address string) error {
	snap := m.Snapshot()
	if snap == nil || snap.Lookup(address) == nil {
		return domain.ErrNotFound
	}
	if m.resetter == nil {
		return domain.ErrResetFailed
	}

	go func() {
		err := m.resetter.Reset(context.Background(), address)
		if err != nil {
			m.log.Error().Err(err).Str("port_path", address).Msg("reset failed")
		}
		m.hub.Publish(domain.NewResetResult(address, err == nil, time.Now()))
	}()

	return nil
}

// ApplyPolicy adjusts the timing knobs after a config reload.
func (m *Monitor) ApplyPolicy(ctx context.Context, cfg config.MonitorConfig) error {
	return m.do(ctx, func(context.Context) {
		m.coalescer.SetWindow(cfg.DebounceWindow.Duration())
		m.session.SetWindow(cfg.LearningWindow.Duration())
	})
}

// Control dispatches a websocket control message from one viewer.
func (m *Monitor) Control(ctx context.Context, msg hub.Control) []domain.Event {
	switch msg.Action {
	case "refresh":
		if err := m.Refresh(ctx); err != nil {
			return nil
		}
		return []domain.Event{domain.NewFullTree(m.Snapshot(), time.Now())}

	case "set_name":
		if err := m.SetDeviceName(ctx, msg.VendorID, msg.ProductID, msg.Name); err != nil {
			m.log.Error().Err(err).Str("vendor_id", msg.VendorID).Msg("set_name failed")
			return nil
		}
		return []domain.Event{domain.NewFullTree(m.Snapshot(), time.Now())}

	case "reset_device":
		if err := m.ResetDevice(ctx, msg.Address); err != nil {
			ok := false
			return []domain.Event{{
				Type:    domain.EventResetResult,
				Time:    time.Now(),
				Address: msg.Address,
				Success: &ok,
				Error:   err.Error(),
			}}
		}
		return nil

	default:
		m.log.Debug().Str("action", msg.Action).Msg("unknown control action")
		return nil
	}
}
