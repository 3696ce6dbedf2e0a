package domain

import (
	"sort"
	"time"
)

// Snapshot is an immutable view of the USB topology: one tree per root hub,
// children owned by composition, plus a flat index keyed by address.
//
// Snapshots are built once and never mutated afterwards; a new enumeration
// pass produces a new snapshot, and the differ compares the two.
type Snapshot struct {
	Roots []*DeviceRecord `json:"devices"`
	Taken time.Time       `json:"taken"`

	index map[string]*DeviceRecord
}

// NewSnapshot indexes the given roots. The caller hands over ownership of
// the records; nothing else may hold a mutable reference afterwards.
func NewSnapshot(roots []*DeviceRecord, taken time.Time) *Snapshot {
	s := &Snapshot{
		Roots: roots,
		Taken: taken,
		index: make(map[string]*DeviceRecord),
	}
	for _, r := range roots {
		s.indexTree(r)
	}
	return s
}

func (s *Snapshot) indexTree(d *DeviceRecord) {
	s.index[d.Address] = d
	for _, c := range d.Children {
		s.indexTree(c)
	}
}

// Lookup returns the record at the given address, or nil.
func (s *Snapshot) Lookup(address string) *DeviceRecord {
	if s == nil {
		return nil
	}
	return s.index[address]
}

// Len returns the number of devices in the snapshot, hubs included.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.index)
}

// Flatten returns the address -> record mapping. The map is freshly
// allocated but the records are shared; callers must not mutate them.
func (s *Snapshot) Flatten() map[string]*DeviceRecord {
	out := make(map[string]*DeviceRecord)
	if s == nil {
		return out
	}
	for addr, d := range s.index {
		out[addr] = d
	}
	return out
}

// Addresses returns every address in the snapshot in stable order.
func (s *Snapshot) Addresses() []string {
	if s == nil {
		return nil
	}
	addrs := make([]string, 0, len(s.index))
	for a := range s.index {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return CompareAddresses(addrs[i], addrs[j]) < 0 })
	return addrs
}

// Hubs returns all hub records, root hubs excluded unless includeRoots.
func (s *Snapshot) Hubs(includeRoots bool) []*DeviceRecord {
	if s == nil {
		return nil
	}
	var hubs []*DeviceRecord
	for _, a := range s.Addresses() {
		d := s.index[a]
		if !d.IsHub() {
			continue
		}
		if d.IsRootHub && !includeRoots {
			continue
		}
		hubs = append(hubs, d)
	}
	return hubs
}

// Records returns deep copies of all records as a flat list, suitable for
// rebuilding a fresh snapshot with modifications applied.
func (s *Snapshot) Records() []*DeviceRecord {
	if s == nil {
		return nil
	}
	records := make([]*DeviceRecord, 0, len(s.index))
	for _, a := range s.Addresses() {
		c := *s.index[a]
		c.Children = nil
		c.Errors = append([]string(nil), s.index[a].Errors...)
		c.DeviceNodes = append([]string(nil), s.index[a].DeviceNodes...)
		records = append(records, &c)
	}
	return records
}
