package topology

import (
	"sort"
	"time"

	"usbscope/internal/domain"
)

// Build assembles a flat set of enumeration records into a rooted forest,
// one tree per root hub, children ordered by address.
//
// Records whose declared parent is absent from the input (directly or
// through a dropped ancestor) are returned as orphans; the caller logs them
// with domain.ErrOrphanRecord and moves on. One broken device must never
// blank the whole tree.
//
// Build deep-copies its input, so the returned snapshot is immutable no
// matter what the caller does with the records afterwards.
func Build(records []*domain.DeviceRecord, taken time.Time) (*domain.Snapshot, []*domain.DeviceRecord) {
	byAddr := make(map[string]*domain.DeviceRecord, len(records))
	for _, r := range records {
		c := r.Clone()
		c.Children = nil
		if c.ParentAddress == "" && !c.IsRootHub {
			c.ParentAddress = domain.ParentAddressOf(c.Address)
		}
		byAddr[c.Address] = c
	}

	var roots []*domain.DeviceRecord
	children := make(map[string][]*domain.DeviceRecord)
	for _, d := range byAddr {
		if d.IsRootHub || d.ParentAddress == "" {
			roots = append(roots, d)
			continue
		}
		children[d.ParentAddress] = append(children[d.ParentAddress], d)
	}

	// Attach subtrees reachable from a root; whatever is left over had a
	// missing ancestor somewhere and is reported as orphaned.
	attached := make(map[string]bool, len(byAddr))
	var attach func(d *domain.DeviceRecord)
	attach = func(d *domain.DeviceRecord) {
		attached[d.Address] = true
		kids := children[d.Address]
		sort.Slice(kids, func(i, j int) bool {
			return domain.CompareAddresses(kids[i].Address, kids[j].Address) < 0
		})
		d.Children = kids
		for _, k := range kids {
			attach(k)
		}
	}

	sort.Slice(roots, func(i, j int) bool {
		return domain.CompareAddresses(roots[i].Address, roots[j].Address) < 0
	})
	for _, r := range roots {
		attach(r)
	}

	var orphans []*domain.DeviceRecord
	for _, d := range byAddr {
		if !attached[d.Address] {
			d.Children = nil
			orphans = append(orphans, d)
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		return domain.CompareAddresses(orphans[i].Address, orphans[j].Address) < 0
	})

	return domain.NewSnapshot(roots, taken), orphans
}
