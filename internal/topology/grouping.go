package topology

import (
	"fmt"
	"sort"

	"usbscope/internal/domain"
)

// DetectGroups proposes candidate physical hub groups for a snapshot.
//
// A multi-port enclosure built from cascaded hub chips exposes N logical hub
// nodes with identical silicon ids, always connected through each other. So
// two hubs land in the same candidate iff they share (vendor_id, product_id)
// and one is an ancestor of the other. Intermediate non-matching hubs do
// not break the chain, and a common matching ancestor transitively joins its
// whole cascade. Candidates of size 1 are discarded.
//
// Root hubs are excluded from the heuristic and always reported first as the
// fixed host-controller pseudo-group: they are part of the motherboard by
// construction, not guesswork.
//
// A candidate is suppressed only when every member is already claimed by a
// confirmed group; partial overlap keeps the candidate. The heuristic is
// advisory and may over- or under-group.
//
// Running DetectGroups twice on the same snapshot yields the same groups.
func DetectGroups(snap *domain.Snapshot, confirmed []domain.PhysicalGroup) []domain.PhysicalGroup {
	var groups []domain.PhysicalGroup

	if mb := motherboardGroup(snap); mb != nil {
		groups = append(groups, *mb)
	}

	hubs := snap.Hubs(false)
	if len(hubs) < 2 {
		return groups
	}

	// Union same-silicon hubs along ancestor chains.
	parent := make(map[string]string, len(hubs))
	for _, h := range hubs {
		parent[h.Address] = h.Address
	}
	var find func(string) string
	find = func(a string) string {
		if parent[a] != a {
			parent[a] = find(parent[a])
		}
		return parent[a]
	}
	union := func(a, b string) { parent[find(a)] = find(b) }

	for i, a := range hubs {
		for _, b := range hubs[i+1:] {
			if a.Key() != b.Key() {
				continue
			}
			if domain.IsAncestorAddress(a.Address, b.Address) ||
				domain.IsAncestorAddress(b.Address, a.Address) {
				union(a.Address, b.Address)
			}
		}
	}

	clusters := make(map[string][]*domain.DeviceRecord)
	for _, h := range hubs {
		root := find(h.Address)
		clusters[root] = append(clusters[root], h)
	}

	claimed := domain.ConfirmedMembers(confirmed)

	roots := make([]string, 0, len(clusters))
	for r := range clusters {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return domain.CompareAddresses(roots[i], roots[j]) < 0 })

	keyCount := make(map[string]int)
	for _, r := range roots {
		members := clusters[r]
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return domain.CompareAddresses(members[i].Address, members[j].Address) < 0
		})

		addrs := make([]string, len(members))
		allClaimed := true
		for i, m := range members {
			addrs[i] = m.Address
			if _, ok := claimed[m.Address]; !ok {
				allClaimed = false
			}
		}
		if allClaimed {
			continue
		}

		key := members[0].Key()
		keyCount[key]++
		name := key
		if keyCount[key] > 1 {
			name = fmt.Sprintf("%s#%d", key, keyCount[key])
		}

		groups = append(groups, domain.PhysicalGroup{
			Name:    name,
			Label:   members[0].DisplayName(),
			Members: addrs,
		})
	}

	return groups
}

// motherboardGroup collects every root hub into the fixed host-controller
// pseudo-group. Nil when the snapshot has no root hubs at all.
func motherboardGroup(snap *domain.Snapshot) *domain.PhysicalGroup {
	var members []string
	for _, h := range snap.Hubs(true) {
		if h.IsRootHub {
			members = append(members, h.Address)
		}
	}
	if len(members) == 0 {
		return nil
	}
	return &domain.PhysicalGroup{
		Name:      domain.MotherboardGroupName,
		Label:     "Host controller",
		Members:   members,
		Confirmed: true,
	}
}
