package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usbscope/internal/domain"
)

// findGroup returns the group with the given name, or nil.
func findGroup(groups []domain.PhysicalGroup, name string) *domain.PhysicalGroup {
	for i := range groups {
		if groups[i].Name == name {
			return &groups[i]
		}
	}
	return nil
}

func TestDetectGroups(t *testing.T) {
	t.Run("cascaded same-silicon hubs form one candidate", func(t *testing.T) {
		// A 7-port enclosure built from two cascaded Genesys chips.
		snap := snapOf(t,
			dev("usb5"),
			hubDev("5-1", "05e3", "0610"),
			hubDev("5-1.4", "05e3", "0610"),
			dev("5-1.2"),
			dev("5-1.4.1"),
		)

		groups := DetectGroups(snap, nil)
		g := findGroup(groups, "05e3:0610")
		require.NotNil(t, g)
		assert.Equal(t, []string{"5-1", "5-1.4"}, g.Members)
		assert.False(t, g.Confirmed)
	})

	t.Run("singleton candidates are discarded", func(t *testing.T) {
		snap := snapOf(t, dev("usb5"), hubDev("5-1", "05e3", "0610"), dev("5-1.2"))
		groups := DetectGroups(snap, nil)
		assert.Nil(t, findGroup(groups, "05e3:0610"))
	})

	t.Run("same silicon on sibling ports stays separate", func(t *testing.T) {
		// Two independent single-chip hubs of the same model, neither an
		// ancestor of the other.
		snap := snapOf(t,
			dev("usb5"),
			hubDev("5-1", "05e3", "0610"),
			hubDev("5-2", "05e3", "0610"),
		)
		groups := DetectGroups(snap, nil)
		assert.Nil(t, findGroup(groups, "05e3:0610"))
	})

	t.Run("non-matching hub in between does not break the chain", func(t *testing.T) {
		snap := snapOf(t,
			dev("usb5"),
			hubDev("5-1", "05e3", "0610"),
			hubDev("5-1.3", "0bda", "5411"),
			hubDev("5-1.3.2", "05e3", "0610"),
		)
		groups := DetectGroups(snap, nil)
		g := findGroup(groups, "05e3:0610")
		require.NotNil(t, g)
		assert.Equal(t, []string{"5-1", "5-1.3.2"}, g.Members)
	})

	t.Run("root hubs form the motherboard pseudo-group first", func(t *testing.T) {
		snap := snapOf(t, dev("usb1"), dev("usb5"), dev("5-1"))
		groups := DetectGroups(snap, nil)
		require.NotEmpty(t, groups)
		mb := groups[0]
		assert.Equal(t, domain.MotherboardGroupName, mb.Name)
		assert.True(t, mb.Confirmed)
		assert.ElementsMatch(t, []string{"usb1", "usb5"}, mb.Members)
	})

	t.Run("candidate fully claimed by a confirmed group is suppressed", func(t *testing.T) {
		snap := snapOf(t,
			dev("usb5"),
			hubDev("5-1", "05e3", "0610"),
			hubDev("5-1.4", "05e3", "0610"),
		)
		confirmed := []domain.PhysicalGroup{{
			Name:      "desk-hub",
			Members:   []string{"5-1", "5-1.4"},
			Confirmed: true,
		}}
		groups := DetectGroups(snap, confirmed)
		assert.Nil(t, findGroup(groups, "05e3:0610"))
	})

	t.Run("partially claimed candidate survives", func(t *testing.T) {
		snap := snapOf(t,
			dev("usb5"),
			hubDev("5-1", "05e3", "0610"),
			hubDev("5-1.4", "05e3", "0610"),
		)
		confirmed := []domain.PhysicalGroup{{
			Name:      "desk-hub",
			Members:   []string{"5-1"},
			Confirmed: true,
		}}
		groups := DetectGroups(snap, confirmed)
		require.NotNil(t, findGroup(groups, "05e3:0610"))
	})

	t.Run("unconfirmed overlap does not suppress", func(t *testing.T) {
		snap := snapOf(t,
			dev("usb5"),
			hubDev("5-1", "05e3", "0610"),
			hubDev("5-1.4", "05e3", "0610"),
		)
		overlapping := []domain.PhysicalGroup{{
			Name:    "guess",
			Members: []string{"5-1", "5-1.4"},
		}}
		groups := DetectGroups(snap, overlapping)
		assert.NotNil(t, findGroup(groups, "05e3:0610"))
	})

	t.Run("two separate cascades of the same model get distinct names", func(t *testing.T) {
		snap := snapOf(t,
			dev("usb5"),
			hubDev("5-1", "05e3", "0610"),
			hubDev("5-1.4", "05e3", "0610"),
			hubDev("5-2", "05e3", "0610"),
			hubDev("5-2.4", "05e3", "0610"),
		)
		groups := DetectGroups(snap, nil)
		require.NotNil(t, findGroup(groups, "05e3:0610"))
		second := findGroup(groups, "05e3:0610#2")
		require.NotNil(t, second)
		assert.Equal(t, []string{"5-2", "5-2.4"}, second.Members)
	})

	t.Run("detection is deterministic", func(t *testing.T) {
		snap := snapOf(t,
			dev("usb5"),
			hubDev("5-1", "05e3", "0610"),
			hubDev("5-1.4", "05e3", "0610"),
			hubDev("5-2", "0bda", "5411"),
			hubDev("5-2.1", "0bda", "5411"),
		)
		first := DetectGroups(snap, nil)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, DetectGroups(snap, nil))
		}
	})
}
