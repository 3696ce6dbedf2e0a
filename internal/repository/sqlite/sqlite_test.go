package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usbscope/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeviceNames(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("empty store has no names", func(t *testing.T) {
		names, err := s.DeviceNames(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("set and read back", func(t *testing.T) {
		require.NoError(t, s.SetDeviceName(ctx, "046d:c52b", "Desk Receiver"))
		require.NoError(t, s.SetDeviceName(ctx, "0781:5581", "Backup Stick"))

		names, err := s.DeviceNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"046d:c52b": "Desk Receiver",
			"0781:5581": "Backup Stick",
		}, names)
	})

	t.Run("overwrite replaces", func(t *testing.T) {
		require.NoError(t, s.SetDeviceName(ctx, "046d:c52b", "Logi Receiver"))
		names, err := s.DeviceNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Logi Receiver", names["046d:c52b"])
	})

	t.Run("empty name deletes", func(t *testing.T) {
		require.NoError(t, s.SetDeviceName(ctx, "0781:5581", ""))
		names, err := s.DeviceNames(ctx)
		require.NoError(t, err)
		_, ok := names["0781:5581"]
		assert.False(t, ok)
	})
}

func TestHubLabels(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetHubLabel(ctx, "05e3:0610", "Desk Hub"))
	require.NoError(t, s.SetHubLabel(ctx, "05e3:0610@5-1", "Desk Hub (left)"))
	require.NoError(t, s.SetHubLabel(ctx, "motherboard", "Workstation"))

	labels, err := s.HubLabels(ctx)
	require.NoError(t, err)
	assert.Len(t, labels, 3)
	assert.Equal(t, "Desk Hub (left)", labels["05e3:0610@5-1"])
	assert.Equal(t, "Workstation", labels["motherboard"])

	require.NoError(t, s.SetHubLabel(ctx, "motherboard", ""))
	labels, err = s.HubLabels(ctx)
	require.NoError(t, err)
	assert.Len(t, labels, 2)
}

func TestPhysicalGroups(t *testing.T) {
	ctx := context.Background()

	t.Run("add and read back with sorted members", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AddPhysicalGroup(ctx, domain.PhysicalGroup{
			Name:      "desk-hub",
			Label:     "Desk Hub",
			Members:   []string{"5-1.10", "5-1", "5-1.9"},
			Confirmed: true,
		}))

		groups, err := s.PhysicalGroups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "desk-hub", groups[0].Name)
		assert.True(t, groups[0].Confirmed)
		assert.Equal(t, []string{"5-1", "5-1.9", "5-1.10"}, groups[0].Members,
			"members come back in port order")
	})

	t.Run("add steals overlapping members and prunes emptied groups", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AddPhysicalGroup(ctx, domain.PhysicalGroup{
			Name: "old", Members: []string{"5-1", "5-1.4"}, Confirmed: true,
		}))
		require.NoError(t, s.AddPhysicalGroup(ctx, domain.PhysicalGroup{
			Name: "survivor", Members: []string{"5-2", "5-3"}, Confirmed: true,
		}))

		// Takes both of old's members and one of survivor's.
		require.NoError(t, s.AddPhysicalGroup(ctx, domain.PhysicalGroup{
			Name: "new", Members: []string{"5-1", "5-1.4", "5-2"}, Confirmed: true,
		}))

		groups, err := s.PhysicalGroups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 2)

		byName := make(map[string]domain.PhysicalGroup)
		for _, g := range groups {
			byName[g.Name] = g
		}
		assert.NotContains(t, byName, "old", "emptied group is deleted")
		assert.Equal(t, []string{"5-3"}, byName["survivor"].Members)
		assert.Equal(t, []string{"5-1", "5-1.4", "5-2"}, byName["new"].Members)
	})

	t.Run("re-adding a name replaces its membership", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AddPhysicalGroup(ctx, domain.PhysicalGroup{
			Name: "g", Members: []string{"5-1", "5-2"}, Confirmed: true,
		}))
		require.NoError(t, s.AddPhysicalGroup(ctx, domain.PhysicalGroup{
			Name: "g", Label: "renamed", Members: []string{"5-3"}, Confirmed: true,
		}))

		groups, err := s.PhysicalGroups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "renamed", groups[0].Label)
		assert.Equal(t, []string{"5-3"}, groups[0].Members)
	})

	t.Run("update changes label and membership", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AddPhysicalGroup(ctx, domain.PhysicalGroup{
			Name: "g", Members: []string{"5-1"}, Confirmed: true,
		}))

		require.NoError(t, s.UpdatePhysicalGroup(ctx, domain.PhysicalGroup{
			Name: "g", Label: "My Hub", Members: []string{"5-1", "5-1.4"}, Confirmed: true,
		}))

		groups, err := s.PhysicalGroups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "My Hub", groups[0].Label)
		assert.Equal(t, []string{"5-1", "5-1.4"}, groups[0].Members)
	})

	t.Run("update of unknown group fails", func(t *testing.T) {
		s := newTestStore(t)
		err := s.UpdatePhysicalGroup(ctx, domain.PhysicalGroup{Name: "ghost"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("remove deletes group and members", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AddPhysicalGroup(ctx, domain.PhysicalGroup{
			Name: "g", Members: []string{"5-1"}, Confirmed: true,
		}))
		require.NoError(t, s.RemovePhysicalGroup(ctx, "g"))

		groups, err := s.PhysicalGroups(ctx)
		require.NoError(t, err)
		assert.Empty(t, groups)

		assert.ErrorIs(t, s.RemovePhysicalGroup(ctx, "g"), domain.ErrNotFound)
	})
}
