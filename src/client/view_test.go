package client

import (
	"testing"

	"token-observer/src/models"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func TestViewLastWriteWins(t *testing.T) {
	view := NewTokenView()

	view.ApplyList([]models.MToken{
		{Address: "0xaaa", Price: 1},
		{Address: "0xbbb", Price: 2},
	})
	view.ApplyUpdate(models.MToken{Address: "0xaaa", Price: 9})

	got, ok := view.Get("0xaaa")
	require.True(t, ok)
	require.Equal(t, float64(9), got.Price)
	require.Equal(t, 2, view.Len())
}

// -----------------------------------------------------------------------------

func TestViewConvergesAcrossInterleavings(t *testing.T) {
	list := []models.MToken{
		{Address: "0xaaa", Price: 1},
		{Address: "0xbbb", Price: 2},
	}
	updates := []models.MToken{
		{Address: "0xaaa", Price: 5},
		{Address: "0xccc", Price: 3},
		{Address: "0xaaa", Price: 7},
	}

	// One view sees the snapshot first, the other sees it mid-stream; both
	// observe the same final record per id
	first := NewTokenView()
	first.ApplyList(list)
	for _, u := range updates {
		first.ApplyUpdate(u)
	}

	second := NewTokenView()
	second.ApplyUpdate(updates[0])
	second.ApplyList(list)
	second.ApplyUpdate(models.MToken{Address: "0xaaa", Price: 5})
	second.ApplyUpdate(updates[1])
	second.ApplyUpdate(updates[2])

	require.Equal(t, first.Snapshot(), second.Snapshot())
}

// -----------------------------------------------------------------------------

func TestViewCaseInsensitiveIDs(t *testing.T) {
	view := NewTokenView()
	view.ApplyUpdate(models.MToken{Address: "0xAbC", Price: 1})
	view.ApplyUpdate(models.MToken{Address: "0xabc", Price: 2})

	require.Equal(t, 1, view.Len())
	got, ok := view.Get("0xABC")
	require.True(t, ok)
	require.Equal(t, float64(2), got.Price)
}
