package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingsBetween_Overlap(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	served := day.Add(-time.Hour)
	still := day.Add(-2 * time.Hour)

	require.NoError(t, s.SaveBookings(ctx,
		canteen.Booking{ID: "before", SlotID: "lunch", Status: canteen.StatusServed, CreatedAt: day.Add(-3 * time.Hour), ServedAt: &served},
		canteen.Booking{ID: "carried", SlotID: "lunch", Status: canteen.StatusPending, CreatedAt: still},
		canteen.Booking{ID: "inside", SlotID: "lunch", Status: canteen.StatusPending, CreatedAt: day.Add(12 * time.Hour)},
		canteen.Booking{ID: "other", SlotID: "dinner", Status: canteen.StatusPending, CreatedAt: day.Add(12 * time.Hour)},
		canteen.Booking{ID: "after", SlotID: "lunch", Status: canteen.StatusPending, CreatedAt: day.Add(25 * time.Hour)},
	))

	got, err := s.BookingsBetween(ctx, "lunch", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "carried", got[0].ID)
	assert.Equal(t, "inside", got[1].ID)

	n, err := s.ActiveCount(ctx, "lunch")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestResolveAlert_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateAlert(ctx, canteen.Alert{ID: "a1", SlotID: "lunch"}))

	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	a, err := s.ResolveAlert(ctx, "a1", "admin-1", "cleared", at)
	require.NoError(t, err)
	assert.True(t, a.Resolved)

	_, err = s.ResolveAlert(ctx, "a1", "admin-2", "again", at.Add(time.Hour))
	assert.ErrorIs(t, err, canteen.ErrAlreadyResolved)

	got, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", got.ResolvedBy)
	assert.Equal(t, at, *got.ResolvedAt)

	_, err = s.ResolveAlert(ctx, "nope", "x", "", at)
	assert.ErrorIs(t, err, canteen.ErrNotFound)

	_, open, err := s.OpenAlert(ctx, "lunch")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestSeed(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx))

	sl, err := s.ListSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, sl, 4)

	items, err := s.ListMenu(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 7)
}
