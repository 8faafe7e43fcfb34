package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aayuv360/Moha-sub001/pkg/errors"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository"
)

var (
	session = domain.SessionOwner("s-1")
	user    = domain.UserOwner("u-1")
)

func TestCartStore_IncrementAccumulates(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	first, err := s.Increment(ctx, user, "P1", 2)
	require.NoError(t, err)
	second, err := s.Increment(ctx, user, "P1", 3)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Quantity)

	items, err := s.List(ctx, user)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCartStore_IncrementConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Increment(ctx, user, "P1", 1)
		}()
	}
	wg.Wait()

	items, err := s.List(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 50, items[0].Quantity)
}

func TestCartStore_UpsertIsAbsolute(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	_, err := s.Upsert(ctx, user, "P1", 4)
	require.NoError(t, err)
	item, err := s.Upsert(ctx, user, "P1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Quantity)
}

func TestCartStore_GetAndSetQuantity(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	created, err := s.Increment(ctx, session, "P1", 1)
	require.NoError(t, err)

	updated, err := s.SetQuantity(ctx, created.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Quantity)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Quantity)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.SetQuantity(ctx, "missing", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCartStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	item, err := s.Increment(ctx, user, "P1", 1)
	require.NoError(t, err)
	item.Quantity = 100

	got, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Quantity)
}

func TestCartStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	item, err := s.Increment(ctx, user, "P1", 1)
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	again, err := s.Increment(ctx, user, "P1", 1)
	require.NoError(t, err)
	assert.NotEqual(t, item.ID, again.ID)
}

func TestCartStore_Transfer(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	moving, _ := s.Increment(ctx, session, "P1", 2)
	combining, _ := s.Increment(ctx, session, "P2", 4)
	existing, _ := s.Increment(ctx, user, "P2", 1)

	outcome, err := s.Transfer(ctx, moving.ID, session, user)
	require.NoError(t, err)
	assert.Equal(t, repository.TransferMoved, outcome)

	outcome, err = s.Transfer(ctx, combining.ID, session, user)
	require.NoError(t, err)
	assert.Equal(t, repository.TransferCombined, outcome)

	outcome, err = s.Transfer(ctx, moving.ID, session, user)
	require.NoError(t, err)
	assert.Equal(t, repository.TransferSkipped, outcome)

	rekeyed, err := s.Get(ctx, moving.ID)
	require.NoError(t, err)
	assert.Equal(t, user, rekeyed.OwnerKey)

	credited, err := s.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, credited.Quantity)

	_, err = s.Get(ctx, combining.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	left, err := s.List(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, left)

	// The re-keyed item is reachable by product under its new owner.
	bumped, err := s.Increment(ctx, user, "P1", 1)
	require.NoError(t, err)
	assert.Equal(t, moving.ID, bumped.ID)
	assert.Equal(t, 3, bumped.Quantity)
}

func TestCartStore_DeleteOwner(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	_, _ = s.Increment(ctx, session, "P1", 1)
	_, _ = s.Increment(ctx, session, "P2", 1)
	_, _ = s.Increment(ctx, user, "P1", 1)

	n, err := s.DeleteOwner(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteOwner(ctx, session)
	require.NoError(t, err)
	assert.Zero(t, n)

	items, _ := s.List(ctx, user)
	assert.Len(t, items, 1)
}

func TestCartStore_ListOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	for _, p := range []string{"P3", "P1", "P2"} {
		_, err := s.Increment(ctx, user, p, 1)
		require.NoError(t, err)
	}

	items, err := s.List(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"P3", "P1", "P2"}, []string{items[0].ProductID, items[1].ProductID, items[2].ProductID})
}
