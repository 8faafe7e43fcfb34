package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/Aayuv360/Moha-sub001/pkg/errors"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/event"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository/memory"
	rediscache "github.com/Aayuv360/Moha-sub001/services/cart/internal/repository/redis"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Fakes ---

type fakeCatalog struct {
	products map[string]bool
	err      error
}

func (c *fakeCatalog) ProductExists(_ context.Context, productID string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.products[productID], nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishCartUpdated(ctx context.Context, data event.CartUpdatedData) error {
	return m.Called(ctx, data).Error(0)
}

func (m *mockPublisher) PublishCartMerged(ctx context.Context, data event.CartMergedData) error {
	return m.Called(ctx, data).Error(0)
}

// faultyStore fails selected operations a fixed number of times.
type faultyStore struct {
	repository.CartStore

	mu               sync.Mutex
	transferCalls    int
	failTransferAt   int
	deleteOwnerFails int
	listErr          error
}

func (s *faultyStore) Transfer(ctx context.Context, itemID string, from, to domain.OwnerKey) (repository.TransferOutcome, error) {
	s.mu.Lock()
	s.transferCalls++
	fail := s.transferCalls == s.failTransferAt
	s.mu.Unlock()
	if fail {
		return repository.TransferSkipped, apperrors.Transient("cart store", errors.New("connection reset"))
	}
	return s.CartStore.Transfer(ctx, itemID, from, to)
}

func (s *faultyStore) DeleteOwner(ctx context.Context, owner domain.OwnerKey) (int, error) {
	s.mu.Lock()
	fail := s.deleteOwnerFails > 0
	if fail {
		s.deleteOwnerFails--
	}
	s.mu.Unlock()
	if fail {
		return 0, apperrors.Transient("cart store", errors.New("connection reset"))
	}
	return s.CartStore.DeleteOwner(ctx, owner)
}

func (s *faultyStore) List(ctx context.Context, owner domain.OwnerKey) ([]domain.CartItem, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.CartStore.List(ctx, owner)
}

// --- Helpers ---

const (
	sessionID = "sess-1"
	userID    = "user-1"
)

var (
	sessionOwner = domain.SessionOwner(sessionID)
	userOwner    = domain.UserOwner(userID)
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCatalog() *fakeCatalog {
	return &fakeCatalog{products: map[string]bool{"P1": true, "P2": true, "P3": true, "P4": true}}
}

func newTestService(t *testing.T, store repository.CartStore) *CartService {
	t.Helper()
	if store == nil {
		store = memory.NewCartStore()
	}
	return NewCartService(store, nil, newCatalog(), nil, newTestLogger())
}

func add(t *testing.T, svc *CartService, owner domain.OwnerKey, productID string, qty int) *domain.CartItem {
	t.Helper()
	item, err := svc.AddItem(context.Background(), AddItemInput{Owner: owner, ProductID: productID, Quantity: qty})
	require.NoError(t, err)
	return item
}

func quantities(t *testing.T, svc *CartService, owner domain.OwnerKey) map[string]int {
	t.Helper()
	cart, err := svc.GetCart(context.Background(), owner)
	require.NoError(t, err)
	return cart.QuantitiesByProduct()
}

// --- Scenarios ---

func TestMergeOnLogin_ScenarioA_EmptyUserCart(t *testing.T) {
	svc := newTestService(t, nil)
	add(t, svc, sessionOwner, "P1", 2)

	res, err := svc.MergeOnLogin(context.Background(), sessionID, userID)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"P1": 2}, res.Cart.QuantitiesByProduct())
	assert.Equal(t, 1, res.Moved)
	assert.Empty(t, quantities(t, svc, sessionOwner))
}

func TestMergeOnLogin_ScenarioB_CombinesSameProduct(t *testing.T) {
	svc := newTestService(t, nil)
	add(t, svc, sessionOwner, "P1", 2)
	add(t, svc, userOwner, "P1", 3)

	res, err := svc.MergeOnLogin(context.Background(), sessionID, userID)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"P1": 5}, res.Cart.QuantitiesByProduct())
	assert.Equal(t, 1, res.Combined)
	require.Len(t, res.Cart.Items, 1)
	assert.Empty(t, quantities(t, svc, sessionOwner))
}

func TestMergeOnLogin_ScenarioC_EmptySessionCart(t *testing.T) {
	svc := newTestService(t, nil)
	before := add(t, svc, userOwner, "P2", 1)

	res, err := svc.MergeOnLogin(context.Background(), sessionID, userID)
	require.NoError(t, err)

	require.Len(t, res.Cart.Items, 1)
	if diff := cmp.Diff(*before, res.Cart.Items[0]); diff != "" {
		t.Errorf("user cart changed (-before +after):\n%s", diff)
	}
	assert.Zero(t, res.Moved+res.Combined+res.Skipped)
}

func TestAddItem_ScenarioD_ZeroQuantity(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.AddItem(context.Background(), AddItemInput{Owner: userOwner, ProductID: "P3", Quantity: 0})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Empty(t, quantities(t, svc, userOwner))
}

func TestRemoveItem_ScenarioE_Nonexistent(t *testing.T) {
	svc := newTestService(t, nil)
	assert.NoError(t, svc.RemoveItem(context.Background(), userOwner, "nonexistent-id"))
}

// --- Properties ---

func TestAddItem_Additive(t *testing.T) {
	svc := newTestService(t, nil)

	first := add(t, svc, sessionOwner, "P1", 2)
	second := add(t, svc, sessionOwner, "P1", 3)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, map[string]int{"P1": 5}, quantities(t, svc, sessionOwner))
}

func TestAddItem_Validation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		input AddItemInput
	}{
		{"missing owner", AddItemInput{ProductID: "P1", Quantity: 1}},
		{"missing product", AddItemInput{Owner: userOwner, Quantity: 1}},
		{"negative quantity", AddItemInput{Owner: userOwner, ProductID: "P1", Quantity: -1}},
		{"quantity too large", AddItemInput{Owner: userOwner, ProductID: "P1", Quantity: MaxQuantityPerRequest + 1}},
		{"unknown product", AddItemInput{Owner: userOwner, ProductID: "nope", Quantity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddItem(ctx, tt.input)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.False(t, apperrors.IsRetryable(err))
		})
	}
}

func TestAddItem_CatalogUnavailableIsTransient(t *testing.T) {
	catalog := &fakeCatalog{err: apperrors.Transient("product", errors.New("dial tcp: refused"))}
	svc := NewCartService(memory.NewCartStore(), nil, catalog, nil, newTestLogger())

	_, err := svc.AddItem(context.Background(), AddItemInput{Owner: userOwner, ProductID: "P1", Quantity: 1})
	assert.True(t, apperrors.IsRetryable(err))
}

func TestAddItem_ConcurrentAddsAreNotLost(t *testing.T) {
	svc := newTestService(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(context.Background(), AddItemInput{Owner: userOwner, ProductID: "P1", Quantity: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"P1": 25}, quantities(t, svc, userOwner))
	assert.Zero(t, svc.locks.size())
}

func TestAddItem_PublishesEvent(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishCartUpdated", mock.Anything, mock.MatchedBy(func(d event.CartUpdatedData) bool {
		return d.Action == event.ActionItemAdded && d.OwnerKey == string(userOwner) && d.Quantity == 2
	})).Return(nil).Once()

	svc := NewCartService(memory.NewCartStore(), nil, newCatalog(), pub, newTestLogger())
	add(t, svc, userOwner, "P1", 2)

	pub.AssertExpectations(t)
}

func TestAddItem_PublishFailureDoesNotFailMutation(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishCartUpdated", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	svc := NewCartService(memory.NewCartStore(), nil, newCatalog(), pub, newTestLogger())
	add(t, svc, userOwner, "P1", 2)

	assert.Equal(t, map[string]int{"P1": 2}, quantities(t, svc, userOwner))
}

func TestUpdateQuantity(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	item := add(t, svc, userOwner, "P1", 2)

	updated, err := svc.UpdateQuantity(ctx, userOwner, item.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, updated.Quantity)
	assert.Equal(t, map[string]int{"P1": 7}, quantities(t, svc, userOwner))
}

func TestUpdateQuantity_Errors(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	item := add(t, svc, userOwner, "P1", 2)

	_, err := svc.UpdateQuantity(ctx, userOwner, item.ID, 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.UpdateQuantity(ctx, userOwner, "missing", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.UpdateQuantity(ctx, sessionOwner, item.ID, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "foreign items are not visible")
	assert.Equal(t, map[string]int{"P1": 2}, quantities(t, svc, userOwner))
}

func TestRemoveItem_Idempotent(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	item := add(t, svc, userOwner, "P1", 2)

	require.NoError(t, svc.RemoveItem(ctx, userOwner, item.ID))
	require.NoError(t, svc.RemoveItem(ctx, userOwner, item.ID))
	assert.Empty(t, quantities(t, svc, userOwner))
}

func TestRemoveItem_ForeignItemIsNoop(t *testing.T) {
	svc := newTestService(t, nil)
	item := add(t, svc, userOwner, "P1", 2)

	require.NoError(t, svc.RemoveItem(context.Background(), sessionOwner, item.ID))
	assert.Equal(t, map[string]int{"P1": 2}, quantities(t, svc, userOwner))
}

func TestGetCart_UnknownOwnerIsEmpty(t *testing.T) {
	svc := newTestService(t, nil)

	cart, err := svc.GetCart(context.Background(), domain.UserOwner("nobody"))
	require.NoError(t, err)
	assert.NotNil(t, cart.Items)
	assert.Empty(t, cart.Items)
}

func TestGetCart_DeadlineIsTransient(t *testing.T) {
	store := &faultyStore{CartStore: memory.NewCartStore(), listErr: context.DeadlineExceeded}
	svc := newTestService(t, store)

	_, err := svc.GetCart(context.Background(), userOwner)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestMergeOnLogin_Idempotent(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	add(t, svc, sessionOwner, "P1", 2)
	add(t, svc, sessionOwner, "P2", 1)
	add(t, svc, userOwner, "P1", 3)

	first, err := svc.MergeOnLogin(ctx, sessionID, userID)
	require.NoError(t, err)
	second, err := svc.MergeOnLogin(ctx, sessionID, userID)
	require.NoError(t, err)

	if diff := cmp.Diff(first.Cart, second.Cart); diff != "" {
		t.Errorf("second merge changed the user cart (-first +second):\n%s", diff)
	}
	assert.Zero(t, second.Moved+second.Combined+second.Skipped)
}

func TestMergeOnLogin_PreservesQuantities(t *testing.T) {
	svc := newTestService(t, nil)
	add(t, svc, sessionOwner, "P1", 2)
	add(t, svc, sessionOwner, "P2", 4)
	add(t, svc, sessionOwner, "P3", 1)
	add(t, svc, userOwner, "P2", 6)
	add(t, svc, userOwner, "P4", 9)

	want := map[string]int{"P1": 2, "P2": 10, "P3": 1, "P4": 9}

	res, err := svc.MergeOnLogin(context.Background(), sessionID, userID)
	require.NoError(t, err)

	if diff := cmp.Diff(want, res.Cart.QuantitiesByProduct()); diff != "" {
		t.Errorf("merged quantities mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, res.Moved)
	assert.Equal(t, 1, res.Combined)
	assert.Empty(t, quantities(t, svc, sessionOwner))
}

func TestMergeOnLogin_KeepsMovedItemIDs(t *testing.T) {
	svc := newTestService(t, nil)
	item := add(t, svc, sessionOwner, "P1", 2)

	res, err := svc.MergeOnLogin(context.Background(), sessionID, userID)
	require.NoError(t, err)

	require.Len(t, res.Cart.Items, 1)
	assert.Equal(t, item.ID, res.Cart.Items[0].ID)
	assert.Equal(t, userOwner, res.Cart.Items[0].OwnerKey)
}

func TestMergeOnLogin_RetryAfterPartialTransfer(t *testing.T) {
	store := &faultyStore{CartStore: memory.NewCartStore(), failTransferAt: 2}
	svc := newTestService(t, store)
	ctx := context.Background()

	add(t, svc, sessionOwner, "P1", 2)
	add(t, svc, sessionOwner, "P2", 3)
	add(t, svc, sessionOwner, "P3", 1)
	add(t, svc, userOwner, "P1", 5)

	_, err := svc.MergeOnLogin(ctx, sessionID, userID)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	res, err := svc.MergeOnLogin(ctx, sessionID, userID)
	require.NoError(t, err)

	want := map[string]int{"P1": 7, "P2": 3, "P3": 1}
	if diff := cmp.Diff(want, res.Cart.QuantitiesByProduct()); diff != "" {
		t.Errorf("retry double counted (-want +got):\n%s", diff)
	}
	assert.Empty(t, quantities(t, svc, sessionOwner))
}

func TestMergeOnLogin_RetryAfterResidualDeleteFailure(t *testing.T) {
	store := &faultyStore{CartStore: memory.NewCartStore(), deleteOwnerFails: 1}
	svc := newTestService(t, store)
	ctx := context.Background()

	add(t, svc, sessionOwner, "P1", 2)
	add(t, svc, userOwner, "P1", 1)

	_, err := svc.MergeOnLogin(ctx, sessionID, userID)
	require.Error(t, err)

	res, err := svc.MergeOnLogin(ctx, sessionID, userID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"P1": 3}, res.Cart.QuantitiesByProduct())
}

func TestMergeOnLogin_Validation(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.MergeOnLogin(context.Background(), "", userID)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.MergeOnLogin(context.Background(), sessionID, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestMergeOnLogin_PublishesMergedEventOnce(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishCartUpdated", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishCartMerged", mock.Anything, event.CartMergedData{
		SessionOwner: string(sessionOwner),
		UserOwner:    string(userOwner),
		Moved:        1,
		Combined:     1,
		ItemCount:    3,
	}).Return(nil).Once()

	svc := NewCartService(memory.NewCartStore(), nil, newCatalog(), pub, newTestLogger())
	add(t, svc, sessionOwner, "P1", 1)
	add(t, svc, sessionOwner, "P2", 1)
	add(t, svc, userOwner, "P1", 1)

	_, err := svc.MergeOnLogin(context.Background(), sessionID, userID)
	require.NoError(t, err)
	_, err = svc.MergeOnLogin(context.Background(), sessionID, userID)
	require.NoError(t, err)

	pub.AssertExpectations(t)
}

func TestMergeOnLogin_ConcurrentWithAdds(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	add(t, svc, sessionOwner, "P1", 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.MergeOnLogin(ctx, sessionID, userID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, AddItemInput{Owner: userOwner, ProductID: "P1", Quantity: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"P1": 11}, quantities(t, svc, userOwner))
	assert.Zero(t, svc.locks.size())
}

// --- Cache integration ---

func newCachedService(t *testing.T) (*CartService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	cache := rediscache.NewCartCache(client, rediscache.Config{TTL: time.Hour, Fresh: time.Minute, LoadTimeout: time.Second}, newTestLogger())
	t.Cleanup(cache.Close)

	return NewCartService(memory.NewCartStore(), cache, newCatalog(), nil, newTestLogger()), mr
}

func TestCache_MutationsInvalidate(t *testing.T) {
	svc, _ := newCachedService(t)
	ctx := context.Background()

	assert.Empty(t, quantities(t, svc, userOwner))

	item := add(t, svc, userOwner, "P1", 2)
	assert.Equal(t, map[string]int{"P1": 2}, quantities(t, svc, userOwner))

	_, err := svc.UpdateQuantity(ctx, userOwner, item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"P1": 4}, quantities(t, svc, userOwner))

	require.NoError(t, svc.RemoveItem(ctx, userOwner, item.ID))
	assert.Empty(t, quantities(t, svc, userOwner))
}

func TestCache_MergeInvalidatesBothOwners(t *testing.T) {
	svc, _ := newCachedService(t)
	add(t, svc, sessionOwner, "P1", 2)
	add(t, svc, userOwner, "P1", 1)

	// Warm both entries.
	assert.Equal(t, map[string]int{"P1": 2}, quantities(t, svc, sessionOwner))
	assert.Equal(t, map[string]int{"P1": 1}, quantities(t, svc, userOwner))

	_, err := svc.MergeOnLogin(context.Background(), sessionID, userID)
	require.NoError(t, err)

	assert.Empty(t, quantities(t, svc, sessionOwner))
	assert.Equal(t, map[string]int{"P1": 3}, quantities(t, svc, userOwner))
}

func TestCache_InvalidationFailureDoesNotFailMutation(t *testing.T) {
	svc, mr := newCachedService(t)
	mr.Close()

	item := add(t, svc, userOwner, "P1", 2)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, map[string]int{"P1": 2}, quantities(t, svc, userOwner))
}

// stallingStore blocks the first List until release is closed.
type stallingStore struct {
	repository.CartStore
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *stallingStore) List(ctx context.Context, owner domain.OwnerKey) ([]domain.CartItem, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		items, err := s.CartStore.List(ctx, owner)
		close(s.started)
		<-s.release
		return items, err
	}
	return s.CartStore.List(ctx, owner)
}

func TestCache_ReadAfterAddSeesTheAdd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	cache := rediscache.NewCartCache(client, rediscache.Config{TTL: time.Hour, Fresh: time.Minute, LoadTimeout: 5 * time.Second}, newTestLogger())
	t.Cleanup(cache.Close)

	store := &stallingStore{
		CartStore: memory.NewCartStore(),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	svc := NewCartService(store, cache, newCatalog(), nil, newTestLogger())
	ctx := context.Background()

	stalled := make(chan *domain.Cart, 1)
	go func() {
		cart, err := svc.GetCart(ctx, sessionOwner)
		assert.NoError(t, err)
		stalled <- cart
	}()
	<-store.started

	add(t, svc, sessionOwner, "P1", 2)

	cart, err := svc.GetCart(ctx, sessionOwner)
	close(store.release)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"P1": 2}, cart.QuantitiesByProduct())

	assert.Empty(t, (<-stalled).Items)
	assert.Equal(t, map[string]int{"P1": 2}, quantities(t, svc, sessionOwner))
}
