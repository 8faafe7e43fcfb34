package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Aayuv360/Moha-sub001/pkg/errors"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository"
)

type productKey struct {
	owner     domain.OwnerKey
	productID string
}

// CartStore implements repository.CartStore in process memory. It backs
// local development (CART_STORE=memory) and service tests.
type CartStore struct {
	mu        sync.RWMutex
	items     map[string]*domain.CartItem
	byProduct map[productKey]string
	last      time.Time
	now       func() time.Time
}

// NewCartStore creates an empty store.
func NewCartStore() *CartStore {
	return &CartStore{
		items:     make(map[string]*domain.CartItem),
		byProduct: make(map[productKey]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.CartStore = (*CartStore)(nil)

// tick returns a strictly increasing timestamp so creation order is stable.
func (s *CartStore) tick() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *CartStore) List(_ context.Context, owner domain.OwnerKey) ([]domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.CartItem{}
	for _, item := range s.items {
		if item.OwnerKey == owner {
			out = append(out, *item)
		}
	}
	return domain.NewCart(owner, out).Items, nil
}

func (s *CartStore) Get(_ context.Context, itemID string) (*domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, apperrors.NotFound("cart item", itemID)
	}
	cp := *item
	return &cp, nil
}

func (s *CartStore) Upsert(_ context.Context, owner domain.OwnerKey, productID string, quantity int) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(owner, productID, func(int) int { return quantity }), nil
}

func (s *CartStore) Increment(_ context.Context, owner domain.OwnerKey, productID string, delta int) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(owner, productID, func(cur int) int { return cur + delta }), nil
}

// apply creates or updates owner's item for productID. The caller holds mu.
func (s *CartStore) apply(owner domain.OwnerKey, productID string, qty func(current int) int) *domain.CartItem {
	now := s.tick()
	key := productKey{owner, productID}

	if id, ok := s.byProduct[key]; ok {
		item := s.items[id]
		item.Quantity = qty(item.Quantity)
		item.UpdatedAt = now
		cp := *item
		return &cp
	}

	item := &domain.CartItem{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  qty(0),
		OwnerKey:  owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.items[item.ID] = item
	s.byProduct[key] = item.ID
	cp := *item
	return &cp
}

func (s *CartStore) SetQuantity(_ context.Context, itemID string, quantity int) (*domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, apperrors.NotFound("cart item", itemID)
	}
	item.Quantity = quantity
	item.UpdatedAt = s.tick()
	cp := *item
	return &cp, nil
}

func (s *CartStore) Delete(_ context.Context, itemID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(itemID), nil
}

func (s *CartStore) remove(itemID string) bool {
	item, ok := s.items[itemID]
	if !ok {
		return false
	}
	delete(s.items, itemID)
	delete(s.byProduct, productKey{item.OwnerKey, item.ProductID})
	return true
}

func (s *CartStore) Transfer(_ context.Context, itemID string, from, to domain.OwnerKey) (repository.TransferOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.items[itemID]
	if !ok || src.OwnerKey != from {
		return repository.TransferSkipped, nil
	}

	now := s.tick()
	if destID, ok := s.byProduct[productKey{to, src.ProductID}]; ok {
		dest := s.items[destID]
		dest.Quantity += src.Quantity
		dest.UpdatedAt = now
		s.remove(itemID)
		return repository.TransferCombined, nil
	}

	delete(s.byProduct, productKey{from, src.ProductID})
	src.OwnerKey = to
	src.UpdatedAt = now
	s.byProduct[productKey{to, src.ProductID}] = src.ID
	return repository.TransferMoved, nil
}

func (s *CartStore) DeleteOwner(_ context.Context, owner domain.OwnerKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, item := range s.items {
		if item.OwnerKey == owner {
			s.remove(id)
			n++
		}
	}
	return n, nil
}
