package repository

import (
	"context"

	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
)

// TransferOutcome describes what Transfer did with one source item.
type TransferOutcome int

const (
	// TransferSkipped means the source item no longer belongs to the source
	// owner, typically because an earlier attempt already moved it.
	TransferSkipped TransferOutcome = iota
	// TransferMoved means the item was re-keyed to the destination owner.
	TransferMoved
	// TransferCombined means the destination already held the product; its
	// quantity was increased and the source item deleted.
	TransferCombined
)

func (o TransferOutcome) String() string {
	switch o {
	case TransferMoved:
		return "moved"
	case TransferCombined:
		return "combined"
	default:
		return "skipped"
	}
}

// CartStore is the persistence contract for cart items. Implementations
// return errors wrapping apperrors.ErrNotFound for unknown item IDs and
// apperrors.ErrTransient for connectivity or timeout failures.
type CartStore interface {
	// List returns every item held by owner. An unknown owner yields an
	// empty slice.
	List(ctx context.Context, owner domain.OwnerKey) ([]domain.CartItem, error)

	Get(ctx context.Context, itemID string) (*domain.CartItem, error)

	// Upsert sets the quantity of owner's item for productID, creating it
	// if needed.
	Upsert(ctx context.Context, owner domain.OwnerKey, productID string, quantity int) (*domain.CartItem, error)

	// Increment atomically adds delta to owner's item for productID,
	// creating it with quantity delta if needed.
	Increment(ctx context.Context, owner domain.OwnerKey, productID string, delta int) (*domain.CartItem, error)

	SetQuantity(ctx context.Context, itemID string, quantity int) (*domain.CartItem, error)

	// Delete removes an item, reporting whether it existed.
	Delete(ctx context.Context, itemID string) (bool, error)

	// Transfer atomically moves one item from one owner to another,
	// combining with an existing item for the same product. Removing the
	// source and crediting the destination happen together, so calling it
	// again after success is a no-op.
	Transfer(ctx context.Context, itemID string, from, to domain.OwnerKey) (TransferOutcome, error)

	// DeleteOwner removes every item held by owner and returns how many.
	DeleteOwner(ctx context.Context, owner domain.OwnerKey) (int, error)
}

// Loader reads an owner's items from the authoritative store.
type Loader func(ctx context.Context) ([]domain.CartItem, error)

// CartCache is a read-through cache of cart contents keyed by owner.
type CartCache interface {
	// Fetch returns the cached items for owner, calling load on a miss.
	Fetch(ctx context.Context, owner domain.OwnerKey, load Loader) ([]domain.CartItem, error)

	// Invalidate drops the entries for owners so the next Fetch reloads.
	Invalidate(ctx context.Context, owners ...domain.OwnerKey) error
}

// NopCache disables caching: every Fetch goes to the store.
type NopCache struct{}

func (NopCache) Fetch(ctx context.Context, _ domain.OwnerKey, load Loader) ([]domain.CartItem, error) {
	return load(ctx)
}

func (NopCache) Invalidate(context.Context, ...domain.OwnerKey) error { return nil }
