package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	apperrors "github.com/Aayuv360/Moha-sub001/pkg/errors"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/event"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository"
)

// MaxQuantityPerRequest bounds the quantity a single add or update may set.
// Merged quantities are not capped.
const MaxQuantityPerRequest = 10_000

const invalidateTimeout = 2 * time.Second

// ProductCatalog answers whether a product exists.
type ProductCatalog interface {
	ProductExists(ctx context.Context, productID string) (bool, error)
}

// EventPublisher publishes cart domain events.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, data event.CartUpdatedData) error
	PublishCartMerged(ctx context.Context, data event.CartMergedData) error
}

// AddItemInput holds the parameters for adding a product to a cart.
type AddItemInput struct {
	Owner     domain.OwnerKey
	ProductID string
	Quantity  int
}

// MergeResult describes a completed merge.
type MergeResult struct {
	Cart     *domain.Cart `json:"cart"`
	Moved    int          `json:"moved"`
	Combined int          `json:"combined"`
	Skipped  int          `json:"skipped"`
}

// CartService implements cart reads, mutations and the session-to-user
// merge performed at login.
type CartService struct {
	store   repository.CartStore
	cache   repository.CartCache
	catalog ProductCatalog
	events  EventPublisher
	logger  *slog.Logger
	locks   *keyLocker
}

// NewCartService creates a new cart service. A nil cache disables caching
// and a nil publisher discards events.
func NewCartService(
	store repository.CartStore,
	cache repository.CartCache,
	catalog ProductCatalog,
	events EventPublisher,
	logger *slog.Logger,
) *CartService {
	if cache == nil {
		cache = repository.NopCache{}
	}
	if events == nil {
		events = event.Nop{}
	}
	return &CartService{
		store:   store,
		cache:   cache,
		catalog: catalog,
		events:  events,
		logger:  logger,
		locks:   newKeyLocker(),
	}
}

// GetCart returns owner's cart. An owner with no items gets an empty cart.
func (s *CartService) GetCart(ctx context.Context, owner domain.OwnerKey) (*domain.Cart, error) {
	if owner == "" {
		return nil, apperrors.Validation("owner key is required")
	}

	items, err := s.cache.Fetch(ctx, owner, func(ctx context.Context) ([]domain.CartItem, error) {
		return s.store.List(ctx, owner)
	})
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", classify("cart store", err))
	}

	return domain.NewCart(owner, slices.Clone(items)), nil
}

// AddItem adds quantity of a product to owner's cart, increasing the
// existing item for that product if there is one.
func (s *CartService) AddItem(ctx context.Context, input AddItemInput) (*domain.CartItem, error) {
	if input.Owner == "" {
		return nil, apperrors.Validation("owner key is required")
	}
	if input.ProductID == "" {
		return nil, apperrors.Validation("product id is required")
	}
	if err := validateQuantity(input.Quantity); err != nil {
		return nil, err
	}

	exists, err := s.catalog.ProductExists(ctx, input.ProductID)
	if err != nil {
		return nil, fmt.Errorf("check product %s: %w", input.ProductID, classify("product catalog", err))
	}
	if !exists {
		return nil, apperrors.Validation(fmt.Sprintf("product %s does not exist", input.ProductID))
	}

	unlock := s.locks.Lock(input.Owner)
	defer unlock()

	item, err := s.store.Increment(ctx, input.Owner, input.ProductID, input.Quantity)
	if err != nil {
		return nil, fmt.Errorf("add item: %w", classify("cart store", err))
	}
	s.invalidate(ctx, input.Owner)

	s.logger.InfoContext(ctx, "cart item added",
		slog.String("owner_key", string(input.Owner)),
		slog.String("product_id", input.ProductID),
		slog.Int("added", input.Quantity),
		slog.Int("quantity", item.Quantity),
	)
	s.publishUpdated(ctx, event.ActionItemAdded, item)

	return item, nil
}

// UpdateQuantity sets the quantity of one of owner's items. An item that
// does not exist or belongs to another owner is reported as not found.
func (s *CartService) UpdateQuantity(ctx context.Context, owner domain.OwnerKey, itemID string, quantity int) (*domain.CartItem, error) {
	if owner == "" {
		return nil, apperrors.Validation("owner key is required")
	}
	if itemID == "" {
		return nil, apperrors.Validation("item id is required")
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	current, err := s.store.Get(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("update quantity: %w", classify("cart store", err))
	}
	if current.OwnerKey != owner {
		return nil, apperrors.NotFound("cart item", itemID)
	}

	item, err := s.store.SetQuantity(ctx, itemID, quantity)
	if err != nil {
		return nil, fmt.Errorf("update quantity: %w", classify("cart store", err))
	}
	s.invalidate(ctx, owner)

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("owner_key", string(owner)),
		slog.String("item_id", itemID),
		slog.Int("quantity", quantity),
	)
	s.publishUpdated(ctx, event.ActionItemUpdated, item)

	return item, nil
}

// RemoveItem deletes one of owner's items. Removing an item that does not
// exist, or that belongs to another owner, succeeds without effect.
func (s *CartService) RemoveItem(ctx context.Context, owner domain.OwnerKey, itemID string) error {
	if owner == "" {
		return apperrors.Validation("owner key is required")
	}
	if itemID == "" {
		return nil
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	current, err := s.store.Get(ctx, itemID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove item: %w", classify("cart store", err))
	}
	if current.OwnerKey != owner {
		s.logger.DebugContext(ctx, "ignoring removal of foreign cart item",
			slog.String("owner_key", string(owner)),
			slog.String("item_id", itemID),
		)
		return nil
	}

	deleted, err := s.store.Delete(ctx, itemID)
	if err != nil {
		return fmt.Errorf("remove item: %w", classify("cart store", err))
	}
	s.invalidate(ctx, owner)
	if !deleted {
		return nil
	}

	s.logger.InfoContext(ctx, "cart item removed",
		slog.String("owner_key", string(owner)),
		slog.String("item_id", itemID),
	)
	s.publishUpdated(ctx, event.ActionItemRemoved, current)

	return nil
}

// MergeOnLogin moves the session's cart into the user's cart and returns
// the user's cart. Items for a product the user already holds are combined
// by adding quantities; the rest are re-keyed to the user.
//
// Each item moves in its own atomic store operation, so a retry after a
// partial failure only handles what is left in the session cart. Calling it
// again once it has succeeded is a no-op.
func (s *CartService) MergeOnLogin(ctx context.Context, sessionID, userID string) (result *MergeResult, err error) {
	if sessionID == "" {
		return nil, apperrors.Validation("session id is required")
	}
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	session := domain.SessionOwner(sessionID)
	user := domain.UserOwner(userID)

	unlock := s.locks.Lock(session, user)
	defer unlock()

	// Both carts may have changed even if the merge fails part way.
	defer s.invalidate(ctx, session, user)

	defer func() {
		if err != nil {
			cartMergesTotal.WithLabelValues("error").Inc()
			return
		}
		cartMergesTotal.WithLabelValues("success").Inc()
	}()

	sessionItems, err := s.store.List(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("merge: load session cart: %w", classify("cart store", err))
	}
	userItems, err := s.store.List(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("merge: load user cart: %w", classify("cart store", err))
	}

	result = &MergeResult{}
	for _, item := range sessionItems {
		outcome, err := s.store.Transfer(ctx, item.ID, session, user)
		if err != nil {
			return nil, fmt.Errorf("merge: transfer item %s: %w", item.ID, classify("cart store", err))
		}
		cartMergedItemsTotal.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case repository.TransferMoved:
			result.Moved++
		case repository.TransferCombined:
			result.Combined++
		default:
			result.Skipped++
		}
	}

	residual, err := s.store.DeleteOwner(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("merge: clear session cart: %w", classify("cart store", err))
	}

	merged, err := s.store.List(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("merge: load merged cart: %w", classify("cart store", err))
	}
	result.Cart = domain.NewCart(user, merged)

	s.logger.InfoContext(ctx, "session cart merged",
		slog.String("session_owner", string(session)),
		slog.String("user_owner", string(user)),
		slog.Int("session_items", len(sessionItems)),
		slog.Int("user_items_before", len(userItems)),
		slog.Int("moved", result.Moved),
		slog.Int("combined", result.Combined),
		slog.Int("skipped", result.Skipped),
		slog.Int("residual_removed", residual),
	)

	if result.Moved+result.Combined > 0 {
		data := event.CartMergedData{
			SessionOwner: string(session),
			UserOwner:    string(user),
			Moved:        result.Moved,
			Combined:     result.Combined,
			ItemCount:    result.Cart.ItemCount(),
		}
		if err := s.events.PublishCartMerged(ctx, data); err != nil {
			s.logger.WarnContext(ctx, "failed to publish cart.merged event",
				slog.String("user_owner", string(user)),
				slog.String("error", err.Error()),
			)
		}
	}

	return result, nil
}

// invalidate drops the cache entries of owners. It runs detached from the
// request's cancellation; a failure is logged and counted, never returned,
// since the mutation itself has already been committed.
func (s *CartService) invalidate(ctx context.Context, owners ...domain.OwnerKey) {
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	if err := s.cache.Invalidate(ictx, owners...); err != nil {
		cartCacheInvalidationErrors.Inc()
		s.logger.ErrorContext(ctx, "failed to invalidate cart cache",
			slog.Any("owners", owners),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CartService) publishUpdated(ctx context.Context, action event.Action, item *domain.CartItem) {
	data := event.CartUpdatedData{
		OwnerKey:  string(item.OwnerKey),
		Action:    action,
		ItemID:    item.ID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
	}
	if err := s.events.PublishCartUpdated(ctx, data); err != nil {
		s.logger.WarnContext(ctx, "failed to publish cart.updated event",
			slog.String("owner_key", data.OwnerKey),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	}
}

func validateQuantity(quantity int) error {
	if quantity < 1 {
		return apperrors.Validation("quantity must be at least 1")
	}
	if quantity > MaxQuantityPerRequest {
		return apperrors.Validation(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerRequest))
	}
	return nil
}

// classify turns an expired deadline into a transient error. Errors that
// already carry a classification pass through.
func classify(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Transient(op, err)
	}
	return err
}
