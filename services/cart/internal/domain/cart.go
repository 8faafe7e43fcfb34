package domain

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// OwnerKey identifies whose cart an item belongs to. It is namespaced by
// identity kind so a session token can never collide with a user ID.
type OwnerKey string

const (
	sessionPrefix = "session:"
	userPrefix    = "user:"
)

// ErrNoIdentity is returned when neither a user nor a session identity is known.
var ErrNoIdentity = errors.New("no user or session identity")

// SessionOwner returns the owner key for an anonymous session.
func SessionOwner(sessionID string) OwnerKey {
	return OwnerKey(sessionPrefix + sessionID)
}

// UserOwner returns the owner key for an authenticated user.
func UserOwner(userID string) OwnerKey {
	return OwnerKey(userPrefix + userID)
}

// IsUser reports whether k belongs to an authenticated user.
func (k OwnerKey) IsUser() bool {
	return strings.HasPrefix(string(k), userPrefix)
}

// IsSession reports whether k belongs to an anonymous session.
func (k OwnerKey) IsSession() bool {
	return strings.HasPrefix(string(k), sessionPrefix)
}

// ID returns the identity without its namespace.
func (k OwnerKey) ID() string {
	s := string(k)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (k OwnerKey) String() string { return string(k) }

// Identity is what a client knows about itself on a given request.
// UserID is empty while the client is anonymous.
type Identity struct {
	UserID    string
	SessionID string
}

// Authenticated reports whether the identity carries a user.
func (id Identity) Authenticated() bool {
	return id.UserID != ""
}

// ResolveOwnerKey picks the cart that applies right now: the user's when
// authenticated, otherwise the session's. It must be called per operation
// since identity changes on login and logout.
func ResolveOwnerKey(id Identity) (OwnerKey, error) {
	switch {
	case id.UserID != "":
		return UserOwner(id.UserID), nil
	case id.SessionID != "":
		return SessionOwner(id.SessionID), nil
	default:
		return "", ErrNoIdentity
	}
}

// CartItem is one product line in a cart. At most one item exists per
// (OwnerKey, ProductID) and Quantity is always at least 1.
type CartItem struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	OwnerKey  OwnerKey  `json:"owner_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cart is the set of items held under one owner key.
type Cart struct {
	OwnerKey OwnerKey   `json:"owner_key"`
	Items    []CartItem `json:"items"`
}

// NewCart builds a cart with items ordered by creation time, never nil.
func NewCart(owner OwnerKey, items []CartItem) *Cart {
	if items == nil {
		items = []CartItem{}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return &Cart{OwnerKey: owner, Items: items}
}

// ItemCount returns the total quantity across all items.
func (c *Cart) ItemCount() int {
	var n int
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// FindByProduct returns the item for productID, or nil.
func (c *Cart) FindByProduct(productID string) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// QuantitiesByProduct sums quantities per product.
func (c *Cart) QuantitiesByProduct() map[string]int {
	out := make(map[string]int, len(c.Items))
	for _, item := range c.Items {
		out[item.ProductID] += item.Quantity
	}
	return out
}
