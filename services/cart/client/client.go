// Package client is a Go client for the cart API. Session models a
// storefront tab: anonymous until login, then bound to the user's cart.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Aayuv360/Moha-sub001/pkg/httpclient"
)

const serviceName = "cart"

// CartItem is one product line as returned by the API.
type CartItem struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	OwnerKey  string    `json:"owner_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cart is an owner's items.
type Cart struct {
	OwnerKey string     `json:"owner_key"`
	Items    []CartItem `json:"items"`
}

// Quantities sums item quantities per product.
func (c *Cart) Quantities() map[string]int {
	out := make(map[string]int, len(c.Items))
	for _, item := range c.Items {
		out[item.ProductID] += item.Quantity
	}
	return out
}

// MergeResult is the outcome of a login merge.
type MergeResult struct {
	Cart     Cart `json:"cart"`
	Moved    int  `json:"moved"`
	Combined int  `json:"combined"`
	Skipped  int  `json:"skipped"`
}

// Identity is the credential set sent with a request. Token is the raw
// bearer token; an empty token means anonymous.
type Identity struct {
	SessionID string
	Token     string
}

// HTTPDoer executes requests. *httpclient.Client satisfies it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client calls the cart API. Failed calls return the errors of
// pkg/errors: validation, not found, unauthorized or transient.
type Client struct {
	baseURL string
	http    HTTPDoer
}

// New creates a client rooted at baseURL. A nil doer gets an
// httpclient.Client with default retries.
func New(baseURL string, doer HTTPDoer) *Client {
	if doer == nil {
		doer = httpclient.New(httpclient.DefaultConfig())
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// GetCart returns the cart the identity resolves to.
func (c *Client) GetCart(ctx context.Context, id Identity) (*Cart, error) {
	var cart Cart
	if err := c.call(ctx, id, http.MethodGet, "/api/v1/cart", nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddItem adds quantity of productID to the identity's cart.
func (c *Client) AddItem(ctx context.Context, id Identity, productID string, quantity int) (*CartItem, error) {
	body := map[string]any{"product_id": productID, "quantity": quantity}
	var item CartItem
	if err := c.call(ctx, id, http.MethodPost, "/api/v1/cart/items", body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateQuantity sets the quantity of an item in the identity's cart.
func (c *Client) UpdateQuantity(ctx context.Context, id Identity, itemID string, quantity int) (*CartItem, error) {
	body := map[string]any{"quantity": quantity}
	var item CartItem
	if err := c.call(ctx, id, http.MethodPut, "/api/v1/cart/items/"+url.PathEscape(itemID), body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveItem deletes an item. Removing an absent item succeeds.
func (c *Client) RemoveItem(ctx context.Context, id Identity, itemID string) error {
	return c.call(ctx, id, http.MethodDelete, "/api/v1/cart/items/"+url.PathEscape(itemID), nil, nil)
}

// Merge folds the session cart into the user cart. id must carry both a
// session and a token.
func (c *Client) Merge(ctx context.Context, id Identity) (*MergeResult, error) {
	var result MergeResult
	if err := c.call(ctx, id, http.MethodPost, "/api/v1/cart/merge", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, id Identity, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s %s request: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id.SessionID != "" {
		req.Header.Set("X-Session-ID", id.SessionID)
	}
	if id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return httpclient.Classify(serviceName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s data: %w", method, path, err)
	}
	return nil
}
