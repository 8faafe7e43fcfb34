// Package catalog answers whether a product exists, by asking the product
// service.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Aayuv360/Moha-sub001/pkg/httpclient"
)

const serviceName = "product"

// HTTPDoer executes requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is the product catalog client.
type Client struct {
	baseURL string
	http    HTTPDoer
	logger  *slog.Logger
}

// NewClient creates a catalog client rooted at baseURL.
func NewClient(baseURL string, doer HTTPDoer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		logger:  logger,
	}
}

// ProductExists reports whether productID is a known product. A 404 means
// false; transport failures, 5xx responses and an open circuit are returned
// as transient errors.
func (c *Client) ProductExists(ctx context.Context, productID string) (bool, error) {
	endpoint := c.baseURL + "/api/v1/products/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("create product request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "product lookup failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return false, httpclient.Classify(serviceName, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		drain(resp)
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		drain(resp)
		return false, nil
	default:
		return false, httpclient.ParseResponseError(resp, serviceName)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// AllowAll accepts every product ID. It stands in for the catalog when no
// product service is configured.
type AllowAll struct{}

func (AllowAll) ProductExists(context.Context, string) (bool, error) { return true, nil }
