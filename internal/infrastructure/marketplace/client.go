package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to the marketplace-orders aggregator API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a new marketplace API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// OrdersResponse represents one page of marketplace orders
type OrdersResponse struct {
	Orders     []Order `json:"orders"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// Order represents one marketplace order. Orders are placed before the bank
// settles them, so OrderedAt usually precedes the statement date by days.
type Order struct {
	ID            string     `json:"id"`
	Marketplace   string     `json:"marketplace"`
	OrderRef      string     `json:"order_ref"`
	TotalMinor    int64      `json:"total_minor"`
	ShippingMinor int64      `json:"shipping_minor"`
	Currency      string     `json:"currency"`
	OrderedAt     string     `json:"ordered_at"` // RFC 3339
	LineItems     []LineItem `json:"line_items,omitempty"`
}

// LineItem is one item on an order
type LineItem struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	AmountMinor    int64  `json:"amount_minor"`
}

// GetOrderedAt parses and returns the order timestamp in UTC
func (o *Order) GetOrderedAt() (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, o.OrderedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse ordered_at '%s': %w", o.OrderedAt, err)
	}
	return parsed.UTC(), nil
}

// GetOrders fetches one page of a user's orders.
func (c *Client) GetOrders(ctx context.Context, userRef string, cursor *string) (*OrdersResponse, error) {
	params := url.Values{}
	params.Set("user_ref", userRef)
	if cursor != nil {
		params.Set("cursor", *cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read orders response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketplace request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var page OrdersResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal orders response: %w", err)
	}
	return &page, nil
}
