package receiptmail

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

// Client talks to the receipt-inbox API. The inbox parses forwarded purchase
// emails into structured receipts; this side only pulls the results.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a new receipt-inbox API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// ReceiptsResponse represents one page of parsed receipts
type ReceiptsResponse struct {
	Receipts   []Receipt `json:"receipts"`
	NextCursor *string   `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

// Receipt represents one parsed purchase email. Amounts are minor units.
type Receipt struct {
	ID          string     `json:"id"`
	Seller      string     `json:"seller"`
	OrderRef    string     `json:"order_ref,omitempty"`
	TotalMinor  int64      `json:"total_minor"`
	TaxMinor    int64      `json:"tax_minor"`
	Currency    string     `json:"currency"`
	PurchasedAt string     `json:"purchased_at"` // RFC 3339
	LineItems   []LineItem `json:"line_items,omitempty"`
}

// LineItem is one purchased item on a receipt
type LineItem struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	AmountMinor    int64  `json:"amount_minor"`
}

// GetPurchasedAt parses and returns the purchase timestamp in UTC
func (r *Receipt) GetPurchasedAt() (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, r.PurchasedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse purchased_at '%s': %w", r.PurchasedAt, err)
	}
	return parsed.UTC(), nil
}

// GetReceipts fetches one page of a user's parsed receipts.
func (c *Client) GetReceipts(ctx context.Context, userRef string, cursor *string) (*ReceiptsResponse, error) {
	params := url.Values{}
	params.Set("user_ref", userRef)
	if cursor != nil {
		params.Set("cursor", *cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/receipts?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipts: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("receipt inbox request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var page ReceiptsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipts response: %w", err)
	}
	return &page, nil
}
