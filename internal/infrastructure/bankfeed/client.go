package bankfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultPageLimit = 500

	// The provider allows 10 requests per second per client credential.
	requestsPerSecond = 10
	requestBurst      = 10

	accountsPath     = "/v1/accounts"
	transactionsPath = "/v1/transactions"
)

var (
	// ErrUnauthorized means the provider rejected the access token. Callers
	// treat this as an auth failure on the connection, not a retry.
	ErrUnauthorized = errors.New("bank feed rejected the access token")

	// ErrUpstreamUnavailable covers 429, 5xx and transport failures. The
	// cursor is untouched; the next tick retries.
	ErrUpstreamUnavailable = errors.New("bank feed unavailable")
)

// Client handles communication with the bank-feed provider API
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	pageSize   int
}

// ClientOptions override the client defaults. Zero values keep the default.
type ClientOptions struct {
	Timeout   time.Duration
	PageSize  int
	RateLimit float64 // requests per second
	RateBurst int
}

// NewClient creates a bank-feed API client with default options.
func NewClient(baseURL string) *Client {
	return NewClientWithOptions(baseURL, ClientOptions{})
}

// NewClientWithOptions creates a bank-feed API client with the given
// overrides applied.
func NewClientWithOptions(baseURL string, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageLimit
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = requestsPerSecond
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = requestBurst
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  baseURL,
		limiter:  rate.NewLimiter(rate.Limit(limit), burst),
		pageSize: pageSize,
	}
}

// AccountsResponse represents the API response for account snapshots
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// Account represents an account snapshot from the provider. Balances arrive
// in currency minor units.
type Account struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	BalanceMinor int64  `json:"balance_minor"`
	BalanceAsOf  string `json:"balance_as_of"` // RFC 3339
}

// GetBalanceAsOf parses and returns the balance timestamp
func (a *Account) GetBalanceAsOf() (*time.Time, error) {
	if a.BalanceAsOf == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, a.BalanceAsOf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance_as_of '%s': %w", a.BalanceAsOf, err)
	}
	t = t.UTC()
	return &t, nil
}

// TransactionsResponse represents one page of provider transactions
type TransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
	NextCursor   *string       `json:"next_cursor"`
	HasMore      bool          `json:"has_more"`
}

// Transaction represents a booked transaction from the provider. Amounts
// arrive signed in minor units; negative is money out.
type Transaction struct {
	ID              string `json:"id"`
	AccountID       string `json:"account_id"`
	Description     string `json:"description"`
	Reference       string `json:"reference,omitempty"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	BookedAt        string `json:"booked_at"` // RFC 3339
	TransactionType string `json:"transaction_type,omitempty"`
	CategoryCode    string `json:"category_code,omitempty"`
}

// GetBookedAt parses and returns the booking timestamp in UTC
func (t *Transaction) GetBookedAt() (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, t.BookedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse booked_at '%s': %w", t.BookedAt, err)
	}
	return parsed.UTC(), nil
}

// ErrorResponse represents an error payload from the provider
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GetAccounts fetches the current account snapshots for a connection
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error) {
	body, err := c.get(ctx, accessToken, c.baseURL+accountsPath)
	if err != nil {
		return nil, err
	}

	var resp AccountsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts response: %w", err)
	}
	return &resp, nil
}

// GetTransactions fetches one page of transactions. A nil cursor starts from
// startDate (YYYY-MM-DD); otherwise the cursor is the provider's page token.
func (c *Client) GetTransactions(ctx context.Context, accessToken string, cursor *string, startDate string) (*TransactionsResponse, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", c.pageSize))
	if cursor != nil {
		params.Set("cursor", *cursor)
	} else if startDate != "" {
		params.Set("from", startDate)
	}

	body, err := c.get(ctx, accessToken, c.baseURL+transactionsPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp TransactionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transactions response: %w", err)
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, accessToken, fullURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

// classifyStatus maps provider status codes onto the two failure classes the
// sync pipeline distinguishes: auth failures versus retryable outages.
func classifyStatus(status int, body []byte) error {
	var errResp ErrorResponse
	detail := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		detail = errResp.Error
		if errResp.Message != "" {
			detail += ": " + errResp.Message
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (status %d): %s", ErrUnauthorized, status, detail)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w (status %d): %s", ErrUpstreamUnavailable, status, detail)
	default:
		return fmt.Errorf("bank feed request failed (status %d): %s", status, detail)
	}
}
