package bankfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidGrant means the refresh token (or authorization code) was
// rejected. The user must re-authorize; nothing retries this.
var ErrInvalidGrant = errors.New("bank feed rejected the grant")

const tokenPath = "/oauth/token"

// TokenGrant is the provider's token response. Exchange responses also carry
// the institution the user picked.
type TokenGrant struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"` // seconds
	InstitutionID   string `json:"institution_id,omitempty"`
	InstitutionName string `json:"institution_name,omitempty"`
}

// ExpiresAt converts ExpiresIn to an absolute UTC expiry from now.
func (g *TokenGrant) ExpiresAt() time.Time {
	return time.Now().UTC().Add(time.Duration(g.ExpiresIn) * time.Second)
}

type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// AuthClient drives the provider's OAuth flow: building the consent URL,
// exchanging codes, refreshing tokens.
type AuthClient struct {
	httpClient   *http.Client
	authBaseURL  string
	clientID     string
	clientSecret string
}

// NewAuthClient creates a new OAuth client for the bank-feed provider
func NewAuthClient(authBaseURL, clientID, clientSecret string) *AuthClient {
	return &AuthClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		authBaseURL:  authBaseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// AuthorizationURL builds the consent URL the user is redirected to. The
// provider shows its institution picker and calls back with a code.
func (a *AuthClient) AuthorizationURL(state, redirectURI string) string {
	params := url.Values{}
	params.Add("client_id", a.clientID)
	params.Add("redirect_uri", redirectURI)
	params.Add("response_type", "code")
	params.Add("scope", "accounts transactions")
	params.Add("state", state)
	return a.authBaseURL + "/oauth/authorize?" + params.Encode()
}

// Exchange trades an authorization code for a token pair.
func (a *AuthClient) Exchange(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	return a.token(ctx, data)
}

// Refresh trades a refresh token for a fresh pair. Refresh tokens are
// single-use: the returned pair replaces the stored one.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return a.token(ctx, data)
}

func (a *AuthClient) token(ctx context.Context, data url.Values) (*TokenGrant, error) {
	data.Set("client_id", a.clientID)
	data.Set("client_secret", a.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authBaseURL+tokenPath, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read token response: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var oerr oauthError
		if jsonErr := json.Unmarshal(body, &oerr); jsonErr == nil && oerr.Error == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, oerr.Description)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w (status %d): %s", ErrUpstreamUnavailable, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var grant TokenGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	return &grant, nil
}
