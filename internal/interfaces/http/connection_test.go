package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tally/internal/domain/connection"
	"tally/internal/infrastructure/bankfeed"
	"tally/internal/infrastructure/crypto"
)

// MockConnectionService implements connectionService for testing
type MockConnectionService struct {
	CreateFunc      func(ctx context.Context, params connection.CreateConnectionParams) (*connection.Connection, error)
	ListForUserFunc func(ctx context.Context, userID int64) ([]*connection.Connection, error)
	RevokeFunc      func(ctx context.Context, id string, userID int64) error
}

func (m *MockConnectionService) Create(ctx context.Context, params connection.CreateConnectionParams) (*connection.Connection, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockConnectionService) ListForUser(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	if m.ListForUserFunc != nil {
		return m.ListForUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConnectionService) Revoke(ctx context.Context, id string, userID int64) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id, userID)
	}
	return nil
}

// MockAuthClient implements authClient for testing
type MockAuthClient struct {
	AuthorizationURLFunc func(state, redirectURI string) string
	ExchangeFunc         func(ctx context.Context, code, redirectURI string) (*bankfeed.TokenGrant, error)
}

func (m *MockAuthClient) AuthorizationURL(state, redirectURI string) string {
	if m.AuthorizationURLFunc != nil {
		return m.AuthorizationURLFunc(state, redirectURI)
	}
	return "https://auth.bankfeed.test/authorize?state=" + state
}

func (m *MockAuthClient) Exchange(ctx context.Context, code, redirectURI string) (*bankfeed.TokenGrant, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code, redirectURI)
	}
	return &bankfeed.TokenGrant{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 3600}, nil
}

func newTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptor("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("failed to build encryptor: %v", err)
	}
	return enc
}

const testRedirectURL = "https://tally.test/connect/bankfeed/callback"

func TestConnectCallbackFlow(t *testing.T) {
	enc := newTestEncryptor(t)

	var capturedState string
	authMock := &MockAuthClient{
		AuthorizationURLFunc: func(state, redirectURI string) string {
			capturedState = state
			if redirectURI != testRedirectURL {
				t.Errorf("AuthorizationURL redirect = %q, want %q", redirectURI, testRedirectURL)
			}
			return "https://auth.bankfeed.test/authorize?state=" + state
		},
		ExchangeFunc: func(ctx context.Context, code, redirectURI string) (*bankfeed.TokenGrant, error) {
			if code != "code-1" {
				t.Errorf("Exchange code = %q, want code-1", code)
			}
			return &bankfeed.TokenGrant{
				AccessToken:     "plain-access",
				RefreshToken:    "plain-refresh",
				TokenType:       "Bearer",
				ExpiresIn:       3600,
				InstitutionID:   "ins-1",
				InstitutionName: "Test Bank",
			}, nil
		},
	}

	var enqueued []string
	enqueuer := &MockSyncEnqueuer{
		EnqueueBankSyncFunc: func(connectionID, reason string) error {
			enqueued = append(enqueued, connectionID+":"+reason)
			return nil
		},
	}

	conns := &MockConnectionService{
		CreateFunc: func(ctx context.Context, params connection.CreateConnectionParams) (*connection.Connection, error) {
			if params.UserID != 7 {
				t.Errorf("Create UserID = %d, want 7", params.UserID)
			}
			if params.InstitutionID != "ins-1" || params.InstitutionName != "Test Bank" {
				t.Errorf("Create institution = %q/%q", params.InstitutionID, params.InstitutionName)
			}
			// Tokens must arrive encrypted, never as provider plaintext.
			access, err := enc.Decrypt(params.AccessToken)
			if err != nil || access != "plain-access" {
				t.Errorf("stored access token does not decrypt to the grant: %v", err)
			}
			refresh, err := enc.Decrypt(params.RefreshToken)
			if err != nil || refresh != "plain-refresh" {
				t.Errorf("stored refresh token does not decrypt to the grant: %v", err)
			}
			if params.AccessToken == "plain-access" || params.RefreshToken == "plain-refresh" {
				t.Error("token stored as plaintext")
			}
			return &connection.Connection{ID: "conn-1", UserID: 7, Status: connection.StatusActive}, nil
		},
	}

	handler := NewConnectionHandler(conns, authMock, enc, enqueuer, &MockTokenInvalidator{}, testRedirectURL)

	// Step 1: start the flow.
	req := requestWithUser(httptest.NewRequest(http.MethodGet, "/connect/bankfeed", nil), 7)
	rr := httptest.NewRecorder()
	handler.HandleConnect(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("connect returned %d, want 200", rr.Code)
	}
	var started map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&started); err != nil {
		t.Fatalf("failed to decode connect response: %v", err)
	}
	if started["authorizationUrl"] == "" {
		t.Fatal("connect response missing authorizationUrl")
	}
	if capturedState == "" {
		t.Fatal("no state issued")
	}

	// Step 2: provider redirects back with the code.
	req = httptest.NewRequest(http.MethodGet, "/connect/bankfeed/callback?code=code-1&state="+capturedState, nil)
	rr = httptest.NewRecorder()
	handler.HandleCallback(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("callback returned %d, want 201: %s", rr.Code, rr.Body.String())
	}
	if len(enqueued) != 1 || enqueued[0] != "conn-1:initial" {
		t.Errorf("enqueued = %v, want [conn-1:initial]", enqueued)
	}

	// Step 3: the state is single use.
	req = httptest.NewRequest(http.MethodGet, "/connect/bankfeed/callback?code=code-1&state="+capturedState, nil)
	rr = httptest.NewRecorder()
	handler.HandleCallback(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("replayed callback returned %d, want 400", rr.Code)
	}
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	exchangeCalled := false
	authMock := &MockAuthClient{
		ExchangeFunc: func(ctx context.Context, code, redirectURI string) (*bankfeed.TokenGrant, error) {
			exchangeCalled = true
			return nil, nil
		},
	}
	handler := NewConnectionHandler(&MockConnectionService{}, authMock, newTestEncryptor(t), &MockSyncEnqueuer{}, &MockTokenInvalidator{}, testRedirectURL)

	req := httptest.NewRequest(http.MethodGet, "/connect/bankfeed/callback?code=code-1&state=forged", nil)
	rr := httptest.NewRecorder()
	handler.HandleCallback(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("callback returned %d, want 400", rr.Code)
	}
	if exchangeCalled {
		t.Error("code must not be exchanged for an unknown state")
	}
}

func TestHandleCallbackInvalidGrant(t *testing.T) {
	authMock := &MockAuthClient{
		ExchangeFunc: func(ctx context.Context, code, redirectURI string) (*bankfeed.TokenGrant, error) {
			return nil, bankfeed.ErrInvalidGrant
		},
	}
	handler := NewConnectionHandler(&MockConnectionService{}, authMock, newTestEncryptor(t), &MockSyncEnqueuer{}, &MockTokenInvalidator{}, testRedirectURL)

	// Seed a state by starting the flow.
	var state string
	authMock.AuthorizationURLFunc = func(s, _ string) string {
		state = s
		return "https://auth.bankfeed.test/authorize"
	}
	handler.HandleConnect(httptest.NewRecorder(), requestWithUser(httptest.NewRequest(http.MethodGet, "/connect/bankfeed", nil), 7))

	req := httptest.NewRequest(http.MethodGet, "/connect/bankfeed/callback?code=bad&state="+state, nil)
	rr := httptest.NewRecorder()
	handler.HandleCallback(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("callback returned %d, want 400", rr.Code)
	}
}

func TestHandleListConnections(t *testing.T) {
	conns := &MockConnectionService{
		ListForUserFunc: func(ctx context.Context, userID int64) ([]*connection.Connection, error) {
			return []*connection.Connection{
				{ID: "conn-1", UserID: userID, Status: connection.StatusActive, AccessToken: "ciphertext"},
			}, nil
		},
	}
	handler := NewConnectionHandler(conns, &MockAuthClient{}, newTestEncryptor(t), &MockSyncEnqueuer{}, &MockTokenInvalidator{}, testRedirectURL)

	req := requestWithUser(httptest.NewRequest(http.MethodGet, "/api/connections", nil), 1)
	rr := httptest.NewRecorder()
	handler.HandleListConnections(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("list returned %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	if body == "" || body[0] != '[' {
		t.Fatalf("expected a JSON array, got %s", body)
	}
	// Token ciphertext must not leak through the JSON encoding.
	var raw []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err == nil && len(raw) == 1 {
		if _, leaked := raw[0]["AccessToken"]; leaked {
			t.Error("access token leaked in listing")
		}
	}
}

func TestHandleRevokeConnection(t *testing.T) {
	tests := []struct {
		name           string
		mockConns      func() *MockConnectionService
		expectedStatus int
		wantInvalidate bool
	}{
		{
			name: "Success",
			mockConns: func() *MockConnectionService {
				return &MockConnectionService{}
			},
			expectedStatus: http.StatusNoContent,
			wantInvalidate: true,
		},
		{
			name: "Not Found",
			mockConns: func() *MockConnectionService {
				return &MockConnectionService{
					RevokeFunc: func(ctx context.Context, id string, userID int64) error {
						return connection.ErrConnectionNotFound
					},
				}
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "Forbidden",
			mockConns: func() *MockConnectionService {
				return &MockConnectionService{
					RevokeFunc: func(ctx context.Context, id string, userID int64) error {
						return connection.ErrForbidden
					},
				}
			},
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &MockTokenInvalidator{}
			handler := NewConnectionHandler(tt.mockConns(), &MockAuthClient{}, newTestEncryptor(t), &MockSyncEnqueuer{}, tokens, testRedirectURL)

			req := requestWithUser(httptest.NewRequest(http.MethodDelete, "/api/connections/conn-1", nil), 1)
			req = withURLParam(req, "id", "conn-1")

			rr := httptest.NewRecorder()
			handler.HandleRevokeConnection(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.wantInvalidate != (len(tokens.Invalidated) > 0) {
				t.Errorf("invalidated = %v, want invalidation %v", tokens.Invalidated, tt.wantInvalidate)
			}
		})
	}
}
