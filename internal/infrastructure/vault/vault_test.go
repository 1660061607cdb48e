package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tally/internal/domain/connection"
	"tally/internal/infrastructure/bankfeed"
	"tally/internal/infrastructure/crypto"
)

type MockConnectionStore struct {
	GetByIDFunc      func(ctx context.Context, id string) (*connection.Connection, error)
	UpdateTokensFunc func(ctx context.Context, id string, update connection.TokenUpdate) error
}

func (m *MockConnectionStore) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}
func (m *MockConnectionStore) UpdateTokens(ctx context.Context, id string, update connection.TokenUpdate) error {
	if m.UpdateTokensFunc != nil {
		return m.UpdateTokensFunc(ctx, id, update)
	}
	return nil
}

type MockRefresher struct {
	RefreshFunc func(ctx context.Context, refreshToken string) (*bankfeed.TokenGrant, error)
}

func (m *MockRefresher) Refresh(ctx context.Context, refreshToken string) (*bankfeed.TokenGrant, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, errors.New("refresh not configured")
}

func testEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptor("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}
	return enc
}

func encrypted(t *testing.T, enc *crypto.Encryptor, plaintext string) string {
	t.Helper()
	ct, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	return ct
}

func TestAccessToken_FreshTokenServedFromStore(t *testing.T) {
	ctx := context.Background()
	enc := testEncryptor(t)

	conns := &MockConnectionStore{
		GetByIDFunc: func(ctx context.Context, id string) (*connection.Connection, error) {
			return &connection.Connection{
				ID:          "conn-1",
				AccessToken: encrypted(t, enc, "plain-access"),
				TokenExpiry: time.Now().Add(time.Hour),
			}, nil
		},
	}
	refresher := &MockRefresher{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*bankfeed.TokenGrant, error) {
			t.Errorf("Refresh() called for a token with an hour left")
			return nil, nil
		},
	}

	v := New(conns, refresher, enc, 0)
	got, err := v.AccessToken(ctx, "conn-1")
	if err != nil {
		t.Fatalf("AccessToken() unexpected error: %v", err)
	}
	if got != "plain-access" {
		t.Errorf("AccessToken() = %q, want plain-access", got)
	}
}

func TestAccessToken_ExpiringTokenRefreshed(t *testing.T) {
	ctx := context.Background()
	enc := testEncryptor(t)

	var persisted *connection.TokenUpdate
	conns := &MockConnectionStore{
		GetByIDFunc: func(ctx context.Context, id string) (*connection.Connection, error) {
			return &connection.Connection{
				ID:           "conn-1",
				AccessToken:  encrypted(t, enc, "stale-access"),
				RefreshToken: encrypted(t, enc, "refresh-1"),
				TokenExpiry:  time.Now().Add(10 * time.Second), // inside the 60s floor
			}, nil
		},
		UpdateTokensFunc: func(ctx context.Context, id string, update connection.TokenUpdate) error {
			persisted = &update
			return nil
		},
	}
	refresher := &MockRefresher{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*bankfeed.TokenGrant, error) {
			if refreshToken != "refresh-1" {
				t.Errorf("Refresh() got token %q, want decrypted refresh-1", refreshToken)
			}
			return &bankfeed.TokenGrant{
				AccessToken:  "fresh-access",
				RefreshToken: "refresh-2",
				ExpiresIn:    3600,
			}, nil
		},
	}

	v := New(conns, refresher, enc, 0)
	got, err := v.AccessToken(ctx, "conn-1")
	if err != nil {
		t.Fatalf("AccessToken() unexpected error: %v", err)
	}
	if got != "fresh-access" {
		t.Errorf("AccessToken() = %q, want fresh-access", got)
	}

	if persisted == nil {
		t.Fatalf("refreshed tokens were not persisted")
	}
	gotAccess, err := enc.Decrypt(persisted.AccessToken)
	if err != nil || gotAccess != "fresh-access" {
		t.Errorf("persisted access token decrypts to %q (err %v), want fresh-access", gotAccess, err)
	}
	gotRefresh, err := enc.Decrypt(persisted.RefreshToken)
	if err != nil || gotRefresh != "refresh-2" {
		t.Errorf("persisted refresh token decrypts to %q (err %v), want refresh-2", gotRefresh, err)
	}
	if persisted.AccessToken == "fresh-access" {
		t.Errorf("access token persisted as plaintext")
	}
}

func TestAccessToken_InvalidGrantBecomesAuthExpired(t *testing.T) {
	ctx := context.Background()
	enc := testEncryptor(t)

	conns := &MockConnectionStore{
		GetByIDFunc: func(ctx context.Context, id string) (*connection.Connection, error) {
			return &connection.Connection{
				ID:           "conn-1",
				RefreshToken: encrypted(t, enc, "revoked-refresh"),
				TokenExpiry:  time.Now().Add(-time.Minute),
			}, nil
		},
	}
	refresher := &MockRefresher{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*bankfeed.TokenGrant, error) {
			return nil, fmt.Errorf("%w: refresh token revoked", bankfeed.ErrInvalidGrant)
		},
	}

	v := New(conns, refresher, enc, 0)
	_, err := v.AccessToken(ctx, "conn-1")
	if !errors.Is(err, connection.ErrAuthExpired) {
		t.Fatalf("AccessToken() error = %v, want connection.ErrAuthExpired", err)
	}
}

func TestAccessToken_CachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	enc := testEncryptor(t)

	loads := 0
	conns := &MockConnectionStore{
		GetByIDFunc: func(ctx context.Context, id string) (*connection.Connection, error) {
			loads++
			return &connection.Connection{
				ID:          "conn-1",
				AccessToken: encrypted(t, enc, "plain-access"),
				TokenExpiry: time.Now().Add(time.Hour),
			}, nil
		},
	}

	v := New(conns, &MockRefresher{}, enc, 0)
	for i := 0; i < 3; i++ {
		if _, err := v.AccessToken(ctx, "conn-1"); err != nil {
			t.Fatalf("AccessToken() call %d unexpected error: %v", i, err)
		}
	}
	if loads != 1 {
		t.Errorf("store loads = %d, want 1 (cache serves repeats)", loads)
	}

	v.Invalidate("conn-1")
	if _, err := v.AccessToken(ctx, "conn-1"); err != nil {
		t.Fatalf("AccessToken() after Invalidate unexpected error: %v", err)
	}
	if loads != 2 {
		t.Errorf("store loads = %d, want 2 after invalidation", loads)
	}
}

func TestAccessToken_ConcurrentCallersRefreshOnce(t *testing.T) {
	ctx := context.Background()
	enc := testEncryptor(t)

	conns := &MockConnectionStore{
		GetByIDFunc: func(ctx context.Context, id string) (*connection.Connection, error) {
			return &connection.Connection{
				ID:           "conn-1",
				RefreshToken: encrypted(t, enc, "refresh-1"),
				TokenExpiry:  time.Now().Add(-time.Minute),
			}, nil
		},
	}
	var mu sync.Mutex
	refreshes := 0
	refresher := &MockRefresher{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*bankfeed.TokenGrant, error) {
			mu.Lock()
			refreshes++
			mu.Unlock()
			return &bankfeed.TokenGrant{AccessToken: "fresh", RefreshToken: "refresh-2", ExpiresIn: 3600}, nil
		},
	}

	v := New(conns, refresher, enc, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.AccessToken(ctx, "conn-1"); err != nil {
				t.Errorf("AccessToken() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if refreshes != 1 {
		t.Errorf("refreshes = %d, want 1 (single-use refresh token spent once)", refreshes)
	}
}

func TestAccessToken_UnknownConnection(t *testing.T) {
	v := New(&MockConnectionStore{}, &MockRefresher{}, testEncryptor(t), 0)
	_, err := v.AccessToken(context.Background(), "missing")
	if !errors.Is(err, connection.ErrConnectionNotFound) {
		t.Fatalf("AccessToken() error = %v, want ErrConnectionNotFound", err)
	}
}
