package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"tally/internal/domain/connection"
	"tally/internal/infrastructure/bankfeed"
	"tally/internal/infrastructure/crypto"
)

const (
	// defaultMinValidity is how long a handed-out token must stay usable.
	// Tokens expiring sooner are refreshed before being returned.
	defaultMinValidity = 60 * time.Second

	cacheCleanupInterval = 10 * time.Minute
)

// ConnectionStore is the slice of connection storage the vault needs.
type ConnectionStore interface {
	GetByID(ctx context.Context, id string) (*connection.Connection, error)
	UpdateTokens(ctx context.Context, id string, update connection.TokenUpdate) error
}

// Refresher trades a refresh token for a fresh grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*bankfeed.TokenGrant, error)
}

// Vault hands out plaintext access tokens for connections. Tokens rest
// encrypted; plaintext lives only in this process's cache, with a TTL that
// undershoots the real expiry. Refresh tokens are single-use upstream, so
// refresh is serialized per connection and state is re-read under the lock.
type Vault struct {
	conns       ConnectionStore
	refresher   Refresher
	enc         *crypto.Encryptor
	cache       *gocache.Cache
	minValidity time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a token vault. minValidity <= 0 falls back to the default
// 60 second floor.
func New(conns ConnectionStore, refresher Refresher, enc *crypto.Encryptor, minValidity time.Duration) *Vault {
	if minValidity <= 0 {
		minValidity = defaultMinValidity
	}
	return &Vault{
		conns:       conns,
		refresher:   refresher,
		enc:         enc,
		cache:       gocache.New(gocache.NoExpiration, cacheCleanupInterval),
		minValidity: minValidity,
		locks:       make(map[string]*sync.Mutex),
	}
}

// AccessToken returns a decrypted access token valid for at least the
// configured floor. Returns connection.ErrAuthExpired when the provider
// rejects the refresh token; the caller parks the connection and nothing
// retries.
func (v *Vault) AccessToken(ctx context.Context, connectionID string) (string, error) {
	if cached, ok := v.cache.Get(connectionID); ok {
		return cached.(string), nil
	}

	lock := v.lockFor(connectionID)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent caller may have refreshed while we waited.
	if cached, ok := v.cache.Get(connectionID); ok {
		return cached.(string), nil
	}

	conn, err := v.conns.GetByID(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil {
		return "", connection.ErrConnectionNotFound
	}

	if conn.TokenExpiry.After(time.Now().Add(v.minValidity)) {
		token, err := v.enc.Decrypt(conn.AccessToken)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt access token: %w", err)
		}
		v.put(connectionID, token, conn.TokenExpiry)
		return token, nil
	}

	return v.refresh(ctx, conn)
}

// Invalidate drops the cached token, forcing the next caller back to stored
// state. Used when a webhook reports revocation.
func (v *Vault) Invalidate(connectionID string) {
	v.cache.Delete(connectionID)
}

func (v *Vault) refresh(ctx context.Context, conn *connection.Connection) (string, error) {
	refreshToken, err := v.enc.Decrypt(conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	grant, err := v.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, bankfeed.ErrInvalidGrant) {
			return "", fmt.Errorf("%w: %v", connection.ErrAuthExpired, err)
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	encAccess, err := v.enc.Encrypt(grant.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := v.enc.Encrypt(grant.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	expiry := grant.ExpiresAt()
	update := connection.TokenUpdate{
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		TokenExpiry:  expiry,
	}
	if err := v.conns.UpdateTokens(ctx, conn.ID, update); err != nil {
		// The old refresh token is already burned; losing this write would
		// strand the connection, so surface it loudly.
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	log.Debug().Str("connection_id", conn.ID).Time("expiry", expiry).Msg("refreshed access token")
	v.put(conn.ID, grant.AccessToken, expiry)
	return grant.AccessToken, nil
}

// put caches the plaintext with a TTL that keeps the cache strictly fresher
// than the handed-out guarantee.
func (v *Vault) put(connectionID, token string, expiry time.Time) {
	ttl := time.Until(expiry) - v.minValidity
	if ttl <= 0 {
		return
	}
	v.cache.Set(connectionID, token, ttl)
}

func (v *Vault) lockFor(connectionID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.locks[connectionID]
	if !ok {
		m = &sync.Mutex{}
		v.locks[connectionID] = m
	}
	return m
}
