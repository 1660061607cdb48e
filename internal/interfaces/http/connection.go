package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"tally/internal/domain/connection"
	"tally/internal/domain/sync"
	"tally/internal/infrastructure/bankfeed"
	"tally/internal/infrastructure/crypto"
	"tally/internal/shared/middleware"
)

// stateTTL bounds how long a started connect flow stays redeemable.
const stateTTL = 10 * time.Minute

type connectionService interface {
	Create(ctx context.Context, params connection.CreateConnectionParams) (*connection.Connection, error)
	ListForUser(ctx context.Context, userID int64) ([]*connection.Connection, error)
	Revoke(ctx context.Context, id string, userID int64) error
}

type authClient interface {
	AuthorizationURL(state, redirectURI string) string
	Exchange(ctx context.Context, code, redirectURI string) (*bankfeed.TokenGrant, error)
}

type ConnectionHandler struct {
	conns       connectionService
	auth        authClient
	enc         *crypto.Encryptor
	states      *cache.Cache
	enqueuer    syncEnqueuer
	tokens      tokenInvalidator
	redirectURL string
}

func NewConnectionHandler(conns connectionService, auth authClient, enc *crypto.Encryptor, enqueuer syncEnqueuer, tokens tokenInvalidator, redirectURL string) *ConnectionHandler {
	return &ConnectionHandler{
		conns:       conns,
		auth:        auth,
		enc:         enc,
		states:      cache.New(stateTTL, 2*stateTTL),
		enqueuer:    enqueuer,
		tokens:      tokens,
		redirectURL: redirectURL,
	}
}

// HandleConnect starts the provider consent flow and returns the URL the
// frontend should send the user to. The state parameter ties the eventual
// callback back to this user.
func (h *ConnectionHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	state := uuid.New().String()
	h.states.Set(state, userID, cache.DefaultExpiration)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"authorizationUrl": h.auth.AuthorizationURL(state, h.redirectURL),
	})
}

// HandleCallback completes the consent flow: redeems the state, exchanges
// the code for tokens, stores them encrypted and queues the initial sync.
func (h *ConnectionHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "code and state are required", http.StatusBadRequest)
		return
	}

	v, ok := h.states.Get(state)
	if !ok {
		http.Error(w, "Unknown or expired state", http.StatusBadRequest)
		return
	}
	h.states.Delete(state) // single use
	userID := v.(int64)

	grant, err := h.auth.Exchange(r.Context(), code, h.redirectURL)
	if err != nil {
		if errors.Is(err, bankfeed.ErrInvalidGrant) {
			http.Error(w, "Provider rejected the authorization code", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("bank feed code exchange failed")
		http.Error(w, "Code exchange failed", http.StatusBadGateway)
		return
	}

	accessToken, err := h.enc.Encrypt(grant.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("failed to encrypt access token")
		http.Error(w, "Failed to store connection", http.StatusInternalServerError)
		return
	}
	refreshToken, err := h.enc.Encrypt(grant.RefreshToken)
	if err != nil {
		log.Error().Err(err).Msg("failed to encrypt refresh token")
		http.Error(w, "Failed to store connection", http.StatusInternalServerError)
		return
	}

	conn, err := h.conns.Create(r.Context(), connection.CreateConnectionParams{
		UserID:          userID,
		InstitutionID:   grant.InstitutionID,
		InstitutionName: grant.InstitutionName,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		TokenExpiry:     grant.ExpiresAt(),
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to create connection")
		http.Error(w, "Failed to store connection", http.StatusInternalServerError)
		return
	}

	if err := h.enqueuer.EnqueueBankSync(conn.ID, sync.ReasonInitial); err != nil {
		// The poller picks the connection up on its next pass.
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to queue initial sync")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conn)
}

// HandleListConnections returns the caller's connections. Token columns
// never serialize.
func (h *ConnectionHandler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conns, err := h.conns.ListForUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list connections")
		http.Error(w, "Failed to list connections", http.StatusInternalServerError)
		return
	}
	if conns == nil {
		conns = []*connection.Connection{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conns)
}

// HandleRevokeConnection deactivates a connection and drops any cached
// access token for it.
func (h *ConnectionHandler) HandleRevokeConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	connectionID := chi.URLParam(r, "id")
	if connectionID == "" {
		http.Error(w, "Connection ID is required", http.StatusBadRequest)
		return
	}

	if err := h.conns.Revoke(r.Context(), connectionID, userID); err != nil {
		switch {
		case errors.Is(err, connection.ErrConnectionNotFound):
			http.Error(w, "Connection not found", http.StatusNotFound)
		case errors.Is(err, connection.ErrForbidden):
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			log.Error().Err(err).Str("connection_id", connectionID).Msg("failed to revoke connection")
			http.Error(w, "Failed to revoke connection", http.StatusInternalServerError)
		}
		return
	}

	h.tokens.Invalidate(connectionID)

	w.WriteHeader(http.StatusNoContent)
}
