package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"tally/internal/domain/connection"
	"tally/internal/domain/sync"
	"tally/internal/shared/auth"
)

// Events pushed by the bank feed provider.
const (
	EventTransactionsUpdated = "transactions.updated"
	EventConnectionRevoked   = "connection.revoked"
)

// maxWebhookBody caps a delivery before signature verification reads it.
const maxWebhookBody = 1 << 20

type syncEnqueuer interface {
	EnqueueBankSync(connectionID, reason string) error
}

type tokenInvalidator interface {
	Invalidate(connectionID string)
}

type connectionRevoker interface {
	RevokeFromProvider(ctx context.Context, id string) error
}

type WebhookHandler struct {
	verifier *auth.WebhookVerifier
	enqueuer syncEnqueuer
	conns    connectionRevoker
	tokens   tokenInvalidator
}

func NewWebhookHandler(verifier *auth.WebhookVerifier, enqueuer syncEnqueuer, conns connectionRevoker, tokens tokenInvalidator) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		enqueuer: enqueuer,
		conns:    conns,
		tokens:   tokens,
	}
}

type webhookDelivery struct {
	ConnectionID string `json:"connection_id"`
	Event        string `json:"event"`
}

// HandleBankFeedWebhook accepts provider pushes. The signature is checked
// before the body is parsed; unsigned or badly signed deliveries get a 401
// with no further detail.
func (h *WebhookHandler) HandleBankFeedWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.verifier.Verify(signature, body); err != nil {
		log.Warn().Err(err).Msg("webhook signature rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var delivery webhookDelivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if delivery.ConnectionID == "" || delivery.Event == "" {
		http.Error(w, "connection_id and event are required", http.StatusBadRequest)
		return
	}

	switch delivery.Event {
	case EventTransactionsUpdated:
		if err := h.enqueuer.EnqueueBankSync(delivery.ConnectionID, sync.ReasonWebhook); err != nil {
			log.Warn().Err(err).Str("connection_id", delivery.ConnectionID).Msg("failed to queue webhook sync")
			http.Error(w, "Try again later", http.StatusServiceUnavailable)
			return
		}
	case EventConnectionRevoked:
		if err := h.conns.RevokeFromProvider(r.Context(), delivery.ConnectionID); err != nil {
			if errors.Is(err, connection.ErrConnectionNotFound) {
				http.Error(w, "Connection not found", http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("connection_id", delivery.ConnectionID).Msg("failed to record provider revocation")
			http.Error(w, "Failed to process event", http.StatusInternalServerError)
			return
		}
		h.tokens.Invalidate(delivery.ConnectionID)
	default:
		// Acknowledged so the provider stops retrying.
		log.Info().
			Str("event", delivery.Event).
			Str("connection_id", delivery.ConnectionID).
			Msg("ignoring unhandled webhook event")
	}

	w.WriteHeader(http.StatusAccepted)
}
