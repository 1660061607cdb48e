package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"tally/internal/domain/anomaly"
	"tally/internal/shared/middleware"
)

type anomalyService interface {
	List(ctx context.Context, q anomaly.Query) ([]*anomaly.Anomaly, error)
	Resolve(ctx context.Context, id string, userID int64, params anomaly.ResolveParams) (*anomaly.Anomaly, error)
}

type AnomalyHandler struct {
	anomalies anomalyService
}

func NewAnomalyHandler(anomalies anomalyService) *AnomalyHandler {
	return &AnomalyHandler{anomalies: anomalies}
}

type ResolveAnomalyRequest struct {
	Dismiss       bool    `json:"dismiss"`
	TransactionID *string `json:"transactionId,omitempty"`
	Note          *string `json:"note,omitempty"`
}

// HandleListAnomalies returns the caller's anomalies, optionally filtered by
// status and kind.
func (h *AnomalyHandler) HandleListAnomalies(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := anomaly.Query{UserID: userID}

	if v := r.URL.Query().Get("status"); v != "" {
		q.Status = &v
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		q.Kind = &v
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			q.Offset = parsed
		}
	}

	anomalies, err := h.anomalies.List(r.Context(), q)
	if err != nil {
		switch {
		case errors.Is(err, anomaly.ErrInvalidStatus), errors.Is(err, anomaly.ErrInvalidKind):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Error().Err(err).Int64("user_id", userID).Msg("failed to list anomalies")
			http.Error(w, "Failed to list anomalies", http.StatusInternalServerError)
		}
		return
	}
	if anomalies == nil {
		anomalies = []*anomaly.Anomaly{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(anomalies)
}

// HandleResolveAnomaly closes an anomaly, either dismissing it or recording
// the operator's choice for an ambiguous match.
func (h *AnomalyHandler) HandleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	anomalyID := chi.URLParam(r, "id")
	if anomalyID == "" {
		http.Error(w, "Anomaly ID is required", http.StatusBadRequest)
		return
	}

	var req ResolveAnomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resolved, err := h.anomalies.Resolve(r.Context(), anomalyID, userID, anomaly.ResolveParams{
		Dismiss:       req.Dismiss,
		TransactionID: req.TransactionID,
		Note:          req.Note,
	})
	if err != nil {
		switch {
		case errors.Is(err, anomaly.ErrAnomalyNotFound):
			http.Error(w, "Anomaly not found", http.StatusNotFound)
		case errors.Is(err, anomaly.ErrForbidden):
			http.Error(w, "Forbidden", http.StatusForbidden)
		case errors.Is(err, anomaly.ErrAnomalyClosed):
			http.Error(w, "Anomaly is already closed", http.StatusConflict)
		case errors.Is(err, anomaly.ErrChoiceRequired), errors.Is(err, anomaly.ErrChoiceNotCandidate):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Error().Err(err).Str("anomaly_id", anomalyID).Msg("failed to resolve anomaly")
			http.Error(w, "Failed to resolve anomaly", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resolved)
}
