package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"tally/internal/domain/directdebit"
	"tally/internal/shared/middleware"
)

type mappingService interface {
	Create(ctx context.Context, params directdebit.CreateMappingParams) (*directdebit.Mapping, error)
	Get(ctx context.Context, id, userID int64) (*directdebit.Mapping, error)
	ListForUser(ctx context.Context, userID int64) ([]*directdebit.Mapping, error)
	Update(ctx context.Context, id, userID int64, params directdebit.UpdateMappingParams) (*directdebit.Mapping, error)
	Delete(ctx context.Context, id, userID int64) error
}

// MappingHandler serves the direct-debit mapping CRUD. A mapping pins a
// recurring merchant to a payee and category so matching is deterministic.
type MappingHandler struct {
	mappings mappingService
}

func NewMappingHandler(mappings mappingService) *MappingHandler {
	return &MappingHandler{mappings: mappings}
}

type CreateMappingRequest struct {
	Merchant    string  `json:"merchant"`
	PayeeName   string  `json:"payeeName"`
	Category    string  `json:"category"`
	Subcategory *string `json:"subcategory,omitempty"`
}

type UpdateMappingRequest struct {
	PayeeName   *string `json:"payeeName,omitempty"`
	Category    *string `json:"category,omitempty"`
	Subcategory *string `json:"subcategory,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// HandleCreateMapping creates a mapping for the caller's merchant.
func (h *MappingHandler) HandleCreateMapping(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Merchant == "" || req.PayeeName == "" || req.Category == "" {
		http.Error(w, "merchant, payeeName, and category are required", http.StatusBadRequest)
		return
	}

	mapping, err := h.mappings.Create(r.Context(), directdebit.CreateMappingParams{
		UserID:      userID,
		Merchant:    req.Merchant,
		PayeeName:   req.PayeeName,
		Category:    req.Category,
		Subcategory: req.Subcategory,
	})
	if err != nil {
		switch {
		case errors.Is(err, directdebit.ErrDuplicateMapping):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Error().Err(err).Int64("user_id", userID).Msg("failed to create mapping")
			http.Error(w, "Failed to create mapping", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(mapping)
}

// HandleListMappings returns all of the caller's mappings.
func (h *MappingHandler) HandleListMappings(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	mappings, err := h.mappings.ListForUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list mappings")
		http.Error(w, "Failed to list mappings", http.StatusInternalServerError)
		return
	}
	if mappings == nil {
		mappings = []*directdebit.Mapping{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mappings)
}

// HandleGetMapping returns one mapping.
func (h *MappingHandler) HandleGetMapping(w http.ResponseWriter, r *http.Request) {
	userID, mappingID, ok := mappingRequestIDs(w, r)
	if !ok {
		return
	}

	mapping, err := h.mappings.Get(r.Context(), mappingID, userID)
	if err != nil {
		respondMappingError(w, err, mappingID, "failed to get mapping")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mapping)
}

// HandleUpdateMapping applies a partial update to a mapping.
func (h *MappingHandler) HandleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	userID, mappingID, ok := mappingRequestIDs(w, r)
	if !ok {
		return
	}

	var req UpdateMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.PayeeName != nil && *req.PayeeName == "" {
		http.Error(w, "payeeName cannot be cleared", http.StatusBadRequest)
		return
	}
	if req.Category != nil && *req.Category == "" {
		http.Error(w, "category cannot be cleared", http.StatusBadRequest)
		return
	}

	mapping, err := h.mappings.Update(r.Context(), mappingID, userID, directdebit.UpdateMappingParams{
		PayeeName:   req.PayeeName,
		Category:    req.Category,
		Subcategory: req.Subcategory,
		Active:      req.Active,
	})
	if err != nil {
		respondMappingError(w, err, mappingID, "failed to update mapping")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mapping)
}

// HandleDeleteMapping removes a mapping.
func (h *MappingHandler) HandleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	userID, mappingID, ok := mappingRequestIDs(w, r)
	if !ok {
		return
	}

	if err := h.mappings.Delete(r.Context(), mappingID, userID); err != nil {
		respondMappingError(w, err, mappingID, "failed to delete mapping")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func mappingRequestIDs(w http.ResponseWriter, r *http.Request) (userID, mappingID int64, ok bool) {
	userID, idOK := r.Context().Value(middleware.UserIDKey).(int64)
	if !idOK {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, 0, false
	}

	mappingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid mapping ID", http.StatusBadRequest)
		return 0, 0, false
	}
	return userID, mappingID, true
}

func respondMappingError(w http.ResponseWriter, err error, mappingID int64, logMsg string) {
	switch {
	case errors.Is(err, directdebit.ErrMappingNotFound):
		http.Error(w, "Mapping not found", http.StatusNotFound)
	case errors.Is(err, directdebit.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, directdebit.ErrDuplicateMapping):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Int64("mapping_id", mappingID).Msg(logMsg)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
