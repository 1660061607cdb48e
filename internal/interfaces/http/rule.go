package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tally/internal/domain/enrichment"
	"tally/internal/shared/middleware"
)

type ruleService interface {
	CreateRule(ctx context.Context, userID int64, params enrichment.CreateRuleParams) (*enrichment.CategoryRule, error)
	GetRule(ctx context.Context, ruleID, userID int64) (*enrichment.CategoryRule, error)
	ListRules(ctx context.Context, userID int64) ([]*enrichment.CategoryRule, error)
	UpdateRule(ctx context.Context, ruleID, userID int64, params enrichment.UpdateRuleParams) (*enrichment.CategoryRule, error)
	DeleteRule(ctx context.Context, ruleID, userID int64) error
}

// RuleHandler serves the category rule CRUD. Rules the caller owns are
// editable; global rules show up in listings but reject writes.
type RuleHandler struct {
	rules ruleService
}

func NewRuleHandler(rules ruleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

type CreateRuleRequest struct {
	Priority    int              `json:"priority"`
	Pattern     string           `json:"pattern"`
	MinAmount   *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount   *decimal.Decimal `json:"maxAmount,omitempty"`
	Direction   *string          `json:"direction,omitempty"`
	Category    string           `json:"category"`
	Subcategory *string          `json:"subcategory,omitempty"`
}

type UpdateRuleRequest struct {
	Priority    *int             `json:"priority,omitempty"`
	Pattern     *string          `json:"pattern,omitempty"`
	MinAmount   *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount   *decimal.Decimal `json:"maxAmount,omitempty"`
	Direction   *string          `json:"direction,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Subcategory *string          `json:"subcategory,omitempty"`
}

// HandleCreateRule creates a category rule owned by the caller.
func (h *RuleHandler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	params := enrichment.CreateRuleParams{
		Priority:    req.Priority,
		Pattern:     req.Pattern,
		MinAmount:   req.MinAmount,
		MaxAmount:   req.MaxAmount,
		Direction:   req.Direction,
		Category:    req.Category,
		Subcategory: req.Subcategory,
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), userID, params)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to create rule")
		http.Error(w, "Failed to create rule", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rule)
}

// HandleListRules returns the caller's rules followed by the global set.
func (h *RuleHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rules, err := h.rules.ListRules(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list rules")
		http.Error(w, "Failed to list rules", http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []*enrichment.CategoryRule{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rules)
}

// HandleGetRule returns one rule.
func (h *RuleHandler) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	userID, ruleID, ok := ruleRequestIDs(w, r)
	if !ok {
		return
	}

	rule, err := h.rules.GetRule(r.Context(), ruleID, userID)
	if err != nil {
		respondRuleError(w, err, ruleID, "failed to get rule")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

// HandleUpdateRule applies a partial update to a rule the caller owns.
func (h *RuleHandler) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, ruleID, ok := ruleRequestIDs(w, r)
	if !ok {
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	params := enrichment.UpdateRuleParams{
		Priority:    req.Priority,
		Pattern:     req.Pattern,
		MinAmount:   req.MinAmount,
		MaxAmount:   req.MaxAmount,
		Direction:   req.Direction,
		Category:    req.Category,
		Subcategory: req.Subcategory,
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rule, err := h.rules.UpdateRule(r.Context(), ruleID, userID, params)
	if err != nil {
		respondRuleError(w, err, ruleID, "failed to update rule")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

// HandleDeleteRule removes a rule the caller owns.
func (h *RuleHandler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, ruleID, ok := ruleRequestIDs(w, r)
	if !ok {
		return
	}

	if err := h.rules.DeleteRule(r.Context(), ruleID, userID); err != nil {
		respondRuleError(w, err, ruleID, "failed to delete rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func ruleRequestIDs(w http.ResponseWriter, r *http.Request) (userID, ruleID int64, ok bool) {
	userID, idOK := r.Context().Value(middleware.UserIDKey).(int64)
	if !idOK {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, 0, false
	}

	ruleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid rule ID", http.StatusBadRequest)
		return 0, 0, false
	}
	return userID, ruleID, true
}

func respondRuleError(w http.ResponseWriter, err error, ruleID int64, logMsg string) {
	switch {
	case errors.Is(err, enrichment.ErrRuleNotFound):
		http.Error(w, "Rule not found", http.StatusNotFound)
	case errors.Is(err, enrichment.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, enrichment.ErrGlobalRule):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.Error().Err(err).Int64("rule_id", ruleID).Msg(logMsg)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
