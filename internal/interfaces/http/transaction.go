package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"tally/internal/domain/ledger"
	"tally/internal/shared/middleware"
)

// ledgerService is the slice of ledger.Service the handler needs.
type ledgerService interface {
	Get(ctx context.Context, id string, userID int64) (*ledger.Transaction, error)
	List(ctx context.Context, q ledger.TransactionQuery) ([]*ledger.Transaction, error)
	Matches(ctx context.Context, transactionID string, userID int64) ([]*ledger.Match, error)
}

type TransactionHandler struct {
	ledger ledgerService
}

func NewTransactionHandler(ledger ledgerService) *TransactionHandler {
	return &TransactionHandler{ledger: ledger}
}

// transactionDetail is a transaction plus the source records matched to it.
type transactionDetail struct {
	*ledger.Transaction
	Matches []*ledger.Match `json:"matches"`
}

// HandleListTransactions returns the caller's transactions, filtered and
// paged by query parameters.
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := ledger.TransactionQuery{UserID: userID}

	if v := r.URL.Query().Get("accountId"); v != "" {
		q.AccountID = &v
	}
	if v := r.URL.Query().Get("category"); v != "" {
		q.Category = &v
	}
	if v := r.URL.Query().Get("direction"); v != "" {
		if v != ledger.DirectionDebit && v != ledger.DirectionCredit {
			http.Error(w, "direction must be debit or credit", http.StatusBadRequest)
			return
		}
		q.Direction = &v
	}
	if v := r.URL.Query().Get("from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "Invalid from date (use YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		q.From = &from
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "Invalid to date (use YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		q.To = &to
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

	transactions, err := h.ledger.List(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list transactions")
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}
	if transactions == nil {
		transactions = []*ledger.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// HandleGetTransaction returns one transaction with its match provenance.
func (h *TransactionHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	transactionID := chi.URLParam(r, "id")
	if transactionID == "" {
		http.Error(w, "Transaction ID is required", http.StatusBadRequest)
		return
	}

	txn, err := h.ledger.Get(r.Context(), transactionID, userID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrTransactionNotFound):
			http.Error(w, "Transaction not found", http.StatusNotFound)
		case errors.Is(err, ledger.ErrForbidden):
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			log.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to get transaction")
			http.Error(w, "Failed to get transaction", http.StatusInternalServerError)
		}
		return
	}

	matches, err := h.ledger.Matches(r.Context(), transactionID, userID)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to list matches")
		http.Error(w, "Failed to get transaction", http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []*ledger.Match{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactionDetail{Transaction: txn, Matches: matches})
}
