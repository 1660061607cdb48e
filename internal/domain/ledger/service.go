package ledger

import (
	"context"
	"fmt"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service handles read access to the canonical ledger
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns a transaction by ID, verifying ownership
func (s *Service) Get(ctx context.Context, id string, userID int64) (*Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	if txn.UserID != userID {
		return nil, ErrForbidden
	}
	return txn, nil
}

// List returns a user's transactions with the query's filters applied. The
// user scope comes from the query and is never widened here.
func (s *Service) List(ctx context.Context, q TransactionQuery) ([]*Transaction, error) {
	if q.UserID <= 0 {
		return nil, fmt.Errorf("valid user ID is required")
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Direction != nil {
		if *q.Direction != DirectionDebit && *q.Direction != DirectionCredit {
			return nil, fmt.Errorf("direction must be debit or credit")
		}
	}
	return s.repo.ListTransactions(ctx, q)
}

// Matches returns the match links of a transaction, verifying ownership of
// the transaction first.
func (s *Service) Matches(ctx context.Context, transactionID string, userID int64) ([]*Match, error) {
	if _, err := s.Get(ctx, transactionID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListMatchesByTransaction(ctx, transactionID)
}
