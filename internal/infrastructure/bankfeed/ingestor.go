package bankfeed

import (
	"context"
	"fmt"

	"tally/internal/domain/connection"
	"tally/internal/domain/merchant"
	"tally/internal/domain/record"
)

// Ingestor adapts the provider client to the sync pipeline: account
// snapshots and transaction pages normalized into storage-ready records.
type Ingestor struct {
	client    *Client
	startDate string // lower bound for a connection's first-ever page, YYYY-MM-DD
}

// NewIngestor creates a new bank-feed ingestor
func NewIngestor(client *Client, startDate string) *Ingestor {
	return &Ingestor{client: client, startDate: startDate}
}

// Accounts fetches the connection's current account snapshots.
func (i *Ingestor) Accounts(ctx context.Context, token string, conn *connection.Connection) ([]connection.UpsertAccountParams, error) {
	resp, err := i.client.GetAccounts(ctx, token)
	if err != nil {
		return nil, err
	}

	params := make([]connection.UpsertAccountParams, 0, len(resp.Accounts))
	for _, acc := range resp.Accounts {
		asOf, err := acc.GetBalanceAsOf()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acc.ID, err)
		}
		params = append(params, connection.UpsertAccountParams{
			ConnectionID:    conn.ID,
			UserID:          conn.UserID,
			ExternalID:      acc.ID,
			Name:            acc.Name,
			Currency:        acc.Currency,
			ReportedBalance: record.AmountFromMinor(acc.BalanceMinor, acc.Currency),
			BalanceAsOf:     asOf,
		})
	}
	return params, nil
}

// Page fetches one transaction page and normalizes it. Transactions on
// accounts missing from the map keep a nil account id; validation rejects
// them downstream without dropping the page. Duplicate external ids within
// a page collapse to the last occurrence.
func (i *Ingestor) Page(ctx context.Context, token string, conn *connection.Connection, accounts map[string]string, cursor *string) (*record.Page, error) {
	resp, err := i.client.GetTransactions(ctx, token, cursor, i.startDate)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]int, len(resp.Transactions))
	upserts := make([]record.Upsert, 0, len(resp.Transactions))
	for _, txn := range resp.Transactions {
		bookedAt, err := txn.GetBookedAt()
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", txn.ID, err)
		}

		var accountID *string
		if internal, ok := accounts[txn.AccountID]; ok {
			accountID = &internal
		}

		u := record.Upsert{
			UserID:             conn.UserID,
			SourceType:         record.SourceBank,
			ExternalID:         txn.ID,
			AccountID:          accountID,
			Amount:             record.AmountFromMinor(txn.AmountMinor, txn.Currency),
			Currency:           txn.Currency,
			OccurredAt:         bookedAt,
			RawMerchant:        txn.Description,
			NormalizedMerchant: merchant.Normalize(txn.Description),
			Detail: record.BankDetail{
				Description:     txn.Description,
				Reference:       txn.Reference,
				TransactionType: txn.TransactionType,
				CategoryCode:    txn.CategoryCode,
			},
		}

		if idx, dup := seen[txn.ID]; dup {
			upserts[idx] = u
			continue
		}
		seen[txn.ID] = len(upserts)
		upserts = append(upserts, u)
	}

	return &record.Page{
		Upserts:    upserts,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}
