package receiptmail

import (
	"context"
	"fmt"

	"tally/internal/domain/merchant"
	"tally/internal/domain/record"
)

// Ingestor adapts the receipt inbox to the sync pipeline. Receipts never
// carry an account; they annotate bank transactions after matching.
type Ingestor struct {
	client *Client
}

// NewIngestor creates a new receipt ingestor
func NewIngestor(client *Client) *Ingestor {
	return &Ingestor{client: client}
}

// Page fetches one page of a user's receipts. Purchase totals become
// negative amounts (money out) in the normalized envelope.
func (i *Ingestor) Page(ctx context.Context, userID int64, cursor *string) (*record.Page, error) {
	resp, err := i.client.GetReceipts(ctx, fmt.Sprintf("u-%d", userID), cursor)
	if err != nil {
		return nil, err
	}

	upserts := make([]record.Upsert, 0, len(resp.Receipts))
	seen := make(map[string]struct{}, len(resp.Receipts))
	for _, rcpt := range resp.Receipts {
		if _, dup := seen[rcpt.ID]; dup {
			continue
		}
		seen[rcpt.ID] = struct{}{}

		purchasedAt, err := rcpt.GetPurchasedAt()
		if err != nil {
			return nil, fmt.Errorf("receipt %s: %w", rcpt.ID, err)
		}

		items := make([]record.LineItem, 0, len(rcpt.LineItems))
		for _, li := range rcpt.LineItems {
			items = append(items, record.LineItem{
				Description: li.Description,
				Quantity:    li.Quantity,
				UnitPrice:   record.AmountFromMinor(li.UnitPriceMinor, rcpt.Currency),
				Amount:      record.AmountFromMinor(li.AmountMinor, rcpt.Currency),
			})
		}

		upserts = append(upserts, record.Upsert{
			UserID:             userID,
			SourceType:         record.SourceReceipt,
			ExternalID:         rcpt.ID,
			Amount:             record.AmountFromMinor(-rcpt.TotalMinor, rcpt.Currency),
			Currency:           rcpt.Currency,
			OccurredAt:         purchasedAt,
			RawMerchant:        rcpt.Seller,
			NormalizedMerchant: merchant.Normalize(rcpt.Seller),
			Detail: record.ReceiptDetail{
				Seller:    rcpt.Seller,
				OrderRef:  rcpt.OrderRef,
				Tax:       record.AmountFromMinor(rcpt.TaxMinor, rcpt.Currency),
				LineItems: items,
			},
		})
	}

	return &record.Page{
		Upserts:    upserts,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}
