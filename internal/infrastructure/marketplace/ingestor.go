package marketplace

import (
	"context"
	"fmt"

	"tally/internal/domain/merchant"
	"tally/internal/domain/record"
)

// Ingestor adapts marketplace orders to the sync pipeline. Order timestamps
// predate bank settlement, which is why the matcher widens its date window
// for this source type.
type Ingestor struct {
	client *Client
}

// NewIngestor creates a new marketplace ingestor
func NewIngestor(client *Client) *Ingestor {
	return &Ingestor{client: client}
}

// Page fetches one page of a user's orders.
func (i *Ingestor) Page(ctx context.Context, userID int64, cursor *string) (*record.Page, error) {
	resp, err := i.client.GetOrders(ctx, fmt.Sprintf("u-%d", userID), cursor)
	if err != nil {
		return nil, err
	}

	upserts := make([]record.Upsert, 0, len(resp.Orders))
	seen := make(map[string]struct{}, len(resp.Orders))
	for _, ord := range resp.Orders {
		if _, dup := seen[ord.ID]; dup {
			continue
		}
		seen[ord.ID] = struct{}{}

		orderedAt, err := ord.GetOrderedAt()
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", ord.ID, err)
		}

		items := make([]record.LineItem, 0, len(ord.LineItems))
		for _, li := range ord.LineItems {
			items = append(items, record.LineItem{
				Description: li.Description,
				Quantity:    li.Quantity,
				UnitPrice:   record.AmountFromMinor(li.UnitPriceMinor, ord.Currency),
				Amount:      record.AmountFromMinor(li.AmountMinor, ord.Currency),
			})
		}

		upserts = append(upserts, record.Upsert{
			UserID:             userID,
			SourceType:         record.SourceMarketplace,
			ExternalID:         ord.ID,
			Amount:             record.AmountFromMinor(-ord.TotalMinor, ord.Currency),
			Currency:           ord.Currency,
			OccurredAt:         orderedAt,
			RawMerchant:        ord.Marketplace,
			NormalizedMerchant: merchant.Normalize(ord.Marketplace),
			Detail: record.OrderDetail{
				Marketplace: ord.Marketplace,
				OrderRef:    ord.OrderRef,
				Shipping:    record.AmountFromMinor(ord.ShippingMinor, ord.Currency),
				OrderedAt:   orderedAt,
				LineItems:   items,
			},
		})
	}

	return &record.Page{
		Upserts:    upserts,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}
