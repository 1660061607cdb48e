package listener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"tally/internal/domain/enrichment"
	"tally/internal/domain/ledger"
	"tally/internal/domain/user"
)

const (
	channelName       = "category_rule_changed"
	reconnectInterval = 5 * time.Second
)

// RuleNotification is the payload a category_rules trigger publishes via
// pg_notify. UserID is nil when a global rule changed.
type RuleNotification struct {
	UserID *int64 `json:"user_id"`
	RuleID int64  `json:"rule_id"`
	Op     string `json:"op"`
}

// Enricher re-evaluates one transaction against the current rule set.
type Enricher interface {
	Enrich(ctx context.Context, txn *ledger.Transaction) (*enrichment.Result, error)
}

// RuleListener reacts to category rule changes by re-enriching the affected
// users' transactions, so edits apply retroactively and not just to future
// syncs. Enrichment is idempotent, so redelivered notifications are harmless.
type RuleListener struct {
	connStr    string
	users      user.Repository
	ledger     ledger.Repository
	enricher   Enricher
	shutdownCh chan struct{}
	done       chan struct{}
}

// NewRuleListener creates a listener for category rule change notifications
func NewRuleListener(connStr string, users user.Repository, ledgerRepo ledger.Repository, enricher Enricher) *RuleListener {
	return &RuleListener{
		connStr:    connStr,
		users:      users,
		ledger:     ledgerRepo,
		enricher:   enricher,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *RuleListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Info().Str("channel", channelName).Msg("rule change listener started")
}

// Stop gracefully shuts down the listener
func (l *RuleListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Info().Msg("rule change listener stopped")
}

func (l *RuleListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		// Wait before reconnecting
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Info().Msg("reconnecting to rule change channel")
		}
	}
}

func (l *RuleListener) connectAndListen(ctx context.Context) {
	// Dedicated listener connection, separate from the pool
	pgListener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Msg("rule change listener event error")
		}
	})
	defer pgListener.Close()

	if err := pgListener.Listen(channelName); err != nil {
		log.Error().Err(err).Str("channel", channelName).Msg("failed to listen on channel")
		return
	}

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case notification := <-pgListener.Notify:
			if notification == nil {
				// Connection lost, break to reconnect
				return
			}
			l.handleNotification(notification)
		case <-time.After(90 * time.Second):
			// Ping to keep connection alive
			go func() {
				if err := pgListener.Ping(); err != nil {
					log.Error().Err(err).Msg("rule change listener ping failed")
				}
			}()
		}
	}
}

func (l *RuleListener) handleNotification(notification *pq.Notification) {
	var payload RuleNotification
	if err := json.Unmarshal([]byte(notification.Extra), &payload); err != nil {
		log.Error().Err(err).Str("channel", notification.Channel).Msg("failed to parse rule notification")
		return
	}

	// Background context: the parent may be cancelled mid-shutdown while the
	// re-enrichment should still finish.
	go l.reapply(context.Background(), payload)
}

func (l *RuleListener) reapply(ctx context.Context, payload RuleNotification) {
	userIDs, err := l.affectedUsers(ctx, payload)
	if err != nil {
		log.Error().Err(err).Int64("rule_id", payload.RuleID).Msg("failed to resolve affected users")
		return
	}

	var scanned, changed int
	for _, userID := range userIDs {
		txns, err := l.ledger.ListTransactions(ctx, ledger.TransactionQuery{UserID: userID})
		if err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("failed to list transactions for re-enrichment")
			continue
		}

		for _, txn := range txns {
			scanned++
			res, err := l.enricher.Enrich(ctx, txn)
			if err != nil {
				log.Error().Err(err).Str("transaction_id", txn.ID).Msg("failed to re-enrich transaction")
				continue
			}
			if res.Changed {
				changed++
			}
		}
	}

	log.Info().
		Int64("rule_id", payload.RuleID).
		Str("op", payload.Op).
		Int("users", len(userIDs)).
		Int("scanned", scanned).
		Int("changed", changed).
		Msg("rule change applied to existing transactions")
}

// affectedUsers resolves whose transactions a rule change touches: the owner
// for a user rule, everyone for a global rule.
func (l *RuleListener) affectedUsers(ctx context.Context, payload RuleNotification) ([]int64, error) {
	if payload.UserID != nil {
		return []int64{*payload.UserID}, nil
	}

	users, err := l.users.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
