package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"tally/internal/domain/connection"
	"tally/internal/domain/consistency"
	"tally/internal/domain/enrichment"
	"tally/internal/domain/ledger"
	"tally/internal/domain/matching"
	"tally/internal/domain/record"
)

// Run reasons, recorded on results and in logs so operators can tell a
// webhook push from the poller or a manual trigger.
const (
	ReasonPoll    = "poll"
	ReasonWebhook = "webhook"
	ReasonInitial = "initial"
	ReasonManual  = "manual"
	ReasonUpload  = "upload"
)

// TokenSource hands out decrypted access tokens that stay valid long enough
// to finish a page. Implementations refresh behind the scenes.
type TokenSource interface {
	AccessToken(ctx context.Context, connectionID string) (string, error)
}

// BankIngestor pulls account snapshots and transaction pages from the
// bank-feed provider. The accounts map resolves provider account ids to
// stored account ids so bank records arrive ready for storage.
type BankIngestor interface {
	Accounts(ctx context.Context, token string, conn *connection.Connection) ([]connection.UpsertAccountParams, error)
	Page(ctx context.Context, token string, conn *connection.Connection, accounts map[string]string, cursor *string) (*record.Page, error)
}

// SourceIngestor pulls pages from a non-bank source (receipts, orders).
type SourceIngestor interface {
	Page(ctx context.Context, userID int64, cursor *string) (*record.Page, error)
}

// CursorStore persists resume cursors for non-bank sources. Bank cursors
// live on the connection row.
type CursorStore interface {
	Get(ctx context.Context, userID int64, source string) (*string, error)
	Set(ctx context.Context, userID int64, source string, cursor string) error
}

// Matcher runs the matching cascade for one record.
type Matcher interface {
	Match(ctx context.Context, rec *record.SourceRecord) (*matching.Outcome, error)
}

// Checker validates one account's ledger after matching.
type Checker interface {
	CheckAccount(ctx context.Context, userID int64, account *connection.Account) (*consistency.Report, error)
}

// Enricher categorizes one transaction.
type Enricher interface {
	Enrich(ctx context.Context, txn *ledger.Transaction) (*enrichment.Result, error)
}

// LedgerStore is the slice of the ledger the runner reads back for
// enrichment.
type LedgerStore interface {
	GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error)
}

// Result contains the results of one sync run
type Result struct {
	ConnectionID string
	UserID       int64
	Source       string
	Reason       string
	Fetched      int
	Stored       int
	Updated      int
	Skipped      int
	Matched      int
	Created      int
	Ambiguous    int
	Unmatched    int
	Checked      int
	Enriched     int
	Errors       []string
	Duration     time.Duration
}

// Runner drives the full pipeline for one connection or one user-source:
// ingest pages, match, check consistency, enrich. Runs for the same key are
// serialized so a webhook and the poller cannot interleave one connection's
// sync.
type Runner struct {
	tokens    TokenSource
	bank      BankIngestor
	sources   map[string]SourceIngestor
	conns     connection.Repository
	lifecycle *connection.Service
	records   record.Repository
	ledger    LedgerStore
	matcher   Matcher
	checker   Checker
	enricher  Enricher
	cursors   CursorStore
	locks     *keyedMutex
}

// NewRunner creates a new sync runner
func NewRunner(
	tokens TokenSource,
	bank BankIngestor,
	sources map[string]SourceIngestor,
	conns connection.Repository,
	lifecycle *connection.Service,
	records record.Repository,
	ledgerStore LedgerStore,
	matcher Matcher,
	checker Checker,
	enricher Enricher,
	cursors CursorStore,
) *Runner {
	return &Runner{
		tokens:    tokens,
		bank:      bank,
		sources:   sources,
		conns:     conns,
		lifecycle: lifecycle,
		records:   records,
		ledger:    ledgerStore,
		matcher:   matcher,
		checker:   checker,
		enricher:  enricher,
		cursors:   cursors,
		locks:     newKeyedMutex(),
	}
}

// Sources returns the registered pull-source types in stable order. The
// poller uses it to fan per-user source jobs out without hardcoding the set.
func (r *Runner) Sources() []string {
	types := make([]string, 0, len(r.sources))
	for sourceType := range r.sources {
		types = append(types, sourceType)
	}
	sort.Strings(types)
	return types
}

// RunBankSync syncs one connection end to end: refresh account snapshots,
// page transactions from the stored cursor, match everything unmatched,
// check each account, enrich what got linked.
func (r *Runner) RunBankSync(ctx context.Context, connectionID, reason string) (*Result, error) {
	unlock := r.locks.lock("connection:" + connectionID)
	defer unlock()

	started := time.Now()
	result := &Result{ConnectionID: connectionID, Source: record.SourceBank, Reason: reason, Errors: []string{}}

	conn, err := r.conns.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil {
		return nil, connection.ErrConnectionNotFound
	}
	if conn.Status == connection.StatusRevoked || conn.Status == connection.StatusExpired {
		return nil, fmt.Errorf("connection %s is %s and cannot sync", connectionID, conn.Status)
	}
	result.UserID = conn.UserID

	token, err := r.tokens.AccessToken(ctx, conn.ID)
	if err != nil {
		return nil, r.failConnection(ctx, conn.ID, err)
	}

	accounts, err := r.refreshAccounts(ctx, token, conn)
	if err != nil {
		return nil, r.failConnection(ctx, conn.ID, err)
	}
	accountIDs := make(map[string]string, len(accounts))
	for _, acc := range accounts {
		accountIDs[acc.ExternalID] = acc.ID
	}

	if err := r.ingestBankPages(ctx, token, conn, accountIDs, result); err != nil {
		return nil, r.failConnection(ctx, conn.ID, err)
	}

	linked, err := r.matchUnmatched(ctx, conn.UserID, result)
	if err != nil {
		return nil, r.failConnection(ctx, conn.ID, err)
	}

	for _, acc := range accounts {
		if _, err := r.checker.CheckAccount(ctx, conn.UserID, acc); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("consistency check for account %s: %v", acc.ID, err))
			continue
		}
		result.Checked++
	}

	r.enrichLinked(ctx, linked, result)

	if err := r.conns.TouchLastSynced(ctx, conn.ID, time.Now().UTC()); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("touch last synced: %v", err))
	}
	if err := r.lifecycle.MarkHealthy(ctx, conn.ID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("mark healthy: %v", err))
	}

	result.Duration = time.Since(started)
	log.Info().
		Str("connection_id", connectionID).
		Str("reason", reason).
		Int("fetched", result.Fetched).
		Int("stored", result.Stored).
		Int("matched", result.Matched).
		Int("created", result.Created).
		Int("ambiguous", result.Ambiguous).
		Int("checked", result.Checked).
		Int("enriched", result.Enriched).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("bank sync completed")
	return result, nil
}

// RunSourceSync syncs one non-bank source for a user: page from the source
// cursor, match, enrich. No accounts or balances are involved.
func (r *Runner) RunSourceSync(ctx context.Context, userID int64, sourceType, reason string) (*Result, error) {
	ingestor, ok := r.sources[sourceType]
	if !ok {
		return nil, fmt.Errorf("no ingestor registered for source %q", sourceType)
	}

	unlock := r.locks.lock(fmt.Sprintf("user:%d:%s", userID, sourceType))
	defer unlock()

	started := time.Now()
	result := &Result{UserID: userID, Source: sourceType, Reason: reason, Errors: []string{}}

	cursor, err := r.cursors.Get(ctx, userID, sourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s cursor: %w", sourceType, err)
	}

	for {
		page, err := ingestor.Page(ctx, userID, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s page: %w", sourceType, err)
		}
		r.storePage(ctx, page.Upserts, result)
		if page.NextCursor != nil {
			if err := r.cursors.Set(ctx, userID, sourceType, *page.NextCursor); err != nil {
				return nil, fmt.Errorf("failed to advance %s cursor: %w", sourceType, err)
			}
			cursor = page.NextCursor
		}
		if !page.HasMore {
			break
		}
	}

	linked, err := r.matchUnmatched(ctx, userID, result)
	if err != nil {
		return nil, err
	}
	r.enrichLinked(ctx, linked, result)

	result.Duration = time.Since(started)
	log.Info().
		Int64("user_id", userID).
		Str("source", sourceType).
		Str("reason", reason).
		Int("fetched", result.Fetched).
		Int("stored", result.Stored).
		Int("matched", result.Matched).
		Int("ambiguous", result.Ambiguous).
		Int("enriched", result.Enriched).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("source sync completed")
	return result, nil
}

// IngestBatch stores an already-parsed batch (card-export uploads), then
// runs the same match and enrich stages a pull sync would.
func (r *Runner) IngestBatch(ctx context.Context, userID int64, sourceType string, upserts []record.Upsert) (*Result, error) {
	unlock := r.locks.lock(fmt.Sprintf("user:%d:%s", userID, sourceType))
	defer unlock()

	started := time.Now()
	result := &Result{UserID: userID, Source: sourceType, Reason: ReasonUpload, Errors: []string{}}

	r.storePage(ctx, upserts, result)

	linked, err := r.matchUnmatched(ctx, userID, result)
	if err != nil {
		return nil, err
	}
	r.enrichLinked(ctx, linked, result)

	result.Duration = time.Since(started)
	log.Info().
		Int64("user_id", userID).
		Str("source", sourceType).
		Int("fetched", result.Fetched).
		Int("stored", result.Stored).
		Int("skipped", result.Skipped).
		Int("matched", result.Matched).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("batch ingest completed")
	return result, nil
}

// refreshAccounts upserts the provider's current account snapshots and
// returns the stored rows.
func (r *Runner) refreshAccounts(ctx context.Context, token string, conn *connection.Connection) ([]*connection.Account, error) {
	params, err := r.bank.Accounts(ctx, token, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	accounts := make([]*connection.Account, 0, len(params))
	for _, p := range params {
		acc, _, err := r.conns.UpsertAccount(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert account %s: %w", p.ExternalID, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// ingestBankPages walks the provider's pagination from the stored cursor.
// The cursor only advances after a page's records are stored, so a failure
// mid-pagination resumes from the last stored page.
func (r *Runner) ingestBankPages(ctx context.Context, token string, conn *connection.Connection, accountIDs map[string]string, result *Result) error {
	cursor := conn.SyncCursor
	for {
		page, err := r.bank.Page(ctx, token, conn, accountIDs, cursor)
		if err != nil {
			return fmt.Errorf("failed to fetch transaction page: %w", err)
		}
		r.storePage(ctx, page.Upserts, result)
		if page.NextCursor != nil {
			if err := r.conns.UpdateCursor(ctx, conn.ID, *page.NextCursor); err != nil {
				return fmt.Errorf("failed to advance cursor: %w", err)
			}
			cursor = page.NextCursor
		}
		if !page.HasMore {
			return nil
		}
	}
}

// storePage upserts one page of records. Malformed records are skipped and
// reported; they never abort the page.
func (r *Runner) storePage(ctx context.Context, upserts []record.Upsert, result *Result) {
	for _, u := range upserts {
		result.Fetched++
		if err := u.Validate(); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("record %s/%s: %v", u.SourceType, u.ExternalID, err))
			continue
		}
		_, created, err := r.records.Upsert(ctx, u)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %s/%s: %v", u.SourceType, u.ExternalID, err))
			continue
		}
		if created {
			result.Stored++
		} else {
			result.Updated++
		}
	}
}

// matchUnmatched runs the cascade over every unmatched record the user has,
// bank records first so fresh transactions exist before annotating records
// look for them. Returns the ids of transactions that gained a link.
func (r *Runner) matchUnmatched(ctx context.Context, userID int64, result *Result) (map[string]struct{}, error) {
	unmatched, err := r.records.ListByState(ctx, userID, record.StateUnmatched, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched records: %w", err)
	}
	sort.SliceStable(unmatched, func(i, j int) bool {
		return matchRank(unmatched[i].SourceType) < matchRank(unmatched[j].SourceType)
	})

	linked := make(map[string]struct{})
	for _, rec := range unmatched {
		outcome, err := r.matcher.Match(ctx, rec)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("match record %s: %v", rec.ID, err))
			continue
		}
		switch outcome.State {
		case record.StateMatched:
			result.Matched++
			if outcome.Created {
				result.Created++
			}
			linked[outcome.TransactionID] = struct{}{}
		case record.StateAmbiguous:
			result.Ambiguous++
		default:
			result.Unmatched++
		}
	}
	return linked, nil
}

// enrichLinked categorizes every transaction that gained a link this run.
// Enrichment is advisory; failures are reported, never fatal.
func (r *Runner) enrichLinked(ctx context.Context, linked map[string]struct{}, result *Result) {
	for id := range linked {
		txn, err := r.ledger.GetTransaction(ctx, id)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("load transaction %s: %v", id, err))
			continue
		}
		if txn == nil {
			continue
		}
		res, err := r.enricher.Enrich(ctx, txn)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("enrich transaction %s: %v", id, err))
			continue
		}
		if res.Changed {
			result.Enriched++
		}
	}
}

// failConnection records a sync failure on the connection and returns the
// original error. Auth rejections take the connection out of rotation;
// anything else leaves it retryable.
func (r *Runner) failConnection(ctx context.Context, connectionID string, cause error) error {
	if errors.Is(cause, connection.ErrAuthExpired) {
		if err := r.lifecycle.MarkAuthExpired(ctx, connectionID, cause); err != nil {
			log.Error().Err(err).Str("connection_id", connectionID).Msg("failed to mark connection expired")
		}
		return cause
	}
	if err := r.lifecycle.MarkError(ctx, connectionID, cause); err != nil {
		log.Error().Err(err).Str("connection_id", connectionID).Msg("failed to mark connection errored")
	}
	return cause
}

func matchRank(sourceType string) int {
	if sourceType == record.SourceBank {
		return 0
	}
	return 1
}
