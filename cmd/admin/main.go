package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"tally/internal/domain/anomaly"
	"tally/internal/domain/connection"
	"tally/internal/domain/consistency"
	"tally/internal/domain/directdebit"
	"tally/internal/domain/enrichment"
	"tally/internal/domain/matching"
	"tally/internal/domain/record"
	"tally/internal/domain/sync"
	"tally/internal/infrastructure/bankfeed"
	"tally/internal/infrastructure/crypto"
	"tally/internal/infrastructure/marketplace"
	"tally/internal/infrastructure/postgres"
	"tally/internal/infrastructure/receiptmail"
	"tally/internal/infrastructure/vault"
	"tally/internal/shared/config"
)

const usage = `Tally Admin CLI - Management commands for the Tally API

Usage:
  admin <command> [options]

Commands:
  sync                 Run a reconciliation sync for one connection or one user source
  consistency-check    Replay account balances and scan for duplicate transactions

Examples:
  # Sync a bank connection
  admin sync --connection-id=conn_8f2a

  # Sync one side source for a user
  admin sync --user-id=1 --source=email_receipt

  # Check all synced accounts for a specific user
  admin consistency-check --user-id=1

  # Check all synced accounts for multiple users
  admin consistency-check --user-id=1,2,3

  # Check every user
  admin consistency-check --all

  # Run with timeout
  admin consistency-check --all --timeout=1h
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "sync":
		runSync(os.Args[2:])
	case "consistency-check":
		runConsistencyCheck(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage + "\n")
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	connectionID := fs.String("connection-id", "", "Bank connection to sync")
	userID := fs.Int64("user-id", 0, "User to sync a side source for")
	source := fs.String("source", "", "Side source type (with --user-id)")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin sync [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  admin sync --connection-id=conn_8f2a")
		fmt.Println("  admin sync --user-id=1 --source=email_receipt")
		fmt.Println("  admin sync --user-id=1 --source=marketplace_order --timeout=5m")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *connectionID == "" && (*userID == 0 || *source == "") {
		fmt.Println("Error: must specify --connection-id, or --user-id together with --source")
		fs.Usage()
		os.Exit(1)
	}

	// Parse timeout
	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	runner, err := buildRunner(cfg, db)
	if err != nil {
		log.Fatalf("Failed to build sync runner: %v", err)
	}

	if *source != "" {
		known := runner.Sources()
		if !contains(known, *source) {
			log.Fatalf("Unknown source %q, available: %s", *source, strings.Join(known, ", "))
		}
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	startTime := time.Now()

	var result *sync.Result
	if *connectionID != "" {
		log.Printf("Starting bank sync for connection %s", *connectionID)
		result, err = runner.RunBankSync(ctx, *connectionID, sync.ReasonManual)
	} else {
		log.Printf("Starting %s sync for user %d", *source, *userID)
		result, err = runner.RunSourceSync(ctx, *userID, *source, sync.ReasonManual)
	}
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}
	printSyncResult(result)

	elapsed := time.Since(startTime)
	log.Printf("Sync completed in %v", elapsed)
}

// buildRunner wires the same pipeline the API server runs, minus the
// workers: admin syncs execute inline on the caller's terminal.
func buildRunner(cfg *config.Config, db *postgres.DB) (*sync.Runner, error) {
	connRepo := postgres.NewConnectionRepository(db)
	recordRepo := postgres.NewRecordRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	mappingRepo := postgres.NewDirectDebitRepository(db)
	ruleRepo := postgres.NewCategoryRuleRepository(db)
	anomalyRepo := postgres.NewAnomalyRepository(db)
	cursorRepo := postgres.NewCursorRepository(db)

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}

	connService := connection.NewService(connRepo)
	mappingService := directdebit.NewService(mappingRepo)
	anomalyService := anomaly.NewService(anomalyRepo, ledgerRepo, recordRepo)

	authClient := bankfeed.NewAuthClient(cfg.BankFeed.AuthURL, cfg.BankFeed.ClientID, cfg.BankFeed.ClientSecret)
	bankClient := bankfeed.NewClientWithOptions(cfg.BankFeed.BaseURL, bankfeed.ClientOptions{
		Timeout:   cfg.BankFeed.Timeout,
		PageSize:  cfg.BankFeed.PageSize,
		RateLimit: cfg.BankFeed.RateLimit,
		RateBurst: cfg.BankFeed.RateBurst,
	})
	bankIngestor := bankfeed.NewIngestor(bankClient, cfg.Sync.StartDate)
	tokens := vault.New(connRepo, authClient, encryptor, cfg.Vault.MinTokenValidity)

	sources := map[string]sync.SourceIngestor{
		record.SourceReceipt:     receiptmail.NewIngestor(receiptmail.NewClient(cfg.ReceiptMail.BaseURL, cfg.ReceiptMail.APIKey)),
		record.SourceMarketplace: marketplace.NewIngestor(marketplace.NewClient(cfg.Marketplace.BaseURL, cfg.Marketplace.APIKey)),
	}

	matcher := matching.NewEngine(recordRepo, ledgerRepo, mappingService, anomalyService, matching.Config{
		DateWindowDays:            cfg.Matching.DateWindowDays,
		MarketplaceDateWindowDays: cfg.Matching.MarketplaceDateWindowDays,
		AmountTolerance:           cfg.Matching.AmountTolerance,
		AmountTolerancePct:        cfg.Matching.AmountTolerancePct,
		SimilarityThreshold:       cfg.Matching.SimilarityThreshold,
	})
	checker := consistency.NewChecker(ledgerRepo, anomalyService, consistency.Config{
		BalanceTolerance: cfg.Matching.BalanceTolerance,
	})
	enricher := enrichment.NewEnricher(ruleRepo, ledgerRepo, nil)

	return sync.NewRunner(tokens, bankIngestor, sources, connRepo, connService,
		recordRepo, ledgerRepo, matcher, checker, enricher, cursorRepo), nil
}

func printSyncResult(result *sync.Result) {
	if result.ConnectionID != "" {
		fmt.Printf("\n=== Connection %s (user %d) ===\n", result.ConnectionID, result.UserID)
	} else {
		fmt.Printf("\n=== User %d / %s ===\n", result.UserID, result.Source)
	}
	fmt.Printf("  Fetched:    %d\n", result.Fetched)
	fmt.Printf("  Stored:     %d\n", result.Stored)
	fmt.Printf("  Updated:    %d\n", result.Updated)
	fmt.Printf("  Skipped:    %d\n", result.Skipped)
	fmt.Printf("  Matched:    %d\n", result.Matched)
	fmt.Printf("  Created:    %d\n", result.Created)
	fmt.Printf("  Ambiguous:  %d\n", result.Ambiguous)
	fmt.Printf("  Unmatched:  %d\n", result.Unmatched)
	fmt.Printf("  Checked:    %d\n", result.Checked)
	fmt.Printf("  Enriched:   %d\n", result.Enriched)

	if len(result.Errors) > 0 {
		fmt.Printf("  Errors:     %d\n", len(result.Errors))
		for i, e := range result.Errors {
			if i >= 5 {
				fmt.Printf("    ... and %d more errors\n", len(result.Errors)-5)
				break
			}
			fmt.Printf("    - %s\n", e)
		}
	}
}

func runConsistencyCheck(args []string) {
	fs := flag.NewFlagSet("consistency-check", flag.ExitOnError)

	userIDStr := fs.String("user-id", "", "User ID(s) to check (comma-separated for multiple)")
	allUsers := fs.Bool("all", false, "Check all users")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin consistency-check [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  admin consistency-check --user-id=1")
		fmt.Println("  admin consistency-check --user-id=1,2,3")
		fmt.Println("  admin consistency-check --all --timeout=1h")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userIDStr == "" && !*allUsers {
		fmt.Println("Error: must specify --user-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	// Parse timeout
	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	// Initialize repositories and the checker
	connRepo := postgres.NewConnectionRepository(db)
	recordRepo := postgres.NewRecordRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	anomalyRepo := postgres.NewAnomalyRepository(db)
	anomalyService := anomaly.NewService(anomalyRepo, ledgerRepo, recordRepo)
	checker := consistency.NewChecker(ledgerRepo, anomalyService, consistency.Config{
		BalanceTolerance: cfg.Matching.BalanceTolerance,
	})

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var userIDs []int64

	if *allUsers {
		userRepo := postgres.NewUserRepository(db)
		users, err := userRepo.List(ctx)
		if err != nil {
			log.Fatalf("Failed to list users: %v", err)
		}
		for _, u := range users {
			userIDs = append(userIDs, u.ID)
		}
		sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })
		log.Printf("Found %d users", len(userIDs))
	} else {
		// Parse user IDs from comma-separated string
		parts := strings.Split(*userIDStr, ",")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			id, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				log.Fatalf("Invalid user ID '%s': %v", p, err)
			}
			userIDs = append(userIDs, id)
		}
	}

	if len(userIDs) == 0 {
		log.Println("No users to process")
		return
	}

	log.Printf("Starting consistency check for %d user(s)", len(userIDs))
	startTime := time.Now()

	accountsChecked := 0
	driftsFound := 0
	for _, uid := range userIDs {
		accounts, err := connRepo.ListAccountsByUser(ctx, uid)
		if err != nil {
			log.Printf("Failed to list accounts for user %d: %v", uid, err)
			continue
		}

		fmt.Printf("\n=== User %d ===\n", uid)
		if len(accounts) == 0 {
			fmt.Println("  No synced accounts")
			continue
		}

		for _, acct := range accounts {
			report, err := checker.CheckAccount(ctx, uid, acct)
			if err != nil {
				log.Printf("Check failed for account %s: %v", acct.ID, err)
				continue
			}
			accountsChecked++
			if report.Drift {
				driftsFound++
			}
			printReport(report)
		}
	}

	elapsed := time.Since(startTime)
	log.Printf("Consistency check completed in %v: %d account(s), %d drift(s)", elapsed, accountsChecked, driftsFound)
}

func printReport(report *consistency.Report) {
	status := "ok"
	if report.Drift {
		status = "DRIFT"
	}
	fmt.Printf("  Account %s: %s\n", report.AccountID, status)
	fmt.Printf("    Reported balance: %s\n", report.Reported.StringFixed(2))
	fmt.Printf("    Computed balance: %s\n", report.Computed.StringFixed(2))
	if len(report.Duplicates) > 0 {
		fmt.Printf("    Duplicate groups: %d\n", len(report.Duplicates))
		for _, group := range report.Duplicates {
			fmt.Printf("      - %s\n", strings.Join(group, ", "))
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
