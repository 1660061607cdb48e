package main

import (
	"github.com/rs/zerolog/log"

	"tally/internal/domain/anomaly"
	"tally/internal/domain/connection"
	"tally/internal/domain/consistency"
	"tally/internal/domain/directdebit"
	"tally/internal/domain/enrichment"
	"tally/internal/domain/ledger"
	"tally/internal/domain/matching"
	"tally/internal/domain/record"
	"tally/internal/domain/sync"
	"tally/internal/infrastructure/bankfeed"
	"tally/internal/infrastructure/crypto"
	"tally/internal/infrastructure/marketplace"
	"tally/internal/infrastructure/postgres"
	"tally/internal/infrastructure/postgres/listener"
	"tally/internal/infrastructure/receiptmail"
	"tally/internal/infrastructure/vault"
	httphandlers "tally/internal/interfaces/http"
	"tally/internal/interfaces/scheduler"
	"tally/internal/shared/auth"
	"tally/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	TransactionHandler *httphandlers.TransactionHandler
	AnomalyHandler     *httphandlers.AnomalyHandler
	ConnectionHandler  *httphandlers.ConnectionHandler
	MappingHandler     *httphandlers.MappingHandler
	RuleHandler        *httphandlers.RuleHandler
	UploadHandler      *httphandlers.UploadHandler
	WebhookHandler     *httphandlers.WebhookHandler

	// Background workers
	Pool     *scheduler.WorkerPool
	Poller   *scheduler.Poller
	Listener *listener.RuleListener
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Info().Msg("connected to database")

	// Initialize token encryptor
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	connRepo := postgres.NewConnectionRepository(db)
	recordRepo := postgres.NewRecordRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	mappingRepo := postgres.NewDirectDebitRepository(db)
	ruleRepo := postgres.NewCategoryRuleRepository(db)
	anomalyRepo := postgres.NewAnomalyRepository(db)
	cursorRepo := postgres.NewCursorRepository(db)

	// Initialize domain services
	connService := connection.NewService(connRepo)
	ledgerService := ledger.NewService(ledgerRepo)
	mappingService := directdebit.NewService(mappingRepo)
	ruleService := enrichment.NewService(ruleRepo)
	anomalyService := anomaly.NewService(anomalyRepo, ledgerRepo, recordRepo)

	// Initialize provider clients and the token vault
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

	// Initialize the sync pipeline
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
	runner := sync.NewRunner(tokens, bankIngestor, sources, connRepo, connService,
		recordRepo, ledgerRepo, matcher, checker, enricher, cursorRepo)

	// Initialize background workers
	pool := scheduler.NewWorkerPool(cfg.Sync.WorkerCount, cfg.Sync.JobDelay, cfg.Sync.QueueSize)
	enqueuer := scheduler.NewEnqueuer(pool, runner)
	poller, err := scheduler.NewPoller(pool, scheduler.PollerConfig{
		Interval:     cfg.Sync.PollInterval,
		RunOnStartup: cfg.Sync.RunOnStartup,
		JobProvider:  scheduler.SyncJobProvider(runner, connRepo, userRepo),
	})
	if err != nil {
		return nil, err
	}
	ruleListener := listener.NewRuleListener(cfg.Database.ConnectionString(), userRepo, ledgerRepo, enricher)

	// Initialize handlers
	verifier := auth.NewWebhookVerifier(cfg.Webhook.Secret)

	return &Dependencies{
		DB:                 db,
		TransactionHandler: httphandlers.NewTransactionHandler(ledgerService),
		AnomalyHandler:     httphandlers.NewAnomalyHandler(anomalyService),
		ConnectionHandler:  httphandlers.NewConnectionHandler(connService, authClient, encryptor, enqueuer, tokens, cfg.BankFeed.RedirectURL),
		MappingHandler:     httphandlers.NewMappingHandler(mappingService),
		RuleHandler:        httphandlers.NewRuleHandler(ruleService),
		UploadHandler:      httphandlers.NewUploadHandler(runner),
		WebhookHandler:     httphandlers.NewWebhookHandler(verifier, enqueuer, connService, tokens),
		Pool:               pool,
		Poller:             poller,
		Listener:           ruleListener,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
