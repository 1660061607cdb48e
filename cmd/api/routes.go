package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"tally/internal/shared/config"
	"tally/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.Server.AllowedHosts))

	// Unauthenticated: health probe, provider callbacks and webhooks. The
	// webhook is guarded by its HMAC signature, the callback by its state.
	r.Get("/health", handleHealth)
	r.Post("/webhooks/bankfeed", deps.WebhookHandler.HandleBankFeedWebhook)
	r.Get("/connect/bankfeed/callback", deps.ConnectionHandler.HandleCallback)

	// Everything else carries the gateway identity headers.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Get("/connect/bankfeed", deps.ConnectionHandler.HandleConnect)

		r.Route("/api", func(r chi.Router) {
			r.Get("/transactions", deps.TransactionHandler.HandleListTransactions)
			r.Get("/transactions/{id}", deps.TransactionHandler.HandleGetTransaction)

			r.Get("/anomalies", deps.AnomalyHandler.HandleListAnomalies)
			r.Post("/anomalies/{id}/resolve", deps.AnomalyHandler.HandleResolveAnomaly)

			r.Post("/uploads/card-export", deps.UploadHandler.HandleCardExportUpload)

			r.Get("/connections", deps.ConnectionHandler.HandleListConnections)
			r.Delete("/connections/{id}", deps.ConnectionHandler.HandleRevokeConnection)

			r.Post("/direct-debit-mappings", deps.MappingHandler.HandleCreateMapping)
			r.Get("/direct-debit-mappings", deps.MappingHandler.HandleListMappings)
			r.Get("/direct-debit-mappings/{id}", deps.MappingHandler.HandleGetMapping)
			r.Put("/direct-debit-mappings/{id}", deps.MappingHandler.HandleUpdateMapping)
			r.Delete("/direct-debit-mappings/{id}", deps.MappingHandler.HandleDeleteMapping)

			r.Post("/category-rules", deps.RuleHandler.HandleCreateRule)
			r.Get("/category-rules", deps.RuleHandler.HandleListRules)
			r.Get("/category-rules/{id}", deps.RuleHandler.HandleGetRule)
			r.Put("/category-rules/{id}", deps.RuleHandler.HandleUpdateRule)
			r.Delete("/category-rules/{id}", deps.RuleHandler.HandleDeleteRule)
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
