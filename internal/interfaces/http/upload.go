package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"tally/internal/domain/record"
	"tally/internal/domain/sync"
	"tally/internal/infrastructure/cardexport"
	"tally/internal/shared/middleware"
)

// 10 MB of CSV is around 100k rows, far beyond any real statement export.
const maxUploadSize = 10 << 20

type batchIngestor interface {
	IngestBatch(ctx context.Context, userID int64, sourceType string, upserts []record.Upsert) (*sync.Result, error)
}

type UploadHandler struct {
	ingestor batchIngestor
}

func NewUploadHandler(ingestor batchIngestor) *UploadHandler {
	return &UploadHandler{ingestor: ingestor}
}

type UploadCardExportResponse struct {
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Matched   int      `json:"matched"`
	Ambiguous int      `json:"ambiguous"`
	Unmatched int      `json:"unmatched"`
	RowErrors []string `json:"rowErrors"`
	Errors    []string `json:"errors"`
}

// HandleCardExportUpload ingests a card-statement CSV posted as the "file"
// field of a multipart form. Rows that fail to parse are reported back, not
// fatal; rows that parse run through the same pipeline as synced records.
func (h *UploadHandler) HandleCardExportUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `A multipart "file" field is required`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	upserts, rowErrs, err := cardexport.Parse(file, userID)
	if err != nil {
		if errors.Is(err, cardexport.ErrNoHeader) {
			http.Error(w, "Unrecognized CSV header", http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to parse export", http.StatusBadRequest)
		return
	}

	resp := UploadCardExportResponse{RowErrors: rowErrs}
	if len(upserts) > 0 {
		result, err := h.ingestor.IngestBatch(r.Context(), userID, record.SourceCardExport, upserts)
		if err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("card export import failed")
			http.Error(w, "Failed to import export", http.StatusInternalServerError)
			return
		}
		resp.Imported = result.Stored + result.Updated
		resp.Skipped = result.Skipped
		resp.Matched = result.Matched
		resp.Ambiguous = result.Ambiguous
		resp.Unmatched = result.Unmatched
		resp.Errors = result.Errors
	}
	if resp.RowErrors == nil {
		resp.RowErrors = []string{}
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
