package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tally/internal/domain/anomaly"
)

// MockAnomalyService implements anomalyService for testing
type MockAnomalyService struct {
	ListFunc    func(ctx context.Context, q anomaly.Query) ([]*anomaly.Anomaly, error)
	ResolveFunc func(ctx context.Context, id string, userID int64, params anomaly.ResolveParams) (*anomaly.Anomaly, error)
}

func (m *MockAnomalyService) List(ctx context.Context, q anomaly.Query) ([]*anomaly.Anomaly, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, q)
	}
	return nil, nil
}

func (m *MockAnomalyService) Resolve(ctx context.Context, id string, userID int64, params anomaly.ResolveParams) (*anomaly.Anomaly, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, id, userID, params)
	}
	return nil, nil
}

func TestHandleListAnomalies(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		mockAnomalies  func(t *testing.T) *MockAnomalyService
		expectedStatus int
	}{
		{
			name:  "Success With Filters",
			query: "?status=open&kind=balance_drift&limit=5",
			mockAnomalies: func(t *testing.T) *MockAnomalyService {
				return &MockAnomalyService{
					ListFunc: func(ctx context.Context, q anomaly.Query) ([]*anomaly.Anomaly, error) {
						if q.Status == nil || *q.Status != "open" {
							t.Error("List query missing status filter")
						}
						if q.Kind == nil || *q.Kind != "balance_drift" {
							t.Error("List query missing kind filter")
						}
						if q.Limit != 5 {
							t.Errorf("List query Limit = %d, want 5", q.Limit)
						}
						return []*anomaly.Anomaly{{ID: "anom-1", Kind: "balance_drift"}}, nil
					},
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:  "Invalid Status",
			query: "?status=bogus",
			mockAnomalies: func(t *testing.T) *MockAnomalyService {
				return &MockAnomalyService{
					ListFunc: func(ctx context.Context, q anomaly.Query) ([]*anomaly.Anomaly, error) {
						return nil, anomaly.ErrInvalidStatus
					},
				}
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Empty List Returns Array",
			query:          "",
			mockAnomalies:  func(t *testing.T) *MockAnomalyService { return &MockAnomalyService{} },
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAnomalyHandler(tt.mockAnomalies(t))

			req := httptest.NewRequest(http.MethodGet, "/api/anomalies"+tt.query, nil)
			req = requestWithUser(req, 1)

			rr := httptest.NewRecorder()
			handler.HandleListAnomalies(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.expectedStatus == http.StatusOK && !bytes.HasPrefix(bytes.TrimSpace(rr.Body.Bytes()), []byte("[")) {
				t.Errorf("expected a JSON array, got %s", rr.Body.String())
			}
		})
	}
}

func TestHandleResolveAnomaly(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]any
		mockAnomalies  func(t *testing.T) *MockAnomalyService
		expectedStatus int
	}{
		{
			name: "Dismiss",
			body: map[string]any{"dismiss": true, "note": "known duplicate"},
			mockAnomalies: func(t *testing.T) *MockAnomalyService {
				return &MockAnomalyService{
					ResolveFunc: func(ctx context.Context, id string, userID int64, params anomaly.ResolveParams) (*anomaly.Anomaly, error) {
						if !params.Dismiss {
							t.Error("expected Dismiss to be set")
						}
						if params.Note == nil || *params.Note != "known duplicate" {
							t.Error("expected note to pass through")
						}
						return &anomaly.Anomaly{ID: id, Status: anomaly.StatusDismissed}, nil
					},
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Resolve With Choice",
			body: map[string]any{"transactionId": "txn-2"},
			mockAnomalies: func(t *testing.T) *MockAnomalyService {
				return &MockAnomalyService{
					ResolveFunc: func(ctx context.Context, id string, userID int64, params anomaly.ResolveParams) (*anomaly.Anomaly, error) {
						if params.TransactionID == nil || *params.TransactionID != "txn-2" {
							t.Error("expected transaction choice to pass through")
						}
						return &anomaly.Anomaly{ID: id, Status: anomaly.StatusResolved}, nil
					},
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Choice Required",
			body: map[string]any{},
			mockAnomalies: func(t *testing.T) *MockAnomalyService {
				return &MockAnomalyService{
					ResolveFunc: func(ctx context.Context, id string, userID int64, params anomaly.ResolveParams) (*anomaly.Anomaly, error) {
						return nil, anomaly.ErrChoiceRequired
					},
				}
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Already Closed",
			body: map[string]any{"dismiss": true},
			mockAnomalies: func(t *testing.T) *MockAnomalyService {
				return &MockAnomalyService{
					ResolveFunc: func(ctx context.Context, id string, userID int64, params anomaly.ResolveParams) (*anomaly.Anomaly, error) {
						return nil, anomaly.ErrAnomalyClosed
					},
				}
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "Not Found",
			body: map[string]any{"dismiss": true},
			mockAnomalies: func(t *testing.T) *MockAnomalyService {
				return &MockAnomalyService{
					ResolveFunc: func(ctx context.Context, id string, userID int64, params anomaly.ResolveParams) (*anomaly.Anomaly, error) {
						return nil, anomaly.ErrAnomalyNotFound
					},
				}
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAnomalyHandler(tt.mockAnomalies(t))

			payload, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/api/anomalies/anom-1/resolve", bytes.NewReader(payload))
			req = requestWithUser(req, 1)
			req = withURLParam(req, "id", "anom-1")

			rr := httptest.NewRecorder()
			handler.HandleResolveAnomaly(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
		})
	}
}
