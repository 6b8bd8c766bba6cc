package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/supplychain/supplychaintest"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

func newTestServer(t *testing.T) (*HTTPServer, *supplychaintest.Harness) {
	t.Helper()
	h := supplychaintest.New(t)
	s, err := NewHTTPServer(&config.ServerConfig{
		Host:           "127.0.0.1",
		Port:           0,
		EnableMetrics:  true,
		EnableHealth:   true,
		AllowedOrigins: []string{"http://localhost:5173"},
	}, h.Service, h.Metrics)
	require.NoError(t, err)
	return s, h
}

func do(t *testing.T, s *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createParacetamol(t *testing.T, s *HTTPServer) {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/medicines",
		`{"name":"Paracetamol","description":"500mg tablets","stage":"Ordered"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateMedicine(t *testing.T) {
	s, h := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/medicines",
		`{"name":"Paracetamol","description":"500mg tablets","stage":"Ordered"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	medicine := body["medicine"].(map[string]interface{})
	assert.Equal(t, float64(1), medicine["ledger_id"])
	assert.Equal(t, "Ordered", medicine["stage"])
	tx := body["transaction"].(map[string]interface{})
	assert.Equal(t, "MEDICINE_CREATED", tx["action"])
	assert.Equal(t, h.Writer.Address.Hex(), tx["participant"])
}

func TestCreateMedicineValidation(t *testing.T) {
	s, h := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/medicines", `{"name":"Paracetamol"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, utils.ErrCodeValidation, decode(t, rec)["code"])

	rec = do(t, s, http.MethodPost, "/api/medicines", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 0, h.Ledger.Submits())
}

func TestHistoryResponseShape(t *testing.T) {
	s, _ := newTestServer(t)
	createParacetamol(t, s)

	rec := do(t, s, http.MethodGet, "/api/medicines/1/history", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["medicineId"])
	history := body["history"].([]interface{})
	require.Len(t, history, 1)

	event := history[0].(map[string]interface{})
	assert.Equal(t, "MEDICINE_CREATED", event["action"])
	assert.Equal(t, true, event["verified"])
	assert.Contains(t, event, "participant")
	assert.Contains(t, event, "note")
	// ledger seconds rendered as milliseconds
	assert.Greater(t, event["timestamp"].(float64), float64(1700000000000))
}

func TestIdentifierErrors(t *testing.T) {
	s, _ := newTestServer(t)
	createParacetamol(t, s)

	for _, path := range []string{"/api/medicines/abc/history", "/api/medicines/-1/stage", "/api/medicines/1.5/stage"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, utils.ErrCodeInvalidIdentifier, decode(t, rec)["code"], path)
	}

	rec := do(t, s, http.MethodGet, "/api/medicines/99/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, utils.ErrCodeNotFound, decode(t, rec)["code"])
}

func TestStageRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	createParacetamol(t, s)

	rec := do(t, s, http.MethodPut, "/api/medicines/1/stage", `{"stage":"Distributed","note":"left the warehouse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "STAGE_UPDATED", decode(t, rec)["transaction"].(map[string]interface{})["action"])

	rec = do(t, s, http.MethodGet, "/api/medicines/1/stage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["medicineId"])
	assert.Equal(t, "Distributed", body["stage"])
}

func TestLedgerUnavailableIsServerError(t *testing.T) {
	s, h := newTestServer(t)
	createParacetamol(t, s)
	h.Ledger.FailCalls(assert.AnError)

	rec := do(t, s, http.MethodGet, "/api/medicines/1/stage", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, utils.ErrCodeLedgerUnavailable, decode(t, rec)["code"])
}

func TestMirrorInconsistencyResponse(t *testing.T) {
	s, h := newTestServer(t)
	h.Store.FailTransactionInserts(assert.AnError)

	rec := do(t, s, http.MethodPost, "/api/medicines",
		`{"name":"Paracetamol","description":"500mg tablets"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, utils.ErrCodeMirrorInconsistency, body["code"])
	assert.Contains(t, body["details"], h.Notifier.Alerts()[0].TransactionHash)
}

func TestListings(t *testing.T) {
	s, _ := newTestServer(t)
	createParacetamol(t, s)

	rec := do(t, s, http.MethodGet, "/api/medicines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = do(t, s, http.MethodGet, "/api/transactions?medicine_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = do(t, s, http.MethodGet, "/api/transactions?medicine_id=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["count"])

	rec = do(t, s, http.MethodGet, "/api/transactions?medicine_id=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/medicines?limit=-2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSAllowList(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/medicines", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	s.AddHealthCheck("ledger", func(context.Context) error { return nil })
	s.AddHealthCheck("storage", func(context.Context) error {
		return utils.NewAppError(utils.ErrCodeDatabase, "down")
	})

	rec := do(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].([]interface{})
	require.Len(t, components, 2)
	assert.Equal(t, "ledger", components[0].(map[string]interface{})["name"])

	do(t, s, http.MethodGet, "/api", "")
	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "medchain_http_requests_total")
	assert.Contains(t, rec.Body.String(), `path="/api"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(utils.NewAppError(utils.ErrCodeValidation, "x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(utils.NewAppError(utils.ErrCodeInvalidIdentifier, "x")))
	assert.Equal(t, http.StatusNotFound, statusFor(utils.NewAppError(utils.ErrCodeNotFound, "x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(utils.NewAppError(utils.ErrCodeSubmission, "x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
