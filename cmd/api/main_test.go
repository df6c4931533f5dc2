package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scheduledpayments/internal/config"
)

// directoryServer stands in for the accounts directory: NO_EXISTE is unknown,
// every other account is on the basic tier.
func directoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/NO_EXISTE") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"subscription":"basico"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setTestEnv(t *testing.T, accountsURL string) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("PORT", "0")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("ACCOUNTS_SERVICE_URL", accountsURL+"/accounts/{accountId}")
	t.Setenv("TRANSFER_SERVICE_URL", "http://127.0.0.1:1/transfers")
	t.Setenv("NTP_SERVER", "")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("SQS_FAILED_PAYMENTS", "")
	t.Setenv("LOG_FILE", "")
}

// buildTestApp wires the process exactly as run() does, over the memory store.
func buildTestApp(t *testing.T) *app {
	t.Helper()
	setTestEnv(t, directoryServer(t).URL)

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := buildApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

// TestHealthEndpoint verifies that the fully wired server reports the
// database check on GET /health.
func TestHealthEndpoint(t *testing.T) {
	a := buildTestApp(t)

	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health: got status %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"database"`) {
		t.Errorf("health body missing database check: %s", rec.Body.String())
	}
}

func TestCreateThroughWiredApp(t *testing.T) {
	a := buildTestApp(t)
	h := a.srv.Handler()

	body := `{
		"accountId": "ES_BASIC_123",
		"description": "rent",
		"beneficiary": {"name": "Landlord", "iban": "ES9121000418450200051332"},
		"amount": {"value": "950.00", "currency": "EUR"},
		"schedule": {"frequency": "ONCE", "executionDate": "2099-11-01T09:00:00Z"}
	}`
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/scheduled-payments/", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(); rec.Code != http.StatusCreated {
		t.Fatalf("first create: got %d; body: %s", rec.Code, rec.Body.String())
	}
	if rec := post(); rec.Code != http.StatusForbidden {
		t.Errorf("second create on basic tier: got %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scheduled-payments/accounts/ES_BASIC_123", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	var list struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Data) != 1 {
		t.Errorf("list returned %d payments, want 1", len(list.Data))
	}
}

func TestBuildApp_SchedulerToggle(t *testing.T) {
	a := buildTestApp(t)
	if a.loop != nil {
		t.Error("loop built with SCHEDULER_ENABLED=false")
	}

	t.Setenv("SCHEDULER_ENABLED", "true")
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	b, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer b.close()
	if b.loop == nil {
		t.Error("loop not built with SCHEDULER_ENABLED=true")
	}
}

func TestBuildApp_MissingAccountsURL(t *testing.T) {
	setTestEnv(t, "http://localhost")
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Accounts.URL = ""

	if _, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error without accounts URL")
	}
}
