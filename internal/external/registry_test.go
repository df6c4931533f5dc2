package external

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scheduledpayments/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registryConfig(accountsURL, transferURL string) *config.Config {
	return &config.Config{
		Accounts: config.AccountsConfig{URL: accountsURL, Timeout: time.Second},
		Transfer: config.TransferConfig{URL: transferURL, Timeout: 2 * time.Second, MaxRetries: 1},
	}
}

func TestNewClientRegistry_BuildsGateways(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iban":"ES9121000418450200051332","subscription":"pro"}`))
	}))
	defer srv.Close()

	reg, err := NewClientRegistry(registryConfig(srv.URL+"/accounts/{accountId}", srv.URL+"/transfers"), testLogger())
	if err != nil {
		t.Fatalf("NewClientRegistry returned error: %v", err)
	}
	if reg.Accounts == nil || reg.Transfers == nil {
		t.Fatalf("registry has nil gateways: %+v", reg)
	}

	tier, err := reg.Accounts.ResolveTier(context.Background(), "ES_PRO_1")
	if err != nil {
		t.Fatalf("ResolveTier: %v", err)
	}
	if tier != "pro" {
		t.Errorf("tier = %q, want pro", tier)
	}
}

func TestNewClientRegistry_RequiresURLs(t *testing.T) {
	if _, err := NewClientRegistry(registryConfig("", "http://transfers"), testLogger()); err == nil {
		t.Error("expected error for missing accounts URL")
	}
	if _, err := NewClientRegistry(registryConfig("http://accounts", ""), testLogger()); err == nil {
		t.Error("expected error for missing transfer URL")
	}
}
