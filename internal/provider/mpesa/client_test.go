package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/config"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"
)

type gatewayStub struct {
	authCalls int64
	pushCalls int64

	// pushHandler decides the response for each push, keyed by call order.
	pushHandler func(call int64, w http.ResponseWriter, r *http.Request)

	server *httptest.Server
}

func newGatewayStub(pushHandler func(call int64, w http.ResponseWriter, r *http.Request)) *gatewayStub {
	g := &gatewayStub{pushHandler: pushHandler}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&g.authCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "test-token",
			"expires_in":   "3600",
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt64(&g.pushCalls, 1)
		g.pushHandler(call, w, r)
	})
	g.server = httptest.NewServer(mux)
	return g
}

func acceptPush(_ int64, w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"MerchantRequestID":   "mr-1",
		"CheckoutRequestID":   "co-1",
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
	})
}

func testMpesaConfig(baseURL string, retries, breakerThreshold int) config.MpesaConfig {
	return config.MpesaConfig{
		Environment:      "sandbox",
		BaseURL:          baseURL,
		ConsumerKey:      "key",
		ConsumerSecret:   "secret",
		ShortCode:        "174379",
		Passkey:          "passkey",
		CallbackURL:      "https://example.com/api/v1/callbacks/mpesa/stk",
		RequestTimeout:   5 * time.Second,
		RetryAttempts:    retries,
		BreakerThreshold: breakerThreshold,
		BreakerCooldown:  time.Minute,
	}
}

func TestSTKPushSuccess(t *testing.T) {
	var captured stkPushRequest
	g := newGatewayStub(func(call int64, w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("push authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		acceptPush(call, w, r)
	})
	defer g.server.Close()

	c := NewClient(testMpesaConfig(g.server.URL, 2, 5), zap.NewNop())
	result, err := c.STKPush(context.Background(),
		"254712345678", decimal.NewFromInt(500),
		"a-very-long-account-reference", "a description over the limit")
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	if result.CheckoutRequestID != "co-1" || result.MerchantRequestID != "mr-1" {
		t.Errorf("unexpected result %+v", result)
	}
	if captured.Amount != 500 {
		t.Errorf("amount on wire = %d", captured.Amount)
	}
	if captured.PhoneNumber != "254712345678" || captured.PartyA != "254712345678" {
		t.Errorf("phone on wire = %q / %q", captured.PhoneNumber, captured.PartyA)
	}
	if len(captured.AccountReference) > maxAccountReferenceLen {
		t.Errorf("account reference not truncated: %q", captured.AccountReference)
	}
	if len(captured.TransactionDesc) > maxDescriptionLen {
		t.Errorf("description not truncated: %q", captured.TransactionDesc)
	}
}

func TestSTKPushCachesToken(t *testing.T) {
	g := newGatewayStub(acceptPush)
	defer g.server.Close()

	c := NewClient(testMpesaConfig(g.server.URL, 0, 5), zap.NewNop())
	for i := 0; i < 3; i++ {
		if _, err := c.STKPush(context.Background(),
			"254712345678", decimal.NewFromInt(100), "PesaTalk", "Send money"); err != nil {
			t.Fatalf("push %d: %v", i+1, err)
		}
	}

	if n := atomic.LoadInt64(&g.authCalls); n != 1 {
		t.Errorf("auth calls = %d, want 1 (token should be cached)", n)
	}
}

func TestSTKPushRejectionIsNotRetried(t *testing.T) {
	g := newGatewayStub(func(_ int64, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "500.001.1001",
			"errorMessage": "Invalid PhoneNumber",
		})
	})
	defer g.server.Close()

	c := NewClient(testMpesaConfig(g.server.URL, 3, 5), zap.NewNop())
	_, err := c.STKPush(context.Background(),
		"254712345678", decimal.NewFromInt(100), "PesaTalk", "Send money")

	var rejection *domain.GatewayRejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected GatewayRejectionError, got %v", err)
	}
	if rejection.Description != "Invalid PhoneNumber" {
		t.Errorf("description = %q", rejection.Description)
	}
	if !errors.Is(err, domain.ErrGatewayRejected) {
		t.Error("error does not match ErrGatewayRejected")
	}
	if n := atomic.LoadInt64(&g.pushCalls); n != 1 {
		t.Errorf("push calls = %d, rejection must not be retried", n)
	}
}

func TestSTKPushRetriesTransportErrors(t *testing.T) {
	g := newGatewayStub(func(call int64, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		acceptPush(call, w, r)
	})
	defer g.server.Close()

	c := NewClient(testMpesaConfig(g.server.URL, 1, 5), zap.NewNop())
	result, err := c.STKPush(context.Background(),
		"254712345678", decimal.NewFromInt(100), "PesaTalk", "Send money")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.CheckoutRequestID != "co-1" {
		t.Errorf("unexpected result %+v", result)
	}
	if n := atomic.LoadInt64(&g.pushCalls); n != 2 {
		t.Errorf("push calls = %d, want 2", n)
	}
}

func TestSTKPushExhaustionReportsUnavailable(t *testing.T) {
	g := newGatewayStub(func(_ int64, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer g.server.Close()

	c := NewClient(testMpesaConfig(g.server.URL, 0, 5), zap.NewNop())
	_, err := c.STKPush(context.Background(),
		"254712345678", decimal.NewFromInt(100), "PesaTalk", "Send money")
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestSTKPushBreakerShortCircuits(t *testing.T) {
	g := newGatewayStub(func(_ int64, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer g.server.Close()

	c := NewClient(testMpesaConfig(g.server.URL, 0, 1), zap.NewNop())

	if _, err := c.STKPush(context.Background(),
		"254712345678", decimal.NewFromInt(100), "PesaTalk", "Send money"); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("first push: %v", err)
	}
	before := atomic.LoadInt64(&g.pushCalls)

	// The breaker is open; this push must fail without touching the wire.
	if _, err := c.STKPush(context.Background(),
		"254712345678", decimal.NewFromInt(100), "PesaTalk", "Send money"); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("second push: %v", err)
	}
	if after := atomic.LoadInt64(&g.pushCalls); after != before {
		t.Errorf("breaker did not short-circuit: %d -> %d push calls", before, after)
	}
}
