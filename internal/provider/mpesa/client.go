package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/ByteSurgeonAmos/pesaTalk/config"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway field-length limits for STK push requests.
const (
	maxAccountReferenceLen = 12
	maxDescriptionLen      = 13

	timestampLayout = "20060102150405"
)

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// PushResult is the correlation pair returned when the gateway accepts a
// push. CheckoutRequestID is the join key for the asynchronous callback.
type PushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
}

// Client submits STK push requests to the M-Pesa gateway. It caches the
// bearer token, retries transient transport failures with backoff, and
// trips a circuit breaker after repeated failures so callers fail fast
// while the gateway is degraded.
type Client struct {
	cfg        config.MpesaConfig
	baseURL    string
	httpClient *http.Client
	tokens     *tokenSource
	breaker    *breaker
	logger     *zap.Logger
}

func NewClient(cfg config.MpesaConfig, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://sandbox.safaricom.co.ke"
		if cfg.Environment == "production" {
			baseURL = "https://api.safaricom.co.ke"
		}
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     newTokenSource(httpClient, baseURL, cfg.ConsumerKey, cfg.ConsumerSecret),
		breaker:    newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:     logger,
	}
}

// STKPush asks the gateway to prompt the recipient's device for payment
// authorization. Business rejections are returned as-is and never retried;
// transport failures are retried with exponential backoff, and exhaustion
// (or an open breaker) surfaces as ErrGatewayUnavailable.
func (c *Client) STKPush(ctx context.Context, phone string, amount decimal.Decimal, reference, description string) (*PushResult, error) {
	if !c.breaker.Allow() {
		c.logger.Warn("gateway circuit open, rejecting push")
		return nil, fmt.Errorf("circuit open: %w", domain.ErrGatewayUnavailable)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			c.logger.Warn("retrying STK push",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.breaker.RecordFailure()
				return nil, fmt.Errorf("push cancelled: %w", domain.ErrGatewayUnavailable)
			}
		}

		result, err := c.push(ctx, phone, amount, reference, description)
		if err == nil {
			c.breaker.RecordSuccess()
			return result, nil
		}

		var rejection *domain.GatewayRejectionError
		if errors.As(err, &rejection) {
			// Business rejection: the gateway understood us and said no.
			c.breaker.RecordSuccess()
			return nil, err
		}

		lastErr = err
		c.logger.Warn("STK push attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	c.breaker.RecordFailure()
	return nil, fmt.Errorf("push failed after %d attempts: %v: %w",
		c.cfg.RetryAttempts+1, lastErr, domain.ErrGatewayUnavailable)
}

func (c *Client) push(ctx context.Context, phone string, amount decimal.Decimal, reference, description string) (*PushResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain access token: %w", err)
	}

	timestamp := time.Now().Format(timestampLayout)
	password := base64.StdEncoding.EncodeToString(
		[]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp),
	)

	request := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.IntPart(),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(reference, maxAccountReferenceLen),
		TransactionDesc:   truncate(description, maxDescriptionLen),
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal push request: %w", err)
	}

	url := c.baseURL + "/mpesa/stkpush/v1/processrequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read push response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var pushResp stkPushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}

	if pushResp.ErrorCode != "" {
		return nil, &domain.GatewayRejectionError{
			Code:        pushResp.ErrorCode,
			Description: pushResp.ErrorMessage,
		}
	}
	if pushResp.ResponseCode != "0" {
		return nil, &domain.GatewayRejectionError{
			Code:        pushResp.ResponseCode,
			Description: pushResp.ResponseDescription,
		}
	}

	c.logger.Info("STK push accepted",
		zap.String("merchant_request_id", pushResp.MerchantRequestID),
		zap.String("checkout_request_id", pushResp.CheckoutRequestID))

	return &PushResult{
		MerchantRequestID: pushResp.MerchantRequestID,
		CheckoutRequestID: pushResp.CheckoutRequestID,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
