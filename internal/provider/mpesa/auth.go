package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshMargin renews the token slightly before the gateway expires it so
// an in-flight push never carries a token that dies mid-request.
const refreshMargin = 60 * time.Second

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// tokenSource caches the gateway bearer token. Concurrent callers during a
// refresh share one auth call via singleflight.
type tokenSource struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

func newTokenSource(httpClient *http.Client, baseURL, consumerKey, consumerSecret string) *tokenSource {
	return &tokenSource{
		httpClient:     httpClient,
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
	}
}

func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.RLock()
	token, expiresAt := ts.token, ts.expiresAt
	ts.mu.RUnlock()

	if token != "" && time.Now().Before(expiresAt.Add(-refreshMargin)) {
		return token, nil
	}

	fresh, err, _ := ts.group.Do("token", func() (any, error) {
		return ts.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return fresh.(string), nil
}

func (ts *tokenSource) refresh(ctx context.Context) (string, error) {
	url := ts.baseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}

	credentials := base64.StdEncoding.EncodeToString(
		[]byte(ts.consumerKey + ":" + ts.consumerSecret),
	)
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("auth failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if auth.AccessToken == "" {
		return "", fmt.Errorf("auth response missing access token")
	}

	ttl := 3600
	if secs, err := strconv.Atoi(auth.ExpiresIn); err == nil && secs > 0 {
		ttl = secs
	}

	ts.mu.Lock()
	ts.token = auth.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(ttl) * time.Second)
	ts.mu.Unlock()

	return auth.AccessToken, nil
}
