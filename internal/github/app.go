// Package github handles all origin-platform interaction: GitHub App
// authentication, PR context enrichment, and verdict comment publishing.
package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAPIBase is the public GitHub REST endpoint.
const DefaultAPIBase = "https://api.github.com"

const (
	// assertionTTL keeps the signed app assertion inside GitHub's 10 minute
	// maximum, with a minute of clock-skew allowance on the issued-at side.
	assertionTTL  = 9 * time.Minute
	assertionSkew = time.Minute

	// tokenSafety expires cached installation tokens a bit before GitHub
	// does, so an in-flight call never carries a just-expired token.
	tokenSafety = 2 * time.Minute

	exchangeTimeout = 15 * time.Second
)

// AppAuth exchanges a signed RS256 app assertion for short-lived
// installation-scoped access tokens, caching them until shortly before
// expiry.
type AppAuth struct {
	appID      string
	privateKey *rsa.PrivateKey
	apiBase    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[int64]cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// NewAppAuth loads the app private key from pemPath. apiBase may be empty
// for public GitHub.
func NewAppAuth(appID, pemPath, apiBase string) (*AppAuth, error) {
	data, err := os.ReadFile(pemPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return NewAppAuthFromKey(appID, data, apiBase)
}

// NewAppAuthFromKey parses a PEM-encoded RSA private key.
func NewAppAuthFromKey(appID string, pemData []byte, apiBase string) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &AppAuth{
		appID:      appID,
		privateKey: key,
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: exchangeTimeout},
		tokens:     make(map[int64]cachedToken),
	}, nil
}

func (a *AppAuth) signAssertion() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Add(-assertionSkew).Unix(),
		"exp": now.Add(assertionTTL).Unix(),
		"iss": a.appID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(a.privateKey)
}

// InstallationToken returns an access token scoped to the installation,
// reusing a cached one when still comfortably valid.
func (a *AppAuth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	a.mu.Lock()
	if cached, ok := a.tokens[installationID]; ok && time.Now().Before(cached.expiresAt.Add(-tokenSafety)) {
		a.mu.Unlock()
		return cached.token, nil
	}
	a.mu.Unlock()

	assertion, err := a.signAssertion()
	if err != nil {
		return "", fmt.Errorf("sign app assertion: %w", err)
	}

	url := a.apiBase + "/app/installations/" + strconv.FormatInt(installationID, 10) + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")

	res, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange installation token: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("installation token exchange returned %d", res.StatusCode)
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("empty installation token in response")
	}

	a.mu.Lock()
	a.tokens[installationID] = cachedToken{token: out.Token, expiresAt: out.ExpiresAt}
	a.mu.Unlock()

	return out.Token, nil
}
