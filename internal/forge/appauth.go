package forge

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppTokenSource mints installation access tokens for a GitHub App. Tokens
// are cached until shortly before expiry; minting is serialised.
type AppTokenSource struct {
	appID          string
	installationID string
	key            *rsa.PrivateKey
	httpClient     *http.Client
	now            func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewAppTokenSource parses the PEM private key and returns a token source.
func NewAppTokenSource(appID, installationID string, pemKey []byte) (*AppTokenSource, error) {
	if appID == "" || installationID == "" {
		return nil, errors.New("GitHub App id and installation id are required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse GitHub App private key: %w", err)
	}
	return &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		now:            time.Now,
	}, nil
}

// Token returns a valid installation token, minting a fresh one when the
// cached token is within a minute of expiry.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(time.Minute).Before(s.expiresAt) {
		return s.token, nil
	}

	appJWT, err := s.signAppJWT()
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/app/installations/%s/access_tokens", apiBase, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mint installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Status: resp.StatusCode, Endpoint: "/app/installations/access_tokens", Message: string(raw)}
	}

	var minted struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&minted); err != nil {
		return "", err
	}
	s.token = minted.Token
	s.expiresAt = minted.ExpiresAt
	return s.token, nil
}

// signAppJWT builds the short-lived app JWT. iat is backdated 60s to absorb
// clock skew; GitHub caps exp at 10 minutes.
func (s *AppTokenSource) signAppJWT() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign app JWT: %w", err)
	}
	return signed, nil
}

// TokenFromEnv picks the strongest available credential: GitHub App
// (GITHUB_APP_ID, GITHUB_APP_INSTALLATION_ID, and GITHUB_APP_PRIVATE_KEY or
// its base64 variant), falling back to GITHUB_TOKEN.
func TokenFromEnv(getenv func(string) string) (TokenSource, error) {
	if appID := getenv("GITHUB_APP_ID"); appID != "" {
		pemKey := []byte(getenv("GITHUB_APP_PRIVATE_KEY"))
		if len(pemKey) == 0 {
			if encoded := getenv("GITHUB_APP_PRIVATE_KEY_BASE64"); encoded != "" {
				decoded, err := base64.StdEncoding.DecodeString(encoded)
				if err != nil {
					return nil, fmt.Errorf("decode GITHUB_APP_PRIVATE_KEY_BASE64: %w", err)
				}
				pemKey = decoded
			}
		}
		if len(pemKey) == 0 {
			return nil, errors.New("GITHUB_APP_ID set but no private key provided")
		}
		return NewAppTokenSource(appID, getenv("GITHUB_APP_INSTALLATION_ID"), pemKey)
	}
	if token := getenv("GITHUB_TOKEN"); token != "" {
		return StaticToken(token), nil
	}
	return nil, errors.New("no GitHub credentials: set GITHUB_TOKEN or GitHub App variables")
}
