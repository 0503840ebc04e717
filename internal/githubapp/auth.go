// File: internal/githubapp/auth.go
// Description: GitHub App authentication. A short-lived RS256 JWT identifies
// the App itself; that JWT is exchanged for a per-installation access token
// the reporter uses. Tokens are minted per job and never cached.
package githubapp

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/internal/config"
)

// appJWTLifetime is the validity window of the App JWT; GitHub caps it at
// ten minutes.
const appJWTLifetime = 10 * time.Minute

// clockSkew backdates iat to tolerate clock drift between us and GitHub.
const clockSkew = time.Minute

// AuthError marks a credential failure. Credential problems are not
// transient, so jobs failing with one are never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("github auth failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Auth mints installation access tokens for the configured GitHub App.
type Auth struct {
	appID int64
	key   *rsa.PrivateKey
	api   *github.Client
	log   *zap.Logger
}

// NewAuth loads the App private key and prepares a JWT-authenticated API
// client.
func NewAuth(cfg config.GitHubConfig, logger *zap.Logger) (*Auth, error) {
	pem, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read App private key %q: %w", cfg.PrivateKeyPath, err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse App private key: %w", err)
	}

	a := &Auth{
		appID: cfg.AppID,
		key:   key,
		log:   logger.Named("githubapp"),
	}

	httpClient := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: &appJWTTransport{auth: a, base: http.DefaultTransport},
	}
	api := github.NewClient(httpClient)
	if cfg.APIBaseURL != "" {
		api, err = api.WithEnterpriseURLs(cfg.APIBaseURL, cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL: %w", err)
		}
	}
	a.api = api
	return a, nil
}

// appJWT signs a fresh App JWT.
func (a *Auth) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
		Issuer:    fmt.Sprintf("%d", a.appID),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

// appJWTTransport injects a freshly signed App JWT into every request, so a
// long-lived client never presents an expired token.
type appJWTTransport struct {
	auth *Auth
	base http.RoundTripper
}

func (t *appJWTTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.auth.appJWT()
	if err != nil {
		return nil, fmt.Errorf("failed to sign App JWT: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	clone.Header.Set("Accept", "application/vnd.github+json")
	return t.base.RoundTrip(clone)
}

// InstallationToken exchanges the App JWT for a short-lived installation
// access token (valid for about an hour).
func (a *Auth) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	tok, _, err := a.api.Apps.CreateInstallationToken(ctx, installationID, &github.InstallationTokenOptions{})
	if err != nil {
		return "", &AuthError{Err: err}
	}
	a.log.Info("Minted installation token.", zap.Int64("installation_id", installationID))
	return tok.GetToken(), nil
}
