package githubapp_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v58/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/internal/config"
	"github.com/auditpitcrew/audit-pit-crew/internal/githubapp"
)

// writeTestKey generates an RSA key pair and writes the private key PEM to
// disk, returning the path and the public half for verification.
func writeTestKey(t *testing.T) (string, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	path := filepath.Join(t.TempDir(), "app.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))
	return path, &key.PublicKey
}

func testGitHubConfig(keyPath, baseURL string) config.GitHubConfig {
	return config.GitHubConfig{
		AppID:             1234,
		PrivateKeyPath:    keyPath,
		APIBaseURL:        baseURL,
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 100,
	}
}

func TestNewAuthRejectsMissingKey(t *testing.T) {
	cfg := testGitHubConfig(filepath.Join(t.TempDir(), "missing.pem"), "")
	_, err := githubapp.NewAuth(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestInstallationTokenMintsSignedJWT(t *testing.T) {
	keyPath, pub := writeTestKey(t)

	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/app/installations/4242/access_tokens") {
			sawAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"token":      "ghs_testtoken",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	auth, err := githubapp.NewAuth(testGitHubConfig(keyPath, srv.URL), zap.NewNop())
	require.NoError(t, err)

	token, err := auth.InstallationToken(context.Background(), 4242)
	require.NoError(t, err)
	assert.Equal(t, "ghs_testtoken", token)

	// The request carried a Bearer JWT signed by the App key with our App id
	// as issuer.
	require.True(t, strings.HasPrefix(sawAuth, "Bearer "))
	raw := strings.TrimPrefix(sawAuth, "Bearer ")
	claims := jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.Equal(t, "1234", claims.Issuer)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
}

func TestInstallationTokenFailureIsAuthError(t *testing.T) {
	keyPath, _ := writeTestKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad credentials"}`))
	}))
	defer srv.Close()

	auth, err := githubapp.NewAuth(testGitHubConfig(keyPath, srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = auth.InstallationToken(context.Background(), 4242)
	require.Error(t, err)
	assert.True(t, githubapp.IsAuthError(err))
}

func TestClientOperations(t *testing.T) {
	type call struct {
		method string
		path   string
		body   map[string]any
	}
	var calls []call

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		json.Unmarshal(body, &decoded)
		calls = append(calls, call{r.Method, r.URL.Path, decoded})

		switch {
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/check-runs"):
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": 1001}`))
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/comments"):
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": 55}`))
		default:
			w.Write([]byte(`{"id": 1001}`))
		}
	}))
	defer srv.Close()

	keyPath, _ := writeTestKey(t)
	client, err := githubapp.NewClient(testGitHubConfig(keyPath, srv.URL), "ghs_tok", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, client.PostIssueComment(ctx, "acme", "vault", 7, "hello"))

	id, err := client.CreateCheckRun(ctx, "acme", "vault", "abc123", "Audit Pit-Crew Security Scan", "in_progress", "t", "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), id)

	require.NoError(t, client.CompleteCheckRun(ctx, "acme", "vault", id,
		"Audit Pit-Crew Security Scan", "success", "done", "all clear", "", []*github.CheckRunAnnotation{
			{Path: github.String("contracts/Vault.sol"), StartLine: github.Int(1), EndLine: github.Int(1),
				AnnotationLevel: github.String("warning"), Message: github.String("m")},
		}))

	require.Len(t, calls, 3)
	assert.Contains(t, calls[0].path, "/repos/acme/vault/issues/7/comments")
	assert.Equal(t, "hello", calls[0].body["body"])
	assert.Contains(t, calls[1].path, "/repos/acme/vault/check-runs")
	assert.Equal(t, "abc123", calls[1].body["head_sha"])
	assert.Equal(t, http.MethodPatch, calls[2].method)
	assert.Contains(t, calls[2].path, "/check-runs/1001")
	assert.Equal(t, "success", calls[2].body["conclusion"])
}
