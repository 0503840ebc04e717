// File: internal/webhook/webhook.go
// Description: The HTTP intake. Verifies the platform signature over the
// exact raw body bytes, parses the event, and enqueues differential scan
// jobs. Error responses carry status codes only; failures never leak
// internals.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
)

// maxBodySize caps webhook payloads; GitHub's own limit is 25 MB.
const maxBodySize = 25 << 20

// scanActions are the pull_request actions that trigger a differential scan.
var scanActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// Enqueuer is the queue capability the intake needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job schemas.ScanJob) error
}

// Handler owns the webhook endpoint.
type Handler struct {
	secret []byte
	queue  Enqueuer
	log    *zap.Logger
}

// NewHandler builds the webhook handler.
func NewHandler(secret string, queue Enqueuer, logger *zap.Logger) *Handler {
	return &Handler{
		secret: []byte(secret),
		queue:  queue,
		log:    logger.Named("webhook"),
	}
}

// Router assembles the HTTP surface: the webhook endpoint plus a liveness
// probe.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", h.handleHealth)
	r.Post("/webhook/github", h.handleGitHub)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// pullRequestEvent mirrors the subset of the platform payload we consume.
type pullRequestEvent struct {
	Action     string `json:"action"`
	Repository struct {
		Name     string `json:"name"`
		CloneURL string `json:"clone_url"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	PullRequest struct {
		Number int `json:"number"`
		Base   struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (h *Handler) handleGitHub(w http.ResponseWriter, r *http.Request) {
	// The raw body must be read before any JSON parse so signature
	// verification covers the exact bytes GitHub signed.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.log.Error("Failed to read webhook body.", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.log.Warn("Webhook signature missing or mismatched.", zap.String("remote", r.RemoteAddr))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	switch event {
	case "ping":
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"pong"}`))

	case "pull_request":
		h.handlePullRequest(w, r, body)

	default:
		h.log.Debug("Ignoring event.", zap.String("event", event))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handlePullRequest(w http.ResponseWriter, r *http.Request, body []byte) {
	var event pullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.log.Warn("Malformed pull_request payload.", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !scanActions[event.Action] {
		h.log.Debug("Ignoring pull_request action.", zap.String("action", event.Action))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	job := schemas.ScanJob{
		ID:             uuid.NewString(),
		RepoURL:        event.Repository.CloneURL,
		InstallationID: event.Installation.ID,
		PR: &schemas.PRContext{
			Owner:          event.Repository.Owner.Login,
			Repo:           event.Repository.Name,
			PRNumber:       event.PullRequest.Number,
			BaseRef:        event.PullRequest.Base.Ref,
			HeadSHA:        event.PullRequest.Head.SHA,
			InstallationID: event.Installation.ID,
		},
	}

	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.log.Error("Failed to enqueue scan job.", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("Queued differential scan.",
		zap.String("job_id", job.ID),
		zap.String("repo", job.PR.Owner+"/"+job.PR.Repo),
		zap.Int("pr", job.PR.PRNumber))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued", "job_id": job.ID})
}

// VerifySignature checks the hex HMAC-SHA256 digest GitHub sends in
// X-Hub-Signature-256 against the shared secret, in constant time.
func VerifySignature(secret, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign computes the signature header value for a body; exported for tests
// and local tooling.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
