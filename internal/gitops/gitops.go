// File: internal/gitops/gitops.go
// Description: Owns the per-job workspace lifecycle and every repository
// operation: clone, fetch, checkout, ref resolution, and the changed-file
// diff. Built on go-git so the installation token stays in memory as HTTP
// basic-auth material and is never written into the clone's configuration.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/internal/config"
	"github.com/auditpitcrew/audit-pit-crew/internal/manifest"
)

// workspacePrefix makes job directories easy to recognize under the system
// temp root.
const workspacePrefix = "audit_pit_"

// GitError wraps a failed repository operation. Git failures are usually
// transient network problems, so the worker's retry policy keys off this
// type.
type GitError struct {
	Op  string
	Err error
}

func (e *GitError) Error() string { return fmt.Sprintf("git %s failed: %v", e.Op, e.Err) }
func (e *GitError) Unwrap() error { return e.Err }

// IsGitError reports whether err is (or wraps) a GitError.
func IsGitError(err error) bool {
	var ge *GitError
	return errors.As(err, &ge)
}

// Manager performs workspace and repository operations with bounded
// timeouts.
type Manager struct {
	cfg config.GitConfig
	log *zap.Logger
}

// NewManager builds a git manager.
func NewManager(cfg config.GitConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg: cfg,
		log: logger.Named("gitops"),
	}
}

// CreateWorkspace creates a unique empty directory under the system temp
// root. Workspaces are per-job and never shared.
func (m *Manager) CreateWorkspace() (string, error) {
	dir, err := os.MkdirTemp("", workspacePrefix)
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	m.log.Info("Created workspace.", zap.String("path", dir))
	return dir, nil
}

// RemoveWorkspace deletes the directory and everything in it. Idempotent:
// removing an already-removed workspace is not an error.
func (m *Manager) RemoveWorkspace(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.log.Warn("Workspace already gone during cleanup.", zap.String("path", path))
		return
	}
	if err := os.RemoveAll(path); err != nil {
		m.log.Error("Failed to remove workspace.", zap.String("path", path), zap.Error(err))
		return
	}
	m.log.Info("Removed workspace.", zap.String("path", path))
}

// tokenAuth converts an installation token into in-memory transport
// credentials. The token never appears in the remote URL, so it is never
// persisted into the clone's .git/config.
func tokenAuth(token string) *githttp.BasicAuth {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

// Clone clones repoURL into the workspace. Baseline scans use a shallow
// clone; differential scans need history for the base-ref diff.
func (m *Manager) Clone(ctx context.Context, workspace, repoURL, token string, shallow bool) error {
	cloneCtx, cancel := context.WithTimeout(ctx, m.cfg.CloneTimeout)
	defer cancel()

	opts := &git.CloneOptions{URL: repoURL}
	if strings.HasPrefix(repoURL, "http") {
		opts.Auth = tokenAuth(token)
	}
	if shallow {
		opts.Depth = 1
	}

	m.log.Info("Cloning repository.", zap.String("url", repoURL), zap.Bool("shallow", shallow))
	if _, err := git.PlainCloneContext(cloneCtx, workspace, false, opts); err != nil {
		return &GitError{Op: "clone", Err: err}
	}
	m.log.Info("Clone successful.")
	return nil
}

// RepoRoot returns the top-level directory of the cloned repository. A clone
// straight into the workspace is the normal case; a clone that produced a
// single child directory is handled too.
func (m *Manager) RepoRoot(workspace string) (string, error) {
	if _, err := os.Stat(filepath.Join(workspace, ".git")); err == nil {
		return workspace, nil
	}

	entries, err := os.ReadDir(workspace)
	if err != nil {
		return "", fmt.Errorf("failed to read workspace: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 {
		child := filepath.Join(workspace, dirs[0])
		if _, err := os.Stat(filepath.Join(child, ".git")); err == nil {
			return child, nil
		}
	}
	return "", fmt.Errorf("no repository found under workspace %s", workspace)
}

// FetchBaseRef tries to fetch the base ref from origin. Any failure is
// downgraded to a warning: the ref may already be a commit SHA or locally
// reachable.
func (m *Manager) FetchBaseRef(ctx context.Context, repoRoot, baseRef, token string) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		m.log.Warn("Could not open repository for fetch.", zap.Error(err))
		return
	}

	spec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", baseRef, baseRef))
	err = repo.FetchContext(fetchCtx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       tokenAuth(token),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		m.log.Warn("Fetch of base ref failed; it may already be reachable locally.",
			zap.String("base_ref", baseRef), zap.Error(err))
		return
	}
	m.log.Debug("Fetched base ref.", zap.String("base_ref", baseRef))
}

// Checkout performs a hard checkout of a ref or SHA. Failure raises.
func (m *Manager) Checkout(ctx context.Context, repoRoot, ref string) error {
	checkoutCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckoutTimeout)
	defer cancel()

	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return &GitError{Op: "checkout", Err: err}
	}
	hash, err := m.resolve(checkoutCtx, repo, ref)
	if err != nil {
		return &GitError{Op: "checkout", Err: fmt.Errorf("cannot resolve %q: %w", ref, err)}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return &GitError{Op: "checkout", Err: err}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return &GitError{Op: "checkout", Err: err}
	}
	m.log.Info("Checked out revision.", zap.String("ref", ref), zap.String("hash", hash.String()))
	return nil
}

// resolve maps a revision string to a commit hash, bounded by the resolve
// timeout. go-git resolution is in-process, but the context keeps the
// contract uniform with the other operations.
func (m *Manager) resolve(ctx context.Context, repo *git.Repository, rev string) (*plumbing.Hash, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, m.cfg.ResolveTimeout)
	defer cancel()
	if err := resolveCtx.Err(); err != nil {
		return nil, err
	}
	return repo.ResolveRevision(plumbing.Revision(rev))
}

// ChangedSolidityFiles computes the repo-relative Solidity files changed
// between the base ref and HEAD, filtered by the scan policy. The base ref is
// resolved locally first, then as origin/<ref>; when both fail a warning is
// logged and a diff GitError is returned.
func (m *Manager) ChangedSolidityFiles(ctx context.Context, repoRoot, baseRef string, policy manifest.ScanConfig) ([]string, error) {
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return nil, &GitError{Op: "diff", Err: err}
	}

	baseHash, err := m.resolve(ctx, repo, baseRef)
	if err != nil {
		remoteRef := "origin/" + baseRef
		remoteHash, remoteErr := m.resolve(ctx, repo, remoteRef)
		if remoteErr != nil {
			m.log.Warn("Could not resolve base ref locally or via origin.",
				zap.String("base_ref", baseRef), zap.Error(err))
			return nil, &GitError{Op: "diff", Err: fmt.Errorf("unresolvable base ref %q: %w", baseRef, err)}
		}
		m.log.Debug("Resolved base ref via origin.", zap.String("ref", remoteRef))
		baseHash = remoteHash
	}

	names, err := m.diffNames(ctx, repo, *baseHash)
	if err != nil {
		return nil, err
	}

	// Filter: on-disk regular .sol files, inside contracts_path, not
	// ignored. Unique, in diff order.
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, rel := range names {
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}

		if !strings.HasSuffix(rel, ".sol") {
			continue
		}
		info, statErr := os.Stat(filepath.Join(repoRoot, filepath.FromSlash(rel)))
		if statErr != nil || !info.Mode().IsRegular() {
			continue
		}
		if !policy.InContractsPath(rel) {
			continue
		}
		if policy.Ignored(rel) {
			continue
		}
		out = append(out, rel)
	}

	m.log.Info("Computed changed Solidity files.",
		zap.String("base_ref", baseRef), zap.Int("candidates", len(names)), zap.Int("selected", len(out)))
	return out, nil
}

// diffNames lists the paths touched between the base commit tree and HEAD.
func (m *Manager) diffNames(ctx context.Context, repo *git.Repository, baseHash plumbing.Hash) ([]string, error) {
	diffCtx, cancel := context.WithTimeout(ctx, m.cfg.DiffTimeout)
	defer cancel()

	baseCommit, err := repo.CommitObject(baseHash)
	if err != nil {
		return nil, &GitError{Op: "diff", Err: err}
	}
	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, &GitError{Op: "diff", Err: err}
	}

	headRef, err := repo.Head()
	if err != nil {
		return nil, &GitError{Op: "diff", Err: err}
	}
	headCommit, err := repo.CommitObject(headRef.Hash())
	if err != nil {
		return nil, &GitError{Op: "diff", Err: err}
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, &GitError{Op: "diff", Err: err}
	}

	changes, err := object.DiffTreeWithOptions(diffCtx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, &GitError{Op: "diff", Err: err}
	}

	names := make([]string, 0, len(changes))
	for _, change := range changes {
		// Prefer the post-image name; deletions keep the pre-image name
		// and are dropped later by the on-disk existence filter.
		name := change.To.Name
		if name == "" {
			name = change.From.Name
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
