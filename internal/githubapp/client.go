// File: internal/githubapp/client.go
package githubapp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/auditpitcrew/audit-pit-crew/internal/config"
)

// Client performs the hosting-platform operations the reporter needs,
// authenticated with one job's installation token. A local rate limiter
// keeps bursts of comment and check updates under GitHub's secondary rate
// limits.
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient builds an installation-token authenticated client.
func NewClient(cfg config.GitHubConfig, token string, logger *zap.Logger) (*Client, error) {
	gh := github.NewClient(&http.Client{Timeout: cfg.RequestTimeout}).WithAuthToken(token)
	if cfg.APIBaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(cfg.APIBaseURL, cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL: %w", err)
		}
	}
	return &Client{
		gh:      gh,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:     logger.Named("github_client"),
	}, nil
}

// PostIssueComment publishes a comment on a pull request.
func (c *Client) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("failed to post comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	c.log.Info("Posted PR comment.", zap.String("repo", owner+"/"+repo), zap.Int("pr", number))
	return nil
}

// CreateCheckRun attaches a new check run to a commit and returns its ID.
func (c *Client) CreateCheckRun(ctx context.Context, owner, repo, headSHA, name, status, title, summary string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	opts := github.CreateCheckRunOptions{
		Name:      name,
		HeadSHA:   headSHA,
		Status:    github.String(status),
		StartedAt: &github.Timestamp{Time: time.Now().UTC()},
	}
	if title != "" || summary != "" {
		opts.Output = &github.CheckRunOutput{
			Title:   github.String(title),
			Summary: github.String(summary),
		}
	}
	run, _, err := c.gh.Checks.CreateCheckRun(ctx, owner, repo, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to create check run on %s/%s@%s: %w", owner, repo, headSHA, err)
	}
	c.log.Info("Created check run.",
		zap.String("repo", owner+"/"+repo), zap.Int64("check_run_id", run.GetID()))
	return run.GetID(), nil
}

// CompleteCheckRun finishes a check run with a conclusion and output.
func (c *Client) CompleteCheckRun(ctx context.Context, owner, repo string, id int64, name, conclusion, title, summary, text string, annotations []*github.CheckRunAnnotation) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	output := &github.CheckRunOutput{
		Title:   github.String(title),
		Summary: github.String(summary),
	}
	if text != "" {
		output.Text = github.String(text)
	}
	if len(annotations) > 0 {
		output.Annotations = annotations
	}
	opts := github.UpdateCheckRunOptions{
		Name:        name,
		Status:      github.String("completed"),
		Conclusion:  github.String(conclusion),
		CompletedAt: &github.Timestamp{Time: time.Now().UTC()},
		Output:      output,
	}
	_, _, err := c.gh.Checks.UpdateCheckRun(ctx, owner, repo, id, opts)
	if err != nil {
		return fmt.Errorf("failed to complete check run %d on %s/%s: %w", id, owner, repo, err)
	}
	c.log.Info("Completed check run.",
		zap.String("repo", owner+"/"+repo), zap.Int64("check_run_id", id), zap.String("conclusion", conclusion))
	return nil
}
