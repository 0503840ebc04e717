// File: internal/report/reporter.go
// Description: Formats scan outcomes and publishes them onto the pull
// request: a human-readable comment and the gating check run. Every call is
// best-effort with respect to the orchestrator; publication failures are
// logged and never change the job outcome.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
)

// CheckName is the gating check attached to the PR's head commit.
const CheckName = "Audit Pit-Crew Security Scan"

// commentMarker tags our comments so humans and tooling can find them.
const commentMarker = "<!-- audit-pit-crew-report-v1 -->"

// maxAnnotations is GitHub's per-request annotation cap.
const maxAnnotations = 50

// maxDetailedFindings bounds the check-run detail section for readability.
const maxDetailedFindings = 20

// PlatformClient is the hosting-platform capability the reporter consumes.
type PlatformClient interface {
	PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error
	CreateCheckRun(ctx context.Context, owner, repo, headSHA, name, status, title, summary string) (int64, error)
	CompleteCheckRun(ctx context.Context, owner, repo string, id int64, name, conclusion, title, summary, text string, annotations []*github.CheckRunAnnotation) error
}

// Reporter publishes results for one pull request.
type Reporter struct {
	client PlatformClient
	pr     schemas.PRContext
	log    *zap.Logger
}

// New builds a reporter bound to a PR context.
func New(client PlatformClient, pr schemas.PRContext, logger *zap.Logger) *Reporter {
	return &Reporter{
		client: client,
		pr:     pr,
		log:    logger.Named("reporter"),
	}
}

// PostReport publishes the findings summary comment. A clean scan posts an
// affirmative message so contributors see the gate ran.
func (r *Reporter) PostReport(ctx context.Context, findings []schemas.Finding) error {
	body := FormatReport(findings)
	if err := r.client.PostIssueComment(ctx, r.pr.Owner, r.pr.Repo, r.pr.PRNumber, body); err != nil {
		return fmt.Errorf("failed to post report: %w", err)
	}
	r.log.Info("Posted scan report.", zap.Int("findings", len(findings)), zap.Int("pr", r.pr.PRNumber))
	return nil
}

// PostErrorReport publishes a single comment indicating scan failure with
// the operator-visible reason. No secrets, no stack traces.
func (r *Reporter) PostErrorReport(ctx context.Context, message string) error {
	var b strings.Builder
	b.WriteString(commentMarker)
	b.WriteString("\n\n## 🚨 Audit Pit-Crew Scan Failed\n\n")
	b.WriteString("The security scan could not be completed.\n\n")
	fmt.Fprintf(&b, "**Reason:** %s\n\n", message)
	b.WriteString("This may be caused by compilation errors in the Solidity sources. Check the CI logs for details.\n")

	if err := r.client.PostIssueComment(ctx, r.pr.Owner, r.pr.Repo, r.pr.PRNumber, b.String()); err != nil {
		return fmt.Errorf("failed to post error report: %w", err)
	}
	return nil
}

// StartCheck creates the in-progress check run on the head commit.
func (r *Reporter) StartCheck(ctx context.Context) (int64, error) {
	id, err := r.client.CreateCheckRun(ctx, r.pr.Owner, r.pr.Repo, r.pr.HeadSHA, CheckName, "in_progress",
		"Security scan in progress...",
		"Audit Pit-Crew is analyzing the changed contracts for security vulnerabilities.")
	if err != nil {
		return 0, fmt.Errorf("failed to create check run: %w", err)
	}
	return id, nil
}

// CompleteCheck finishes the check run from the scan findings. The
// conclusion is failure iff any finding ranks at or above blockOn; otherwise
// success.
func (r *Reporter) CompleteCheck(ctx context.Context, id int64, findings []schemas.Finding, blockOn schemas.Severity) (string, error) {
	blocking := 0
	for _, f := range findings {
		if f.Severity.AtLeast(blockOn) {
			blocking++
		}
	}

	conclusion := "success"
	title := "✅ No new security issues found"
	switch {
	case blocking > 0:
		conclusion = "failure"
		title = fmt.Sprintf("❌ %d blocking issue(s) found", blocking)
	case len(findings) > 0:
		title = fmt.Sprintf("⚠️ %d issue(s) found (none blocking)", len(findings))
	}

	summary := checkSummary(findings, blocking, blockOn)
	text := checkDetail(findings)
	annotations := buildAnnotations(findings)

	err := r.client.CompleteCheckRun(ctx, r.pr.Owner, r.pr.Repo, id, CheckName, conclusion, title, summary, text, annotations)
	if err != nil {
		return conclusion, fmt.Errorf("failed to complete check run: %w", err)
	}
	return conclusion, nil
}

// CompleteCheckWithSummary finishes the check run with an explicit
// conclusion, used for skip and failure paths.
func (r *Reporter) CompleteCheckWithSummary(ctx context.Context, id int64, conclusion, title, summary string) error {
	err := r.client.CompleteCheckRun(ctx, r.pr.Owner, r.pr.Repo, id, CheckName, conclusion, title, summary, "", nil)
	if err != nil {
		return fmt.Errorf("failed to complete check run: %w", err)
	}
	return nil
}

// FormatReport renders the findings into the PR comment markdown. Findings
// are ordered severity descending, then file, then line.
func FormatReport(findings []schemas.Finding) string {
	if len(findings) == 0 {
		return commentMarker + "\n\n## 🛡️ Audit Pit-Crew Report\n\n" +
			"✅ **Scan Complete:** No new security issues found. Great job!"
	}

	sorted := make([]schemas.Finding, len(findings))
	copy(sorted, findings)
	schemas.SortFindings(sorted)

	var b strings.Builder
	b.WriteString(commentMarker)
	fmt.Fprintf(&b, "\n\n## 🚨 Audit Pit-Crew Security Report (%d Findings)\n", len(sorted))

	for _, f := range sorted {
		fmt.Fprintf(&b, "\n---\n### %s %s: %s\n", severityEmoji(f.Severity), f.Severity.Title(), f.Type)
		fmt.Fprintf(&b, "**Tool:** %s\n", f.Tool)
		fmt.Fprintf(&b, "**File:** `%s:%d`\n", f.File, f.Line)
		if f.Confidence != "" {
			fmt.Fprintf(&b, "**Confidence:** %s\n", f.Confidence)
		}

		desc := strings.TrimSpace(f.Description)
		first := desc
		if idx := strings.IndexByte(desc, '\n'); idx >= 0 {
			first = desc[:idx]
		}
		fmt.Fprintf(&b, "\n> %s\n", first)
		fmt.Fprintf(&b, "<details>\n<summary>Click for full description</summary>\n\n```text\n%s\n```\n</details>\n", desc)
	}
	return b.String()
}

// checkSummary builds the severity-table summary for the check output.
func checkSummary(findings []schemas.Finding, blocking int, blockOn schemas.Severity) string {
	if len(findings) == 0 {
		return "🎉 **Great job!** No new security vulnerabilities were introduced in this PR.\n"
	}

	counts := map[schemas.Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}

	var b strings.Builder
	b.WriteString("### Issue Summary\n\n")
	b.WriteString("| Severity | Count |\n|----------|-------|\n")
	for _, sev := range []schemas.Severity{
		schemas.SeverityCritical, schemas.SeverityHigh, schemas.SeverityMedium,
		schemas.SeverityLow, schemas.SeverityInformational,
	} {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(&b, "| %s %s | %d |\n", severityEmoji(sev), sev.Title(), n)
		}
	}

	fmt.Fprintf(&b, "\n**Blocking threshold:** `%s` or higher\n\n", blockOn.Title())
	if blocking > 0 {
		fmt.Fprintf(&b, "Found **%d** issue(s) that block this PR.\n", blocking)
	} else {
		b.WriteString("No issues meet the blocking threshold.\n")
	}
	return b.String()
}

// checkDetail builds the detailed findings section, capped for readability.
func checkDetail(findings []schemas.Finding) string {
	if len(findings) == 0 {
		return ""
	}

	sorted := make([]schemas.Finding, len(findings))
	copy(sorted, findings)
	schemas.SortFindings(sorted)

	var b strings.Builder
	b.WriteString("## Detailed Findings\n")
	for i, f := range sorted {
		if i == maxDetailedFindings {
			fmt.Fprintf(&b, "\n_...and %d more issue(s). See the PR comment for full details._\n", len(sorted)-maxDetailedFindings)
			break
		}
		fmt.Fprintf(&b, "\n### %d. %s [%s] %s\n", i+1, severityEmoji(f.Severity), f.Severity.Title(), f.Type)
		fmt.Fprintf(&b, "**File:** `%s:%d`\n", f.File, f.Line)
		fmt.Fprintf(&b, "**Tool:** %s\n", f.Tool)
		fmt.Fprintf(&b, "\n> %s\n", truncate(f.Description, 500))
	}
	return b.String()
}

// buildAnnotations converts findings with a known location into inline
// annotations for the PR diff view.
func buildAnnotations(findings []schemas.Finding) []*github.CheckRunAnnotation {
	var out []*github.CheckRunAnnotation
	for _, f := range findings {
		if f.File == "" || f.Line == 0 {
			continue
		}
		if len(out) == maxAnnotations {
			break
		}
		level := "warning"
		if f.Severity.AtLeast(schemas.SeverityHigh) {
			level = "failure"
		}
		out = append(out, &github.CheckRunAnnotation{
			Path:            github.String(f.File),
			StartLine:       github.Int(f.Line),
			EndLine:         github.Int(f.Line),
			AnnotationLevel: github.String(level),
			Title:           github.String(fmt.Sprintf("[%s] %s", f.Tool, f.Type)),
			Message:         github.String(truncate(f.Description, 65535)),
		})
	}
	return out
}

func severityEmoji(sev schemas.Severity) string {
	switch sev {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return "🔴"
	case schemas.SeverityMedium:
		return "🟠"
	default:
		return "🟡"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
