package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nf-core/pipeline-sync/internal/forge"
)

// PullRequestTitle is the title of the sync pull request for a tools version.
func PullRequestTitle(version string) string {
	return fmt.Sprintf("Important! Template update for nf-core/tools v%s", version)
}

// PullRequestBody describes the sync pull request opened from mergeBranch.
func PullRequestBody(version, mergeBranch string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Version `%s` of [nf-core/tools](https://github.com/nf-core/tools) has just been released with updates to the nf-core template. ", version)
	b.WriteString("This automated pull-request attempts to apply the relevant updates to this pipeline.\n\n")
	fmt.Fprintf(&b, "Please make sure to merge this pull-request as soon as possible, resolving any merge conflicts in the `%s` branch (or your own fork, if you prefer). ", mergeBranch)
	b.WriteString("Once complete, make a new minor release of your pipeline.\n\n")
	b.WriteString("For instructions on how to merge this PR, please see [https://nf-co.re/docs/contributing/sync/](https://nf-co.re/docs/contributing/sync/#merging-automated-prs).\n\n")
	fmt.Fprintf(&b, "For more information about this release of [nf-core/tools](https://github.com/nf-core/tools), please see the `v%s` [release page](https://github.com/nf-core/tools/releases/tag/%s).\n", version, version)
	return b.String()
}

// SupersededComment is posted on an older sync pull request before it is closed.
func SupersededComment(newURL string) string {
	return fmt.Sprintf("This pull-request is now outdated and has been closed in favour of %s\n\n"+
		"Please use %s to merge in the new changes from the nf-core template as soon as possible.", newURL, newURL)
}

// PullRequestController opens the sync pull request and retires older ones.
type PullRequestController struct {
	Client forge.Client
	Owner  string
	Repo   string
	Log    *slog.Logger
}

// NewPullRequestController checks the forge identity and credentials before
// building a client from factory.
func NewPullRequestController(ctx context.Context, factory forge.Factory, creds forge.Credentials, owner, repo string, logger *slog.Logger) (*PullRequestController, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return nil, fmt.Errorf("%w: owner=%q repo=%q", ErrNoRemoteIdentity, owner, repo)
	}
	if creds.Token == "" {
		return nil, ErrNoAuthToken
	}
	if factory == nil {
		return nil, fmt.Errorf("create forge client: no factory configured")
	}
	client, err := factory.New(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("create forge client: %w", err)
	}
	return &PullRequestController{Client: client, Owner: owner, Repo: repo, Log: logger}, nil
}

// OpenPR opens a pull request from head into base. Rate limiting is retried
// inside the forge client.
func (c *PullRequestController) OpenPR(ctx context.Context, head, base, title, body string) (forge.PullRequest, error) {
	pr, err := c.Client.CreatePullRequest(ctx, c.Owner, c.Repo, forge.CreatePROptions{
		Title:               title,
		Body:                body,
		Head:                head,
		Base:                base,
		MaintainerCanModify: true,
	})
	if err != nil {
		return forge.PullRequest{}, err
	}
	if c.Log != nil {
		c.Log.Info("opened sync pull request", "owner", c.Owner, "repo", c.Repo, "head_branch", head, "base_branch", base, "pr_number", pr.Number, "pr_url", pr.HTMLURL)
	}
	return pr, nil
}

// Superseded filters prs down to open sync pull requests into base other than
// the one from excludeHead.
func Superseded(prs []forge.PullRequest, base, excludeHead string) []forge.PullRequest {
	var out []forge.PullRequest
	for _, pr := range prs {
		if pr.State != "" && pr.State != "open" {
			continue
		}
		if !forge.IsMergeBranch(pr.HeadRef) || pr.BaseRef != base || pr.HeadRef == excludeHead {
			continue
		}
		out = append(out, pr)
	}
	return out
}

// CloseSuperseded comments on and closes every superseded sync pull request.
// Failures are logged and skipped. It returns how many were closed.
func (c *PullRequestController) CloseSuperseded(ctx context.Context, base, excludeHead string, newPR forge.PullRequest) (int, error) {
	open, err := c.Client.ListOpenPullRequests(ctx, c.Owner, c.Repo)
	if err != nil {
		return 0, fmt.Errorf("list open pull requests: %w", err)
	}

	newURL := newPR.HTMLURL
	if newURL == "" {
		newURL = newPR.URL
	}

	closed := 0
	for _, pr := range Superseded(open, base, excludeHead) {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		if err := c.Client.CommentOnPullRequest(ctx, pr, SupersededComment(newURL)); err != nil && c.Log != nil {
			c.Log.Warn("failed to comment on superseded pull request", "pr_number", pr.Number, "head_branch", pr.HeadRef, "error", err)
		}
		if err := c.Client.ClosePullRequest(ctx, pr); err != nil {
			if c.Log != nil {
				c.Log.Warn("failed to close superseded pull request", "pr_number", pr.Number, "pr_url", pr.HTMLURL, "error", err)
			}
			continue
		}
		closed++
		if c.Log != nil {
			c.Log.Info("closed superseded pull request", "pr_number", pr.Number, "head_branch", pr.HeadRef, "pr_url", pr.HTMLURL)
		}
	}
	return closed, nil
}
