// Package forge talks to the hosted git service that holds the pipeline's
// pull requests.
package forge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	github "github.com/google/go-github/v55/github"
)

// PullRequest carries the pull request fields the sync engine consumes.
type PullRequest struct {
	Number      int
	State       string
	HeadRef     string
	BaseRef     string
	URL         string
	HTMLURL     string
	CommentsURL string
}

func fromGitHub(pr *github.PullRequest) PullRequest {
	if pr == nil {
		return PullRequest{}
	}
	result := PullRequest{
		Number:      pr.GetNumber(),
		State:       pr.GetState(),
		URL:         pr.GetURL(),
		HTMLURL:     pr.GetHTMLURL(),
		CommentsURL: pr.GetCommentsURL(),
	}
	if head := pr.GetHead(); head != nil {
		result.HeadRef = head.GetRef()
	}
	if base := pr.GetBase(); base != nil {
		result.BaseRef = base.GetRef()
	}
	return result
}

// CreatePROptions defines the metadata required to open a sync PR.
type CreatePROptions struct {
	Title               string
	Body                string
	Head                string
	Base                string
	MaintainerCanModify bool
}

// Credentials authenticate forge requests. When Username is set the token is
// sent with basic auth, otherwise as a bearer token.
type Credentials struct {
	Token    string
	Username string
}

// Client exposes the forge operations required by the sync engine.
type Client interface {
	CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (PullRequest, error)
	ListOpenPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error)
	CommentOnPullRequest(ctx context.Context, pr PullRequest, body string) error
	ClosePullRequest(ctx context.Context, pr PullRequest) error
}

// Factory builds concrete forge clients for the sync engine.
type Factory interface {
	New(ctx context.Context, creds Credentials) (Client, error)
}

var (
	// ErrPullRequestFailed matches any non-retryable failure to open a pull request.
	ErrPullRequestFailed = errors.New("forge: pull request creation failed")

	// ErrRetryBudgetExhausted is returned when the configured maximum cumulative
	// wait for rate-limited pull request creation would be exceeded.
	ErrRetryBudgetExhausted = errors.New("forge: rate-limit retry budget exhausted")

	// ErrUnexpectedListing is returned when the pull request listing is not a
	// 200 response carrying a JSON array.
	ErrUnexpectedListing = errors.New("forge: unexpected pull request listing")
)

// PullRequestError reports the forge response that rejected a pull request.
type PullRequestError struct {
	StatusCode int
	Body       string
}

func (e *PullRequestError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("create pull request: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *PullRequestError) Is(target error) bool {
	return target == ErrPullRequestFailed
}

// ResponseError reports an unexpected status for any other forge call.
type ResponseError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, strings.TrimSpace(e.Body))
}
