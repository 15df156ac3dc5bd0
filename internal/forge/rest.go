package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	github "github.com/google/go-github/v55/github"
)

const listPerPage = 100

// RetryPolicy controls how pull request creation reacts to 403 responses,
// which the forge uses for abuse-protection rate limiting.
type RetryPolicy struct {
	// MaxWait caps the cumulative time spent waiting. Zero means unbounded.
	MaxWait time.Duration

	// MinJitter and MaxJitter bound the random wait used when the response
	// carries no Retry-After header. Default to 10 and 60 seconds.
	MinJitter time.Duration
	MaxJitter time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p RetryPolicy) minJitter() time.Duration {
	if p.MinJitter <= 0 {
		return 10 * time.Second
	}
	return p.MinJitter
}

func (p RetryPolicy) maxJitter() time.Duration {
	if p.MaxJitter < p.minJitter() {
		if p.MaxJitter <= 0 {
			return max(60*time.Second, p.minJitter())
		}
		return p.minJitter()
	}
	return p.MaxJitter
}

// delay returns the Retry-After value in seconds when present and valid,
// otherwise a uniformly random duration within the jitter bounds.
func (p RetryPolicy) delay(header http.Header) time.Duration {
	if raw := strings.TrimSpace(header.Get("Retry-After")); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	lo, hi := p.minJitter(), p.maxJitter()
	return lo + time.Duration(rand.Int63n(int64(hi-lo+1)))
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RESTOptions configures the REST-backed factory.
type RESTOptions struct {
	BaseURL   string
	Timeout   time.Duration
	CacheTTL  time.Duration
	Transport http.RoundTripper
	Retry     RetryPolicy
	Logger    *slog.Logger
}

// NewRESTFactory returns a Factory backed by the go-github REST client. When
// BaseURL is set the factory targets a GitHub Enterprise instance.
func NewRESTFactory(opts RESTOptions) Factory {
	opts.BaseURL = strings.TrimSpace(opts.BaseURL)
	return &restFactory{opts: opts, userAgent: defaultUserAgent}
}

type restFactory struct {
	opts      RESTOptions
	userAgent string
}

type restClient struct {
	client *github.Client
	retry  RetryPolicy
	log    *slog.Logger
}

func (f *restFactory) New(ctx context.Context, creds Credentials) (Client, error) {
	httpClient, err := NewHTTPClient(ctx, HTTPOptions{
		Credentials: creds,
		Timeout:     f.opts.Timeout,
		CacheTTL:    f.opts.CacheTTL,
		Transport:   f.opts.Transport,
	})
	if err != nil {
		return nil, err
	}

	ghClient := github.NewClient(httpClient)
	if f.opts.BaseURL != "" {
		baseURL, err := normalizeBaseURL(f.opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse forge base url: %w", err)
		}
		ghClient, err = ghClient.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise forge client: %w", err)
		}
	}
	if f.userAgent != "" {
		ghClient.UserAgent = f.userAgent
	}

	return &restClient{client: ghClient, retry: f.opts.Retry, log: f.opts.Logger}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	} else if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

// errorResponse extracts the HTTP response and message go-github attached
// to a non-2xx reply. It returns nil when err carries no response.
func errorResponse(err error) (*http.Response, string) {
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return abuseErr.Response, abuseErr.Message
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr.Response, rateErr.Message
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		return respErr.Response, respErr.Message
	}
	return nil, ""
}

// CreatePullRequest opens a pull request. A 403 is treated as abuse-protection
// rate limiting and retried after the advertised (or a random) wait, bounded
// only by RetryPolicy.MaxWait and ctx.
func (c *restClient) CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (PullRequest, error) {
	payload := &github.NewPullRequest{
		Title:               github.String(input.Title),
		Head:                github.String(input.Head),
		Base:                github.String(input.Base),
		Body:                github.String(input.Body),
		MaintainerCanModify: github.Bool(input.MaintainerCanModify),
	}

	var waited time.Duration
	for attempt := 1; ; attempt++ {
		pr, resp, err := c.client.PullRequests.Create(withCacheBypass(ctx), owner, repo, payload)
		if err == nil {
			if resp.StatusCode != http.StatusCreated {
				return PullRequest{}, &PullRequestError{StatusCode: resp.StatusCode}
			}
			return fromGitHub(pr), nil
		}

		httpResp, message := errorResponse(err)
		if httpResp == nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return PullRequest{}, ctxErr
			}
			return PullRequest{}, fmt.Errorf("create pull request: %w", err)
		}
		if httpResp.StatusCode != http.StatusForbidden {
			return PullRequest{}, &PullRequestError{StatusCode: httpResp.StatusCode, Body: message}
		}

		wait := c.retry.delay(httpResp.Header)
		var abuseErr *github.AbuseRateLimitError
		if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		if c.retry.MaxWait > 0 && waited+wait > c.retry.MaxWait {
			return PullRequest{}, fmt.Errorf("%w: waited %s over %d attempts", ErrRetryBudgetExhausted, waited, attempt)
		}
		if c.log != nil {
			c.log.Warn("pull request creation rate limited, retrying", "attempt", attempt, "wait", wait.String(), "head", input.Head, "base", input.Base)
		}
		if err := c.retry.sleep(ctx, wait); err != nil {
			return PullRequest{}, err
		}
		waited += wait
	}
}

// ListOpenPullRequests returns every open pull request, following the Link
// header in pages of listPerPage entries.
func (c *restClient) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: listPerPage},
	}

	var results []PullRequest
	for {
		prs, resp, err := c.client.PullRequests.List(withCacheBypass(ctx), owner, repo, opts)
		if err != nil {
			return nil, listingError(err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrUnexpectedListing, resp.StatusCode)
		}

		for _, pr := range prs {
			if pr == nil {
				continue
			}
			results = append(results, fromGitHub(pr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return results, nil
}

func listingError(err error) error {
	if httpResp, message := errorResponse(err); httpResp != nil {
		return fmt.Errorf("%w: status %d: %s", ErrUnexpectedListing, httpResp.StatusCode, strings.TrimSpace(message))
	}
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	if errors.As(err, &typeErr) || errors.As(err, &syntaxErr) {
		return fmt.Errorf("%w: %v", ErrUnexpectedListing, err)
	}
	return fmt.Errorf("list pull requests: %w", err)
}

func (c *restClient) CommentOnPullRequest(ctx context.Context, pr PullRequest, body string) error {
	if pr.CommentsURL == "" {
		return errors.New("comment on pull request: comments url is unknown")
	}
	comment := &github.IssueComment{Body: github.String(body)}
	return c.send(ctx, "comment on pull request", http.MethodPost, pr.CommentsURL, comment, http.StatusCreated)
}

func (c *restClient) ClosePullRequest(ctx context.Context, pr PullRequest) error {
	if pr.URL == "" {
		return errors.New("close pull request: url is unknown")
	}
	update := &github.PullRequest{State: github.String("closed")}
	return c.send(ctx, "close pull request", http.MethodPatch, pr.URL, update, http.StatusOK)
}

// send issues a request against an absolute URL the forge handed back and
// requires the given status.
func (c *restClient) send(ctx context.Context, op, method, target string, body any, want int) error {
	req, err := c.client.NewRequest(method, target, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.client.Do(withCacheBypass(ctx), req, nil)
	if err != nil {
		if httpResp, message := errorResponse(err); httpResp != nil {
			return &ResponseError{Op: op, StatusCode: httpResp.StatusCode, Body: message}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != want {
		return &ResponseError{Op: op, StatusCode: resp.StatusCode}
	}
	return nil
}
