// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// Client is an github API client.
// All methods return a ghmergeerr.RetryableError when an operation can be
// retried. This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	restURL    string
	graphQLURL string
}

// WithEnterpriseURLs configures the client to send requests to a GitHub
// Enterprise server or a test server instead of api.github.com.
func WithEnterpriseURLs(restURL, graphQLURL string) Option {
	return func(o *options) {
		o.restURL = restURL
		o.graphQLURL = graphQLURL
	}
}

// New returns a new github api client.
// If oauthAPItoken is empty, requests are sent unauthenticated.
func New(oauthAPItoken string, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := newHTTPClient(oauthAPItoken)

	restClt := github.NewClient(httpClient)
	if o.restURL != "" {
		u, err := url.Parse(o.restURL)
		if err != nil {
			return nil, fmt.Errorf("parsing github api url failed: %w", err)
		}

		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}

		restClt.BaseURL = u
	}

	graphQLClt := githubv4.NewClient(httpClient)
	if o.graphQLURL != "" {
		graphQLClt = githubv4.NewEnterpriseClient(o.graphQLURL, httpClient)
	}

	return &Client{
		restClt:    restClt,
		graphQLClt: graphQLClt,
		logger:     zap.L().Named(loggerName),
	}, nil
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// PullRequest is the subset of a GitHub pull request that is needed to
// rebase and merge it.
type PullRequest struct {
	Number int
	Title  string
	State  string
	// Mergeable is nil when GitHub did not compute the mergeability yet.
	Mergeable           *bool
	MaintainerCanModify bool
	HeadUser            string
	HeadBranch          string
	HeadRepoURL         string
	HeadCloneURL        string
	HeadSHA             string
	HTMLURL             string
	// JSON is the JSON representation of the pull request as returned by
	// the GitHub API.
	JSON []byte
}

// IsMergeable returns true if GitHub reported that the pull request can be
// merged.
func (p *PullRequest) IsMergeable() bool {
	return p.Mergeable != nil && *p.Mergeable
}

// PullRequest fetches a pull request.
func (clt *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	head := pr.GetHead()
	if head == nil {
		return nil, errors.New("got pull request object with empty head")
	}

	headRepo := head.GetRepo()
	if headRepo == nil {
		// happens when the fork of the pull request author was deleted
		return nil, errors.New("got pull request object with empty head repository")
	}

	prJSON, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("marshaling pull request into json failed: %w", err)
	}

	return &PullRequest{
		Number:              pr.GetNumber(),
		Title:               pr.GetTitle(),
		State:               pr.GetState(),
		Mergeable:           pr.Mergeable,
		MaintainerCanModify: pr.GetMaintainerCanModify(),
		HeadUser:            head.GetUser().GetLogin(),
		HeadBranch:          head.GetRef(),
		HeadRepoURL:         headRepo.GetHTMLURL(),
		HeadCloneURL:        headRepo.GetCloneURL(),
		HeadSHA:             head.GetSHA(),
		HTMLURL:             pr.GetHTMLURL(),
		JSON:                prJSON,
	}, nil
}

// CreateIssueComment creates a comment in a issue or pull request
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// ClosePullRequest changes the state of a pull request to closed.
func (clt *Client) ClosePullRequest(ctx context.Context, owner, repo string, pullRequestNumber int) error {
	_, _, err := clt.restClt.PullRequests.Edit(ctx, owner, repo, pullRequestNumber, &github.PullRequest{
		State: github.String("closed"),
	})
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug("pull request closed",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(pullRequestNumber),
		logfields.Event("github_pull_request_closed"),
	)

	return nil
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return ghmergeerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return ghmergeerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return ghmergeerr.NewRetryableAnytimeError(err)
	}

	return err
}
