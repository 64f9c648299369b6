package githubclt

import (
	"context"

	"go.uber.org/zap"

	"github.com/openwrt/ghmerge/internal/logfields"
)

// DryClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All other operations are forwarded to the wrapped Client.
type DryClient struct {
	clt    *Client
	logger *zap.Logger
}

func NewDryClient(clt *Client) *DryClient {
	return &DryClient{
		clt:    clt,
		logger: zap.L().Named(loggerName).Named("dry"),
	}
}

func (c *DryClient) PullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	return c.clt.PullRequest(ctx, owner, repo, number)
}

func (c *DryClient) ReadyForMerge(ctx context.Context, owner, repo string, number int) (*ReadyForMergeStatus, error) {
	return c.clt.ReadyForMerge(ctx, owner, repo, number)
}

func (c *DryClient) CreateIssueComment(_ context.Context, owner, repo string, number int, comment string) error {
	c.logger.Info("simulated creating of github issue comment, no comment created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
		zap.String("comment", comment),
		logfields.Event("github_comment_simulated"),
	)

	return nil
}

func (c *DryClient) ClosePullRequest(_ context.Context, owner, repo string, number int) error {
	c.logger.Info("simulated closing of pull request, pull request stays open on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
		logfields.Event("github_close_simulated"),
	)

	return nil
}
