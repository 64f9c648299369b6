package mergepr

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"go.uber.org/zap"

	"github.com/openwrt/ghmerge/internal/gate"
	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/git"
	"github.com/openwrt/ghmerge/internal/githubclt"
	"github.com/openwrt/ghmerge/internal/logfields"
)

const loggerName = "merger"

type GitClient interface {
	BranchExists(ctx context.Context, name string) (bool, error)
	RemoteURL(ctx context.Context, name string) (url string, exists bool, err error)
	CommitsAhead(ctx context.Context, base, branch string) ([]string, error)
	Log(ctx context.Context, revRange string) ([]*git.Commit, error)

	Checkout(ctx context.Context, branch string) error
	CheckoutNewBranch(ctx context.Context, name, startPoint string) error
	Fetch(ctx context.Context, remote string, refs ...string) error
	Rebase(ctx context.Context, onto string) error
	AddRemote(ctx context.Context, name, url string) error
	ForcePush(ctx context.Context, remote, branch string) error
	MergeFastForward(ctx context.Context, branch string) error
	Push(ctx context.Context, remote, branch string) error
	DeleteBranch(ctx context.Context, name string) error
}

type GithubClient interface {
	PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error)
	ReadyForMerge(ctx context.Context, owner, repo string, number int) (*githubclt.ReadyForMergeStatus, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, comment string) error
	ClosePullRequest(ctx context.Context, owner, repo string, number int) error
}

// Prompter asks the operator questions.
type Prompter interface {
	Confirm(ctx context.Context, question string, def bool) (bool, error)
	Input(ctx context.Context, question, def string) (string, error)
}

// Retryer is used for running GithubClient methods repeatedly if they fail
// with a temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}

type Config struct {
	RepositoryOwner string
	Repository      string
	// UpstreamRemote is the git remote of the target branch.
	UpstreamRemote string
	DryRun         bool
	// Notify enables posting a closing comment and closing the pull
	// request after the target branch was pushed.
	Notify bool
	// ClosingComment is a text/template for the default closing comment.
	ClosingComment   string
	RequireCISuccess bool
	RequireApproval  bool
	// Gate is evaluated on the JSON representation of the pull request,
	// it is optional.
	Gate *gate.Gate
}

// Merger rebases and merges pull requests.
type Merger struct {
	cfg      Config
	git      GitClient
	github   GithubClient
	prompter Prompter
	retryer  Retryer
	logger   *zap.Logger
}

func New(cfg Config, gitClt GitClient, ghClt GithubClient, prompter Prompter, retryer Retryer) *Merger {
	return &Merger{
		cfg:      cfg,
		git:      gitClt,
		github:   ghClt,
		prompter: prompter,
		retryer:  retryer,
		logger:   zap.L().Named(loggerName),
	}
}

// Run merges the pull request prID into branch.
// The returned Result is never nil, it describes how far the workflow got.
// On failure a *ghmergeerr.StepError is returned.
func (m *Merger) Run(ctx context.Context, prID, branch string) (*Result, error) {
	res := Result{
		Branch: branch,
		DryRun: m.cfg.DryRun,
		Step:   ghmergeerr.StepValidate,
	}

	prNumber, err := ParsePRNumber(prID)
	if err != nil {
		return &res, ghmergeerr.NewStepError(ghmergeerr.StepValidate, ghmergeerr.ExitInvalidInput, err)
	}

	if branch == "" {
		return &res, ghmergeerr.StepErrorf(ghmergeerr.StepValidate, ghmergeerr.ExitInvalidInput, "target branch name is empty")
	}

	res.ManualReviewURL = fmt.Sprintf("https://github.com/%s/%s/pull/%d", m.cfg.RepositoryOwner, m.cfg.Repository, prNumber)

	logger := m.logger.With(
		logfields.RepositoryOwner(m.cfg.RepositoryOwner),
		logfields.Repository(m.cfg.Repository),
		logfields.PullRequest(prNumber),
		logfields.BaseBranch(branch),
	)

	pr, err := m.validate(ctx, logger, prNumber, branch)
	if err != nil {
		return &res, err
	}

	res.PullRequest = pr
	res.TempBranch = pr.HeadBranch + "-" + pr.HeadUser

	logger = logger.With(
		logfields.Branch(res.TempBranch),
		logfields.Remote(pr.HeadUser),
	)

	logger.Info(
		fmt.Sprintf("merging pull request #%d %q from %s:%s", pr.Number, pr.Title, pr.HeadUser, pr.HeadBranch),
		logfields.Event("pull_request_validated"),
	)

	if err := m.rebase(ctx, logger, &res, pr); err != nil {
		return &res, err
	}

	if err := m.mergeAndPublish(ctx, logger, &res); err != nil {
		m.deleteTempBranch(ctx, logger, &res)
		return &res, err
	}

	m.setStep(logger, &res, ghmergeerr.StepDeleteBranch)
	m.deleteTempBranch(ctx, logger, &res)
	m.setStep(logger, &res, ghmergeerr.StepDone)

	return &res, nil
}

func (m *Merger) setStep(logger *zap.Logger, res *Result, step ghmergeerr.Step) {
	res.Step = step
	logger.Debug("workflow step started", logfields.Step(string(step)), logfields.Event("step_started"))
}

func (m *Merger) renderClosingComment(res *Result) string {
	templ, err := template.New("closing_comment").Parse(m.cfg.ClosingComment)
	if err != nil {
		m.logger.Warn("parsing closing comment template failed, using it unrendered",
			logfields.Event("closing_comment_template_invalid"),
			zap.Error(err),
		)

		return m.cfg.ClosingComment
	}

	var out bytes.Buffer

	templateContext := struct {
		Branch      string
		PullRequest *githubclt.PullRequest
	}{
		Branch:      res.Branch,
		PullRequest: res.PullRequest,
	}

	if err := templ.Execute(&out, &templateContext); err != nil {
		m.logger.Warn("rendering closing comment template failed, using it unrendered",
			logfields.Event("closing_comment_template_invalid"),
			zap.Error(err),
		)

		return m.cfg.ClosingComment
	}

	return out.String()
}
