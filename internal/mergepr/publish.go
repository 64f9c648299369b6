package mergepr

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/logfields"
	"github.com/openwrt/ghmerge/internal/trailer"
)

// mergeAndPublish fast-forwards the target branch to the rebased pull
// request branch and pushes it after the operator confirmed it.
func (m *Merger) mergeAndPublish(ctx context.Context, logger *zap.Logger, res *Result) error {
	upstreamBranch := m.cfg.UpstreamRemote + "/" + res.Branch

	m.setStep(logger, res, ghmergeerr.StepDirtyCheck)

	if err := m.git.Checkout(ctx, res.Branch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitTargetDiverged, "checking out %q failed: %w", res.Branch, err)
	}

	ahead, err := m.git.CommitsAhead(ctx, upstreamBranch, res.Branch)
	if err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitTargetDiverged,
			"comparing %q with %q failed: %w", res.Branch, upstreamBranch, err)
	}

	if len(ahead) > 0 {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitTargetDiverged,
			"branch %q contains %d commit(s) that are not in %q", res.Branch, len(ahead), upstreamBranch)
	}

	m.setStep(logger, res, ghmergeerr.StepFastForward)

	if err := m.git.MergeFastForward(ctx, res.TempBranch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitFastForwardFailed,
			"fast-forwarding %q to %q failed: %w", res.Branch, res.TempBranch, err)
	}

	m.collectCommits(ctx, logger, res, upstreamBranch)

	m.setStep(logger, res, ghmergeerr.StepConfirm)

	push, err := m.prompter.Confirm(ctx, fmt.Sprintf("Push %s to %s?", res.Branch, m.cfg.UpstreamRemote), true)
	if err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitPushTargetFailed, "reading confirmation failed: %w", err)
	}

	if !push {
		logger.Info(
			fmt.Sprintf("not pushing %s, the merged commits are only in the local branch", res.Branch),
			logfields.Event("push_declined"),
		)

		return nil
	}

	m.setStep(logger, res, ghmergeerr.StepPushTarget)

	if err := m.git.Push(ctx, m.cfg.UpstreamRemote, res.Branch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitPushTargetFailed,
			"pushing %q to %q failed: %w", res.Branch, m.cfg.UpstreamRemote, err)
	}

	res.Pushed = true
	logger.Info(fmt.Sprintf("pushed %s to %s", res.Branch, m.cfg.UpstreamRemote), logfields.Event("target_branch_pushed"))

	if !m.cfg.Notify {
		logger.Debug("closing pull request on github is disabled", logfields.Event("notify_skipped"))
		return nil
	}

	m.setStep(logger, res, ghmergeerr.StepNotifyGithub)

	if err := m.closePullRequest(ctx, logger, res); err != nil {
		res.NotifyErr = err
		logger.Error(
			"closing pull request on github failed, the pull request must be closed manually",
			logfields.Event("notify_failed"),
			zap.String("url", res.ManualReviewURL),
			zap.Error(err),
		)

		return nil
	}

	res.Notified = true

	return nil
}

// collectCommits records the commits that the fast-forward added to the
// target branch and the references of their Fixes trailers.
func (m *Merger) collectCommits(ctx context.Context, logger *zap.Logger, res *Result, upstreamBranch string) {
	commits, err := m.git.Log(ctx, upstreamBranch+".."+res.Branch)
	if err != nil {
		logger.Warn("retrieving merged commits failed",
			logfields.Event("git_log_failed"),
			zap.Error(err),
		)

		return
	}

	res.Commits = commits

	repoSlug := m.cfg.RepositoryOwner + "/" + m.cfg.Repository
	for _, c := range commits {
		logger.Info(fmt.Sprintf("merged %s %s", c.ShortID(), c.Subject), logfields.Commit(c.ID), logfields.Event("commit_merged"))
		res.Fixes = append(res.Fixes, trailer.FixesReferences(c.Message, repoSlug)...)
	}
}

func (m *Merger) closePullRequest(ctx context.Context, logger *zap.Logger, res *Result) error {
	owner, repo, nr := m.cfg.RepositoryOwner, m.cfg.Repository, res.PullRequest.Number

	comment := m.renderClosingComment(res)
	if !m.cfg.DryRun {
		var err error

		comment, err = m.prompter.Input(ctx, "Closing comment", comment)
		if err != nil {
			return fmt.Errorf("reading closing comment failed: %w", err)
		}
	}

	logF := []zap.Field{
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(nr),
	}

	err := m.retryer.Run(ctx, func(ctx context.Context) error {
		return m.github.CreateIssueComment(ctx, owner, repo, nr, comment)
	}, logF)
	if err != nil {
		return fmt.Errorf("posting comment failed: %w", err)
	}

	err = m.retryer.Run(ctx, func(ctx context.Context) error {
		return m.github.ClosePullRequest(ctx, owner, repo, nr)
	}, logF)
	if err != nil {
		return fmt.Errorf("closing pull request failed: %w", err)
	}

	logger.Info(fmt.Sprintf("closed pull request #%d", nr), logfields.Event("pull_request_closed"))

	return nil
}

func (m *Merger) deleteTempBranch(ctx context.Context, logger *zap.Logger, res *Result) {
	if err := m.git.DeleteBranch(ctx, res.TempBranch); err != nil {
		logger.Warn("deleting temporary branch failed",
			logfields.Event("git_delete_branch_failed"),
			zap.Error(err),
		)

		return
	}

	res.TempBranchDeleted = true
	logger.Debug("temporary branch deleted", logfields.Event("git_temp_branch_deleted"))
}
