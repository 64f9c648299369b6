package mergepr

import (
	"context"

	"go.uber.org/zap"

	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/git"
	"github.com/openwrt/ghmerge/internal/githubclt"
	"github.com/openwrt/ghmerge/internal/logfields"
)

// rebase syncs the target branch with its upstream, rebases the pull request
// branch onto it and force-pushes the result to the fork of the pull
// request author.
func (m *Merger) rebase(ctx context.Context, logger *zap.Logger, res *Result, pr *githubclt.PullRequest) error {
	upstreamBranch := m.cfg.UpstreamRemote + "/" + res.Branch

	m.setStep(logger, res, ghmergeerr.StepSyncTarget)

	if err := m.git.Checkout(ctx, res.Branch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitSyncTargetFailed, "checking out %q failed: %w", res.Branch, err)
	}

	if err := m.git.Fetch(ctx, m.cfg.UpstreamRemote); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitSyncTargetFailed, "fetching %q failed: %w", m.cfg.UpstreamRemote, err)
	}

	if err := m.git.Rebase(ctx, upstreamBranch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitSyncTargetFailed, "rebasing %q onto %q failed: %w", res.Branch, upstreamBranch, err)
	}

	m.setStep(logger, res, ghmergeerr.StepFetchPRBranch)

	if err := m.ensureRemote(ctx, logger, res.Step, pr); err != nil {
		return err
	}

	if err := m.git.Fetch(ctx, pr.HeadUser, pr.HeadBranch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitFetchPRBranchFailed,
			"fetching branch %q from %q failed: %w", pr.HeadBranch, pr.HeadUser, err)
	}

	if err := m.removeStaleTempBranch(ctx, logger, res); err != nil {
		return err
	}

	if err := m.git.CheckoutNewBranch(ctx, res.TempBranch, pr.HeadUser+"/"+pr.HeadBranch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitFetchPRBranchFailed,
			"creating branch %q failed: %w", res.TempBranch, err)
	}

	m.setStep(logger, res, ghmergeerr.StepRebasePRBranch)

	if err := m.git.Rebase(ctx, res.Branch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitRebasePRBranchFailed,
			"rebasing %q onto %q failed: %w", res.TempBranch, res.Branch, err)
	}

	m.setStep(logger, res, ghmergeerr.StepForcePushFork)

	if err := m.git.ForcePush(ctx, pr.HeadUser, pr.HeadBranch); err != nil {
		m.abandonTempBranch(ctx, logger, res)

		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitForcePushFailed,
			"force-pushing rebased branch to %s:%s failed: %w", pr.HeadUser, pr.HeadBranch, err)
	}

	logger.Info("rebased branch pushed to fork of the pull request author",
		logfields.Event("pull_request_branch_rebased"),
	)

	return nil
}

// ensureRemote adds a remote for the fork of the pull request author if it
// does not exist yet. An existing remote with the same name must point to the
// fork.
func (m *Merger) ensureRemote(ctx context.Context, logger *zap.Logger, step ghmergeerr.Step, pr *githubclt.PullRequest) error {
	url, exists, err := m.git.RemoteURL(ctx, pr.HeadUser)
	if err != nil {
		return ghmergeerr.StepErrorf(step, ghmergeerr.ExitFetchPRBranchFailed, "retrieving url of remote %q failed: %w", pr.HeadUser, err)
	}

	if exists {
		if !git.SameRepository(url, pr.HeadRepoURL) {
			return ghmergeerr.StepErrorf(step, ghmergeerr.ExitFetchPRBranchFailed,
				"remote %q exists but points to %q instead of %q", pr.HeadUser, url, pr.HeadRepoURL)
		}

		logger.Debug("remote for fork exists", logfields.Event("git_remote_exists"), zap.String("git.remote_url", url))
		return nil
	}

	if err := m.git.AddRemote(ctx, pr.HeadUser, pr.HeadRepoURL); err != nil {
		return ghmergeerr.StepErrorf(step, ghmergeerr.ExitFetchPRBranchFailed, "adding remote %q failed: %w", pr.HeadUser, err)
	}

	logger.Info("added remote for fork of the pull request author",
		logfields.Event("git_remote_added"),
		zap.String("git.remote_url", pr.HeadRepoURL),
	)

	return nil
}

// removeStaleTempBranch deletes a temporary branch that a previous run left
// behind. The target branch is checked out at this point.
func (m *Merger) removeStaleTempBranch(ctx context.Context, logger *zap.Logger, res *Result) error {
	exists, err := m.git.BranchExists(ctx, res.TempBranch)
	if err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitFetchPRBranchFailed,
			"checking if branch %q exists failed: %w", res.TempBranch, err)
	}

	if !exists {
		return nil
	}

	if err := m.git.DeleteBranch(ctx, res.TempBranch); err != nil {
		return ghmergeerr.StepErrorf(res.Step, ghmergeerr.ExitFetchPRBranchFailed,
			"deleting stale branch %q failed: %w", res.TempBranch, err)
	}

	logger.Info("deleted temporary branch of a previous run", logfields.Event("git_stale_temp_branch_deleted"))

	return nil
}

// abandonTempBranch switches back to the target branch and deletes the
// temporary branch. Errors are only logged.
func (m *Merger) abandonTempBranch(ctx context.Context, logger *zap.Logger, res *Result) {
	if err := m.git.Checkout(ctx, res.Branch); err != nil {
		logger.Warn("checking out target branch failed, keeping temporary branch",
			logfields.Event("git_checkout_failed"),
			zap.Error(err),
		)

		return
	}

	m.deleteTempBranch(ctx, logger, res)
}
