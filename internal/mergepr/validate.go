package mergepr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/githubclt"
	"github.com/openwrt/ghmerge/internal/logfields"
)

// ParsePRNumber parses a pull request identifier, it must consist only of
// decimal digits and be >0.
func ParsePRNumber(prID string) (int, error) {
	if prID == "" {
		return 0, errors.New("pull request id is empty")
	}

	if strings.TrimLeft(prID, "0123456789") != "" {
		return 0, fmt.Errorf("pull request id %q is not a number", prID)
	}

	nr, err := strconv.Atoi(prID)
	if err != nil {
		return 0, fmt.Errorf("pull request id %q is invalid: %w", prID, err)
	}

	if nr <= 0 {
		return 0, fmt.Errorf("pull request id is %d, must be >0", nr)
	}

	return nr, nil
}

func validateErr(code ghmergeerr.ExitCode, format string, a ...any) error {
	return ghmergeerr.StepErrorf(ghmergeerr.StepValidate, code, format, a...)
}

// validate ensures that the target branch exists and that the pull request
// can be merged. It does not modify anything.
func (m *Merger) validate(ctx context.Context, logger *zap.Logger, prNumber int, branch string) (*githubclt.PullRequest, error) {
	exists, err := m.git.BranchExists(ctx, branch)
	if err != nil {
		return nil, validateErr(ghmergeerr.ExitBranchNotFound, "checking if branch %q exists failed: %w", branch, err)
	}

	if !exists {
		return nil, validateErr(ghmergeerr.ExitBranchNotFound, "branch %q does not exist locally", branch)
	}

	pr, err := m.github.PullRequest(ctx, m.cfg.RepositoryOwner, m.cfg.Repository, prNumber)
	if err != nil {
		return nil, validateErr(ghmergeerr.ExitPRFetchFailed, "fetching pull request #%d failed: %w", prNumber, err)
	}

	if pr.HeadUser == "" || pr.HeadBranch == "" || pr.HeadRepoURL == "" {
		return nil, validateErr(ghmergeerr.ExitPRFetchFailed,
			"pull request #%d has an incomplete head (user: %q, branch: %q, repository: %q)",
			prNumber, pr.HeadUser, pr.HeadBranch, pr.HeadRepoURL,
		)
	}

	if pr.State == "closed" {
		return nil, validateErr(ghmergeerr.ExitPRNotMergeable, "pull request #%d is closed", prNumber)
	}

	if !pr.IsMergeable() {
		if pr.Mergeable == nil {
			return nil, validateErr(ghmergeerr.ExitPRNotMergeable,
				"github did not determine yet if pull request #%d is mergeable, try again later", prNumber)
		}

		return nil, validateErr(ghmergeerr.ExitPRNotMergeable, "pull request #%d is not mergeable", prNumber)
	}

	if !pr.MaintainerCanModify {
		return nil, validateErr(ghmergeerr.ExitPRModifyDisabled,
			"pull request #%d does not allow edits from maintainers, the rebased branch can not be pushed", prNumber)
	}

	if err := m.checkReadyForMerge(ctx, logger, prNumber); err != nil {
		return nil, err
	}

	if m.cfg.Gate != nil {
		passes, err := m.cfg.Gate.Passes(ctx, pr.JSON)
		if err != nil {
			return nil, validateErr(ghmergeerr.ExitPRNotMergeable, "evaluating filter query failed: %w", err)
		}

		if !passes {
			return nil, validateErr(ghmergeerr.ExitPRNotMergeable,
				"pull request #%d does not match the filter query %q", prNumber, m.cfg.Gate.String())
		}
	}

	return pr, nil
}

func (m *Merger) checkReadyForMerge(ctx context.Context, logger *zap.Logger, prNumber int) error {
	if !m.cfg.RequireCISuccess && !m.cfg.RequireApproval {
		return nil
	}

	status, err := m.github.ReadyForMerge(ctx, m.cfg.RepositoryOwner, m.cfg.Repository, prNumber)
	if err != nil {
		return validateErr(ghmergeerr.ExitPRFetchFailed, "fetching review and ci status of pull request #%d failed: %w", prNumber, err)
	}

	logger.Debug(
		"retrieved ready for merge status",
		logfields.Event("ready_for_merge_status_retrieved"),
		logfields.Commit(status.Commit),
		zap.String("github.review_decision", string(status.ReviewDecision)),
		zap.String("github.ci_status", string(status.CIStatus)),
	)

	if m.cfg.RequireCISuccess && status.CIStatus != githubclt.CIStatusSuccess {
		return validateErr(ghmergeerr.ExitPRNotMergeable,
			"ci status of pull request #%d is %s, required checks not successful: %s",
			prNumber, status.CIStatus, strings.Join(status.FailedRequired(), ", "),
		)
	}

	if m.cfg.RequireApproval && status.ReviewDecision != githubclt.ReviewDecisionApproved {
		return validateErr(ghmergeerr.ExitPRNotMergeable,
			"pull request #%d is not approved, review decision: %q", prNumber, status.ReviewDecision)
	}

	return nil
}
