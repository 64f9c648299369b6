// Package ghmergeerr provides the error types of the merge workflow and
// their mapping to process exit codes.
package ghmergeerr

import (
	"errors"
	"fmt"
)

// ExitCode is the process exit code reported for a failed workflow step.
type ExitCode int

const (
	ExitSuccess              ExitCode = 0
	ExitInvalidInput         ExitCode = 1
	ExitBranchNotFound       ExitCode = 2
	ExitPRFetchFailed        ExitCode = 3
	ExitPRNotMergeable       ExitCode = 4
	ExitPRModifyDisabled     ExitCode = 5
	ExitSyncTargetFailed     ExitCode = 6
	ExitFetchPRBranchFailed  ExitCode = 7
	ExitRebasePRBranchFailed ExitCode = 8
	ExitForcePushFailed      ExitCode = 9
	ExitTargetDiverged       ExitCode = 10
	ExitFastForwardFailed    ExitCode = 11
	ExitPushTargetFailed     ExitCode = 12
)

// Step names a state of the merge workflow.
type Step string

const (
	StepValidate       Step = "validate"
	StepSyncTarget     Step = "sync_target"
	StepFetchPRBranch  Step = "fetch_pr_branch"
	StepRebasePRBranch Step = "rebase_pr_branch"
	StepForcePushFork  Step = "force_push_fork"
	StepDirtyCheck     Step = "dirty_check"
	StepFastForward    Step = "ff_merge"
	StepConfirm        Step = "confirm"
	StepPushTarget     Step = "push_target"
	StepNotifyGithub   Step = "notify_github"
	StepDeleteBranch   Step = "delete_temp_branch"
	StepDone           Step = "done"
)

// StepError is the fatal error of a workflow step.
type StepError struct {
	Step Step
	Code ExitCode
	Err  error
}

func NewStepError(step Step, code ExitCode, err error) *StepError {
	return &StepError{
		Step: step,
		Code: code,
		Err:  err,
	}
}

// StepErrorf returns a StepError with an error created by fmt.Errorf.
func StepErrorf(step Step, code ExitCode, format string, a ...any) *StepError {
	return NewStepError(step, code, fmt.Errorf(format, a...))
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Step, e.Err)
}

// ExitCodeOf returns the exit code for err.
// It is ExitSuccess for a nil error and ExitInvalidInput for errors that
// do not wrap a StepError.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Code
	}

	return ExitInvalidInput
}
