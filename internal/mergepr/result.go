package mergepr

import (
	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/git"
	"github.com/openwrt/ghmerge/internal/githubclt"
	"github.com/openwrt/ghmerge/internal/trailer"
)

// Result describes the outcome of a merge run.
type Result struct {
	// Step is the last step that was started.
	Step ghmergeerr.Step
	// PullRequest is nil if validation failed before it was retrieved.
	PullRequest *githubclt.PullRequest
	Branch      string
	// DryRun is true if mutating git commands were only printed and
	// GitHub write operations were simulated.
	DryRun            bool
	TempBranch        string
	TempBranchDeleted bool
	// Commits are the commits that were added to Branch by the
	// fast-forward merge, newest first.
	Commits []*git.Commit
	// Fixes are the references of the Fixes trailers of Commits.
	Fixes  []*trailer.Reference
	Pushed bool
	// Notified is true if a closing comment was posted and the pull
	// request was closed.
	Notified bool
	// NotifyErr is the error that happened when closing the pull request,
	// it does not fail the merge.
	NotifyErr       error
	ManualReviewURL string
}
