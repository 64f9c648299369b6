// Package mergepr merges GitHub pull requests by rebasing them onto their
// target branch and fast-forwarding the target branch.
//
// A merge runs through the following steps, every failure aborts the
// workflow with the exit code of the step:
//
//   - validate: the PR-ID is a number, the target branch exists locally,
//     the pull request can be fetched, is mergeable, allows modifications by
//     maintainers and passes the configured merge gates.
//   - sync_target: the target branch is rebased onto its upstream remote
//     branch.
//   - fetch_pr_branch: the branch of the pull request is fetched from the
//     fork of its author into a temporary branch named
//     <head-branch>-<head-user>. A remote named like the author is added if
//     it does not exist.
//   - rebase_pr_branch: the temporary branch is rebased onto the target branch.
//   - force_push_fork: the rebased branch is force-pushed to the fork, GitHub
//     then shows the rebased commits in the pull request.
//   - dirty_check: the target branch must not contain commits that are not
//     on the upstream remote.
//   - ff_merge: the target branch is fast-forwarded to the temporary branch.
//     No merge commits are created.
//   - confirm: the operator confirms pushing the target branch.
//   - push_target: the target branch is pushed to the upstream remote.
//   - notify_github: a closing comment is posted and the pull request is
//     closed. Failures are reported but do not fail the merge.
//   - delete_temp_branch: the temporary branch is deleted.
//
// Once the workflow reached dirty_check, the temporary branch is deleted on
// every path. Failures in earlier steps leave the repository in the state of
// the failed command for inspection.
package mergepr

//go:generate mockgen -destination=mocks/mocks.go -package=mocks . GithubClient,Prompter
