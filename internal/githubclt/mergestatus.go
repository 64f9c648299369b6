package githubclt

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shurcooL/githubv4"
)

// CIStatus is the combined result of GitHub check runs and commit statuses.
type CIStatus string

const (
	CIStatusSuccess CIStatus = "SUCCESS"
	CIStatusPending CIStatus = "PENDING"
	CIStatusFailure CIStatus = "FAILURE"
)

// ReviewDecision is the result of a pull request review.
type ReviewDecision string

const (
	ReviewDecisionApproved         = ReviewDecision(githubv4.PullRequestReviewDecisionApproved)
	ReviewDecisionChangesRequested = ReviewDecision(githubv4.PullRequestReviewDecisionChangesRequested)
	ReviewDecisionReviewRequired   = ReviewDecision(githubv4.PullRequestReviewDecisionReviewRequired)
)

// CIJobStatus is the result of a check run or commit status.
type CIJobStatus struct {
	Name     string
	Status   CIStatus
	Required bool
}

// ReadyForMergeStatus is the review decision and the CI result of the head
// commit of a pull request.
type ReadyForMergeStatus struct {
	ReviewDecision ReviewDecision
	CIStatus       CIStatus
	// Statuses is sorted by name.
	Statuses []*CIJobStatus
	Commit   string
}

// FailedRequired returns the names of required CI jobs that failed or are
// still pending.
func (s *ReadyForMergeStatus) FailedRequired() []string {
	var result []string

	for _, status := range s.Statuses {
		if status.Required && status.Status != CIStatusSuccess {
			result = append(result, fmt.Sprintf("%s (%s)", status.Name, status.Status))
		}
	}

	return result
}

const (
	contextsPageSize = 100
	// maxHeadChanges is how often retrieving the status is restarted
	// because new commits were pushed to the pull request in between.
	maxHeadChanges = 3
)

var checkRunPendingStates = map[githubv4.CheckStatusState]struct{}{
	githubv4.CheckStatusStateInProgress: {},
	githubv4.CheckStatusStatePending:    {},
	githubv4.CheckStatusStateQueued:     {},
	githubv4.CheckStatusStateRequested:  {},
	githubv4.CheckStatusStateWaiting:    {},
}

var checkRunConclusions = map[githubv4.CheckConclusionState]CIStatus{
	githubv4.CheckConclusionStateActionRequired: CIStatusPending,
	githubv4.CheckConclusionStateCancelled:      CIStatusFailure,
	githubv4.CheckConclusionStateFailure:        CIStatusFailure,
	githubv4.CheckConclusionStateStale:          CIStatusFailure,
	githubv4.CheckConclusionStateStartupFailure: CIStatusFailure,
	githubv4.CheckConclusionStateTimedOut:       CIStatusFailure,
	githubv4.CheckConclusionStateNeutral:        CIStatusSuccess,
	githubv4.CheckConclusionStateSkipped:        CIStatusSuccess,
	githubv4.CheckConclusionStateSuccess:        CIStatusSuccess,
}

var statusContextStates = map[githubv4.StatusState]CIStatus{
	githubv4.StatusStateError:    CIStatusFailure,
	githubv4.StatusStateFailure:  CIStatusFailure,
	githubv4.StatusStateExpected: CIStatusPending,
	githubv4.StatusStatePending:  CIStatusPending,
	githubv4.StatusStateSuccess:  CIStatusSuccess,
}

type checkRunNode struct {
	Name       string
	Status     githubv4.CheckStatusState
	Conclusion githubv4.CheckConclusionState
}

func (n *checkRunNode) ciStatus() (CIStatus, error) {
	if _, isPending := checkRunPendingStates[n.Status]; isPending {
		return CIStatusPending, nil
	}

	if n.Status != githubv4.CheckStatusStateCompleted {
		return "", fmt.Errorf("check run %q has unsupported status %q", n.Name, n.Status)
	}

	if status, exists := checkRunConclusions[n.Conclusion]; exists {
		return status, nil
	}

	return "", fmt.Errorf("check run %q has unsupported conclusion %q", n.Name, n.Conclusion)
}

type statusContextNode struct {
	Context string
	State   githubv4.StatusState
}

func (n *statusContextNode) ciStatus() (CIStatus, error) {
	if status, exists := statusContextStates[n.State]; exists {
		return status, nil
	}

	return "", fmt.Errorf("commit status %q has unsupported state %q", n.Context, n.State)
}

type statusCheckNode struct {
	Typename      string            `graphql:"__typename"`
	CheckRun      checkRunNode      `graphql:"... on CheckRun"`
	StatusContext statusContextNode `graphql:"... on StatusContext"`
}

// job converts the node to a non-required CIJobStatus.
func (n *statusCheckNode) job() (*CIJobStatus, error) {
	var (
		name   string
		status CIStatus
		err    error
	)

	switch n.Typename {
	case "CheckRun":
		name = n.CheckRun.Name
		status, err = n.CheckRun.ciStatus()
	case "StatusContext":
		name = n.StatusContext.Context
		status, err = n.StatusContext.ciStatus()
	default:
		return nil, fmt.Errorf("unsupported status check type %q", n.Typename)
	}

	if err != nil {
		return nil, err
	}

	return &CIJobStatus{Name: name, Status: status}, nil
}

type mergeStatusQuery struct {
	Repository struct {
		PullRequest struct {
			ReviewDecision githubv4.PullRequestReviewDecision
			BaseRef        struct {
				BranchProtectionRule struct {
					// contains the names of required check
					// runs and commit statuses
					RequiredStatusCheckContexts []string
				}
			}
			Commits struct {
				Nodes []struct {
					Commit struct {
						Oid               string
						StatusCheckRollup struct {
							State    githubv4.StatusState
							Contexts struct {
								PageInfo struct {
									EndCursor   string
									HasNextPage bool
								}
								Nodes []statusCheckNode
							} `graphql:"contexts(first: $contextsFirst, after: $contextsAfter)"`
						}
					}
				}
			} `graphql:"commits(last: 1)"`
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// mergeStatusSnapshot is the status of the head commit of a pull request,
// combined from all result pages.
type mergeStatusSnapshot struct {
	commit         string
	reviewDecision githubv4.PullRequestReviewDecision
	rollupState    githubv4.StatusState
	required       []string
	checks         []statusCheckNode
}

// ReadyForMerge returns the [review decision] and the CI status of the head
// commit of a pull request.
//
// The CIStatus is [CIStatusPending] if any check is pending, [CIStatusFailure]
// if a required check failed and [CIStatusSuccess] otherwise. Failed
// optional checks are ignored.
//
// [review decision]: https://docs.github.com/en/graphql/reference/enums#pullrequestreviewdecision
func (clt *Client) ReadyForMerge(ctx context.Context, owner, repo string, prNumber int) (*ReadyForMergeStatus, error) {
	snapshot, err := clt.mergeStatus(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, clt.wrapGraphQLRetryableErrors(err)
	}

	jobs, err := snapshot.jobs()
	if err != nil {
		return nil, err
	}

	return &ReadyForMergeStatus{
		ReviewDecision: ReviewDecision(snapshot.reviewDecision),
		CIStatus:       combinedCIStatus(snapshot.rollupState, jobs),
		Statuses:       jobs,
		Commit:         snapshot.commit,
	}, nil
}

func (clt *Client) mergeStatus(ctx context.Context, owner, repo string, prNumber int) (*mergeStatusSnapshot, error) {
	vars := map[string]any{
		"owner":         githubv4.String(owner),
		"name":          githubv4.String(repo),
		"number":        githubv4.Int(prNumber),
		"contextsFirst": githubv4.Int(contextsPageSize),
		"contextsAfter": (*githubv4.String)(nil),
	}

	var result mergeStatusSnapshot
	headChanges := 0

	for page := 1; ; page++ {
		var q mergeStatusQuery

		if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
			return nil, err
		}

		pr := &q.Repository.PullRequest
		if len(pr.Commits.Nodes) == 0 {
			return nil, errors.New("pull request has no commits")
		}

		head := &pr.Commits.Nodes[0].Commit

		if result.commit != "" && result.commit != head.Oid {
			headChanges++
			if headChanges > maxHeadChanges {
				return nil, fmt.Errorf("head commit of the pull request changed %d times while retrieving its status", headChanges)
			}

			result = mergeStatusSnapshot{}
			vars["contextsAfter"] = (*githubv4.String)(nil)
			page = 0

			continue
		}

		result.commit = head.Oid
		result.checks = append(result.checks, head.StatusCheckRollup.Contexts.Nodes...)

		pageInfo := head.StatusCheckRollup.Contexts.PageInfo
		if !pageInfo.HasNextPage {
			result.reviewDecision = pr.ReviewDecision
			result.rollupState = head.StatusCheckRollup.State
			result.required = pr.BaseRef.BranchProtectionRule.RequiredStatusCheckContexts

			return &result, nil
		}

		if pageInfo.EndCursor == "" {
			return nil, fmt.Errorf("page %d of status checks has a successor but no end cursor", page)
		}

		vars["contextsAfter"] = githubv4.NewString(githubv4.String(pageInfo.EndCursor))
	}
}

// jobs returns the status of all required and reported checks, sorted by
// name. Required checks that did not report a result yet are pending.
func (s *mergeStatusSnapshot) jobs() ([]*CIJobStatus, error) {
	byName := make(map[string]*CIJobStatus, len(s.required)+len(s.checks))

	for _, name := range s.required {
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("required status check %q is listed multiple times", name)
		}

		byName[name] = &CIJobStatus{Name: name, Status: CIStatusPending, Required: true}
	}

	for i := range s.checks {
		job, err := s.checks[i].job()
		if err != nil {
			return nil, err
		}

		if required, exists := byName[job.Name]; exists {
			required.Status = job.Status
			continue
		}

		byName[job.Name] = job
	}

	result := make([]*CIJobStatus, 0, len(byName))
	for _, job := range byName {
		result = append(result, job)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result, nil
}

func combinedCIStatus(rollupState githubv4.StatusState, jobs []*CIJobStatus) CIStatus {
	if rollupState == githubv4.StatusStatePending {
		return CIStatusPending
	}

	result := CIStatusSuccess

	for _, job := range jobs {
		switch {
		case job.Status == CIStatusPending:
			result = CIStatusPending
		case job.Required && job.Status == CIStatusFailure:
			return CIStatusFailure
		}
	}

	return result
}
