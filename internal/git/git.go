// Package git runs git porcelain commands on a local repository.
//
// Commands that modify the repository or a remote are not executed in
// dry-run mode, instead they are printed prefixed with "[DRY RUN]".
// Read-only commands are always executed.
package git

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/openwrt/ghmerge/internal/logfields"
)

const loggerName = "git"

// Repo is a local git repository.
type Repo struct {
	dir    string
	runner Runner
	dryRun bool
	out    io.Writer
	logger *zap.Logger
}

// Option configures a Repo.
type Option func(*Repo)

// WithDryRun enables the dry-run mode. Mutating commands are written to out
// instead of being executed.
func WithDryRun(out io.Writer) Option {
	return func(r *Repo) {
		r.dryRun = true
		r.out = out
	}
}

// WithRunner sets the Runner that executes the git commands, it defaults to
// ExecRunner.
func WithRunner(runner Runner) Option {
	return func(r *Repo) {
		r.runner = runner
	}
}

// New returns a Repo for the repository in dir. If dir is empty the current
// working directory is used.
func New(dir string, opts ...Option) *Repo {
	r := Repo{
		dir:    dir,
		runner: ExecRunner{},
		out:    os.Stdout,
		logger: zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&r)
	}

	return &r
}

// DryRun returns true if the dry-run mode is enabled.
func (r *Repo) DryRun() bool {
	return r.dryRun
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	r.logger.Debug("running git command", logfields.GitCommand(args))
	return r.runner.Run(ctx, r.dir, args...)
}

func (r *Repo) runMutating(ctx context.Context, args ...string) error {
	if r.dryRun {
		fmt.Fprintf(r.out, "[DRY RUN] git %s\n", strings.Join(args, " "))
		return nil
	}

	_, err := r.run(ctx, args...)
	return err
}

// BranchExists returns true if a local branch with the name exists.
func (r *Repo) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		if hasExitCode(err, 1) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// RemoteURL returns the fetch URL of a remote.
// If the remote does not exist, exists is false.
func (r *Repo) RemoteURL(ctx context.Context, name string) (url string, exists bool, err error) {
	url, err = r.run(ctx, "config", "--get", "remote."+name+".url")
	if err != nil {
		if hasExitCode(err, 1) {
			return "", false, nil
		}

		return "", false, err
	}

	return url, true, nil
}

// RevParse returns the commit ID of ref.
func (r *Repo) RevParse(ctx context.Context, ref string) (string, error) {
	return r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
}

// CommitsAhead returns the IDs of the commits that are reachable from branch
// but not from base.
func (r *Repo) CommitsAhead(ctx context.Context, base, branch string) ([]string, error) {
	out, err := r.run(ctx, "rev-list", base+".."+branch)
	if err != nil {
		return nil, err
	}

	if out == "" {
		return nil, nil
	}

	return strings.Split(out, "\n"), nil
}

// Checkout switches to branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	return r.runMutating(ctx, "checkout", branch)
}

// CheckoutNewBranch creates a branch starting at startPoint and switches to
// it.
func (r *Repo) CheckoutNewBranch(ctx context.Context, name, startPoint string) error {
	return r.runMutating(ctx, "checkout", "-b", name, startPoint)
}

// Fetch fetches refs from remote. If no refs are passed, the default
// refspecs of the remote are fetched.
func (r *Repo) Fetch(ctx context.Context, remote string, refs ...string) error {
	return r.runMutating(ctx, append([]string{"fetch", remote}, refs...)...)
}

// Rebase rebases the current branch onto onto.
func (r *Repo) Rebase(ctx context.Context, onto string) error {
	return r.runMutating(ctx, "rebase", onto)
}

// AddRemote adds a remote.
func (r *Repo) AddRemote(ctx context.Context, name, url string) error {
	return r.runMutating(ctx, "remote", "add", name, url)
}

// ForcePush overwrites branch on remote with the current HEAD.
func (r *Repo) ForcePush(ctx context.Context, remote, branch string) error {
	return r.runMutating(ctx, "push", "--force", remote, "HEAD:"+branch)
}

// MergeFastForward merges branch into the current branch.
// It fails if the current branch can not be fast-forwarded to branch.
func (r *Repo) MergeFastForward(ctx context.Context, branch string) error {
	return r.runMutating(ctx, "merge", "--ff-only", branch)
}

// Push pushes branch to remote.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	return r.runMutating(ctx, "push", remote, branch)
}

// DeleteBranch deletes a local branch, also when it is not merged.
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	return r.runMutating(ctx, "branch", "-D", name)
}
