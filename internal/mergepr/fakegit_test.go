package mergepr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/openwrt/ghmerge/internal/git"
)

type fakeCommit struct {
	parent  string
	message string
}

// fakeGit is an in-memory git repository with linear histories.
type fakeGit struct {
	lock sync.Mutex

	commits  map[string]*fakeCommit
	branches map[string]string
	remotes  map[string]string
	// server contains the branches of the remote repositories,
	// remote name -> branch -> commit.
	server map[string]map[string]string
	// tracking contains the remote-tracking branches, "remote/branch" ->
	// commit.
	tracking map[string]string
	head     string

	calls  []string
	failOn map[string]error
	// brokenRebase makes Rebase create commits that are not based on
	// the commit it rebases onto.
	brokenRebase bool

	seq int
}

var fakeGitMutatingMethods = map[string]struct{}{
	"Checkout":          {},
	"CheckoutNewBranch": {},
	"Fetch":             {},
	"Rebase":            {},
	"AddRemote":         {},
	"ForcePush":         {},
	"MergeFastForward":  {},
	"Push":              {},
	"DeleteBranch":      {},
}

// newFakeGit returns a repository where the local master branch is one
// commit behind origin/master and alice's fork has the branch fix-foo with
// one commit that is based on the outdated master.
func newFakeGit() *fakeGit {
	return &fakeGit{
		commits: map[string]*fakeCommit{
			"c1": {message: "initial commit"},
			"c2": {parent: "c1", message: "base: upstream change"},
			"p1": {parent: "c1", message: "foo: fix the bar\n\nFixes: #99\nSigned-off-by: Alice <alice@example.com>"},
		},
		branches: map[string]string{"master": "c1"},
		remotes:  map[string]string{"origin": "git@github.com:openwrt/openwrt.git"},
		server: map[string]map[string]string{
			"origin": {"master": "c2"},
			"alice":  {"fix-foo": "p1"},
		},
		tracking: map[string]string{"origin/master": "c1"},
		head:     "master",
		failOn:   map[string]error{},
	}
}

func (g *fakeGit) record(method string, args ...string) error {
	call := strings.Join(append([]string{method}, args...), " ")
	g.calls = append(g.calls, call)

	return g.failOn[call]
}

func (g *fakeGit) Calls() []string {
	g.lock.Lock()
	defer g.lock.Unlock()

	return append([]string(nil), g.calls...)
}

func (g *fakeGit) MutatingCalls() []string {
	var result []string

	for _, call := range g.Calls() {
		method, _, _ := strings.Cut(call, " ")
		if _, exists := fakeGitMutatingMethods[method]; exists {
			result = append(result, call)
		}
	}

	return result
}

func (g *fakeGit) Branch(name string) (string, bool) {
	g.lock.Lock()
	defer g.lock.Unlock()

	id, exists := g.branches[name]
	return id, exists
}

func (g *fakeGit) ServerBranch(remote, branch string) string {
	g.lock.Lock()
	defer g.lock.Unlock()

	return g.server[remote][branch]
}

func (g *fakeGit) Commit(id string) *fakeCommit {
	g.lock.Lock()
	defer g.lock.Unlock()

	return g.commits[id]
}

func (g *fakeGit) resolve(ref string) (string, error) {
	if id, exists := g.branches[ref]; exists {
		return id, nil
	}

	if id, exists := g.tracking[ref]; exists {
		return id, nil
	}

	if _, exists := g.commits[ref]; exists {
		return ref, nil
	}

	return "", fmt.Errorf("unknown revision %q", ref)
}

// history returns id and all its ancestors, newest first.
func (g *fakeGit) history(id string) []string {
	var result []string

	for ; id != ""; id = g.commits[id].parent {
		result = append(result, id)
	}

	return result
}

func (g *fakeGit) isAncestor(ancestor, id string) bool {
	for _, c := range g.history(id) {
		if c == ancestor {
			return true
		}
	}

	return false
}

// unique returns the commits that are reachable from id but not from base,
// newest first.
func (g *fakeGit) unique(base, id string) []string {
	var result []string

	baseHistory := map[string]struct{}{}
	for _, c := range g.history(base) {
		baseHistory[c] = struct{}{}
	}

	for _, c := range g.history(id) {
		if _, exists := baseHistory[c]; exists {
			break
		}

		result = append(result, c)
	}

	return result
}

func (g *fakeGit) newCommit(parent, message string) string {
	g.seq++
	id := fmt.Sprintf("r%d", g.seq)
	g.commits[id] = &fakeCommit{parent: parent, message: message}

	return id
}

func (g *fakeGit) BranchExists(_ context.Context, name string) (bool, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("BranchExists", name); err != nil {
		return false, err
	}

	_, exists := g.branches[name]
	return exists, nil
}

func (g *fakeGit) RemoteURL(_ context.Context, name string) (string, bool, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("RemoteURL", name); err != nil {
		return "", false, err
	}

	url, exists := g.remotes[name]
	return url, exists, nil
}

func (g *fakeGit) CommitsAhead(_ context.Context, base, branch string) ([]string, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("CommitsAhead", base, branch); err != nil {
		return nil, err
	}

	baseID, err := g.resolve(base)
	if err != nil {
		return nil, err
	}

	branchID, err := g.resolve(branch)
	if err != nil {
		return nil, err
	}

	return g.unique(baseID, branchID), nil
}

func (g *fakeGit) Log(_ context.Context, revRange string) ([]*git.Commit, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("Log", revRange); err != nil {
		return nil, err
	}

	base, branch, found := strings.Cut(revRange, "..")
	if !found {
		return nil, fmt.Errorf("unsupported revision range %q", revRange)
	}

	baseID, err := g.resolve(base)
	if err != nil {
		return nil, err
	}

	branchID, err := g.resolve(branch)
	if err != nil {
		return nil, err
	}

	var result []*git.Commit
	for _, id := range g.unique(baseID, branchID) {
		msg := g.commits[id].message
		subject, _, _ := strings.Cut(msg, "\n")
		result = append(result, &git.Commit{ID: id, Subject: subject, Message: msg})
	}

	return result, nil
}

func (g *fakeGit) Checkout(_ context.Context, branch string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("Checkout", branch); err != nil {
		return err
	}

	if _, exists := g.branches[branch]; !exists {
		return fmt.Errorf("pathspec %q did not match any branch", branch)
	}

	g.head = branch

	return nil
}

func (g *fakeGit) CheckoutNewBranch(_ context.Context, name, startPoint string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("CheckoutNewBranch", name, startPoint); err != nil {
		return err
	}

	if _, exists := g.branches[name]; exists {
		return fmt.Errorf("a branch named %q already exists", name)
	}

	id, err := g.resolve(startPoint)
	if err != nil {
		return err
	}

	g.branches[name] = id
	g.head = name

	return nil
}

func (g *fakeGit) Fetch(_ context.Context, remote string, refs ...string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("Fetch", append([]string{remote}, refs...)...); err != nil {
		return err
	}

	if _, exists := g.remotes[remote]; !exists {
		return fmt.Errorf("%q does not appear to be a git repository", remote)
	}

	serverBranches := g.server[remote]

	if len(refs) == 0 {
		for branch, id := range serverBranches {
			g.tracking[remote+"/"+branch] = id
		}

		return nil
	}

	for _, ref := range refs {
		id, exists := serverBranches[ref]
		if !exists {
			return fmt.Errorf("couldn't find remote ref %s", ref)
		}

		g.tracking[remote+"/"+ref] = id
	}

	return nil
}

func (g *fakeGit) Rebase(_ context.Context, onto string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("Rebase", onto); err != nil {
		return err
	}

	ontoID, err := g.resolve(onto)
	if err != nil {
		return err
	}

	cur := g.branches[g.head]

	if g.isAncestor(ontoID, cur) {
		return nil
	}

	if g.isAncestor(cur, ontoID) {
		g.branches[g.head] = ontoID
		return nil
	}

	parent := ontoID
	if g.brokenRebase {
		parent = ""
	}

	unique := g.unique(ontoID, cur)
	for i := len(unique) - 1; i >= 0; i-- {
		parent = g.newCommit(parent, g.commits[unique[i]].message)
	}

	g.branches[g.head] = parent

	return nil
}

func (g *fakeGit) AddRemote(_ context.Context, name, url string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("AddRemote", name, url); err != nil {
		return err
	}

	if _, exists := g.remotes[name]; exists {
		return fmt.Errorf("remote %s already exists", name)
	}

	g.remotes[name] = url

	return nil
}

func (g *fakeGit) ForcePush(_ context.Context, remote, branch string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("ForcePush", remote, branch); err != nil {
		return err
	}

	if _, exists := g.remotes[remote]; !exists {
		return fmt.Errorf("%q does not appear to be a git repository", remote)
	}

	id := g.branches[g.head]
	g.server[remote][branch] = id
	g.tracking[remote+"/"+branch] = id

	return nil
}

func (g *fakeGit) MergeFastForward(_ context.Context, branch string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("MergeFastForward", branch); err != nil {
		return err
	}

	id, err := g.resolve(branch)
	if err != nil {
		return err
	}

	if !g.isAncestor(g.branches[g.head], id) {
		return errors.New("not possible to fast-forward, aborting")
	}

	g.branches[g.head] = id

	return nil
}

func (g *fakeGit) Push(_ context.Context, remote, branch string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("Push", remote, branch); err != nil {
		return err
	}

	id, exists := g.branches[branch]
	if !exists {
		return fmt.Errorf("src refspec %s does not match any", branch)
	}

	if cur, exists := g.server[remote][branch]; exists && !g.isAncestor(cur, id) {
		return errors.New("updates were rejected because the tip of your current branch is behind")
	}

	g.server[remote][branch] = id
	g.tracking[remote+"/"+branch] = id

	return nil
}

func (g *fakeGit) DeleteBranch(_ context.Context, name string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.record("DeleteBranch", name); err != nil {
		return err
	}

	if g.head == name {
		return fmt.Errorf("cannot delete branch %q checked out", name)
	}

	if _, exists := g.branches[name]; !exists {
		return fmt.Errorf("branch %q not found", name)
	}

	delete(g.branches, name)

	return nil
}
