package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/oshokin/carpi-provision/internal/logger"
)

var (
	// ErrRepositoryMismatch is returned when an existing working copy does not
	// track the expected remote and branch.
	ErrRepositoryMismatch = errors.New("working copy does not match the expected remote")
	// ErrNonFastForward is returned when local and remote history diverged.
	// Divergence is an operator error requiring manual intervention; this
	// subsystem never merges or rebases.
	ErrNonFastForward = errors.New("local and remote history diverged")
)

// remoteName is the only remote this subsystem ever tracks.
const remoteName = "origin"

// CommitHash is a full hex commit identifier.
type CommitHash string

// RemoteState describes the remote relative to the local branch tip after a fetch.
type RemoteState struct {
	// Ahead is the number of commits upstream of the local tip.
	Ahead int
	// Diverged reports local commits that are not on the remote.
	Diverged bool
}

// Repository wraps the on-disk clone of the application tree.
type Repository struct {
	dir    string
	branch string
	repo   *git.Repository
}

// EnsureCloned clones the remote into dir if absent. When a working copy
// already exists it is verified against the expected remote and branch and
// returned as-is; a mismatch fails with ErrRepositoryMismatch.
func EnsureCloned(ctx context.Context, dir, remoteURL, branch string) (*Repository, error) {
	if _, err := os.Stat(dir); err == nil {
		return Open(dir, remoteURL, branch)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	logger.InfoKV(ctx, "Cloning repository", "remote", remoteURL, "branch", branch, "dir", dir)

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           remoteURL,
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", remoteURL, err)
	}

	return &Repository{dir: dir, branch: branch, repo: repo}, nil
}

// Open opens an existing working copy and verifies it tracks the expected
// remote and branch. An absent or foreign repository is an error, never a
// silent re-clone.
func Open(dir, remoteURL, branch string) (*Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}

	remote, err := repo.Remote(remoteName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no %s remote", ErrRepositoryMismatch, dir, remoteName)
	}

	urls := remote.Config().URLs
	if len(urls) == 0 || urls[0] != remoteURL {
		return nil, fmt.Errorf("%w: tracking %v, expected %s", ErrRepositoryMismatch, urls, remoteURL)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD of %s: %w", dir, err)
	}

	if head.Name() != plumbing.NewBranchReferenceName(branch) {
		return nil, fmt.Errorf("%w: on %s, expected branch %s", ErrRepositoryMismatch, head.Name(), branch)
	}

	return &Repository{dir: dir, branch: branch, repo: repo}, nil
}

// Dir returns the working copy path.
func (r *Repository) Dir() string {
	return r.dir
}

// CurrentCommit returns the commit the local branch tip points at.
func (r *Repository) CurrentCommit() (CommitHash, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}

	return CommitHash(head.Hash().String()), nil
}

// FetchRemote fetches all refs from the remote, pruning stale remote-tracking
// refs, and reports the remote state relative to the local tip. The working
// tree is never mutated.
func (r *Repository) FetchRemote(ctx context.Context) (RemoteState, error) {
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Prune:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return RemoteState{}, fmt.Errorf("fetch %s: %w", remoteName, err)
	}

	local, err := r.repo.Head()
	if err != nil {
		return RemoteState{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, r.branch), true)
	if err != nil {
		return RemoteState{}, fmt.Errorf("resolve remote tip of %s: %w", r.branch, err)
	}

	if local.Hash() == remoteRef.Hash() {
		return RemoteState{}, nil
	}

	localCommit, err := r.repo.CommitObject(local.Hash())
	if err != nil {
		return RemoteState{}, fmt.Errorf("read local tip: %w", err)
	}

	remoteCommit, err := r.repo.CommitObject(remoteRef.Hash())
	if err != nil {
		return RemoteState{}, fmt.Errorf("read remote tip: %w", err)
	}

	fastForwardable, err := localCommit.IsAncestor(remoteCommit)
	if err != nil {
		return RemoteState{}, fmt.Errorf("compare histories: %w", err)
	}

	ahead, err := countNewCommits(localCommit, remoteCommit)
	if err != nil {
		return RemoteState{}, err
	}

	return RemoteState{Ahead: ahead, Diverged: !fastForwardable}, nil
}

// FastForwardPull advances the local branch to the remote tip and returns the
// new commit. Diverged histories fail with ErrNonFastForward.
func (r *Repository) FastForwardPull(ctx context.Context) (CommitHash, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(r.branch),
		SingleBranch:  true,
	})

	switch {
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		// Nothing to advance; fall through to report the tip.
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return "", fmt.Errorf("pull %s: %w", r.branch, ErrNonFastForward)
	case err != nil:
		return "", fmt.Errorf("pull %s: %w", r.branch, err)
	}

	return r.CurrentCommit()
}

// countNewCommits counts commits reachable from the remote tip that are not
// part of local history.
func countNewCommits(local, remote *object.Commit) (int, error) {
	seen := make(map[plumbing.Hash]bool)

	localIter := object.NewCommitPreorderIter(local, nil, nil)
	err := localIter.ForEach(func(c *object.Commit) error {
		seen[c.Hash] = true
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk local history: %w", err)
	}

	count := 0
	remoteIter := object.NewCommitPreorderIter(remote, seen, nil)

	err = remoteIter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk remote history: %w", err)
	}

	return count, nil
}
