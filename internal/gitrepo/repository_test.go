package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

const testBranch = "main"

// initUpstream creates a local "remote" repository on the test branch.
func initUpstream(t *testing.T) (string, *git.Repository) {
	t.Helper()

	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	// Point HEAD at the test branch before the first commit.
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(testBranch))
	require.NoError(t, repo.Storer.SetReference(head))

	return dir, repo
}

// commitFile writes a file and commits it, returning the commit hash.
func commitFile(t *testing.T, repo *git.Repository, dir, name, content, message string) plumbing.Hash {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	worktree, err := repo.Worktree()
	require.NoError(t, err)

	_, err = worktree.Add(name)
	require.NoError(t, err)

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test",
			Email: "test@test.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)

	return hash
}

// TestEnsureClonedFreshAndIdempotent clones a fresh working copy and verifies
// a second call is a no-op returning the same state.
func TestEnsureClonedFreshAndIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	upstreamDir, upstream := initUpstream(t)
	tip := commitFile(t, upstream, upstreamDir, "main.py", "print('carpi')\n", "initial")

	cloneDir := filepath.Join(t.TempDir(), "app")

	clone, err := EnsureCloned(ctx, cloneDir, upstreamDir, testBranch)
	require.NoError(t, err)

	commit, err := clone.CurrentCommit()
	require.NoError(t, err)
	require.Equal(t, CommitHash(tip.String()), commit)

	contents, err := os.ReadFile(filepath.Join(cloneDir, "main.py"))
	require.NoError(t, err)
	require.Equal(t, "print('carpi')\n", string(contents))

	// Re-running verifies instead of re-cloning.
	again, err := EnsureCloned(ctx, cloneDir, upstreamDir, testBranch)
	require.NoError(t, err)

	commitAgain, err := again.CurrentCommit()
	require.NoError(t, err)
	require.Equal(t, commit, commitAgain)
}

// TestEnsureClonedMismatch rejects a working copy tracking another remote or branch.
func TestEnsureClonedMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	upstreamDir, upstream := initUpstream(t)
	commitFile(t, upstream, upstreamDir, "main.py", "v1\n", "initial")

	cloneDir := filepath.Join(t.TempDir(), "app")

	_, err := EnsureCloned(ctx, cloneDir, upstreamDir, testBranch)
	require.NoError(t, err)

	_, err = EnsureCloned(ctx, cloneDir, "/somewhere/else.git", testBranch)
	require.ErrorIs(t, err, ErrRepositoryMismatch)

	_, err = EnsureCloned(ctx, cloneDir, upstreamDir, "develop")
	require.ErrorIs(t, err, ErrRepositoryMismatch)
}

// TestOpenMissingRepository fails rather than guessing when the working copy
// is absent or not a repository.
func TestOpenMissingRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "nope"), "/remote.git", testBranch)
	require.Error(t, err)

	// A plain directory is not a repository either.
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.MkdirAll(plain, 0o755))

	_, err = Open(plain, "/remote.git", testBranch)
	require.Error(t, err)
}

// TestFetchAndFastForward covers the no-op, ahead and exact-advance cases.
func TestFetchAndFastForward(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	upstreamDir, upstream := initUpstream(t)
	commitFile(t, upstream, upstreamDir, "main.py", "v1\n", "initial")

	cloneDir := filepath.Join(t.TempDir(), "app")
	clone, err := EnsureCloned(ctx, cloneDir, upstreamDir, testBranch)
	require.NoError(t, err)

	// Nothing new upstream.
	state, err := clone.FetchRemote(ctx)
	require.NoError(t, err)
	require.Zero(t, state.Ahead)
	require.False(t, state.Diverged)

	before, err := clone.CurrentCommit()
	require.NoError(t, err)

	// Pull with nothing to do keeps the commit unchanged.
	after, err := clone.FastForwardPull(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)

	// Three new commits upstream.
	commitFile(t, upstream, upstreamDir, "main.py", "v2\n", "second")
	commitFile(t, upstream, upstreamDir, "main.py", "v3\n", "third")
	tip := commitFile(t, upstream, upstreamDir, "main.py", "v4\n", "fourth")

	state, err = clone.FetchRemote(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, state.Ahead)
	require.False(t, state.Diverged)

	// The pull advances to the remote tip exactly.
	after, err = clone.FastForwardPull(ctx)
	require.NoError(t, err)
	require.Equal(t, CommitHash(tip.String()), after)

	contents, err := os.ReadFile(filepath.Join(cloneDir, "main.py"))
	require.NoError(t, err)
	require.Equal(t, "v4\n", string(contents))
}

// TestDivergenceIsDetectedAndRefused covers the non-fast-forward policy: a
// local commit not present upstream must surface as divergence and the pull
// must refuse to merge.
func TestDivergenceIsDetectedAndRefused(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	upstreamDir, upstream := initUpstream(t)
	commitFile(t, upstream, upstreamDir, "main.py", "v1\n", "initial")

	cloneDir := filepath.Join(t.TempDir(), "app")
	clone, err := EnsureCloned(ctx, cloneDir, upstreamDir, testBranch)
	require.NoError(t, err)

	// A local commit the remote never saw.
	commitFile(t, clone.repo, cloneDir, "local.txt", "local change\n", "local-only")

	// Even with the remote unchanged the clone is no longer fast-forwardable.
	state, err := clone.FetchRemote(ctx)
	require.NoError(t, err)
	require.True(t, state.Diverged)

	// After the remote also moves, the pull must refuse to merge.
	commitFile(t, upstream, upstreamDir, "main.py", "v2\n", "remote moves on")

	state, err = clone.FetchRemote(ctx)
	require.NoError(t, err)
	require.True(t, state.Diverged)
	require.Equal(t, 1, state.Ahead)

	_, err = clone.FastForwardPull(ctx)
	require.ErrorIs(t, err, ErrNonFastForward)
}
