package git

import (
	"context"
	"fmt"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/filesystem"

	mrerrors "mrstack.dev/mrstack/internal/errors"
)

// Commit is a commit observed in the local repository. Immutable once read;
// an amended commit is a new Commit with the same Change-Id.
type Commit struct {
	SHA     string
	Message string
}

// Refspec maps a local commit onto a remote branch head.
type Refspec struct {
	SHA    string
	Branch string
}

// String renders the refspec in push syntax. The leading '+' forces the
// update; review branches are always rewritten to the latest amendment.
func (r Refspec) String() string {
	return fmt.Sprintf("+%s:refs/heads/%s", r.SHA, r.Branch)
}

// Repository is the interface the engine uses for local VCS operations.
type Repository interface {
	// CurrentBranch returns the checked-out branch name, or ErrDetachedHead.
	CurrentBranch() (string, error)

	// Fetch updates remote-tracking refs, pruning deleted branches.
	Fetch(ctx context.Context, remote string) error

	// CommitsAhead returns the commits on localBranch that are strictly
	// ahead of <remote>/<finalBranch>, newest first.
	CommitsAhead(remote, finalBranch, localBranch string) ([]Commit, error)

	// CommitMessage returns the full message of the commit at sha.
	CommitMessage(sha string) (string, error)

	// HasRemoteRef reports whether <remote>/<branch> exists locally.
	HasRemoteRef(remote, branch string) bool

	// RemoteRefSHA returns the sha of <remote>/<branch>, or "" if absent.
	RemoteRefSHA(remote, branch string) string

	// Push pushes all refspecs in a single network operation.
	Push(ctx context.Context, remote string, refspecs []Refspec) error

	// RemoteURL returns the first URL configured for the remote.
	RemoteURL(remote string) (string, error)

	// ConfigValue returns a git config value, or "" when unset.
	ConfigValue(section, key string) string
}

// Repo implements Repository on top of a go-git repository, delegating
// network operations to the git binary.
type Repo struct {
	repo   *gogit.Repository
	runner *CommandRunner
	root   string
}

// Open opens the repository containing path, searching parent directories.
func Open(path string) (*Repo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	repo, err := gogit.PlainOpenWithOptions(absPath, &gogit.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	root := absPath
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}

	return &Repo{
		repo:   repo,
		runner: NewCommandRunner(root),
		root:   root,
	}, nil
}

// Root returns the repository's working tree root.
func (r *Repo) Root() string {
	return r.root
}

// GitDir returns the repository's .git directory.
func (r *Repo) GitDir() string {
	if storage, ok := r.repo.Storer.(*filesystem.Storage); ok {
		return storage.Filesystem().Root()
	}
	return filepath.Join(r.root, ".git")
}

// CurrentBranch returns the checked-out branch name, or ErrDetachedHead.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", mrerrors.NewGitError("head", err)
	}
	if !head.Name().IsBranch() {
		return "", mrerrors.ErrDetachedHead
	}
	return head.Name().Short(), nil
}

// Fetch updates remote-tracking refs, pruning deleted branches.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	_, err := r.runner.Run(ctx, "fetch", "--prune", remote)
	return err
}

// CommitsAhead walks first parents from localBranch back to
// <remote>/<finalBranch> and returns the commits in between, newest first.
// The caller reverses them to get stack order.
func (r *Repo) CommitsAhead(remote, finalBranch, localBranch string) ([]Commit, error) {
	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName(remote, finalBranch), true)
	if err != nil {
		return nil, mrerrors.NewGitError("resolve "+remote+"/"+finalBranch, err)
	}
	localRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(localBranch), true)
	if err != nil {
		return nil, mrerrors.NewGitError("resolve "+localBranch, err)
	}

	var commits []Commit
	cur, err := r.repo.CommitObject(localRef.Hash())
	if err != nil {
		return nil, mrerrors.NewGitError("read commit", err)
	}
	for cur.Hash != remoteRef.Hash() {
		commits = append(commits, Commit{SHA: cur.Hash.String(), Message: cur.Message})
		if cur.NumParents() == 0 {
			return nil, fmt.Errorf(
				"%s/%s is not an ancestor of %s; rebase onto it first",
				remote, finalBranch, localBranch)
		}
		cur, err = cur.Parent(0)
		if err != nil {
			return nil, mrerrors.NewGitError("read commit", err)
		}
	}
	return commits, nil
}

// CommitMessage returns the full message of the commit at sha.
func (r *Repo) CommitMessage(sha string) (string, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return "", mrerrors.NewGitError("read commit "+sha, err)
	}
	return commit.Message, nil
}

// HasRemoteRef reports whether <remote>/<branch> exists locally.
func (r *Repo) HasRemoteRef(remote, branch string) bool {
	_, err := r.repo.Reference(plumbing.NewRemoteReferenceName(remote, branch), true)
	return err == nil
}

// RemoteRefSHA returns the sha of <remote>/<branch>, or "" if absent.
func (r *Repo) RemoteRefSHA(remote, branch string) string {
	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(remote, branch), true)
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

// Push pushes all refspecs as one atomic network operation. Ordering matters
// to the caller: every target-branch update must land before this call.
func (r *Repo) Push(ctx context.Context, remote string, refspecs []Refspec) error {
	if len(refspecs) == 0 {
		return nil
	}
	args := []string{"push", "--atomic", remote}
	for _, spec := range refspecs {
		args = append(args, spec.String())
	}
	_, err := r.runner.Run(ctx, args...)
	return err
}

// RemoteURL returns the first URL configured for the remote.
func (r *Repo) RemoteURL(remote string) (string, error) {
	rem, err := r.repo.Remote(remote)
	if err != nil {
		return "", mrerrors.NewGitError("remote "+remote, err)
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no URL", remote)
	}
	return urls[0], nil
}

// UpstreamBranch returns the remote branch the local branch tracks
// (the short name of its merge ref), or "" when no upstream is set.
func (r *Repo) UpstreamBranch(localBranch string) string {
	cfg, err := r.repo.Config()
	if err != nil {
		return ""
	}
	branch, ok := cfg.Branches[localBranch]
	if !ok || branch.Merge == "" {
		return ""
	}
	return branch.Merge.Short()
}

// ConfigValue returns a git config value from the merged repo/global/system
// configuration, or "" when unset.
func (r *Repo) ConfigValue(section, key string) string {
	cfg, err := r.repo.ConfigScoped(gitconfig.SystemScope)
	if err != nil {
		return ""
	}
	return cfg.Raw.Section(section).Option(key)
}
