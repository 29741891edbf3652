// Package runtime wires the collaborators for a run (repository, backend
// client, configuration, logger) into a single context value passed to
// commands. There is no module-level mutable state.
package runtime

import (
	"context"

	"mrstack.dev/mrstack/internal/config"
	"mrstack.dev/mrstack/internal/engine"
	"mrstack.dev/mrstack/internal/errors"
	"mrstack.dev/mrstack/internal/git"
	"mrstack.dev/mrstack/internal/gitlab"
	"mrstack.dev/mrstack/internal/output"
)

// Context provides access to the collaborators for one command invocation.
type Context struct {
	Repo    *git.Repo
	Backend gitlab.Client
	Config  *config.Config
	Splog   *output.Splog
	Engine  *engine.Engine
}

// SetupOptions configures context construction.
type SetupOptions struct {
	// RemoteName is the git remote to review against. Defaults to "origin".
	RemoteName string
	// LocalBranch is the branch under review. Defaults to the checked-out
	// branch; a detached HEAD is a fatal input error.
	LocalBranch string
	// DryRun is forwarded to the engine.
	DryRun bool
}

// Setup opens the repository, resolves configuration, builds the backend
// client, and assembles the engine.
func Setup(ctx context.Context, splog *output.Splog, opts SetupOptions) (*Context, error) {
	if opts.RemoteName == "" {
		opts.RemoteName = "origin"
	}

	repo, err := git.Open(".")
	if err != nil {
		return nil, err
	}

	localBranch := opts.LocalBranch
	if localBranch == "" {
		localBranch, err = repo.CurrentBranch()
		if err != nil {
			return nil, err
		}
	}
	if localBranch == "" {
		return nil, errors.ErrDetachedHead
	}

	cfg, err := config.Load(repo, opts.RemoteName, localBranch)
	if err != nil {
		return nil, err
	}

	backend, err := gitlab.NewClient(ctx, gitlab.ClientOptions{
		HostURL:     cfg.HostURL,
		ProjectPath: cfg.ProjectPath,
		Token:       cfg.Token,
		OAuth:       cfg.OAuth,
	})
	if err != nil {
		return nil, err
	}

	eng := engine.New(repo, backend, splog, engine.Options{
		RemoteName:         cfg.RemoteName,
		FinalBranch:        cfg.TargetBranch,
		LocalBranch:        localBranch,
		RemoveSourceBranch: cfg.RemoveSourceBranch,
		DryRun:             opts.DryRun,
	})

	return &Context{
		Repo:    repo,
		Backend: backend,
		Config:  cfg,
		Splog:   splog,
		Engine:  eng,
	}, nil
}
