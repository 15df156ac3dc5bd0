package git

import (
	"context"
	"errors"
)

// Executor opens existing pipeline working trees for the sync engine.
type Executor interface {
	Open(ctx context.Context, path string) (Workspace, error)
}

// Workspace exposes the git primitives required by the sync engine. Read-only
// ref inspection is served from the repository storage directly, mutations
// shell out to the git binary.
type Workspace interface {
	Path() string
	RemoteName() string

	CurrentBranch(ctx context.Context) (string, error)
	Status(ctx context.Context) (Status, error)
	LocalBranches(ctx context.Context) ([]string, error)
	RemoteBranches(ctx context.Context) ([]string, error)
	ListRemoteHeads(ctx context.Context) ([]string, error)
	LocalBranchHead(ctx context.Context, branch string) (string, bool, error)
	RemoteBranchHead(ctx context.Context, branch string) (string, bool, error)

	CheckoutBranch(ctx context.Context, branch string) error
	CheckoutTracking(ctx context.Context, branch string) error
	CreateBranch(ctx context.Context, branch string) error
	StageAll(ctx context.Context) error
	HasStagedChanges(ctx context.Context) (bool, error)
	Commit(ctx context.Context, message string) error
	PushBranch(ctx context.Context, branch string) error
	DiscardChanges(ctx context.Context) error
}

var (
	// ErrNotARepository is returned by Open when the path is not the root of a
	// non-bare git working tree.
	ErrNotARepository = errors.New("git: not a git working tree")

	// ErrDetachedHead is returned by CurrentBranch when HEAD does not point at a branch.
	ErrDetachedHead = errors.New("git: HEAD is detached")
)

// Status lists the paths that make a working tree dirty.
type Status struct {
	Staged    []string
	Modified  []string
	Untracked []string
}

// Clean reports whether no staged, modified, or untracked entries exist.
func (s Status) Clean() bool {
	return len(s.Staged) == 0 && len(s.Modified) == 0 && len(s.Untracked) == 0
}
