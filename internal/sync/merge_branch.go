package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nf-core/pipeline-sync/internal/forge"
	"github.com/nf-core/pipeline-sync/internal/git"
)

// MergeBranchManager creates the uniquely named branch a sync pull request
// is opened from.
type MergeBranchManager struct {
	Workspace git.Workspace
	Log       *slog.Logger
}

// AllocateName returns base, or base-n with the smallest free n >= 2, checked
// against local branches, remote-tracking branches, and the remote's live
// heads. A failed live listing falls back to the tracking refs.
func (m MergeBranchManager) AllocateName(ctx context.Context, base string) (string, error) {
	local, err := m.Workspace.LocalBranches(ctx)
	if err != nil {
		return "", fmt.Errorf("list local branches: %w", err)
	}
	tracking, err := m.Workspace.RemoteBranches(ctx)
	if err != nil {
		return "", fmt.Errorf("list remote-tracking branches: %w", err)
	}
	live, err := m.Workspace.ListRemoteHeads(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if m.Log != nil {
			m.Log.Warn("could not list remote branches, using remote-tracking refs only", "remote", m.Workspace.RemoteName(), "error", err)
		}
		live = nil
	}

	name := forge.AllocateBranchName(base, local, tracking, live)
	if m.Log != nil && name != base {
		m.Log.Info("merge branch name taken, using suffix", "base", base, "branch", name)
	}
	return name, nil
}

// Create points a new branch at the current HEAD.
func (m MergeBranchManager) Create(ctx context.Context, name string) error {
	if err := m.Workspace.CreateBranch(ctx, name); err != nil {
		return fmt.Errorf("create merge branch %s: %w", name, err)
	}
	return nil
}

// Push publishes the merge branch to the default remote.
func (m MergeBranchManager) Push(ctx context.Context, name string) error {
	if err := m.Workspace.PushBranch(ctx, name); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPushRejected, name, err)
	}
	return nil
}
