package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// Restorer puts the working tree back on the branch the run started from.
type Restorer struct {
	Log *slog.Logger
}

// Restore checks out state.ActiveBranch. When the run left the tree on
// another branch with uncommitted render output, that output is discarded
// first so none of it is carried across.
func (r Restorer) Restore(ctx context.Context, state InitialState) error {
	ws := state.Workspace

	if _, ok, err := ws.LocalBranchHead(ctx, state.ActiveBranch); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRestoreFailed, state.ActiveBranch, err)
	} else if !ok {
		return fmt.Errorf("%w: branch %s no longer exists", ErrRestoreFailed, state.ActiveBranch)
	}

	current, err := ws.CurrentBranch(ctx)
	if err == nil && current == state.ActiveBranch {
		return nil
	}

	status, err := ws.Status(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	if !status.Clean() {
		if r.Log != nil {
			r.Log.Warn("discarding uncommitted changes before restoring branch", "branch", current, "staged", len(status.Staged), "modified", len(status.Modified), "untracked", len(status.Untracked))
		}
		if err := ws.DiscardChanges(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrRestoreFailed, err)
		}
	}

	if err := ws.CheckoutBranch(ctx, state.ActiveBranch); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRestoreFailed, state.ActiveBranch, err)
	}
	if r.Log != nil {
		r.Log.Debug("restored original branch", "branch", state.ActiveBranch)
	}
	return nil
}
