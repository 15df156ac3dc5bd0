package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nf-core/pipeline-sync/internal/git"
)

// InitialState is what the RepoGuard captured before the run touched the
// repository.
type InitialState struct {
	Workspace    git.Workspace
	ActiveBranch string
}

// RepoGuard checks run preconditions on the target directory.
type RepoGuard struct {
	Git git.Executor
}

// Inspect opens the working tree at path, records the checked out branch and
// refuses dirty trees. Staged, modified, and untracked entries all count.
func (g RepoGuard) Inspect(ctx context.Context, path string) (InitialState, error) {
	ws, err := g.Git.Open(ctx, path)
	if err != nil {
		if errors.Is(err, git.ErrNotARepository) {
			return InitialState{}, fmt.Errorf("%w: %s", ErrNotARepo, path)
		}
		return InitialState{}, fmt.Errorf("open %s: %w", path, err)
	}

	branch, err := ws.CurrentBranch(ctx)
	if err != nil {
		if errors.Is(err, git.ErrDetachedHead) {
			return InitialState{}, fmt.Errorf("%w: check out a branch in %s before syncing", ErrDetachedHead, ws.Path())
		}
		return InitialState{}, fmt.Errorf("read current branch: %w", err)
	}

	status, err := ws.Status(ctx)
	if err != nil {
		return InitialState{}, err
	}
	if !status.Clean() {
		return InitialState{}, fmt.Errorf("%w: %s", ErrDirtyWorkingTree, describeStatus(status))
	}

	return InitialState{Workspace: ws, ActiveBranch: branch}, nil
}

func describeStatus(s git.Status) string {
	var parts []string
	add := func(label string, paths []string) {
		if len(paths) == 0 {
			return
		}
		shown := paths
		if len(shown) > 5 {
			shown = shown[:5]
		}
		text := label + " " + strings.Join(shown, ", ")
		if len(paths) > len(shown) {
			text += fmt.Sprintf(" (and %d more)", len(paths)-len(shown))
		}
		parts = append(parts, text)
	}
	add("staged", s.Staged)
	add("modified", s.Modified)
	add("untracked", s.Untracked)
	return strings.Join(parts, "; ")
}
