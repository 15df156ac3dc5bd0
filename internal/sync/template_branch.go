package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nf-core/pipeline-sync/internal/git"
	"github.com/nf-core/pipeline-sync/internal/template"
)

// DefaultTemplateBranch holds nothing but rendered template output.
const DefaultTemplateBranch = "TEMPLATE"

const gitMetadataDir = ".git"

// CommitMessage is the template branch commit message for a tools version.
func CommitMessage(version string) string {
	return fmt.Sprintf("Template update for nf-core/tools version %s", version)
}

// TemplateBranchManager replaces the template branch content with a fresh render.
type TemplateBranchManager struct {
	Workspace git.Workspace
	Branch    string
	Renderer  template.Renderer
	Version   string
	Log       *slog.Logger
}

func (m TemplateBranchManager) branch() string {
	if m.Branch == "" {
		return DefaultTemplateBranch
	}
	return m.Branch
}

// CheckoutTemplate switches to the local template branch, or creates it from
// the remote-tracking branch of the same name.
func (m TemplateBranchManager) CheckoutTemplate(ctx context.Context) error {
	branch := m.branch()

	_, ok, err := m.Workspace.LocalBranchHead(ctx, branch)
	if err != nil {
		return err
	}
	if ok {
		return m.Workspace.CheckoutBranch(ctx, branch)
	}

	_, ok, err = m.Workspace.RemoteBranchHead(ctx, branch)
	if err != nil {
		return err
	}
	if ok {
		if m.Log != nil {
			m.Log.Info("creating local template branch from remote", "branch", branch, "remote", m.Workspace.RemoteName())
		}
		return m.Workspace.CheckoutTracking(ctx, branch)
	}

	return fmt.Errorf("%w: %s (looked for %s/%s too)", ErrTemplateBranchMissing, branch, m.Workspace.RemoteName(), branch)
}

// Wipe removes every entry at the repository root except the git metadata
// directory. Symlinks are unlinked, never followed.
func (m TemplateBranchManager) Wipe() error {
	root := m.Workspace.Path()
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWipeFailed, err)
	}
	for _, entry := range entries {
		if entry.Name() == gitMetadataDir {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return fmt.Errorf("%w: %w", ErrWipeFailed, err)
		}
	}
	return nil
}

// Regenerate renders the template into the repository root.
func (m TemplateBranchManager) Regenerate(ctx context.Context, params template.Params) error {
	if m.Log != nil {
		m.Log.Info("rendering template", "name", params.Name, "org", params.Org, "version", params.Version)
	}
	if err := m.Renderer.Render(ctx, params, m.Workspace.Path()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return nil
}

// CommitIfChanged stages everything, deletions included, and commits. It
// reports false when the render matches the current template branch tip.
func (m TemplateBranchManager) CommitIfChanged(ctx context.Context) (bool, error) {
	if err := m.Workspace.StageAll(ctx); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	changed, err := m.Workspace.HasStagedChanges(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	if !changed {
		return false, nil
	}
	if err := m.Workspace.Commit(ctx, CommitMessage(m.Version)); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return true, nil
}

// Unpublished reports whether the local template branch tip differs from the
// remote-tracking ref, including when the remote has no such branch.
func (m TemplateBranchManager) Unpublished(ctx context.Context) (bool, error) {
	local, ok, err := m.Workspace.LocalBranchHead(ctx, m.branch())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	remote, ok, err := m.Workspace.RemoteBranchHead(ctx, m.branch())
	if err != nil {
		return false, err
	}
	return !ok || remote != local, nil
}

// Push publishes the template branch.
func (m TemplateBranchManager) Push(ctx context.Context) error {
	if err := m.Workspace.PushBranch(ctx, m.branch()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPushRejected, m.branch(), err)
	}
	return nil
}
