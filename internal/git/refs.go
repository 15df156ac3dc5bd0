package git

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// openRepository opens the repository rooted at path. Parent directories are
// not searched, so a subdirectory of a working tree is rejected. Linked
// worktrees resolve their refs through the main repository's commondir.
func openRepository(path string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotARepository, path)
		}
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	if _, err := repo.Worktree(); err != nil {
		if errors.Is(err, gogit.ErrIsBareRepository) {
			return nil, fmt.Errorf("%w: %s is a bare repository", ErrNotARepository, path)
		}
		return nil, fmt.Errorf("open worktree %s: %w", path, err)
	}
	return repo, nil
}

// The repository is reopened per query so refs written by the git binary in
// between are always observed.

func (w *shellWorkspace) CurrentBranch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := openRepository(w.path)
	if err != nil {
		return "", err
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Target().Short(), nil
}

func (w *shellWorkspace) LocalBranches(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := openRepository(w.path)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list local branches: %w", err)
	}
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list local branches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// RemoteBranches returns the branch names recorded under the remote-tracking
// refs of the workspace remote, without the remote prefix.
func (w *shellWorkspace) RemoteBranches(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := openRepository(w.path)
	if err != nil {
		return nil, err
	}
	iter, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("list remote branches: %w", err)
	}
	prefix := fmt.Sprintf("refs/remotes/%s/", w.remoteName)
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		branch := strings.TrimPrefix(name, prefix)
		if branch == "HEAD" {
			return nil
		}
		names = append(names, branch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list remote branches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (w *shellWorkspace) LocalBranchHead(ctx context.Context, branch string) (string, bool, error) {
	return w.resolve(ctx, plumbing.NewBranchReferenceName(branch))
}

func (w *shellWorkspace) RemoteBranchHead(ctx context.Context, branch string) (string, bool, error) {
	return w.resolve(ctx, plumbing.NewRemoteReferenceName(w.remoteName, branch))
}

func (w *shellWorkspace) resolve(ctx context.Context, name plumbing.ReferenceName) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	repo, err := openRepository(w.path)
	if err != nil {
		return "", false, err
	}
	ref, err := repo.Reference(name, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve %s: %w", name, err)
	}
	return ref.Hash().String(), true, nil
}
