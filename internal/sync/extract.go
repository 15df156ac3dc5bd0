package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nf-core/pipeline-sync/internal/git"
	"github.com/nf-core/pipeline-sync/internal/nextflow"
	"github.com/nf-core/pipeline-sync/internal/template"
)

// RequiredKeys must be present in the extracted pipeline config.
var RequiredKeys = []string{
	"manifest.name",
	"manifest.description",
	"manifest.version",
	"manifest.author",
}

// ConfigExtractor reads the pipeline config from the working tree.
type ConfigExtractor struct {
	Workspace git.Workspace
	Nextflow  nextflow.Extractor
	Log       *slog.Logger
}

// Extract returns every key the config tool reports, plus the tooling
// settings file. When fromBranch names a branch other than the current one it
// is checked out first, creating a tracking branch if only the remote has it.
func (e ConfigExtractor) Extract(ctx context.Context, fromBranch string) (nextflow.Config, template.Settings, error) {
	if fromBranch != "" {
		if err := e.switchTo(ctx, fromBranch); err != nil {
			return nil, template.Settings{}, err
		}
	}

	cfg, err := e.Nextflow.Extract(ctx, e.Workspace.Path())
	if err != nil {
		return nil, template.Settings{}, fmt.Errorf("extract pipeline config: %w", err)
	}
	for _, key := range RequiredKeys {
		if _, ok := cfg[key]; !ok {
			return nil, template.Settings{}, fmt.Errorf("%w: %s", ErrMissingRequiredKey, key)
		}
	}

	settings, path, err := template.LoadSettings(e.Workspace.Path())
	if err != nil {
		return nil, template.Settings{}, err
	}

	if e.Log != nil {
		e.Log.Debug("extracted pipeline config", "keys", len(cfg), "name", cfg["manifest.name"], "version", cfg["manifest.version"], "settings_file", path)
	}
	return cfg, settings, nil
}

func (e ConfigExtractor) switchTo(ctx context.Context, branch string) error {
	current, err := e.Workspace.CurrentBranch(ctx)
	if err == nil && current == branch {
		return nil
	}

	if _, ok, err := e.Workspace.LocalBranchHead(ctx, branch); err != nil {
		return err
	} else if ok {
		if err := e.Workspace.CheckoutBranch(ctx, branch); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBranchMissing, branch, err)
		}
		return nil
	}

	if _, ok, err := e.Workspace.RemoteBranchHead(ctx, branch); err != nil {
		return err
	} else if ok {
		if err := e.Workspace.CheckoutTracking(ctx, branch); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBranchMissing, branch, err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s", ErrBranchMissing, branch)
}
