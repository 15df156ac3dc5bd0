package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nf-core/pipeline-sync/internal/forge"
	"github.com/nf-core/pipeline-sync/internal/git"
	"github.com/nf-core/pipeline-sync/internal/nextflow"
	"github.com/nf-core/pipeline-sync/internal/sync"
	"github.com/nf-core/pipeline-sync/internal/template"
)

// Runner glues together the sync engine and its collaborators.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	factory   forge.Factory
	gitExec   git.Executor
	extractor nextflow.Extractor
	renderer  template.Renderer
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(cfg Config) (*Runner, error) {
	logger, err := NewLogger(cfg.EffectiveLogLevel(), cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &Runner{
		cfg: cfg,
		log: logger,
		factory: forge.NewRESTFactory(forge.RESTOptions{
			BaseURL:  cfg.ForgeBaseURL,
			Timeout:  cfg.HTTPTimeout,
			CacheTTL: cfg.HTTPCacheTTL,
			Retry:    forge.RetryPolicy{MaxWait: cfg.MaxRetryWait},
			Logger:   logger,
		}),
		gitExec:   buildGitExecutor(cfg),
		extractor: &nextflow.CLIExtractor{Binary: cfg.NextflowBinary},
		renderer:  &template.CommandRenderer{Command: cfg.RenderCommand},
	}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, factory forge.Factory, gitExec git.Executor, extractor nextflow.Extractor, renderer template.Renderer) *Runner {
	return &Runner{cfg: cfg, log: log, factory: factory, gitExec: gitExec, extractor: extractor, renderer: renderer}
}

// Run syncs the pipeline at path and reports the outcome to the CI
// environment when one is present.
func (r *Runner) Run(ctx context.Context, path string) (sync.Result, error) {
	if r.log != nil {
		r.log.Info("starting pipeline sync run", "path", path, "repository", r.cfg.Repository, "make_pr", r.cfg.MakePR)
	}

	engine := sync.New(sync.Config{
		TemplateBranch: r.cfg.TemplateBranch,
		Version:        r.cfg.TemplateVersion,
		TokenEnv:       r.cfg.TokenEnv,
		ForgeUsername:  r.cfg.ForgeUsername,
	}, r.gitExec, r.extractor, r.renderer, r.factory, r.log)

	result, runErr := engine.Run(ctx, sync.Options{
		Path:       path,
		FromBranch: r.cfg.FromBranch,
		MakePR:     r.cfg.MakePR,
		BaseBranch: r.cfg.BaseBranch,
		Owner:      r.cfg.Owner(),
		Repo:       r.cfg.Repo(),
	})

	if err := r.writeStepSummary(result, runErr); err != nil && r.log != nil {
		r.log.Warn("failed to write step summary", "error", err)
	}
	if err := r.writeGitHubOutputs(result); err != nil && r.log != nil {
		r.log.Warn("failed to write action outputs", "error", err)
	}

	return result, runErr
}

func buildGitExecutor(cfg Config) git.Executor {
	exec := git.NewShellExecutor()
	exec.UserName = cfg.GitUserName
	exec.UserEmail = cfg.GitUserEmail
	return exec
}
