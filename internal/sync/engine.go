// Package sync keeps a pipeline repository in step with its template: it
// renders the template from the pipeline's own config onto a dedicated
// branch, publishes a merge branch, opens a pull request for it, and closes
// the sync pull requests it supersedes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nf-core/pipeline-sync/internal/forge"
	"github.com/nf-core/pipeline-sync/internal/git"
	"github.com/nf-core/pipeline-sync/internal/nextflow"
	"github.com/nf-core/pipeline-sync/internal/template"
)

// DefaultTokenEnv holds the forge token unless Config.TokenEnv overrides it.
const DefaultTokenEnv = "GITHUB_AUTH_TOKEN"

// Config captures the engine-wide settings that do not change between runs.
type Config struct {
	// TemplateBranch defaults to DefaultTemplateBranch.
	TemplateBranch string

	// Version is the tools release the template is rendered with. It is
	// embedded in the commit message, merge branch name, and PR title.
	Version string

	// TokenEnv names the environment variable holding the forge token.
	TokenEnv string

	// ForgeUsername switches forge authentication to basic auth.
	ForgeUsername string
}

// Options describe a single run.
type Options struct {
	Path       string
	FromBranch string
	MakePR     bool
	BaseBranch string
	Owner      string
	Repo       string
}

// Result summarises a completed run.
type Result struct {
	// Changed is true when this run committed to the template branch.
	Changed bool

	// Unpublished is true when the template branch tip was not on the remote
	// yet, whether from this run or an earlier one that did not publish.
	Unpublished bool

	MergeBranch    string
	PullRequestURL string
	Closed         int
}

// Engine runs template syncs.
type Engine struct {
	cfg      Config
	git      git.Executor
	nextflow nextflow.Extractor
	renderer template.Renderer
	forge    forge.Factory
	log      *slog.Logger
}

// New returns an Engine. A nil logger discards output.
func New(cfg Config, gitExecutor git.Executor, extractor nextflow.Extractor, renderer template.Renderer, factory forge.Factory, logger *slog.Logger) *Engine {
	if cfg.TemplateBranch == "" {
		cfg.TemplateBranch = DefaultTemplateBranch
	}
	if cfg.TokenEnv == "" {
		cfg.TokenEnv = DefaultTokenEnv
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{cfg: cfg, git: gitExecutor, nextflow: extractor, renderer: renderer, forge: factory, log: logger}
}

// Run syncs the pipeline at opts.Path. Once the repository has been inspected
// the original branch is restored on every exit path, cancellation included.
func (e *Engine) Run(ctx context.Context, opts Options) (result Result, err error) {
	if e.git == nil || e.nextflow == nil || e.renderer == nil {
		return Result{}, errors.New("sync engine is missing a collaborator")
	}
	if strings.TrimSpace(e.cfg.Version) == "" {
		return Result{}, errors.New("template version is required")
	}

	state, err := RepoGuard{Git: e.git}.Inspect(ctx, opts.Path)
	if err != nil {
		return Result{}, err
	}
	ws := state.Workspace
	log := e.log.With("path", ws.Path())

	defer func() {
		restoreErr := Restorer{Log: log}.Restore(context.WithoutCancel(ctx), state)
		if restoreErr != nil {
			log.Error("could not restore original branch", "branch", state.ActiveBranch, "error", restoreErr)
			err = errors.Join(err, restoreErr)
		}
	}()

	token := os.Getenv(e.cfg.TokenEnv)

	base := opts.BaseBranch
	if base == "" {
		base = state.ActiveBranch
	}
	log.Info("starting template sync", "branch", state.ActiveBranch, "from_branch", opts.FromBranch, "base_branch", base, "template_branch", e.cfg.TemplateBranch, "version", e.cfg.Version, "make_pr", opts.MakePR)

	extractor := ConfigExtractor{Workspace: ws, Nextflow: e.nextflow, Log: log}
	cfg, settings, err := extractor.Extract(ctx, opts.FromBranch)
	if err != nil {
		return Result{}, err
	}

	tmpl := TemplateBranchManager{
		Workspace: ws,
		Branch:    e.cfg.TemplateBranch,
		Renderer:  e.renderer,
		Version:   e.cfg.Version,
		Log:       log,
	}
	if err := tmpl.CheckoutTemplate(ctx); err != nil {
		return Result{}, err
	}
	if err := tmpl.Wipe(); err != nil {
		return Result{}, err
	}
	if err := tmpl.Regenerate(ctx, template.NewParams(cfg, settings)); err != nil {
		return Result{}, err
	}
	result.Changed, err = tmpl.CommitIfChanged(ctx)
	if err != nil {
		return Result{}, err
	}
	result.Unpublished, err = tmpl.Unpublished(ctx)
	if err != nil {
		return result, fmt.Errorf("compare template branch with remote: %w", err)
	}

	if !result.Changed && !result.Unpublished {
		log.Info("template branch already matches a fresh render, nothing to do")
		return result, nil
	}
	if result.Changed {
		log.Info("committed template update", "branch", e.cfg.TemplateBranch)
	} else {
		log.Info("template branch has changes that were never published", "branch", e.cfg.TemplateBranch)
	}
	if !opts.MakePR {
		log.Info("pull request creation disabled, leaving template branch unpublished")
		return result, nil
	}

	prs, err := NewPullRequestController(ctx, e.forge, forge.Credentials{Token: token, Username: e.cfg.ForgeUsername}, opts.Owner, opts.Repo, log)
	if err != nil {
		return result, err
	}

	if err := tmpl.Push(ctx); err != nil {
		return result, err
	}

	merge := MergeBranchManager{Workspace: ws, Log: log}
	result.MergeBranch, err = merge.AllocateName(ctx, forge.MergeBranchBase(e.cfg.Version))
	if err != nil {
		return result, err
	}
	if err := merge.Create(ctx, result.MergeBranch); err != nil {
		return result, err
	}
	if err := merge.Push(ctx, result.MergeBranch); err != nil {
		return result, err
	}

	pr, err := prs.OpenPR(ctx, result.MergeBranch, base, PullRequestTitle(e.cfg.Version), PullRequestBody(e.cfg.Version, result.MergeBranch))
	if err != nil {
		return result, err
	}
	result.PullRequestURL = pr.HTMLURL

	closed, err := prs.CloseSuperseded(ctx, base, result.MergeBranch, pr)
	result.Closed = closed
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		log.Warn("skipping cleanup of superseded pull requests", "error", err)
	}
	return result, nil
}
