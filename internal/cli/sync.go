package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nf-core/pipeline-sync/internal/app"
	"github.com/nf-core/pipeline-sync/internal/sync"
)

// Runner executes one sync. *app.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, path string) (sync.Result, error)
}

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	FromBranch      string
	BaseBranch      string
	Repository      string
	TemplateBranch  string
	TemplateVersion string
	PullRequest     bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [dir]",
		Short: "Sync a pipeline repository with its template",
		Long: `Regenerate the template branch of the pipeline in dir (default: the
current directory) and, with --pull-request, open a sync pull request.

Every flag can also be set through the environment:
  SYNC_TEMPLATE_VERSION  tools release the template is rendered with
  SYNC_TEMPLATE_BRANCH   template branch name (default TEMPLATE)
  SYNC_REPOSITORY        owner/repo on the forge (default GITHUB_REPOSITORY)
  SYNC_TOKEN_ENV         variable holding the forge token (default GITHUB_AUTH_TOKEN)

Example:
  pipeline-sync sync --template-version 3.2.0
  pipeline-sync sync ./rnaseq --from-branch dev --pull-request --repository nf-core/rnaseq`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runSync(cmd, opts, dir)
		},
	}

	cmd.Flags().StringVar(&opts.FromBranch, "from-branch", "", "branch to read the pipeline config from")
	cmd.Flags().StringVar(&opts.BaseBranch, "base-branch", "", "base branch of the pull request (default: the checked out branch)")
	cmd.Flags().StringVar(&opts.Repository, "repository", "", "owner/repo on the forge")
	cmd.Flags().StringVar(&opts.TemplateBranch, "template-branch", "", "template branch name")
	cmd.Flags().StringVar(&opts.TemplateVersion, "template-version", "", "tools release the template is rendered with")
	cmd.Flags().BoolVarP(&opts.PullRequest, "pull-request", "p", false, "push the template and open a sync pull request")

	return cmd
}

// resolveConfig overlays the flags the user set on the environment config.
// Verbose is kept apart from LogLevel and folded in by EffectiveLogLevel, so
// --verbose=false can undo SYNC_VERBOSE.
func resolveConfig(cmd *cobra.Command, opts *SyncOptions) (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.LogFormat
	}
	if flags.Changed("verbose") {
		cfg.Verbose = opts.Verbose
	}
	if flags.Changed("from-branch") {
		cfg.FromBranch = opts.FromBranch
	}
	if flags.Changed("base-branch") {
		cfg.BaseBranch = opts.BaseBranch
	}
	if flags.Changed("repository") {
		cfg.Repository = opts.Repository
	}
	if flags.Changed("template-branch") {
		cfg.TemplateBranch = opts.TemplateBranch
	}
	if flags.Changed("template-version") {
		cfg.TemplateVersion = opts.TemplateVersion
	}
	if flags.Changed("pull-request") {
		cfg.MakePR = opts.PullRequest
	}

	if cfg.TemplateVersion == "" {
		return app.Config{}, errors.New("template version is required (set --template-version or SYNC_TEMPLATE_VERSION)")
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func runSync(cmd *cobra.Command, opts *SyncOptions, dir string) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}

	runner, err := opts.newRunner(cfg)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx, dir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case result.PullRequestURL != "":
		fmt.Fprintf(out, "opened %s from %s, closed %d superseded pull request(s)\n", result.PullRequestURL, result.MergeBranch, result.Closed)
	case result.Changed || result.Unpublished:
		fmt.Fprintf(out, "template branch %s updated, not published\n", cfg.TemplateBranch)
	default:
		fmt.Fprintln(out, "template branch already up to date")
	}
	return nil
}
