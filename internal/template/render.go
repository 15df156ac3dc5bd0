package template

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nf-core/pipeline-sync/internal/command"
	"github.com/nf-core/pipeline-sync/internal/nextflow"
)

const defaultOrg = "nf-core"

// DefaultCommand renders with the nf-core tooling. {template_yaml} and
// {outdir} are substituted before execution.
var DefaultCommand = []string{"nf-core", "pipelines", "create", "--template-yaml", "{template_yaml}", "--outdir", "{outdir}", "--force"}

// Params are the values a template render is parameterised with.
type Params struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Author       string   `yaml:"author"`
	Version      string   `yaml:"version"`
	Org          string   `yaml:"org"`
	Outdir       string   `yaml:"outdir"`
	SkipFeatures []string `yaml:"skip_features,omitempty"`
	IsNFCore     bool     `yaml:"is_nfcore"`
	Force        bool     `yaml:"force"`
}

// NewParams builds render parameters from the pipeline configuration and
// settings. One layer of quotes is removed from config values and the
// organisation prefix is removed from the pipeline name.
func NewParams(cfg nextflow.Config, settings Settings) Params {
	fullName := cfg.Unquoted("manifest.name")
	org := settings.Template.OrgName()
	name := fullName
	if prefix, rest, ok := strings.Cut(fullName, "/"); ok {
		if org == "" {
			org = prefix
		}
		if prefix == org {
			name = rest
		}
	}
	if org == "" {
		org = defaultOrg
	}

	isNFCore := org == defaultOrg
	if settings.Template.IsNFCore != nil {
		isNFCore = *settings.Template.IsNFCore
	}

	return Params{
		Name:         name,
		Description:  cfg.Unquoted("manifest.description"),
		Author:       cfg.Unquoted("manifest.author"),
		Version:      cfg.Unquoted("manifest.version"),
		Org:          org,
		SkipFeatures: settings.Template.Skipped(),
		IsNFCore:     isNFCore,
		Force:        true,
	}
}

// Renderer materialises a template instance into outdir.
type Renderer interface {
	Render(ctx context.Context, params Params, outdir string) error
}

// CommandRenderer renders by running an external command. The parameters are
// written to a temporary YAML file outside outdir so the render never sees it.
type CommandRenderer struct {
	// Command is the argv to run. Defaults to DefaultCommand.
	Command []string

	// TempDir holds the parameters file. Defaults to os.TempDir().
	TempDir string

	// Env is appended to the process environment.
	Env []string
}

func (r *CommandRenderer) Render(ctx context.Context, params Params, outdir string) error {
	argv := r.Command
	if len(argv) == 0 {
		argv = DefaultCommand
	}

	params.Outdir = outdir
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode template parameters: %w", err)
	}

	file, err := os.CreateTemp(r.TempDir, "pipeline-sync-template-*.yml")
	if err != nil {
		return fmt.Errorf("create template parameters file: %w", err)
	}
	paramsPath := file.Name()
	defer func() {
		_ = os.Remove(paramsPath)
	}()
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("write template parameters: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("write template parameters: %w", err)
	}

	replacer := strings.NewReplacer("{template_yaml}", paramsPath, "{outdir}", outdir)
	args := make([]string, len(argv))
	for i, arg := range argv {
		args[i] = replacer.Replace(arg)
	}
	if args[0] == "" {
		return errors.New("render command is empty")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = outdir
	cmd.Env = append(cmd.Environ(), r.Env...)
	if _, err := command.Run(ctx, cmd); err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	return nil
}
