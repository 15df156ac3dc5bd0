package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nf-core/pipeline-sync/internal/sync"
)

func (r *Runner) writeStepSummary(result sync.Result, runErr error) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_STEP_SUMMARY"))
	if path == "" {
		return nil
	}

	// The runner normally creates this directory already.
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create summary directory: %v\n", mkErr)
		}
	}

	var builder strings.Builder
	builder.WriteString("## Pipeline template sync\n\n")
	builder.WriteString(renderResultDetails(r.cfg, result, runErr))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close step summary file: %v\n", closeErr)
		}
	}()

	if _, err := file.WriteString(builder.String()); err != nil {
		return fmt.Errorf("write step summary: %w", err)
	}
	return nil
}

func (r *Runner) writeGitHubOutputs(result sync.Result) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create outputs directory: %v\n", mkErr)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open github output: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close github output file: %v\n", closeErr)
		}
	}()

	outputs := []struct{ key, value string }{
		{"changed", strconv.FormatBool(result.Changed)},
		{"merge_branch", result.MergeBranch},
		{"pr_url", result.PullRequestURL},
		{"closed_prs", strconv.Itoa(result.Closed)},
	}
	for _, out := range outputs {
		if err := writeMultilineOutput(file, out.key, out.value); err != nil {
			return err
		}
	}
	return nil
}

func renderResultDetails(cfg Config, result sync.Result, runErr error) string {
	var builder strings.Builder

	if runErr != nil {
		builder.WriteString(fmt.Sprintf("Sync failed with **%s**: %s\n", sync.Kind(runErr), sanitizeMarkdownCell(runErr.Error())))
		return builder.String()
	}

	if !result.Changed && !result.Unpublished {
		builder.WriteString("Template branch is already up to date, nothing to sync.\n")
		return builder.String()
	}

	status := "unpublished"
	if result.Changed {
		status = "committed"
	}

	prCell := "-"
	if result.PullRequestURL != "" {
		prCell = fmt.Sprintf("[%s](%s)", result.MergeBranch, result.PullRequestURL)
	} else if !cfg.MakePR {
		prCell = "disabled"
	}

	builder.WriteString("| Version | Template branch | Pull request | Closed |\n")
	builder.WriteString("| --- | --- | --- | --- |\n")
	builder.WriteString(fmt.Sprintf("| %s | %s | %s | %d |\n",
		sanitizeMarkdownCell(cfg.TemplateVersion),
		sanitizeMarkdownCell(status),
		sanitizeMarkdownCell(prCell),
		result.Closed,
	))
	return builder.String()
}

func writeMultilineOutput(file *os.File, key, value string) error {
	if _, err := fmt.Fprintf(file, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
		return fmt.Errorf("write output %s: %w", key, err)
	}
	return nil
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}
