// Package nextflow reads the flattened pipeline configuration emitted by the
// nextflow CLI.
package nextflow

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nf-core/pipeline-sync/internal/command"
)

// Config maps dotted configuration keys (manifest.name, params.outdir, ...) to
// their values exactly as nextflow printed them, quotes included.
type Config map[string]string

// Unquoted returns the value under key with one layer of surrounding single
// or double quotes removed.
func (c Config) Unquoted(key string) string {
	return Unquote(c[key])
}

// Unquote strips one layer of matching surrounding quote characters.
func Unquote(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '\'' || first == '"') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// Extractor returns the configuration of the pipeline checked out at dir.
type Extractor interface {
	Extract(ctx context.Context, dir string) (Config, error)
}

// CLIExtractor runs `nextflow config -flat` against the working tree.
type CLIExtractor struct {
	// Binary is the nextflow executable. Defaults to "nextflow".
	Binary string

	// Env is appended to the process environment.
	Env []string
}

func (e *CLIExtractor) binary() string {
	if e.Binary == "" {
		return "nextflow"
	}
	return e.Binary
}

func (e *CLIExtractor) Extract(ctx context.Context, dir string) (Config, error) {
	cmd := exec.CommandContext(ctx, e.binary(), "config", "-flat", dir)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), e.Env...)

	out, err := command.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("nextflow config -flat %s: %w", dir, err)
	}
	return Parse(string(out)), nil
}

// Parse reads `key = value` lines. Lines without a separator (warnings, the
// nextflow banner) are skipped and the last occurrence of a key wins.
func Parse(out string) Config {
	cfg := make(Config)
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), " = ")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		cfg[key] = strings.TrimSpace(value)
	}
	return cfg
}
