// Package template renders a fresh instance of the pipeline template from a
// pipeline's own configuration.
package template

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SettingsFiles lists the tooling settings file names in lookup order.
var SettingsFiles = []string{".nf-core.yml", ".nf-core.yaml"}

// Settings is the subset of the pipeline's tooling settings file that
// influences template rendering.
type Settings struct {
	RepositoryType string          `yaml:"repository_type"`
	ToolsVersion   string          `yaml:"nf_core_version"`
	Template       TemplateSection `yaml:"template"`
}

// TemplateSection customises the rendered template. Prefix and Skip are the
// names used by older tooling releases.
type TemplateSection struct {
	Org          string   `yaml:"org"`
	Prefix       string   `yaml:"prefix"`
	Name         string   `yaml:"name"`
	SkipFeatures []string `yaml:"skip_features"`
	Skip         []string `yaml:"skip"`
	IsNFCore     *bool    `yaml:"is_nfcore"`
}

// OrgName returns the configured organisation, preferring the current key.
func (t TemplateSection) OrgName() string {
	if t.Org != "" {
		return t.Org
	}
	return t.Prefix
}

// Skipped returns the template features to leave out, merged across both keys.
func (t TemplateSection) Skipped() []string {
	seen := make(map[string]struct{}, len(t.SkipFeatures)+len(t.Skip))
	var out []string
	for _, list := range [][]string{t.SkipFeatures, t.Skip} {
		for _, feature := range list {
			if _, ok := seen[feature]; ok || feature == "" {
				continue
			}
			seen[feature] = struct{}{}
			out = append(out, feature)
		}
	}
	return out
}

// LoadSettings reads the settings file at the root of dir. A missing file
// yields zero Settings and no error.
func LoadSettings(dir string) (Settings, string, error) {
	for _, name := range SettingsFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Settings{}, "", fmt.Errorf("read %s: %w", path, err)
		}

		var settings Settings
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, "", fmt.Errorf("parse %s: %w", path, err)
		}
		return settings, path, nil
	}
	return Settings{}, "", nil
}
