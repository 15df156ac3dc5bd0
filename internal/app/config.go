package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nf-core/pipeline-sync/internal/sync"
)

const (
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultGitUserName  = "nf-core-bot"
	defaultGitUserEmail = "core@nf-co.re"
	defaultHTTPTimeout  = 30 * time.Second
)

// Config captures runtime options sourced from SYNC_* environment variables.
// The CLI overlays its flags on top.
type Config struct {
	LogLevel  string
	LogFormat string
	Verbose   bool

	TemplateBranch  string
	TemplateVersion string

	// Repository is "owner/repo". Falls back to GITHUB_REPOSITORY.
	Repository string
	FromBranch string
	BaseBranch string
	MakePR     bool

	ForgeBaseURL  string
	ForgeUsername string
	TokenEnv      string
	HTTPTimeout   time.Duration
	MaxRetryWait  time.Duration

	// HTTPCacheTTL keeps successful forge GETs in memory. Pull request
	// listing and mutation always bypass it. Zero disables the cache.
	HTTPCacheTTL time.Duration

	GitUserName  string
	GitUserEmail string

	RenderCommand  []string
	NextflowBinary string
}

// LoadConfig reads the environment, applies defaults, and performs validation.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogLevel:       strings.ToLower(envOrDefault("SYNC_LOG_LEVEL", defaultLogLevel)),
		LogFormat:      strings.ToLower(envOrDefault("SYNC_LOG_FORMAT", defaultLogFormat)),
		TemplateBranch: envOrDefault("SYNC_TEMPLATE_BRANCH", sync.DefaultTemplateBranch),
		TokenEnv:       envOrDefault("SYNC_TOKEN_ENV", sync.DefaultTokenEnv),
		GitUserName:    envOrDefault("SYNC_GIT_USER_NAME", defaultGitUserName),
		GitUserEmail:   envOrDefault("SYNC_GIT_USER_EMAIL", defaultGitUserEmail),
		HTTPTimeout:    defaultHTTPTimeout,
	}

	cfg.TemplateVersion = strings.TrimSpace(os.Getenv("SYNC_TEMPLATE_VERSION"))
	cfg.Repository = envOrDefault("SYNC_REPOSITORY", strings.TrimSpace(os.Getenv("GITHUB_REPOSITORY")))
	cfg.FromBranch = strings.TrimSpace(os.Getenv("SYNC_FROM_BRANCH"))
	cfg.BaseBranch = strings.TrimSpace(os.Getenv("SYNC_BASE_BRANCH"))
	cfg.ForgeBaseURL = strings.TrimSpace(os.Getenv("SYNC_GITHUB_BASE_URL"))
	cfg.ForgeUsername = strings.TrimSpace(os.Getenv("SYNC_GITHUB_USERNAME"))
	cfg.NextflowBinary = strings.TrimSpace(os.Getenv("SYNC_NEXTFLOW_BIN"))
	cfg.RenderCommand = strings.Fields(os.Getenv("SYNC_RENDER_COMMAND"))

	if raw := strings.TrimSpace(os.Getenv("SYNC_MAKE_PR")); raw != "" {
		makePR, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SYNC_MAKE_PR: %w", err)
		}
		cfg.MakePR = makePR
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_VERBOSE")); raw != "" {
		verbose, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SYNC_VERBOSE: %w", err)
		}
		cfg.Verbose = verbose
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_HTTP_TIMEOUT")); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SYNC_HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPTimeout = timeout
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_MAX_RETRY_WAIT")); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SYNC_MAX_RETRY_WAIT: %w", err)
		}
		cfg.MaxRetryWait = wait
	}

	if raw := strings.TrimSpace(os.Getenv("SYNC_HTTP_CACHE_TTL")); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SYNC_HTTP_CACHE_TTL: %w", err)
		}
		cfg.HTTPCacheTTL = ttl
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combined environment and flag values. It leaves
// Verbose unresolved so a later flag overlay can still turn it off.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[c.LogFormat]; !ok {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.MaxRetryWait < 0 {
		return fmt.Errorf("max retry wait must not be negative, got %s", c.MaxRetryWait)
	}
	if c.HTTPCacheTTL < 0 {
		return fmt.Errorf("http cache ttl must not be negative, got %s", c.HTTPCacheTTL)
	}

	if c.Repository != "" {
		if _, _, err := splitRepository(c.Repository); err != nil {
			return err
		}
	}
	return nil
}

// EffectiveLogLevel is the level the logger runs at: debug when verbose,
// LogLevel otherwise.
func (c Config) EffectiveLogLevel() string {
	if c.Verbose {
		return "debug"
	}
	return c.LogLevel
}

// Owner and Repo split Repository. Both are empty when it is unset.
func (c Config) Owner() string {
	owner, _, _ := splitRepository(c.Repository)
	return owner
}

func (c Config) Repo() string {
	_, repo, _ := splitRepository(c.Repository)
	return repo
}

func splitRepository(raw string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(raw), "/")
	owner, repo = strings.TrimSpace(owner), strings.TrimSuffix(strings.TrimSpace(repo), ".git")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("repository %q must have the form owner/repo", raw)
	}
	return owner, repo, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
