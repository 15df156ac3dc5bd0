package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nf-core/pipeline-sync/internal/command"
)

// ShellExecutor shells out to the system git binary to mutate pipeline
// working trees.
type ShellExecutor struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// UserName and UserEmail configure the git identity for sync commits. They
	// are passed per invocation so the repository config is left untouched.
	UserName  string
	UserEmail string

	// RemoteName controls which remote the workspace interacts with. Defaults to "origin".
	RemoteName string

	// NetworkRetries controls how many additional attempts should be made for network
	// oriented git commands (fetch, push, ls-remote). When zero, a default of 2 retries is used.
	NetworkRetries int

	// NetworkRetryDelay controls the initial backoff delay between retries. When zero,
	// a default of 1 second is used. Backoff grows exponentially per attempt.
	NetworkRetryDelay time.Duration

	// NetworkTimeout bounds network commands that would otherwise inherit an unbounded
	// context. When zero, a default of 2 minutes is used.
	NetworkTimeout time.Duration
}

// NewShellExecutor returns an Executor backed by system git commands.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) gitBinary() string {
	if e.Git == "" {
		return "git"
	}
	return e.Git
}

func (e *ShellExecutor) remoteName() string {
	if e.RemoteName == "" {
		return "origin"
	}
	return e.RemoteName
}

// Open validates that path is the root of a git working tree and returns a
// Workspace bound to it.
func (e *ShellExecutor) Open(ctx context.Context, path string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotARepository)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}
	if _, err := openRepository(abs); err != nil {
		return nil, err
	}
	return &shellWorkspace{
		executor:   e,
		path:       abs,
		remoteName: e.remoteName(),
	}, nil
}

type shellWorkspace struct {
	path       string
	remoteName string
	executor   *ShellExecutor
}

func (w *shellWorkspace) Path() string       { return w.path }
func (w *shellWorkspace) RemoteName() string { return w.remoteName }

func (w *shellWorkspace) Status(ctx context.Context) (Status, error) {
	out, err := w.capture(ctx, "status", "--porcelain=v1", "--untracked-files=all")
	if err != nil {
		return Status{}, fmt.Errorf("git status: %w", err)
	}
	return parsePorcelain(out), nil
}

// parsePorcelain splits `git status --porcelain=v1` output into staged,
// modified, and untracked paths. A path that is both staged and modified is
// reported in both lists.
func parsePorcelain(out string) Status {
	var status Status
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		x, y, path := line[0], line[1], line[3:]
		if x == '?' && y == '?' {
			status.Untracked = append(status.Untracked, path)
			continue
		}
		if x == '!' {
			continue
		}
		if x != ' ' {
			status.Staged = append(status.Staged, path)
		}
		if y != ' ' {
			status.Modified = append(status.Modified, path)
		}
	}
	return status
}

// ListRemoteHeads queries the remote itself for its branch heads.
func (w *shellWorkspace) ListRemoteHeads(ctx context.Context) ([]string, error) {
	out, err := w.capture(ctx, "ls-remote", "--heads", w.remoteName)
	if err != nil {
		return nil, fmt.Errorf("git ls-remote %s: %w", w.remoteName, err)
	}
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		if name, ok := strings.CutPrefix(fields[1], "refs/heads/"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *shellWorkspace) CheckoutBranch(ctx context.Context, branch string) error {
	if err := w.exec(ctx, "checkout", branch, "--"); err != nil {
		return fmt.Errorf("git checkout %s: %w", branch, err)
	}
	return nil
}

// CheckoutTracking creates a local branch from the remote-tracking ref of the
// same name and checks it out.
func (w *shellWorkspace) CheckoutTracking(ctx context.Context, branch string) error {
	ref := fmt.Sprintf("%s/%s", w.remoteName, branch)
	if err := w.exec(ctx, "checkout", "-b", branch, "--track", ref); err != nil {
		return fmt.Errorf("git checkout -b %s --track %s: %w", branch, ref, err)
	}
	return nil
}

func (w *shellWorkspace) CreateBranch(ctx context.Context, branch string) error {
	if err := w.exec(ctx, "branch", branch, "HEAD"); err != nil {
		return fmt.Errorf("git branch %s: %w", branch, err)
	}
	return nil
}

func (w *shellWorkspace) StageAll(ctx context.Context) error {
	if err := w.exec(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git add -A: %w", err)
	}
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func (w *shellWorkspace) HasStagedChanges(ctx context.Context) (bool, error) {
	err := w.exec(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var gitErr *GitError
	var exitErr *exec.ExitError
	if errors.As(err, &gitErr) && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached: %w", err)
}

func (w *shellWorkspace) Commit(ctx context.Context, message string) error {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return fmt.Errorf("commit message is required")
	}
	if err := w.exec(ctx, "commit", "-m", msg); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}

func (w *shellWorkspace) PushBranch(ctx context.Context, branch string) error {
	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
	if err := w.exec(ctx, "push", w.remoteName, refspec); err != nil {
		return fmt.Errorf("git push %s: %w", branch, err)
	}
	return nil
}

// DiscardChanges resets tracked files to HEAD and removes untracked files.
// Ignored files are left alone.
func (w *shellWorkspace) DiscardChanges(ctx context.Context) error {
	if err := w.exec(ctx, "reset", "--hard", "-q", "HEAD"); err != nil {
		return fmt.Errorf("git reset --hard: %w", err)
	}
	if err := w.exec(ctx, "clean", "-f", "-d", "-q"); err != nil {
		return fmt.Errorf("git clean: %w", err)
	}
	return nil
}

func (w *shellWorkspace) exec(ctx context.Context, args ...string) error {
	_, err := w.executor.runGit(ctx, w.args(args)...)
	return err
}

func (w *shellWorkspace) capture(ctx context.Context, args ...string) (string, error) {
	return w.executor.runGit(ctx, w.args(args)...)
}

func (w *shellWorkspace) args(args []string) []string {
	cmd := []string{"-C", w.path}
	if w.executor.UserName != "" {
		cmd = append(cmd, "-c", "user.name="+w.executor.UserName)
	}
	if w.executor.UserEmail != "" {
		cmd = append(cmd, "-c", "user.email="+w.executor.UserEmail)
	}
	return append(cmd, args...)
}

func (e *ShellExecutor) runGit(ctx context.Context, args ...string) (string, error) {
	primary := primaryGitCommand(args)
	isNetwork := isNetworkCommand(primary)

	retries := 0
	if isNetwork {
		retries = e.networkRetriesValue()
	}

	delay := e.networkRetryDelayValue()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := e.applyNetworkTimeout(ctx, isNetwork)
		out, err := e.runGitOnce(attemptCtx, args...)
		cancel()

		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isNetwork {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay = time.Second
		}
		delay *= 2
	}

	return "", lastErr
}

func (e *ShellExecutor) runGitOnce(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.gitBinary(), args...)
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := command.Run(ctx, cmd)
	if err != nil {
		var cmdErr *command.Error
		if errors.As(err, &cmdErr) {
			return "", &GitError{Args: args, Output: cmdErr.Output, Err: cmdErr.Err}
		}
		return "", err
	}
	return string(output), nil
}

func primaryGitCommand(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(arg, "-") {
			switch arg {
			case "-C", "--git-dir", "-c":
				i++
			}
			continue
		}
		return arg
	}
	return ""
}

func isNetworkCommand(cmd string) bool {
	switch cmd {
	case "clone", "fetch", "push", "pull", "ls-remote":
		return true
	default:
		return false
	}
}

func (e *ShellExecutor) networkRetriesValue() int {
	if e.NetworkRetries < 0 {
		return 0
	}
	if e.NetworkRetries == 0 {
		return 2
	}
	return e.NetworkRetries
}

func (e *ShellExecutor) networkRetryDelayValue() time.Duration {
	if e.NetworkRetryDelay <= 0 {
		return time.Second
	}
	return e.NetworkRetryDelay
}

func (e *ShellExecutor) networkTimeoutValue() time.Duration {
	if e.NetworkTimeout <= 0 {
		return 2 * time.Minute
	}
	return e.NetworkTimeout
}

func (e *ShellExecutor) applyNetworkTimeout(ctx context.Context, network bool) (context.Context, context.CancelFunc) {
	if !network {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.IsZero() {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.networkTimeoutValue())
}

// GitError wraps failures when invoking the git binary.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *GitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
