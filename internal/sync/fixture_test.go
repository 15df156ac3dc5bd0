package sync_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nf-core/pipeline-sync/internal/forge"
	"github.com/nf-core/pipeline-sync/internal/git"
	"github.com/nf-core/pipeline-sync/internal/nextflow"
	"github.com/nf-core/pipeline-sync/internal/template"
)

const (
	toolsVersion = "2.0"
	tokenEnv     = "PIPELINE_SYNC_TEST_TOKEN"
)

const demoManifest = `manifest.name = 'nf-core/demo'
manifest.description = 'A demo pipeline'
manifest.version = '1.0.0dev'
manifest.author = 'Jane Doe'
`

// manifestExtractor stands in for nextflow by parsing manifest.txt from the
// checked out branch.
type manifestExtractor struct {
	calls int
}

func (m *manifestExtractor) Extract(_ context.Context, dir string) (nextflow.Config, error) {
	m.calls++
	data, err := os.ReadFile(filepath.Join(dir, "manifest.txt"))
	if err != nil {
		return nil, err
	}
	return nextflow.Parse(string(data)), nil
}

// fakeRenderer writes a small deterministic pipeline tree whose content
// depends on the params and its template version.
type fakeRenderer struct {
	TemplateVersion string
	Extra           string
	Fail            error
	Before          func()
	rendered        []template.Params
}

func (r *fakeRenderer) Render(ctx context.Context, params template.Params, outdir string) error {
	r.rendered = append(r.rendered, params)
	if r.Before != nil {
		r.Before()
	}
	files := map[string]string{
		"README.md":                   fmt.Sprintf("# %s/%s\n\n%s\n", params.Org, params.Name, params.Description),
		"nextflow.config":             fmt.Sprintf("manifest {\n    name = '%s/%s'\n    author = '%s'\n    version = '%s'\n}\n", params.Org, params.Name, params.Author, params.Version),
		"assets/template-version.txt": r.TemplateVersion + r.Extra + "\n",
		".github/workflows/ci.yml":    "name: nf-core CI\non: [push]\n",
	}
	for name, content := range files {
		path := filepath.Join(outdir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
		if r.Fail != nil {
			return r.Fail
		}
	}
	return ctx.Err()
}

// fakeForge is both the client factory and the client. Opened pull requests
// join the open list so later runs see them.
type fakeForge struct {
	open       []forge.PullRequest
	listErr    error
	createErr  error
	commentErr map[int]error
	closeErr   map[int]error

	creds    []forge.Credentials
	created  []forge.CreatePROptions
	comments map[int][]string
	closed   []int
}

func newFakeForge(open ...forge.PullRequest) *fakeForge {
	return &fakeForge{open: open, comments: map[int][]string{}}
}

func (f *fakeForge) New(_ context.Context, creds forge.Credentials) (forge.Client, error) {
	f.creds = append(f.creds, creds)
	return f, nil
}

func (f *fakeForge) CreatePullRequest(_ context.Context, owner, repo string, input forge.CreatePROptions) (forge.PullRequest, error) {
	f.created = append(f.created, input)
	if f.createErr != nil {
		return forge.PullRequest{}, f.createErr
	}
	pr := openPR(owner, repo, 100+len(f.created), input.Head, input.Base)
	f.open = append(f.open, pr)
	return pr, nil
}

func (f *fakeForge) ListOpenPullRequests(context.Context, string, string) ([]forge.PullRequest, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []forge.PullRequest
	for _, pr := range f.open {
		if pr.State == "open" {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (f *fakeForge) CommentOnPullRequest(_ context.Context, pr forge.PullRequest, body string) error {
	if err := f.commentErr[pr.Number]; err != nil {
		return err
	}
	f.comments[pr.Number] = append(f.comments[pr.Number], body)
	return nil
}

func (f *fakeForge) ClosePullRequest(_ context.Context, pr forge.PullRequest) error {
	if err := f.closeErr[pr.Number]; err != nil {
		return err
	}
	f.closed = append(f.closed, pr.Number)
	for i := range f.open {
		if f.open[i].Number == pr.Number {
			f.open[i].State = "closed"
		}
	}
	return nil
}

func openPR(owner, repo string, number int, head, base string) forge.PullRequest {
	api := fmt.Sprintf("https://api.github.com/repos/%s/%s", owner, repo)
	return forge.PullRequest{
		Number:      number,
		State:       "open",
		HeadRef:     head,
		BaseRef:     base,
		URL:         fmt.Sprintf("%s/pulls/%d", api, number),
		HTMLURL:     fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number),
		CommentsURL: fmt.Sprintf("%s/issues/%d/comments", api, number),
	}
}

type fixtureOptions struct {
	// templateVersion renders a TEMPLATE branch with this version. Empty
	// means the repository has no template branch at all.
	templateVersion string

	// templateSymlink adds a symlink named "link" to the TEMPLATE branch that
	// points at this path.
	templateSymlink string

	// featureManifest adds a remote-only "feature" branch with this manifest.
	featureManifest string

	// liveOnlyBranches are pushed to the remote after the clone, so only a
	// live listing of the remote can see them.
	liveOnlyBranches []string
}

type fixture struct {
	root   string
	work   string
	remote string
}

func newFixture(opts fixtureOptions) fixture {
	root, err := os.MkdirTemp("", "pipeline-sync-")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, root)

	f := fixture{
		root:   root,
		work:   filepath.Join(root, "work"),
		remote: filepath.Join(root, "remote.git"),
	}
	seed := filepath.Join(root, "seed")

	runGit(root, "init", "-q", seed)
	runGit(seed, "config", "user.name", "Test User")
	runGit(seed, "config", "user.email", "test@example.com")
	writeFile(filepath.Join(seed, "manifest.txt"), demoManifest)
	writeFile(filepath.Join(seed, "README.md"), "# my pipeline\n\nhand written docs\n")
	writeFile(filepath.Join(seed, "main.nf"), "workflow { }\n")
	runGit(seed, "add", "-A")
	runGit(seed, "commit", "-q", "-m", "initial pipeline")
	runGit(seed, "branch", "-M", "dev")

	if opts.templateVersion != "" {
		runGit(seed, "checkout", "-q", "--orphan", "TEMPLATE")
		runGit(seed, "rm", "-rfq", ".")
		renderer := &fakeRenderer{TemplateVersion: opts.templateVersion}
		params := template.NewParams(nextflow.Parse(demoManifest), template.Settings{})
		Expect(renderer.Render(context.Background(), params, seed)).To(Succeed())
		if opts.templateSymlink != "" {
			Expect(os.Symlink(opts.templateSymlink, filepath.Join(seed, "link"))).To(Succeed())
		}
		runGit(seed, "add", "-A")
		runGit(seed, "commit", "-q", "-m", "Template update for nf-core/tools version "+opts.templateVersion)
		runGit(seed, "checkout", "-q", "dev")
	}

	if opts.featureManifest != "" {
		runGit(seed, "checkout", "-q", "-b", "feature")
		writeFile(filepath.Join(seed, "manifest.txt"), opts.featureManifest)
		runGit(seed, "commit", "-q", "-am", "feature manifest")
		runGit(seed, "checkout", "-q", "dev")
	}

	runGit(root, "init", "-q", "--bare", f.remote)
	runGit(seed, "remote", "add", "origin", f.remote)
	runGit(seed, "push", "-q", "origin", "--all")
	runGit("", "--git-dir", f.remote, "symbolic-ref", "HEAD", "refs/heads/dev")

	runGit(root, "clone", "-q", f.remote, f.work)
	runGit(f.work, "config", "user.name", "Pipeline Developer")
	runGit(f.work, "config", "user.email", "dev@example.com")

	for _, branch := range opts.liveOnlyBranches {
		runGit(seed, "push", "-q", "origin", "dev:refs/heads/"+branch)
	}
	return f
}

func (f fixture) currentBranch() string {
	return gitOutput(f.work, "rev-parse", "--abbrev-ref", "HEAD")
}

func (f fixture) remoteHead(branch string) string {
	out, err := gitCommand("", "--git-dir", f.remote, "rev-parse", "--verify", "-q", "refs/heads/"+branch).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (f fixture) localHead(branch string) string {
	out, err := gitCommand(f.work, "rev-parse", "--verify", "-q", "refs/heads/"+branch).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (f fixture) statusPorcelain() string {
	return gitOutput(f.work, "status", "--porcelain")
}

func testExecutor() git.Executor {
	return &git.ShellExecutor{
		UserName:       "nf-core-bot",
		UserEmail:      "core@nf-co.re",
		NetworkRetries: -1,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func gitCommand(dir string, args ...string) *exec.Cmd {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.Command("git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd
}

func runGit(dir string, args ...string) {
	GinkgoHelper()
	out, err := gitCommand(dir, args...).CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), "git %s\n%s", strings.Join(args, " "), out)
}

func gitOutput(dir string, args ...string) string {
	GinkgoHelper()
	out, err := gitCommand(dir, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			Fail(fmt.Sprintf("git %s: %v\n%s", strings.Join(args, " "), err, exitErr.Stderr))
		}
		Fail(fmt.Sprintf("git %s: %v", strings.Join(args, " "), err))
	}
	return strings.TrimSpace(string(out))
}

func writeFile(path, content string) {
	GinkgoHelper()
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
}
