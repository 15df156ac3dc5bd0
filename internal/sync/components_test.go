package sync_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nf-core/pipeline-sync/internal/forge"
	"github.com/nf-core/pipeline-sync/internal/sync"
)

var _ = Describe("Kind", func() {
	DescribeTable("names the failure class",
		func(err error, expected string) {
			Expect(sync.Kind(err)).To(Equal(expected))
		},
		Entry("nil", nil, ""),
		Entry("wrapped precondition", fmt.Errorf("%w: scratch.txt", sync.ErrDirtyWorkingTree), "DirtyWorkingTree"),
		Entry("missing key", fmt.Errorf("%w: manifest.name", sync.ErrMissingRequiredKey), "MissingRequiredKey"),
		Entry("push", fmt.Errorf("%w: TEMPLATE: %w", sync.ErrPushRejected, errors.New("remote hung up")), "PushRejected"),
		Entry("pull request", &forge.PullRequestError{StatusCode: 422}, "PullRequestFailed"),
		Entry("retry budget", fmt.Errorf("%w: waited 1m", forge.ErrRetryBudgetExhausted), "RetryBudgetExhausted"),
		Entry("run error wins over restore error", errors.Join(sync.ErrRenderFailed, sync.ErrRestoreFailed), "RenderFailed"),
		Entry("restore only", errors.Join(nil, sync.ErrRestoreFailed), "RestoreFailed"),
		Entry("cancelled", context.Canceled, "Cancelled"),
		Entry("unknown", errors.New("boom"), "Error"),
	)
})

var _ = Describe("Superseded", func() {
	pr := func(number int, head, base, state string) forge.PullRequest {
		return forge.PullRequest{Number: number, HeadRef: head, BaseRef: base, State: state}
	}

	It("keeps only open sync pull requests into the base other than the new one", func() {
		prs := []forge.PullRequest{
			pr(1, "nf-core-template-merge-1.0", "dev", "open"),
			pr(2, "nf-core-template-merge-1.0-2", "dev", ""),
			pr(3, "nf-core-template-merge-1.0", "master", "open"),
			pr(4, "feature/thing", "dev", "open"),
			pr(5, "nf-core-template-merge-2.0", "dev", "open"),
			pr(6, "nf-core-template-merge-0.9", "dev", "closed"),
		}

		got := sync.Superseded(prs, "dev", "nf-core-template-merge-2.0")
		numbers := make([]int, 0, len(got))
		for _, p := range got {
			numbers = append(numbers, p.Number)
		}
		Expect(numbers).To(Equal([]int{1, 2}))
	})

	It("is a no-op for an empty listing", func() {
		Expect(sync.Superseded(nil, "dev", "nf-core-template-merge-2.0")).To(BeEmpty())
	})
})

var _ = Describe("PullRequestController", func() {
	It("closes nothing when no pull requests are open", func() {
		client := newFakeForge()
		controller := &sync.PullRequestController{Client: client, Owner: "nf-core", Repo: "demo", Log: testLogger()}

		closed, err := controller.CloseSuperseded(context.Background(), "dev", "nf-core-template-merge-2.0", forge.PullRequest{HTMLURL: "https://github.com/nf-core/demo/pull/1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(closed).To(Equal(0))
		Expect(client.comments).To(BeEmpty())
	})

	It("links the new pull request in the superseded comment", func() {
		client := newFakeForge(openPR("nf-core", "demo", 2, "nf-core-template-merge-1.0", "dev"))
		controller := &sync.PullRequestController{Client: client, Owner: "nf-core", Repo: "demo"}

		closed, err := controller.CloseSuperseded(context.Background(), "dev", "nf-core-template-merge-2.0", forge.PullRequest{HTMLURL: "https://github.com/nf-core/demo/pull/3"})
		Expect(err).NotTo(HaveOccurred())
		Expect(closed).To(Equal(1))
		Expect(client.comments[2]).To(ConsistOf(sync.SupersededComment("https://github.com/nf-core/demo/pull/3")))
	})

	It("validates identity and token before building a client", func() {
		factory := newFakeForge()

		_, err := sync.NewPullRequestController(context.Background(), factory, forge.Credentials{Token: "t"}, "nf-core", "", nil)
		Expect(err).To(MatchError(sync.ErrNoRemoteIdentity))

		_, err = sync.NewPullRequestController(context.Background(), factory, forge.Credentials{}, "nf-core", "demo", nil)
		Expect(err).To(MatchError(sync.ErrNoAuthToken))
		Expect(factory.creds).To(BeEmpty())

		controller, err := sync.NewPullRequestController(context.Background(), factory, forge.Credentials{Token: "t", Username: "bot"}, "nf-core", "demo", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(controller.Owner).To(Equal("nf-core"))
		Expect(factory.creds).To(ConsistOf(forge.Credentials{Token: "t", Username: "bot"}))
	})

	It("builds the title and body from the tools version", func() {
		Expect(sync.PullRequestTitle("3.2.0")).To(Equal("Important! Template update for nf-core/tools v3.2.0"))
		body := sync.PullRequestBody("3.2.0", "nf-core-template-merge-3.2.0")
		Expect(body).To(ContainSubstring("Version `3.2.0`"))
		Expect(body).To(ContainSubstring("`nf-core-template-merge-3.2.0`"))
		Expect(body).To(ContainSubstring("https://github.com/nf-core/tools/releases/tag/3.2.0"))
	})
})

var _ = Describe("MergeBranchManager", func() {
	It("falls back to remote-tracking refs when the remote cannot be listed", func() {
		f := newFixture(fixtureOptions{templateVersion: "1.0"})
		runGit(f.work, "branch", "nf-core-template-merge-2.0")
		runGit(f.work, "remote", "set-url", "origin", filepath.Join(f.root, "missing.git"))

		ws, err := testExecutor().Open(context.Background(), f.work)
		Expect(err).NotTo(HaveOccurred())

		name, err := sync.MergeBranchManager{Workspace: ws, Log: testLogger()}.AllocateName(context.Background(), "nf-core-template-merge-2.0")
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("nf-core-template-merge-2.0-2"))
	})
})

var _ = Describe("TemplateBranchManager", func() {
	It("wipes everything but the git metadata", func() {
		f := newFixture(fixtureOptions{templateVersion: "1.0"})
		writeFile(filepath.Join(f.work, "nested", "deep", "file.txt"), "x\n")
		writeFile(filepath.Join(f.work, ".hidden"), "x\n")

		ws, err := testExecutor().Open(context.Background(), f.work)
		Expect(err).NotTo(HaveOccurred())

		Expect(sync.TemplateBranchManager{Workspace: ws}.Wipe()).To(Succeed())

		entries, err := os.ReadDir(f.work)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name()).To(Equal(".git"))
		Expect(filepath.Join(f.work, ".git", "HEAD")).To(BeARegularFile())
	})

	It("checks out a local template branch before looking at the remote", func() {
		f := newFixture(fixtureOptions{templateVersion: "1.0"})
		runGit(f.work, "branch", "TEMPLATE", "dev")

		ws, err := testExecutor().Open(context.Background(), f.work)
		Expect(err).NotTo(HaveOccurred())

		Expect(sync.TemplateBranchManager{Workspace: ws}.CheckoutTemplate(context.Background())).To(Succeed())
		Expect(f.currentBranch()).To(Equal("TEMPLATE"))
		Expect(f.localHead("TEMPLATE")).To(Equal(f.localHead("dev")))
	})
})

var _ = Describe("Restorer", func() {
	It("fails when the original branch no longer exists", func() {
		f := newFixture(fixtureOptions{templateVersion: "1.0"})
		ws, err := testExecutor().Open(context.Background(), f.work)
		Expect(err).NotTo(HaveOccurred())

		err = sync.Restorer{}.Restore(context.Background(), sync.InitialState{Workspace: ws, ActiveBranch: "gone"})
		Expect(err).To(MatchError(sync.ErrRestoreFailed))
		Expect(sync.Kind(err)).To(Equal("RestoreFailed"))
	})
})
