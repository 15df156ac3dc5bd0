package sync

import (
	"context"
	"errors"

	"github.com/nf-core/pipeline-sync/internal/forge"
)

// Precondition failures. They are reported before the run mutates anything
// that the Restorer cannot undo.
var (
	ErrNotARepo              = errors.New("not a git working tree")
	ErrDirtyWorkingTree      = errors.New("working tree has uncommitted changes")
	ErrDetachedHead          = errors.New("HEAD is detached")
	ErrBranchMissing         = errors.New("branch does not exist")
	ErrTemplateBranchMissing = errors.New("template branch does not exist locally or on the remote")
	ErrMissingRequiredKey    = errors.New("required pipeline config key is missing")
)

// Mutation failures on the template branch.
var (
	ErrWipeFailed   = errors.New("failed to clear the template branch working tree")
	ErrRenderFailed = errors.New("failed to render the template")
	ErrCommitFailed = errors.New("failed to commit the template update")
)

// Publication failures. The template branch commit is kept.
var (
	ErrPushRejected     = errors.New("push was rejected")
	ErrNoAuthToken      = errors.New("forge auth token is not set")
	ErrNoRemoteIdentity = errors.New("forge owner and repository are required to open a pull request")
)

// ErrRestoreFailed is joined with the run error when the original branch could
// not be checked out again.
var ErrRestoreFailed = errors.New("failed to restore the original branch")

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotARepo, "NotARepo"},
	{ErrDirtyWorkingTree, "DirtyWorkingTree"},
	{ErrDetachedHead, "DetachedHead"},
	{ErrBranchMissing, "BranchMissing"},
	{ErrTemplateBranchMissing, "TemplateBranchMissing"},
	{ErrMissingRequiredKey, "MissingRequiredKey"},
	{ErrWipeFailed, "WipeFailed"},
	{ErrRenderFailed, "RenderFailed"},
	{ErrCommitFailed, "CommitFailed"},
	{ErrPushRejected, "PushRejected"},
	{ErrNoAuthToken, "NoAuthToken"},
	{ErrNoRemoteIdentity, "NoRemoteIdentity"},
	{forge.ErrPullRequestFailed, "PullRequestFailed"},
	{forge.ErrRetryBudgetExhausted, "RetryBudgetExhausted"},
	{context.Canceled, "Cancelled"},
	{context.DeadlineExceeded, "Timeout"},
	{ErrRestoreFailed, "RestoreFailed"},
}

// Kind names the failure class of err for user-facing output. When a run error
// and a restore error are joined the run error's kind wins.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Error"
}
