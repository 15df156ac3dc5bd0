package forge

import (
	"fmt"
	"regexp"
	"strings"
)

// MergeBranchPrefix starts every merge branch name the sync engine creates. It
// is also how superseded sync pull requests are recognised.
const MergeBranchPrefix = "nf-core-template-merge-"

var disallowedBranchChars = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

// MergeBranchBase returns the merge branch name for a template version before
// any collision suffix is applied.
func MergeBranchBase(version string) string {
	return MergeBranchPrefix + sanitizeVersion(version)
}

func sanitizeVersion(version string) string {
	version = strings.TrimSpace(version)
	version = strings.ReplaceAll(version, " ", "-")
	version = disallowedBranchChars.ReplaceAllString(version, "-")
	for strings.Contains(version, "..") {
		version = strings.ReplaceAll(version, "..", ".")
	}
	for strings.Contains(version, "--") {
		version = strings.ReplaceAll(version, "--", "-")
	}
	version = strings.Trim(version, "-/.")
	if version == "" {
		return "dev"
	}
	return version
}

// AllocateBranchName returns base when no taken name equals it, otherwise
// "<base>-<n>" for the smallest n >= 2 that is not taken. The result depends
// only on the inputs, so repeated calls with the same names agree.
func AllocateBranchName(base string, taken ...[]string) string {
	used := make(map[string]struct{})
	for _, names := range taken {
		for _, name := range names {
			used[name] = struct{}{}
		}
	}

	if _, ok := used[base]; !ok {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
}

// IsMergeBranch reports whether ref names a sync merge branch.
func IsMergeBranch(ref string) bool {
	return strings.HasPrefix(ref, MergeBranchPrefix)
}
