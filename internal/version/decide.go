// Package version compares installed and remote versions and decides
// whether an update should be offered.
package version

import (
	"strings"

	"github.com/kobgit/kob-git-updater/internal/models"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonFirstInstall    Reason = "first-install"
	ReasonNewerRelease    Reason = "newer-release"
	ReasonUpToDate        Reason = "up-to-date"
	ReasonStableOnBranch  Reason = "stable-version-on-branch-only-repository"
	ReasonBranchChanged   Reason = "branch-changed"
	ReasonSameBranch      Reason = "same-branch"
	ReasonNothingResolved Reason = "nothing-resolved"
)

// Decision is the outcome of comparing an installed version with a
// resolved remote artifact.
type Decision struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Reason    Reason `json:"reason"`
}

// Decide reports whether resolved should be offered over installed.
//
// Branch-based artifacts are never offered over an installed package that
// carries a stable-looking version: such packages have a hand-maintained
// header version and would otherwise show an update on every check.
func Decide(installed string, resolved *models.ResolvedUpdate) Decision {
	if resolved == nil {
		return Decision{Reason: ReasonNothingResolved}
	}
	installed = strings.TrimSpace(installed)

	if installed == "" {
		return Decision{Available: true, Version: resolved.Version, Reason: ReasonFirstInstall}
	}

	if resolved.Source == models.SourceBranch {
		if !strings.HasPrefix(installed, models.BranchVersionPrefix) {
			return Decision{Reason: ReasonStableOnBranch}
		}
		if installed != resolved.Version {
			return Decision{Available: true, Version: resolved.Version, Reason: ReasonBranchChanged}
		}
		return Decision{Reason: ReasonSameBranch}
	}

	if IsNewer(installed, resolved.Version) {
		return Decision{Available: true, Version: resolved.Version, Reason: ReasonNewerRelease}
	}
	return Decision{Reason: ReasonUpToDate}
}
