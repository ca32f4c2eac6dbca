// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

// Package upgrade implements the release-title parser and the
// rule-driven upgrade classifier. Both are pure functions: the
// classifier compares a stored library capability against a candidate
// sketch under the configured policy and returns a stable reason string
// for every verdict.
package upgrade

import (
	"fmt"

	"github.com/tomtom215/dovetail/internal/models"
)

// Decision is the classifier verdict for one candidate release.
type Decision struct {
	Notify bool
	Reason string
}

// Classify compares the current library capability against a candidate
// and decides whether an approval should be raised. Rules are evaluated
// in fixed precedence; the first matching rule wins. A rule whose policy
// flag is disabled does not match, so evaluation falls through to the
// next rule. The one exception is a FEL candidate over an owned FEL
// copy, which always terminates: nothing below it could be an upgrade.
func Classify(current, candidate models.Capability, policy models.UpgradePolicy) Decision {
	// Rule 1: exact duplicate.
	if current.DVProfile == candidate.DVProfile &&
		current.DVFEL == candidate.DVFEL &&
		current.HasAtmos == candidate.HasAtmos &&
		NormalizeResolution(current.Resolution) == NormalizeResolution(candidate.Resolution) {
		return Decision{false, "already have this exact quality"}
	}

	// Rule 2: candidate is Profile 7 FEL.
	if policy.NotifyFEL && candidate.DVFEL {
		switch {
		case current.DVFEL:
			return Decision{policy.NotifyFELDuplicates, "already have P7 FEL"}
		case current.HasDV() && policy.NotifyFELFromP5:
			return Decision{true,
				fmt.Sprintf("DV P%d → P7 FEL", current.DVProfileNumber())}
		case !current.HasDV() && policy.NotifyFELFromHDR:
			return Decision{true, "HDR/SDR → P7 FEL"}
		}
	}

	// Rule 3: DV acquisition.
	if policy.NotifyDV && policy.NotifyDVFromHDR &&
		candidate.HasDV() && !current.HasDV() {
		return Decision{true,
			fmt.Sprintf("no DV → DV P%d", candidate.DVProfileNumber())}
	}

	// Rule 4: DV profile upgrade.
	if policy.NotifyDVProfileUpgrades &&
		current.HasDV() && candidate.HasDV() &&
		candidate.DVProfileNumber() > current.DVProfileNumber() {
		return Decision{true,
			fmt.Sprintf("DV P%d → P%d", current.DVProfileNumber(), candidate.DVProfileNumber())}
	}

	// Rule 5: Atmos addition.
	if policy.NotifyAtmos && candidate.HasAtmos && !current.HasAtmos {
		comboDV := current.HasDV() && candidate.HasDV() &&
			candidate.DVProfileNumber() > current.DVProfileNumber()
		switch {
		case comboDV && policy.NotifyAtmosWithDVUpgrade:
			return Decision{true, "combo upgrade DV+Atmos"}
		case !comboDV && policy.NotifyAtmosOnlyIfNoAtmos:
			return Decision{true, "added Atmos"}
		}
	}

	// Rule 6: resolution upgrade.
	if policy.NotifyResolution && policy.NotifyResolutionOnlyUpgrades &&
		ResolutionRank(candidate.Resolution) > ResolutionRank(current.Resolution) {
		return Decision{true,
			fmt.Sprintf("%s → %s",
				NormalizeResolution(current.Resolution),
				NormalizeResolution(candidate.Resolution))}
	}

	// Rule 7: fallback.
	return Decision{false, "not an upgrade per policy"}
}

// DescribeCapability renders a capability for approval messages, e.g.
// "DV P7 FEL | Atmos | 2160p" or "no DV | no Atmos | 1080p".
func DescribeCapability(c models.Capability) string {
	var dv string
	switch {
	case c.DVFEL:
		dv = "DV P7 FEL"
	case c.HasDV():
		dv = fmt.Sprintf("DV P%d", c.DVProfileNumber())
	default:
		dv = "no DV"
	}

	atmos := "no Atmos"
	if c.HasAtmos {
		atmos = "Atmos"
	}

	res := NormalizeResolution(c.Resolution)
	return fmt.Sprintf("%s | %s | %s", dv, atmos, res)
}
