// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package models

// UpgradePolicy controls which tracker discoveries produce an approval
// request. Consumed by the upgrade classifier; persisted in the settings
// table so control-plane edits survive restarts.
type UpgradePolicy struct {
	// NotifyFEL enables rule 2: candidates carrying Profile 7 FEL.
	NotifyFEL bool `koanf:"notify_fel" json:"notify_fel"`

	// NotifyFELFromP5 notifies on lower-DV-profile → FEL upgrades.
	NotifyFELFromP5 bool `koanf:"notify_fel_from_p5" json:"notify_fel_from_p5"`

	// NotifyFELFromHDR notifies on HDR10/SDR → FEL upgrades.
	NotifyFELFromHDR bool `koanf:"notify_fel_from_hdr" json:"notify_fel_from_hdr"`

	// NotifyFELDuplicates notifies even when a FEL copy is already owned.
	NotifyFELDuplicates bool `koanf:"notify_fel_duplicates" json:"notify_fel_duplicates"`

	// NotifyDV enables rules 3 and 4: DV acquisition and profile upgrades.
	NotifyDV bool `koanf:"notify_dv" json:"notify_dv"`

	// NotifyDVFromHDR notifies when a no-DV library item gains DV.
	NotifyDVFromHDR bool `koanf:"notify_dv_from_hdr" json:"notify_dv_from_hdr"`

	// NotifyDVProfileUpgrades notifies on numeric profile increases.
	NotifyDVProfileUpgrades bool `koanf:"notify_dv_profile_upgrades" json:"notify_dv_profile_upgrades"`

	// NotifyAtmos enables rule 5: Atmos additions.
	NotifyAtmos bool `koanf:"notify_atmos" json:"notify_atmos"`

	// NotifyAtmosWithDVUpgrade notifies on combined DV+Atmos upgrades.
	NotifyAtmosWithDVUpgrade bool `koanf:"notify_atmos_with_dv_upgrade" json:"notify_atmos_with_dv_upgrade"`

	// NotifyAtmosOnlyIfNoAtmos notifies on standalone Atmos additions.
	NotifyAtmosOnlyIfNoAtmos bool `koanf:"notify_atmos_only_if_no_atmos" json:"notify_atmos_only_if_no_atmos"`

	// NotifyResolution enables rule 6: resolution rank increases.
	NotifyResolution bool `koanf:"notify_resolution" json:"notify_resolution"`

	// NotifyResolutionOnlyUpgrades gates rule 6 on strict rank increase.
	NotifyResolutionOnlyUpgrades bool `koanf:"notify_resolution_only_upgrades" json:"notify_resolution_only_upgrades"`

	// NotifyOnlyLibraryMovies skips discoveries for movies not in the
	// Plex library. When false, classification runs against an empty
	// baseline instead.
	NotifyOnlyLibraryMovies bool `koanf:"notify_only_library_movies" json:"notify_only_library_movies"`

	// NotifyExpireHours is the approval dialogue lifetime in hours.
	NotifyExpireHours int `koanf:"notify_expire_hours" json:"notify_expire_hours"`
}

// DefaultUpgradePolicy returns the documented per-option defaults.
func DefaultUpgradePolicy() UpgradePolicy {
	return UpgradePolicy{
		NotifyFEL:                    true,
		NotifyFELFromP5:              true,
		NotifyFELFromHDR:             true,
		NotifyFELDuplicates:          false,
		NotifyDV:                     false,
		NotifyDVFromHDR:              true,
		NotifyDVProfileUpgrades:      true,
		NotifyAtmos:                  false,
		NotifyAtmosWithDVUpgrade:     true,
		NotifyAtmosOnlyIfNoAtmos:     true,
		NotifyResolution:             false,
		NotifyResolutionOnlyUpgrades: true,
		NotifyOnlyLibraryMovies:      true,
		NotifyExpireHours:            24,
	}
}
