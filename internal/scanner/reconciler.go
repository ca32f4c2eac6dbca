// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package scanner

import (
	"context"
	"fmt"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/models"
)

// ReconcileMode selects the reconciliation strategy.
type ReconcileMode string

// Reconciliation modes. Scan only ever adds members; verify also
// removes items that no longer qualify. Empty collections are never
// auto-deleted in either mode.
const (
	ModeScan   ReconcileMode = "scan"
	ModeVerify ReconcileMode = "verify"
)

// CollectionResult reports one collection's reconciliation outcome.
// Added and Removed carry the titles actually mutated; Failed counts
// per-item mutations that errored and were skipped.
type CollectionResult struct {
	Collection string   `json:"collection"`
	Created    bool     `json:"created"`
	Added      []string `json:"added,omitempty"`
	Removed    []string `json:"removed,omitempty"`
	Failed     int      `json:"failed"`
}

// Reconciler synchronises the curated Plex collections with the
// capability store.
type Reconciler struct {
	plex        *PlexClient
	db          *database.DB
	cfg         config.CollectionsConfig
	libraryName string
}

// NewReconciler creates a collection reconciler for the configured
// library section.
func NewReconciler(plex *PlexClient, db *database.DB, cfg config.CollectionsConfig, libraryName string) *Reconciler {
	return &Reconciler{plex: plex, db: db, cfg: cfg, libraryName: libraryName}
}

// collectionSpec binds a configured collection name to its membership
// predicate. An empty name disables that collection.
type collectionSpec struct {
	name   string
	bucket database.MovieBucket
}

func (r *Reconciler) specs() []collectionSpec {
	return []collectionSpec{
		{r.cfg.DVCollection, database.BucketDV},
		{r.cfg.FELCollection, database.BucketFEL},
		{r.cfg.AtmosCollection, database.BucketAtmos},
	}
}

// Reconcile brings every enabled collection in line with the store
// using the given mode. present is the set of rating keys the scan saw
// in the section listing; stored records outside it are excluded from
// the desired sets, so items that vanished from Plex fall out of the
// collections without their capability rows being touched. A nil set
// means no filtering. A failing collection is reported and skipped; it
// never aborts the others.
func (r *Reconciler) Reconcile(ctx context.Context, mode ReconcileMode, present map[string]struct{}) ([]CollectionResult, error) {
	if !r.cfg.Enabled {
		return nil, nil
	}

	sectionKey, err := r.plex.FindMovieSection(ctx, r.libraryName)
	if err != nil {
		return nil, err
	}

	existing, err := r.plex.ListCollections(ctx, sectionKey)
	if err != nil {
		return nil, err
	}
	byTitle := make(map[string]Collection, len(existing))
	for _, col := range existing {
		byTitle[col.Title] = col
	}

	var results []CollectionResult
	for _, spec := range r.specs() {
		if spec.name == "" {
			continue
		}
		result, err := r.reconcileOne(ctx, mode, sectionKey, spec, byTitle, present)
		if err != nil {
			logging.Error().
				Str("collection", spec.name).
				Err(err).
				Msg("Collection reconciliation failed")
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

// reconcileOne computes desired membership D from the store, current
// membership S from Plex, and applies adds (D \ S) plus, in verify
// mode, removals (S \ D).
func (r *Reconciler) reconcileOne(ctx context.Context, mode ReconcileMode, sectionKey string, spec collectionSpec, byTitle map[string]Collection, present map[string]struct{}) (*CollectionResult, error) {
	stored, err := r.db.ListMovies(ctx, spec.bucket)
	if err != nil {
		return nil, err
	}
	desired := make([]*models.CapabilityRecord, 0, len(stored))
	for _, rec := range stored {
		if present != nil {
			if _, ok := present[rec.RatingKey]; !ok {
				continue
			}
		}
		desired = append(desired, rec)
	}
	desiredByKey := make(map[string]*models.CapabilityRecord, len(desired))
	for _, rec := range desired {
		desiredByKey[rec.RatingKey] = rec
	}

	result := &CollectionResult{Collection: spec.name}

	col, exists := byTitle[spec.name]
	currentKeys := make(map[string]struct{})
	var current []ListedItem
	if exists {
		current, err = r.plex.CollectionItems(ctx, col.RatingKey)
		if err != nil {
			return nil, err
		}
		for _, item := range current {
			currentKeys[item.RatingKey] = struct{}{}
		}
	}

	var toAdd []string
	var addTitles []string
	for _, rec := range desired {
		if _, ok := currentKeys[rec.RatingKey]; !ok {
			toAdd = append(toAdd, rec.RatingKey)
			addTitles = append(addTitles, rec.Title)
		}
	}

	switch {
	case !exists && len(toAdd) > 0:
		// Seed a new collection with the full desired set.
		if _, err := r.plex.CreateCollection(ctx, sectionKey, spec.name, toAdd); err != nil {
			return nil, fmt.Errorf("create collection %s: %w", spec.name, err)
		}
		result.Created = true
		result.Added = addTitles

	case exists && len(toAdd) > 0:
		// Adds are per-item so one rejected item cannot sink the rest.
		for i, key := range toAdd {
			if err := r.plex.AddToCollection(ctx, col.RatingKey, []string{key}); err != nil {
				result.Failed++
				logging.Warn().
					Str("collection", spec.name).
					Str("title", addTitles[i]).
					Err(err).
					Msg("Collection add failed, continuing")
				continue
			}
			result.Added = append(result.Added, addTitles[i])
		}
	}

	if mode == ModeVerify && exists {
		for _, item := range current {
			if _, ok := desiredByKey[item.RatingKey]; ok {
				continue
			}
			if err := r.plex.RemoveFromCollection(ctx, col.RatingKey, item.RatingKey); err != nil {
				result.Failed++
				logging.Warn().
					Str("collection", spec.name).
					Str("title", item.Title).
					Err(err).
					Msg("Collection remove failed, continuing")
				continue
			}
			result.Removed = append(result.Removed, item.Title)
		}
	}

	return result, nil
}
