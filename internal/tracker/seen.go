// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package tracker

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/models"
)

// defaultSeenTTL bounds how long an identifier stays deduplicated when
// the config leaves the TTL unset.
const defaultSeenTTL = 90 * 24 * time.Hour

// SeenSet is the persistent release-identifier dedupe set. Identifiers
// survive restarts so a bounce never replays the whole feed through the
// pipeline.
type SeenSet struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenSeenSet opens the Badger set at path. An empty path opens an
// in-memory set, used by tests and by configs that accept replay after
// restart.
func OpenSeenSet(path string, ttl time.Duration) (*SeenSet, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open seen set: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultSeenTTL
	}
	return &SeenSet{db: db, ttl: ttl}, nil
}

// Close releases the Badger store.
func (s *SeenSet) Close() error {
	return s.db.Close()
}

// FilterNew returns the releases whose identifiers are not in the set,
// preserving feed order.
func (s *SeenSet) FilterNew(releases []models.Release) ([]models.Release, error) {
	var fresh []models.Release
	err := s.db.View(func(txn *badger.Txn) error {
		for _, rel := range releases {
			_, err := txn.Get([]byte(rel.Identifier))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				fresh = append(fresh, rel)
			case err != nil:
				return fmt.Errorf("seen lookup %s: %w", rel.Identifier, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// MarkSeen records identifiers with the configured TTL. Marking happens
// after the releases were handed to the pipeline, so a crash in between
// re-delivers rather than drops.
func (s *SeenSet) MarkSeen(releases []models.Release) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, rel := range releases {
			entry := badger.NewEntry([]byte(rel.Identifier), nil).WithTTL(s.ttl)
			if err := txn.SetEntry(entry); err != nil {
				return fmt.Errorf("mark seen %s: %w", rel.Identifier, err)
			}
		}
		return nil
	})
}

// RunGC triggers one Badger value-log GC cycle. Called opportunistically
// from the poll cycle; "nothing to collect" is not an error, and the
// in-memory sets used by tests have no value log at all.
func (s *SeenSet) RunGC() {
	if err := s.db.RunValueLogGC(0.5); err != nil &&
		!errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) &&
		!errors.Is(err, badger.ErrGCInMemoryMode) {
		logging.Warn().Err(err).Msg("Seen set GC failed")
	}
}
