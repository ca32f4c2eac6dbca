// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package database

import (
	"errors"
	"io"

	"github.com/tomtom215/dovetail/internal/logging"
)

var (
	// ErrStoreUnavailable indicates the database cannot be reached.
	// Callers treat this as transient and retry on the next cycle.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a pending-download status change
	// that the lifecycle state machine does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownBucket indicates an unrecognised movie listing bucket.
	ErrUnknownBucket = errors.New("unknown movie bucket")
)

// closeWithLog closes a resource and logs any error. Use for cleanup
// where errors should be acknowledged but not fail the operation.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error. Use
// in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
