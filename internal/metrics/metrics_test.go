// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDBQuery(t *testing.T) {
	before := testutil.ToFloat64(DBQueryErrors.WithLabelValues("upsert", "movies"))

	RecordDBQuery("upsert", "movies", 5*time.Millisecond, nil)
	assert.Equal(t, before, testutil.ToFloat64(DBQueryErrors.WithLabelValues("upsert", "movies")))

	RecordDBQuery("upsert", "movies", 5*time.Millisecond, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(DBQueryErrors.WithLabelValues("upsert", "movies")))
}

func TestRecordClientRequest(t *testing.T) {
	before := testutil.ToFloat64(ClientRequestErrors.WithLabelValues("plex", "transport"))

	RecordClientRequest("plex", 10*time.Millisecond, "")
	assert.Equal(t, before, testutil.ToFloat64(ClientRequestErrors.WithLabelValues("plex", "transport")))

	RecordClientRequest("plex", 10*time.Millisecond, "transport")
	assert.Equal(t, before+1, testutil.ToFloat64(ClientRequestErrors.WithLabelValues("plex", "transport")))
}

func TestSetLibraryCounts(t *testing.T) {
	SetLibraryCounts(100, 40, 25, 10, 60)

	assert.Equal(t, 100.0, testutil.ToFloat64(LibraryMovies.WithLabelValues("total")))
	assert.Equal(t, 10.0, testutil.ToFloat64(LibraryMovies.WithLabelValues("fel")))
	assert.Equal(t, 60.0, testutil.ToFloat64(LibraryMovies.WithLabelValues("atmos")))
}
