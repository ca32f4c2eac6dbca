// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package clients

import (
	"net/http"
	"time"
)

// sharedTransport is the keep-alive transport used by all outbound
// clients. Limits mirror the scanner's concurrency ceiling: at most 20
// in-flight connections overall and 10 per host, with idle connections
// recycled after five minutes.
var sharedTransport = &http.Transport{
	MaxIdleConns:        20,
	MaxConnsPerHost:     10,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     5 * time.Minute,
}

// NewHTTPClient returns a client on the shared transport with the given
// per-request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: sharedTransport,
		Timeout:   timeout,
	}
}
