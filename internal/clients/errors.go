// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

// Package clients holds the outbound HTTP clients for Radarr and
// qBittorrent plus the error taxonomy and shared transport used by
// every external integration.
package clients

import (
	"errors"
	"fmt"
)

// Error kinds, used as the metrics label for outbound failures.
const (
	KindTransport = "transport"
	KindProtocol  = "protocol"
	KindMalformed = "malformed"
)

// TransportError wraps network-level failures: connection refused,
// timeouts, DNS. Retryable on the next cycle.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps unexpected HTTP status codes. Usually indicates
// bad credentials or a misconfigured endpoint; not retryable blindly.
type ProtocolError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ProtocolError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s protocol error: status %d: %s", e.Service, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s protocol error: status %d", e.Service, e.StatusCode)
}

// MalformedError wraps responses that arrived but could not be decoded.
type MalformedError struct {
	Service string
	Err     error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s malformed response: %v", e.Service, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ErrorKind classifies an error for metrics labels. Returns "" for nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		te *TransportError
		pe *ProtocolError
		me *MalformedError
	)
	switch {
	case errors.As(err, &te):
		return KindTransport
	case errors.As(err, &pe):
		return KindProtocol
	case errors.As(err, &me):
		return KindMalformed
	default:
		return KindTransport
	}
}
