// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-credstore.
//
// go-credstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Error taxonomy shared by every adapter. Adapter errors wrap one of these so
// callers can classify failures with errors.Is.
var (
	// ErrCancelled indicates the user dismissed a password prompt or file
	// picker. It is never retried.
	ErrCancelled = errors.New("keystore: operation cancelled by user")

	// ErrConfiguration indicates missing or invalid parameters, or a file or
	// library that does not exist or cannot be parsed.
	ErrConfiguration = errors.New("keystore: invalid configuration")

	// ErrInitialization indicates a store could not be brought up, such as a
	// native module that failed to load on every attempt.
	ErrInitialization = errors.New("keystore: initialization failed")

	// ErrCredentialRejected indicates the store refused the supplied
	// password or PIN.
	ErrCredentialRejected = errors.New("keystore: credential rejected")

	// ErrUnsupported indicates the store kind cannot be used on this
	// platform or in this build.
	ErrUnsupported = errors.New("keystore: store kind not supported")

	// ErrEntryNotFound is returned by Entry for an unknown alias.
	ErrEntryNotFound = errors.New("keystore: entry not found")

	// ErrNoPrivateKey is returned by Signer for certificate-only entries.
	ErrNoPrivateKey = errors.New("keystore: entry has no private key")

	// ErrCycle is returned when adding a manager to an aggregate would make
	// the aggregate contain itself.
	ErrCycle = errors.New("keystore: aggregate would contain itself")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("keystore: manager closed")
)

// IsCancelled reports whether err is a user cancellation. A cancelled or
// expired context counts as cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsCredentialRejected reports whether err is a rejected password or PIN.
func IsCredentialRejected(err error) bool {
	return errors.Is(err, ErrCredentialRejected)
}

// Cancelled wraps cause so that it matches ErrCancelled. A nil cause returns
// ErrCancelled itself.
func Cancelled(cause error) error {
	switch {
	case cause == nil:
		return ErrCancelled
	case errors.Is(cause, ErrCancelled):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}

// AlternativeError reports that a store of Kind could not be obtained and
// carries the store kind the caller may retry with.
type AlternativeError struct {
	Kind         storekind.Kind
	Alternate    storekind.Kind
	HasAlternate bool
	Err          error
}

// NewAlternativeError builds an AlternativeError for kind using the fallback
// table for platform. suggestFor is the kind whose alternative is suggested,
// usually kind itself.
func NewAlternativeError(kind, suggestFor storekind.Kind, platform storekind.Platform, cause error) *AlternativeError {
	alt, ok := storekind.Alternate(suggestFor, platform)
	return &AlternativeError{
		Kind:         kind,
		Alternate:    alt,
		HasAlternate: ok,
		Err:          cause,
	}
}

// Error implements error.
func (e *AlternativeError) Error() string {
	msg := fmt.Sprintf("keystore: %s store unavailable", e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.HasAlternate {
		msg += fmt.Sprintf(" (try %s)", e.Alternate)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *AlternativeError) Unwrap() error {
	return e.Err
}

// Suggestion returns the fallback kind, if any.
func (e *AlternativeError) Suggestion() (storekind.Kind, bool) {
	return e.Alternate, e.HasAlternate
}

// AsAlternative extracts an AlternativeError from err's chain.
func AsAlternative(err error) (*AlternativeError, bool) {
	var alt *AlternativeError
	if errors.As(err, &alt) {
		return alt, true
	}
	return nil, false
}
