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

package pkcs11

import "errors"

var (
	// ErrNotCompiled is returned by the default loader when the binary was
	// built without the pkcs11 build tag.
	ErrNotCompiled = errors.New("pkcs11: built without pkcs11 support")

	// ErrInvalidConfig is returned when a request or descriptor is invalid.
	ErrInvalidConfig = errors.New("pkcs11: invalid configuration")

	// ErrLibraryNotFound is returned when the PKCS#11 library cannot be loaded.
	ErrLibraryNotFound = errors.New("pkcs11: library not found")

	// ErrTokenNotFound is returned when no slot holds a token, or the
	// requested slot does not exist.
	ErrTokenNotFound = errors.New("pkcs11: token not found")

	// ErrNotRegistered is returned when a registration is no longer live.
	ErrNotRegistered = errors.New("pkcs11: module not registered")

	// ErrPINIncorrect is returned by modules when the token rejects the PIN.
	ErrPINIncorrect = errors.New("pkcs11: incorrect pin")

	// ErrPINLocked is returned by modules when the PIN is blocked.
	ErrPINLocked = errors.New("pkcs11: pin locked")

	// ErrKeyNotFound is returned when a token holds no private key for an id.
	ErrKeyNotFound = errors.New("pkcs11: private key not found")
)
