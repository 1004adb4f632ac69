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

// Package encoding holds the PEM and PKCS#8 helpers shared by the file
// based key store adapters: bundle parsing, key block decryption and
// matching keys to the certificates they belong to.
package encoding

import "errors"

var (
	ErrInvalidPrivateKey  = errors.New("encoding: private key missing or of an unsupported type")
	ErrInvalidCertificate = errors.New("encoding: certificate missing or malformed")
	ErrInvalidData        = errors.New("encoding: malformed key store data")

	// ErrInvalidPassword means an encrypted key block did not decrypt with
	// the supplied password. Adapters map it to a rejected credential.
	ErrInvalidPassword = errors.New("encoding: wrong password for encrypted key")

	// ErrPasswordRequired means an encrypted key block was found but no
	// password was supplied.
	ErrPasswordRequired = errors.New("encoding: encrypted key needs a password")

	ErrInvalidPEMEncoding = errors.New("encoding: no PEM block found")
)
