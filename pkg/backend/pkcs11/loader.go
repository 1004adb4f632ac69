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

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
)

// Loader loads and initializes a native module.
type Loader interface {
	Load(ctx context.Context, d Descriptor) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, d Descriptor) (Module, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, d Descriptor) (Module, error) {
	return f(ctx, d)
}

// Module is a loaded native library.
type Module interface {
	// Open selects the slot (the first one with a token when slot is nil),
	// logs in with pin when login is set and enumerates the certificates.
	// A rejected PIN is reported as ErrPINIncorrect or ErrPINLocked.
	Open(ctx context.Context, slot *int, pin []byte, login bool) (*Token, error)

	// Finalize unloads the library. The module is unusable afterwards.
	Finalize() error
}

// TokenEntry is a certificate object found on a token.
type TokenEntry struct {
	Label       string
	ID          []byte
	Certificate *x509.Certificate

	// HasKey reports whether a private key object shares the certificate's ID.
	HasKey bool
}

// SignerFunc looks up the private key with the given id or label.
type SignerFunc func(id, label []byte) (crypto.Signer, error)

// Token is the logged-in view of a token.
type Token struct {
	Label   string
	Slot    uint
	Entries []TokenEntry

	FindSigner SignerFunc
}

// Signer returns the private key signer for a token entry.
func (t *Token) Signer(id, label []byte) (crypto.Signer, error) {
	if t == nil || t.FindSigner == nil {
		return nil, fmt.Errorf("%w: token does not expose signers", ErrKeyNotFound)
	}
	s, err := t.FindSigner(id, label)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: id %x", ErrKeyNotFound, id)
	}
	return s, nil
}
