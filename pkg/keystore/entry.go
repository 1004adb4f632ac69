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
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// SignerResolver returns the signer for an entry's private key. Adapters
// supply one when the store exposes the key; it is resolved lazily because
// token-backed keys may need a live session.
type SignerResolver func() (crypto.Signer, error)

// Entry is one credential in a store: a certificate, its chain and, when the
// store holds one, a handle to the matching private key.
type Entry struct {
	Alias       string
	Certificate *x509.Certificate

	// Chain is ordered leaf first and includes Certificate when known.
	Chain []*x509.Certificate

	// KeyID is the store-specific key identifier (PKCS#11 CKA_ID, PKCS#12
	// localKeyId). Empty for certificate-only entries.
	KeyID []byte

	// Resolver returns the private key signer. Nil means the entry has no
	// private key.
	Resolver SignerResolver
}

// HasKey reports whether the entry is backed by a private key.
func (e *Entry) HasKey() bool {
	return e != nil && e.Resolver != nil
}

// Signer returns the private key signer for the entry.
func (e *Entry) Signer() (crypto.Signer, error) {
	if !e.HasKey() {
		return nil, fmt.Errorf("%w: %s", ErrNoPrivateKey, e.Alias)
	}
	return e.Resolver()
}

// KeyIDHex returns KeyID as lower-case hex.
func (e *Entry) KeyIDHex() string {
	return hex.EncodeToString(e.KeyID)
}

// Subject returns the certificate subject, or an empty string.
func (e *Entry) Subject() string {
	if e.Certificate == nil {
		return ""
	}
	return e.Certificate.Subject.String()
}

// StaticSigner returns a resolver for an in-memory signer.
func StaticSigner(s crypto.Signer) SignerResolver {
	if s == nil {
		return nil
	}
	return func() (crypto.Signer, error) {
		return s, nil
	}
}

// AliasFor derives a display alias for cert: the subject common name, then
// the serial number.
func AliasFor(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	if cert.Subject.CommonName != "" {
		return cert.Subject.CommonName
	}
	return cert.SerialNumber.Text(16)
}
