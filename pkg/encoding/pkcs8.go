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

package encoding

import (
	"crypto"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"
)

// EncodePKCS8 encodes a private key to ASN.1 DER PKCS#8 format.
// If a password is provided, the key will be encrypted.
// If password is nil or empty, the key will be encoded without encryption.
func EncodePKCS8(privateKey crypto.PrivateKey, password []byte) ([]byte, error) {
	if privateKey == nil {
		return nil, ErrInvalidPrivateKey
	}
	if len(password) == 0 {
		password = nil
	}
	der, err := pkcs8.MarshalPrivateKey(privateKey, password, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PKCS#8: %w", err)
	}
	return der, nil
}

// DecodePKCS8 decodes ASN.1 DER PKCS#8 data to a signing key. Encrypted data
// needs a password; a wrong one returns ErrInvalidPassword.
//
// Example:
//
//	signer, err := encoding.DecodePKCS8(derData, []byte("mypassword"))
func DecodePKCS8(data []byte, password []byte) (crypto.Signer, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}
	if len(password) == 0 {
		password = nil
	}

	key, err := pkcs8.ParsePKCS8PrivateKey(data, password)
	if err != nil {
		if password != nil && isPasswordError(err) {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("%w: failed to parse PKCS#8: %w", ErrInvalidData, err)
	}
	return AsSigner(key)
}

// AsSigner narrows a parsed private key to crypto.Signer.
func AsSigner(key any) (crypto.Signer, error) {
	s, ok := key.(crypto.Signer)
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidPrivateKey, key)
	}
	return s, nil
}

// isPasswordError checks if an error is related to incorrect password.
// The pkcs8 package returns various error messages for password issues.
func isPasswordError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"incorrect password",
		"invalid padding",
		"asn1: structure error",
		"tags don't match",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
