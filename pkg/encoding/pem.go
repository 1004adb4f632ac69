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
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// PEM block types
const (
	PEMTypeRSAPrivateKey       = "RSA PRIVATE KEY"
	PEMTypeECPrivateKey        = "EC PRIVATE KEY"
	PEMTypePrivateKey          = "PRIVATE KEY"
	PEMTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	PEMTypeCertificate         = "CERTIFICATE"
	PEMTypeTrustedCertificate  = "TRUSTED CERTIFICATE"
	PEMTypePKCS7               = "PKCS7"
)

// IsPrivateKeyBlock reports whether t names a private key PEM block.
func IsPrivateKeyBlock(t string) bool {
	switch t {
	case PEMTypeRSAPrivateKey, PEMTypeECPrivateKey, PEMTypePrivateKey, PEMTypeEncryptedPrivateKey:
		return true
	default:
		return false
	}
}

// EncodePrivateKeyPEM encodes a private key as a PKCS#8 PEM block, encrypted
// under password when one is given.
func EncodePrivateKeyPEM(privateKey crypto.PrivateKey, password []byte) ([]byte, error) {
	der, err := EncodePKCS8(privateKey, password)
	if err != nil {
		return nil, err
	}
	blockType := PEMTypePrivateKey
	if len(password) > 0 {
		blockType = PEMTypeEncryptedPrivateKey
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), nil
}

// DecodePrivateKeyBlock parses a private key PEM block. Encrypted PKCS#8 blocks
// return ErrPasswordRequired when password is empty. Legacy OpenSSL
// "Proc-Type: 4,ENCRYPTED" blocks are not supported.
func DecodePrivateKeyBlock(block *pem.Block, password []byte) (crypto.Signer, error) {
	if block == nil {
		return nil, ErrInvalidPEMEncoding
	}
	if _, ok := block.Headers["DEK-Info"]; ok {
		return nil, fmt.Errorf("%w: legacy encrypted PEM keys are not supported", ErrInvalidData)
	}

	switch block.Type {
	case PEMTypeRSAPrivateKey:
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
		}
		return k, nil
	case PEMTypeECPrivateKey:
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
		}
		return k, nil
	case PEMTypeEncryptedPrivateKey:
		if len(password) == 0 {
			return nil, ErrPasswordRequired
		}
		return DecodePKCS8(block.Bytes, password)
	case PEMTypePrivateKey:
		return DecodePKCS8(block.Bytes, nil)
	default:
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrInvalidPEMEncoding, block.Type)
	}
}

// EncodeCertificatePEM encodes an X.509 certificate to PEM format.
func EncodeCertificatePEM(cert *x509.Certificate) ([]byte, error) {
	if cert == nil {
		return nil, ErrInvalidCertificate
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificate, Bytes: cert.Raw}), nil
}

// EncodeCertificateChainPEM encodes multiple X.509 certificates to PEM format.
// The certificates are concatenated in order (typically leaf to root).
func EncodeCertificateChainPEM(certs []*x509.Certificate) ([]byte, error) {
	if len(certs) == 0 {
		return nil, ErrInvalidCertificate
	}

	var buf bytes.Buffer
	for _, cert := range certs {
		if cert == nil {
			return nil, ErrInvalidCertificate
		}
		if err := pem.Encode(&buf, &pem.Block{Type: PEMTypeCertificate, Bytes: cert.Raw}); err != nil {
			return nil, fmt.Errorf("failed to encode certificate chain PEM: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeCertificateChainPEM decodes the CERTIFICATE blocks in data in order,
// skipping blocks of other types.
func DecodeCertificateChainPEM(data []byte) ([]*x509.Certificate, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	var certs []*x509.Certificate
	remaining := data
	for len(remaining) > 0 {
		var block *pem.Block
		block, remaining = pem.Decode(remaining)
		if block == nil {
			break
		}
		if block.Type != PEMTypeCertificate && block.Type != PEMTypeTrustedCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate in chain: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, ErrInvalidPEMEncoding
	}
	return certs, nil
}

// IsPEM reports whether data starts with a PEM block.
func IsPEM(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil
}

type equaler interface {
	Equal(crypto.PublicKey) bool
}

// SamePublicKey reports whether a and b are the same public key.
func SamePublicKey(a, b crypto.PublicKey) bool {
	k, ok := a.(equaler)
	return ok && k.Equal(b)
}
