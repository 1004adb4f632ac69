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

// Package bundle reads single certificate files: PEM bundles with optional
// private keys, DER certificates and PKCS#7 certificate bundles (.p7b).
package bundle

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/digitorus/pkcs7"

	"github.com/jeremyhahn/go-credstore/pkg/encoding"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// ErrMalformed is returned for files holding no readable certificate.
var ErrMalformed = errors.New("bundle: no certificate found")

// Contents is the decoded material of a bundle file.
type Contents struct {
	Certificates []*x509.Certificate
	keys         []*pem.Block
}

// Encrypted reports whether any private key in the bundle is encrypted.
func (c *Contents) Encrypted() bool {
	for _, k := range c.keys {
		if k.Type == encoding.PEMTypeEncryptedPrivateKey {
			return true
		}
	}
	return false
}

// HasKeys reports whether the bundle carries private keys.
func (c *Contents) HasKeys() bool {
	return len(c.keys) > 0
}

// Parse decodes PEM, DER or PKCS#7 data. Private keys are kept encoded until
// Entries is called with the password.
func Parse(data []byte) (*Contents, error) {
	c := &Contents{}
	if encoding.IsPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			switch {
			case block.Type == encoding.PEMTypeCertificate, block.Type == encoding.PEMTypeTrustedCertificate:
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", keystore.ErrConfiguration, err)
				}
				c.Certificates = append(c.Certificates, cert)
			case block.Type == encoding.PEMTypePKCS7:
				certs, err := parsePKCS7(block.Bytes)
				if err != nil {
					return nil, err
				}
				c.Certificates = append(c.Certificates, certs...)
			case encoding.IsPrivateKeyBlock(block.Type):
				c.keys = append(c.keys, block)
			}
		}
	} else if certs, err := x509.ParseCertificates(data); err == nil && len(certs) > 0 {
		c.Certificates = certs
	} else {
		certs, err := parsePKCS7(data)
		if err != nil {
			return nil, err
		}
		c.Certificates = certs
	}

	if len(c.Certificates) == 0 {
		return nil, fmt.Errorf("%w: %w", keystore.ErrConfiguration, ErrMalformed)
	}
	return c, nil
}

func parsePKCS7(der []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", keystore.ErrConfiguration, ErrMalformed, err)
	}
	return p7.Certificates, nil
}

// Entries decodes the private keys with password and returns one entry per
// certificate. Certificates matching a private key carry it.
func (c *Contents) Entries(password []byte) ([]*keystore.Entry, error) {
	signers := make([]crypto.Signer, 0, len(c.keys))
	for _, block := range c.keys {
		s, err := encoding.DecodePrivateKeyBlock(block, password)
		switch {
		case errors.Is(err, encoding.ErrInvalidPassword), errors.Is(err, encoding.ErrPasswordRequired):
			return nil, fmt.Errorf("%w: %w", keystore.ErrCredentialRejected, err)
		case err != nil:
			return nil, fmt.Errorf("%w: %w", keystore.ErrConfiguration, err)
		}
		signers = append(signers, s)
	}

	seen := make(map[string]int)
	entries := make([]*keystore.Entry, 0, len(c.Certificates))
	for _, cert := range c.Certificates {
		alias := keystore.AliasFor(cert)
		if n := seen[alias]; n > 0 {
			seen[alias] = n + 1
			alias = fmt.Sprintf("%s (%d)", alias, n+1)
		} else {
			seen[alias] = 1
		}

		e := &keystore.Entry{
			Alias:       alias,
			Certificate: cert,
			Chain:       []*x509.Certificate{cert},
		}
		for _, s := range signers {
			if encoding.SamePublicKey(cert.PublicKey, s.Public()) {
				e.Resolver = keystore.StaticSigner(s)
				e.Chain = keystore.BuildChain(cert, c.Certificates)
				break
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Manager is a keystore.Manager over a certificate file.
type Manager struct {
	*keystore.Base
	logger *logging.Logger
	path   string
}

var _ keystore.Manager = (*Manager)(nil)

// NewManager returns an uninitialized bundle manager.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{
		Base:   keystore.NewBase(storekind.Single),
		logger: logging.OrDefault(logger),
	}
}

// Path returns the file the store was loaded from.
func (m *Manager) Path() string {
	return m.path
}

// Init reads the file. The callback is consulted only when the file holds an
// encrypted private key.
func (m *Manager) Init(ctx context.Context, params keystore.Params, cb keystore.PasswordCallback, _ bool) error {
	data, err := keystore.ReadAll(params)
	if err != nil {
		return err
	}
	contents, err := Parse(data)
	if err != nil {
		return err
	}

	var secret []byte
	if contents.Encrypted() {
		secret, err = keystore.RequestSecret(ctx, cb, keystore.Prompt(storekind.Single))
		if err != nil {
			return err
		}
		defer keystore.Zeroize(secret)
	}

	entries, err := contents.Entries(secret)
	if err != nil {
		return err
	}

	m.Base.Reset()
	for _, e := range entries {
		m.Base.Add(e)
	}
	m.path = params.Path
	m.Base.SetHandle(params.Path)
	m.logger.Debug("certificate file loaded", "path", params.Path, "certificates", len(entries), "keys", contents.HasKeys())
	return nil
}
