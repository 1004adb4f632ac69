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

// Package pkcs12 is the PKCS#12 (.p12, .pfx) file store.
//
// Files protected with the legacy PKCS#12 algorithms are decoded with
// golang.org/x/crypto/pkcs12, which keeps every bag and its friendlyName and
// localKeyId attributes. Files using PBES2 (the OpenSSL 3 default) are
// decoded with software.sslmate.com/src/go-pkcs12, which supports one key
// and its chain, or a certificate-only trust store.
package pkcs12

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	legacy "golang.org/x/crypto/pkcs12"
	sslmate "software.sslmate.com/src/go-pkcs12"

	"github.com/jeremyhahn/go-credstore/pkg/encoding"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// ErrMalformed is returned for files that are not valid PKCS#12.
var ErrMalformed = errors.New("pkcs12: malformed key store")

// Manager is a keystore.Manager over a PKCS#12 file.
type Manager struct {
	*keystore.Base
	logger *logging.Logger
	path   string
}

var _ keystore.Manager = (*Manager)(nil)

// NewManager returns an uninitialized PKCS#12 manager.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{
		Base:   keystore.NewBase(storekind.PKCS12),
		logger: logging.OrDefault(logger),
	}
}

// Path returns the file the store was loaded from.
func (m *Manager) Path() string {
	return m.path
}

// Init reads the file from params.Reader, or params.Path when no reader is
// given, and decodes it with the secret obtained from cb.
func (m *Manager) Init(ctx context.Context, params keystore.Params, cb keystore.PasswordCallback, _ bool) error {
	data, err := keystore.ReadAll(params)
	if err != nil {
		return err
	}

	secret, err := keystore.RequestSecret(ctx, cb, keystore.Prompt(storekind.PKCS12))
	if err != nil {
		return err
	}
	defer keystore.Zeroize(secret)

	entries, err := Decode(data, string(secret))
	if err != nil {
		return err
	}

	m.Base.Reset()
	for _, e := range entries {
		m.Base.Add(e)
	}
	m.path = params.Path
	m.Base.SetHandle(params.Path)
	m.logger.Debug("pkcs12 store loaded", "path", params.Path, "entries", len(entries))
	return nil
}

// Decode parses PKCS#12 data into entries. A wrong password is reported as
// keystore.ErrCredentialRejected; anything else unreadable as ErrMalformed
// wrapped in keystore.ErrConfiguration.
func Decode(data []byte, password string) ([]*keystore.Entry, error) {
	blocks, err := legacy.ToPEM(data, password)
	if err == nil {
		return fromBlocks(blocks)
	}
	if errors.Is(err, legacy.ErrIncorrectPassword) {
		return nil, fmt.Errorf("%w: %w", keystore.ErrCredentialRejected, err)
	}
	legacyErr := err

	key, cert, cas, err := sslmate.DecodeChain(data, password)
	if err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: %w: unsupported private key type %T", keystore.ErrConfiguration, ErrMalformed, key)
		}
		e := &keystore.Entry{
			Alias:       keystore.AliasFor(cert),
			Certificate: cert,
			Chain:       keystore.BuildChain(cert, cas),
			Resolver:    keystore.StaticSigner(signer),
		}
		return []*keystore.Entry{e}, nil
	}
	if errors.Is(err, sslmate.ErrIncorrectPassword) {
		return nil, fmt.Errorf("%w: %w", keystore.ErrCredentialRejected, err)
	}

	certs, tsErr := sslmate.DecodeTrustStore(data, password)
	if tsErr == nil {
		entries := make([]*keystore.Entry, 0, len(certs))
		for _, c := range certs {
			entries = append(entries, &keystore.Entry{
				Alias:       keystore.AliasFor(c),
				Certificate: c,
				Chain:       []*x509.Certificate{c},
			})
		}
		return entries, nil
	}
	if errors.Is(tsErr, sslmate.ErrIncorrectPassword) {
		return nil, fmt.Errorf("%w: %w", keystore.ErrCredentialRejected, tsErr)
	}

	return nil, fmt.Errorf("%w: %w: %v; %v", keystore.ErrConfiguration, ErrMalformed, legacyErr, err)
}

type bag struct {
	friendlyName string
	localKeyID   string
}

func attrs(b *pem.Block) bag {
	return bag{
		friendlyName: b.Headers["friendlyName"],
		localKeyID:   strings.ToLower(b.Headers["localKeyId"]),
	}
}

func fromBlocks(blocks []*pem.Block) ([]*keystore.Entry, error) {
	type keyBag struct {
		bag
		signer crypto.Signer
	}
	type certBag struct {
		bag
		cert *x509.Certificate
	}

	var keys []keyBag
	var certs []certBag
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %w: %w", keystore.ErrConfiguration, ErrMalformed, err)
			}
			certs = append(certs, certBag{bag: attrs(b), cert: c})
		case "PRIVATE KEY":
			s, err := parseKey(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %w: %w", keystore.ErrConfiguration, ErrMalformed, err)
			}
			keys = append(keys, keyBag{bag: attrs(b), signer: s})
		}
	}

	all := make([]*x509.Certificate, len(certs))
	for i, c := range certs {
		all[i] = c.cert
	}

	var entries []*keystore.Entry
	used := make(map[int]bool)
	for n, k := range keys {
		idx := -1
		if k.localKeyID != "" {
			for i, c := range certs {
				if !used[i] && c.localKeyID == k.localKeyID {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			for i, c := range certs {
				if !used[i] && encoding.SamePublicKey(c.cert.PublicKey, k.signer.Public()) {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			continue
		}
		used[idx] = true
		c := certs[idx]

		id, _ := hex.DecodeString(k.localKeyID)
		entries = append(entries, &keystore.Entry{
			Alias:       alias(k.bag, c.bag, c.cert, n),
			Certificate: c.cert,
			Chain:       keystore.BuildChain(c.cert, all),
			KeyID:       id,
			Resolver:    keystore.StaticSigner(k.signer),
		})
	}

	if len(keys) == 0 {
		for n, c := range certs {
			entries = append(entries, &keystore.Entry{
				Alias:       alias(bag{}, c.bag, c.cert, n),
				Certificate: c.cert,
				Chain:       []*x509.Certificate{c.cert},
			})
		}
	}
	return entries, nil
}

func alias(k, c bag, cert *x509.Certificate, n int) string {
	switch {
	case k.friendlyName != "":
		return k.friendlyName
	case c.friendlyName != "":
		return c.friendlyName
	case cert != nil && cert.Subject.CommonName != "":
		return cert.Subject.CommonName
	case k.localKeyID != "":
		return k.localKeyID
	default:
		return fmt.Sprintf("entry-%d", n+1)
	}
}

// parseKey accepts the PKCS#1, SEC 1 and PKCS#8 encodings ToPEM emits under
// the "PRIVATE KEY" block type.
func parseKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.New("unsupported private key encoding")
	}
	s, ok := k.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", k)
	}
	return s, nil
}
