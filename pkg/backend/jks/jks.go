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

// Package jks reads Java key stores: JKS, JKS with case-exact aliases, and
// the JCEKS kind, which accepts JKS-format files only.
package jks

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	keystorego "github.com/pavlo-v-chernykh/keystore-go/v4"

	"github.com/jeremyhahn/go-credstore/pkg/encoding"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

const (
	// MagicJKS starts every JKS file.
	MagicJKS uint32 = 0xFEEDFEED

	// MagicJCEKS starts every JCEKS file.
	MagicJCEKS uint32 = 0xCECECECE
)

var (
	// ErrMalformed is returned for files that are not Java key stores.
	ErrMalformed = errors.New("jks: malformed key store")

	// ErrJCEKSFormat is returned for files in the JCEKS format, whose sealed
	// key entries cannot be read.
	ErrJCEKSFormat = errors.New("jks: JCEKS file format is not supported")
)

// Manager is a keystore.Manager over a Java key store file.
type Manager struct {
	*keystore.Base
	logger *logging.Logger
	path   string
}

var _ keystore.Manager = (*Manager)(nil)

// NewManager returns an uninitialized manager for kind, which must be one of
// JavaKeyStore, JavaCaseExact or JCEKS.
func NewManager(kind storekind.Kind, logger *logging.Logger) (*Manager, error) {
	switch kind {
	case storekind.JavaKeyStore, storekind.JavaCaseExact, storekind.JCEKS:
	default:
		return nil, fmt.Errorf("%w: %s is not a Java key store kind", keystore.ErrConfiguration, kind)
	}
	return &Manager{
		Base:   keystore.NewBase(kind),
		logger: logging.OrDefault(logger),
	}, nil
}

// Path returns the file the store was loaded from.
func (m *Manager) Path() string {
	return m.path
}

// Init loads the store from params.Reader or params.Path. The store password
// also unlocks private key entries.
func (m *Manager) Init(ctx context.Context, params keystore.Params, cb keystore.PasswordCallback, _ bool) error {
	data, err := keystore.ReadAll(params)
	if err != nil {
		return err
	}
	if err := checkMagic(data); err != nil {
		return err
	}

	secret, err := keystore.RequestSecret(ctx, cb, keystore.Prompt(m.Kind()))
	if err != nil {
		return err
	}
	password := append([]byte(nil), secret...)
	keystore.Zeroize(secret)

	ks := keystorego.New(m.options()...)
	if err := ks.Load(bytes.NewReader(data), password); err != nil {
		keystore.Zeroize(password)
		if isWrongPassword(err) {
			return fmt.Errorf("%w: %w", keystore.ErrCredentialRejected, err)
		}
		return fmt.Errorf("%w: %w: %w", keystore.ErrConfiguration, ErrMalformed, err)
	}

	m.Base.Reset()
	for _, alias := range ks.Aliases() {
		e, err := m.entry(ks, alias, password)
		if err != nil {
			m.logger.Warn("skipping key store entry", "alias", alias, "error", err)
			continue
		}
		m.Base.Add(e)
	}
	m.path = params.Path
	m.Base.SetHandle(params.Path)
	m.logger.Debug("java key store loaded", "kind", m.Kind(), "entries", len(m.Base.Aliases()))
	return nil
}

func (m *Manager) options() []keystorego.Option {
	opts := []keystorego.Option{keystorego.WithOrderedAliases()}
	if m.Kind() != storekind.JavaKeyStore {
		opts = append(opts, keystorego.WithCaseExactAliases())
	}
	return opts
}

func (m *Manager) entry(ks keystorego.KeyStore, alias string, password []byte) (*keystore.Entry, error) {
	switch {
	case ks.IsTrustedCertificateEntry(alias):
		tce, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			return nil, err
		}
		cert, err := parseCertificate(tce.Certificate)
		if err != nil {
			return nil, err
		}
		return &keystore.Entry{Alias: alias, Certificate: cert, Chain: []*x509.Certificate{cert}}, nil

	case ks.IsPrivateKeyEntry(alias):
		raw, err := ks.GetPrivateKeyEntryCertificateChain(alias)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: private key entry has no certificate", ErrMalformed)
		}
		chain := make([]*x509.Certificate, 0, len(raw))
		for _, c := range raw {
			cert, err := parseCertificate(c)
			if err != nil {
				return nil, err
			}
			chain = append(chain, cert)
		}
		return &keystore.Entry{
			Alias:       alias,
			Certificate: chain[0],
			Chain:       chain,
			Resolver:    resolver(ks, alias, password),
		}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported entry type", ErrMalformed)
	}
}

// resolver decrypts the private key on first use.
func resolver(ks keystorego.KeyStore, alias string, password []byte) keystore.SignerResolver {
	return func() (crypto.Signer, error) {
		pke, err := ks.GetPrivateKeyEntry(alias, password)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", keystore.ErrCredentialRejected, err)
		}
		return encoding.DecodePKCS8(pke.PrivateKey, nil)
	}
}

func parseCertificate(c keystorego.Certificate) (*x509.Certificate, error) {
	if c.Type != "" && c.Type != "X.509" && c.Type != "X509" {
		return nil, fmt.Errorf("%w: certificate type %q", ErrMalformed, c.Type)
	}
	cert, err := x509.ParseCertificate(c.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return cert, nil
}

func checkMagic(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: %w: file too short", keystore.ErrConfiguration, ErrMalformed)
	}
	switch binary.BigEndian.Uint32(data) {
	case MagicJKS:
		return nil
	case MagicJCEKS:
		return fmt.Errorf("%w: %w", keystore.ErrUnsupported, ErrJCEKSFormat)
	default:
		return fmt.Errorf("%w: %w: unknown magic", keystore.ErrConfiguration, ErrMalformed)
	}
}

// keystore-go reports a failed integrity check, its only signal for a wrong
// store password, as an unexported error whose text ends in this phrase.
const digestMismatch = "invalid digest"

func isWrongPassword(err error) bool {
	return err != nil && strings.Contains(err.Error(), digestMismatch)
}
