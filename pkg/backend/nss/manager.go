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

package nss

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Manager exposes the certificates of an NSS database. Private keys of the
// internal softoken are not reachable; token keys come through the PKCS#11
// modules composed by Builder.
type Manager struct {
	*keystore.Base
	logger *logging.Logger
}

var _ keystore.Manager = (*Manager)(nil)

// NewManager returns an uninitialized manager for kind, SharedNSS or Mozilla.
func NewManager(kind storekind.Kind, logger *logging.Logger) (*Manager, error) {
	if !kind.IsNSS() {
		return nil, fmt.Errorf("%w: %s is not an NSS kind", keystore.ErrConfiguration, kind)
	}
	return &Manager{
		Base:   keystore.NewBase(kind),
		logger: logging.OrDefault(logger),
	}, nil
}

// Init reads the database in params.Path, the NSS database directory.
func (m *Manager) Init(ctx context.Context, params keystore.Params, _ keystore.PasswordCallback, _ bool) error {
	if params.Path == "" {
		return fmt.Errorf("%w: NSS database directory is required", keystore.ErrConfiguration)
	}
	db, err := OpenDB(params.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	certs, err := db.Certificates(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return keystore.Cancelled(ctx.Err())
		}
		return err
	}

	m.Base.Reset()
	for _, c := range certs {
		alias := c.Label
		if alias == "" {
			alias = keystore.AliasFor(c.Certificate)
		}
		m.Base.Add(&keystore.Entry{
			Alias:       alias,
			Certificate: c.Certificate,
			Chain:       []*x509.Certificate{c.Certificate},
		})
	}
	m.Base.SetHandle(params.Path)
	m.logger.Debug("nss database read", "dir", params.Path, "certificates", len(certs))
	return nil
}
