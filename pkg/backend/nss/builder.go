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
	"fmt"

	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// DriverFunc returns initialized managers to enroll next to the database,
// typically the preferred smart-card drivers of the platform. Failures are
// the function's own to log.
type DriverFunc func(ctx context.Context, cb keystore.PasswordCallback, forceReset bool, ui any) []keystore.Manager

// Builder composes the NSS aggregate: the database's own certificates, one
// PKCS#11 manager per external module of its secmod list and the extra
// drivers.
type Builder struct {
	Options  Options
	Registry *p11.Registry
	Drivers  DriverFunc
	Logger   *logging.Logger
}

// Dir returns the database directory used for kind.
func (b *Builder) Dir(kind storekind.Kind) (string, error) {
	switch kind {
	case storekind.Mozilla:
		return FindProfile(b.Options)
	case storekind.SharedNSS:
		return SharedDBDir(b.Options)
	default:
		return "", fmt.Errorf("%w: %s is not an NSS kind", keystore.ErrConfiguration, kind)
	}
}

// Build returns the aggregate for kind. A module that fails to load or
// whose login is cancelled is logged and left out.
func (b *Builder) Build(ctx context.Context, kind storekind.Kind, cb keystore.PasswordCallback, forceReset bool, ui any) (*keystore.Aggregated, error) {
	logger := logging.OrDefault(b.Logger)

	dir, err := b.Dir(kind)
	if err != nil {
		return nil, err
	}

	internal, err := NewManager(kind, logger)
	if err != nil {
		return nil, err
	}
	if err := internal.Init(ctx, keystore.Params{Path: dir}, cb, forceReset); err != nil {
		return nil, err
	}

	agg, err := keystore.NewAggregated(internal)
	if err != nil {
		return nil, err
	}
	agg.WithKind(kind)

	mods, err := ReadSecmod(dir)
	if err != nil {
		logger.Warn("cannot read nss module list", "dir", dir, "error", err)
	}
	registry := b.Registry
	if registry == nil {
		registry = p11.Default()
	}
	for _, mod := range mods {
		if !mod.External() {
			continue
		}
		m := pkcs11.NewManager(registry, pkcs11.WithLogger(logger))
		err := m.Init(ctx, keystore.Params{Library: mod.Library, Description: mod.Name}, cb, forceReset)
		switch {
		case keystore.IsCancelled(err):
			logger.Info("nss module enrollment cancelled", "module", mod.Name)
			continue
		case err != nil:
			logger.Warn("skipping nss module", "module", mod.Name, "library", mod.Library, "error", err)
			continue
		}
		if err := agg.Add(m); err != nil {
			return nil, err
		}
	}

	if b.Drivers != nil {
		for _, d := range b.Drivers(ctx, cb, forceReset, ui) {
			if err := agg.AddPreferred(d); err != nil {
				logger.Warn("skipping driver", "kind", d.Kind(), "error", err)
			}
		}
	}

	logger.Debug("nss aggregate built", "kind", kind, "dir", dir, "managers", len(agg.Managers()))
	return agg, nil
}
