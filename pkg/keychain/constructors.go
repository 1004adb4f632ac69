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

package keychain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jeremyhahn/go-credstore/pkg/backend/bundle"
	"github.com/jeremyhahn/go-credstore/pkg/backend/jks"
	"github.com/jeremyhahn/go-credstore/pkg/backend/native"
	"github.com/jeremyhahn/go-credstore/pkg/backend/nss"
	"github.com/jeremyhahn/go-credstore/pkg/backend/pkcs12"
	"github.com/jeremyhahn/go-credstore/pkg/backend/smartcard"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Constructor builds and initializes the manager for req.Kind.
type Constructor func(ctx context.Context, f *Factory, req Request) (keystore.Manager, error)

var constructors = map[storekind.Kind]Constructor{
	storekind.PKCS12:             fileStore(newPKCS12),
	storekind.JavaKeyStore:       fileStore(newJKS),
	storekind.JavaCaseExact:      fileStore(newJKS),
	storekind.JCEKS:              fileStore(newJKS),
	storekind.Single:             fileStore(newBundle),
	storekind.PKCS11:             obtainPKCS11,
	storekind.Windows:            obtainWindows,
	storekind.WindowsAddressBook: obtainWindows,
	storekind.WindowsCA:          obtainWindows,
	storekind.Apple:              obtainApple,
	storekind.SharedNSS:          obtainSharedNSS,
	storekind.Mozilla:            obtainMozilla,
	storekind.DNIe:               obtainSmartCard,
	storekind.Ceres:              obtainSmartCard,
	storekind.Ceres430:           obtainSmartCard,
	storekind.SmartCafe:          obtainSmartCard,
}

// Kinds returns the kinds the factory has a constructor for, sorted.
func (f *Factory) Kinds() []storekind.Kind {
	kinds := make([]storekind.Kind, 0, len(f.constructors))
	for k := range f.constructors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func newPKCS12(f *Factory, _ storekind.Kind) (keystore.Manager, error) {
	return pkcs12.NewManager(f.logger), nil
}

func newJKS(f *Factory, kind storekind.Kind) (keystore.Manager, error) {
	return jks.NewManager(kind, f.logger)
}

func newBundle(f *Factory, _ storekind.Kind) (keystore.Manager, error) {
	return bundle.NewManager(f.logger), nil
}

// fileStore opens the key store file named by the request, asking the
// locator for one when the request does not name an existing file.
func fileStore(newManager func(f *Factory, kind storekind.Kind) (keystore.Manager, error)) Constructor {
	return func(ctx context.Context, f *Factory, req Request) (keystore.Manager, error) {
		path := req.Locator
		if !keystore.IsRegularFile(path) {
			info, _ := storekind.Lookup(req.Kind)
			fr := keystore.FileRequest{
				Title:       "Open " + info.Name + " key store",
				Extensions:  info.Extensions,
				Description: info.ExtensionsDesc,
			}
			if path != "" {
				fr.DefaultDir = filepath.Dir(path)
			}
			picked, err := keystore.Locate(ctx, f.locator, fr)
			if err != nil {
				return nil, err
			}
			path = picked
		}

		// #nosec G304 - user selected key store
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: open key store: %w", keystore.ErrConfiguration, err)
		}
		defer file.Close()

		m, err := newManager(f, req.Kind)
		if err != nil {
			return nil, err
		}
		if err := m.Init(ctx, keystore.Params{Path: path, Reader: file}, req.Callback, req.ForceReset); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func obtainPKCS11(ctx context.Context, f *Factory, req Request) (keystore.Manager, error) {
	lib := req.Locator
	if lib == "" {
		exts, desc := storekind.LibraryExtensions(f.platform)
		picked, err := keystore.Locate(ctx, f.locator, keystore.FileRequest{
			Title:       "Select PKCS#11 library",
			Extensions:  exts,
			Description: desc,
		})
		if err != nil {
			return nil, err
		}
		lib = picked
	}
	if !keystore.IsRegularFile(lib) {
		return nil, fmt.Errorf("%w: PKCS#11 library %s does not exist", keystore.ErrConfiguration, lib)
	}

	m := pkcs11.NewManager(f.registry, pkcs11.WithLogger(f.logger))
	params := keystore.Params{
		Library:     lib,
		Description: req.Description,
		Slot:        req.Slot,
		UI:          req.UI,
	}
	if err := m.Init(ctx, params, req.Callback, req.pkcs11Reset()); err != nil {
		return nil, err
	}
	agg, err := keystore.NewAggregated(m)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return agg, nil
}

func (f *Factory) nativeOptions() []native.Option {
	opts := []native.Option{native.WithLogger(f.logger)}
	if f.nativeOpener != nil {
		opts = append(opts, native.WithOpener(f.nativeOpener))
	}
	return opts
}

func obtainWindows(ctx context.Context, f *Factory, req Request) (keystore.Manager, error) {
	m, err := native.NewWindows(req.Kind, f.nativeOptions()...)
	if err != nil {
		return nil, err
	}
	if err := m.Init(ctx, keystore.Params{}, keystore.NullPasswordCallback{}, req.ForceReset); err != nil {
		return nil, err
	}
	return m, nil
}

// obtainApple opens the keychain and enrolls the installed preferred
// drivers next to it.
func obtainApple(ctx context.Context, f *Factory, req Request) (keystore.Manager, error) {
	m := native.NewApple(f.nativeOptions()...)
	if err := m.Init(ctx, keystore.Params{Path: req.Locator}, keystore.NullPasswordCallback{}, req.ForceReset); err != nil {
		return nil, err
	}
	agg, err := keystore.NewAggregated(m)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	agg.WithKind(storekind.Apple)
	for _, d := range f.enrollDrivers(ctx, req.Callback, req.pkcs11Reset(), req.UI) {
		if err := agg.AddPreferred(d); err != nil {
			f.logger.Warn("skipping driver", "kind", d.Kind(), "error", err)
		}
	}
	return agg, nil
}

func (f *Factory) enrollDrivers(ctx context.Context, cb keystore.PasswordCallback, forceReset bool, ui any) []keystore.Manager {
	if len(f.drivers) == 0 {
		return nil
	}
	opts := append([]smartcard.Option{
		smartcard.WithPlatform(f.platform),
		smartcard.WithLogger(f.logger),
	}, f.cardOpts...)
	return smartcard.Enroll(ctx, f.registry, f.drivers, cb, forceReset, ui, opts...)
}

func (f *Factory) nssBuilder() *nss.Builder {
	opts := f.nss
	if opts.Platform == "" {
		opts.Platform = f.platform
	}
	return &nss.Builder{
		Options:  opts,
		Registry: f.registry,
		Drivers:  f.enrollDrivers,
		Logger:   f.logger,
	}
}

func obtainSharedNSS(ctx context.Context, f *Factory, req Request) (keystore.Manager, error) {
	agg, err := f.nssBuilder().Build(ctx, storekind.SharedNSS, req.Callback, req.pkcs11Reset(), req.UI)
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// obtainMozilla returns the cached Mozilla view unless a reset was asked
// for or a cached store was closed. Views holding a DNIe card are never
// cached.
func obtainMozilla(ctx context.Context, f *Factory, req Request) (keystore.Manager, error) {
	refresh := req.ForceReset
	if cached, ok := f.mozilla.Peek(); ok && anyClosed(cached) {
		refresh = true
	}
	agg, err := f.mozilla.GetOrBuild(ctx, func(ctx context.Context) (*keystore.Aggregated, bool, error) {
		agg, err := f.nssBuilder().Build(ctx, storekind.Mozilla, req.Callback, req.pkcs11Reset(), req.UI)
		if err != nil {
			return nil, false, err
		}
		return agg, !agg.ContainsKind(storekind.DNIe), nil
	}, refresh)
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func anyClosed(agg *keystore.Aggregated) bool {
	for _, m := range agg.Leaves() {
		if c, ok := m.(interface{ Closed() bool }); ok && c.Closed() {
			return true
		}
	}
	return false
}

func obtainSmartCard(ctx context.Context, f *Factory, req Request) (keystore.Manager, error) {
	opts := append([]smartcard.Option{
		smartcard.WithPlatform(f.platform),
		smartcard.WithLogger(f.logger),
	}, f.cardOpts...)
	m, err := smartcard.New(req.Kind, f.registry, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Init(ctx, keystore.Params{UI: req.UI}, req.Callback, req.pkcs11Reset()); err != nil {
		return nil, err
	}
	return m, nil
}
