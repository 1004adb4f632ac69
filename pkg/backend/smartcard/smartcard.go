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

// Package smartcard adapts vendor smart-card drivers (DNIe, CERES,
// CERES 4.30, G&D SmartCafe) to the PKCS#11 adapter. Each driver is a
// PKCS#11 library found at a vendor specific location.
package smartcard

import (
	"context"
	"errors"
	"fmt"

	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// ErrDriverNotFound is returned when no library of a driver is installed.
var ErrDriverNotFound = errors.New("smartcard: driver library not found")

var defaults = map[storekind.Kind]map[storekind.Platform][]string{
	storekind.DNIe: {
		storekind.OSWindows: {`C:\Windows\System32\DNIe_P11_priv.dll`, `C:\Windows\System32\opensc-pkcs11.dll`},
		storekind.MacOS:     {"/Library/Libpkcs11-dnie/lib/libpkcs11-dnie.so", "/usr/local/lib/opensc-pkcs11.so"},
		storekind.Linux:     {"/usr/lib/libpkcs11-dnie.so", "/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so", "/usr/lib/opensc-pkcs11.so"},
	},
	storekind.Ceres: {
		storekind.OSWindows: {`C:\Windows\System32\FNMT_P11.dll`},
		storekind.MacOS:     {"/Library/Libpkcs11-fnmtdnie/lib/libpkcs11-fnmtdnie.so"},
		storekind.Linux:     {"/usr/lib/libpkcs11-fnmtdnie.so"},
	},
	storekind.Ceres430: {
		storekind.OSWindows: {`C:\Windows\System32\FNMT_P11_x64.dll`, `C:\Windows\System32\FNMT_P11.dll`},
		storekind.MacOS:     {"/Library/Libpkcs11-fnmtdnie/lib/libpkcs11-fnmtdnie.so"},
		storekind.Linux:     {"/usr/lib/libpkcs11-fnmtdnie.so", "/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so"},
	},
	storekind.SmartCafe: {
		storekind.OSWindows: {`C:\Windows\System32\aetpkss1.dll`},
		storekind.MacOS:     {"/usr/local/lib/libaetpkss.dylib"},
		storekind.Linux:     {"/usr/lib/libaetpkss.so.3", "/usr/lib/libaetpkss.so"},
	},
}

// DefaultLibraries returns the built-in library candidates of kind on
// platform.
func DefaultLibraries(kind storekind.Kind, platform storekind.Platform) []string {
	libs := defaults[kind][platform]
	out := make([]string, len(libs))
	copy(out, libs)
	return out
}

type options struct {
	libraries map[storekind.Kind][]string
	platform  storekind.Platform
	logger    *logging.Logger
	exists    func(string) bool
}

// Option configures driver resolution.
type Option func(*options)

// WithLibraries replaces the library candidates of kind.
func WithLibraries(kind storekind.Kind, paths ...string) Option {
	return func(o *options) {
		if len(paths) > 0 {
			o.libraries[kind] = paths
		}
	}
}

// WithPlatform overrides the platform used for the built-in candidates.
func WithPlatform(p storekind.Platform) Option {
	return func(o *options) {
		o.platform = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFileCheck replaces the check deciding whether a library exists.
func WithFileCheck(exists func(string) bool) Option {
	return func(o *options) {
		o.exists = exists
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		libraries: make(map[storekind.Kind][]string),
		platform:  storekind.CurrentPlatform(),
		exists:    keystore.IsRegularFile,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrDefault(o.logger)
	return o
}

func (o *options) candidates(kind storekind.Kind) []string {
	if libs, ok := o.libraries[kind]; ok {
		return libs
	}
	return DefaultLibraries(kind, o.platform)
}

// ResolveLibrary returns the first installed library of kind.
func ResolveLibrary(kind storekind.Kind, opts ...Option) (string, error) {
	return newOptions(opts).resolve(kind)
}

func (o *options) resolve(kind storekind.Kind) (string, error) {
	if !kind.IsSmartCard() {
		return "", fmt.Errorf("%w: %s is not a smart-card driver", keystore.ErrConfiguration, kind)
	}
	for _, lib := range o.candidates(kind) {
		if o.exists(lib) {
			return lib, nil
		}
	}
	return "", fmt.Errorf("%w: %w: %s", keystore.ErrConfiguration, ErrDriverNotFound, kind.Name())
}

// Detect returns the kinds among kinds whose driver is installed.
func Detect(kinds []storekind.Kind, opts ...Option) []storekind.Kind {
	o := newOptions(opts)
	var found []storekind.Kind
	for _, k := range kinds {
		if _, err := o.resolve(k); err == nil {
			found = append(found, k)
		}
	}
	return found
}

// Manager is a preferred PKCS#11 manager bound to a vendor driver.
type Manager struct {
	*pkcs11.Manager
	library string
}

var _ keystore.Manager = (*Manager)(nil)

// New resolves the driver library of kind and returns a preferred manager
// over it. A missing driver is ErrConfiguration.
func New(kind storekind.Kind, registry *p11.Registry, opts ...Option) (*Manager, error) {
	o := newOptions(opts)
	lib, err := o.resolve(kind)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		Manager: pkcs11.NewManager(registry, pkcs11.WithKind(kind), pkcs11.WithLogger(o.logger)),
		library: lib,
	}
	m.SetPreferred(true)
	return m, nil
}

// Library returns the driver library.
func (m *Manager) Library() string {
	return m.library
}

// Init opens the card. Only the callback and UI context of params are used;
// the library and description come from the driver.
func (m *Manager) Init(ctx context.Context, params keystore.Params, cb keystore.PasswordCallback, forceReset bool) error {
	return m.Manager.Init(ctx, keystore.Params{
		Library:     m.library,
		Description: m.Kind().Name(),
		UI:          params.UI,
	}, cb, forceReset)
}

// Enroll initializes the installed drivers among kinds. Drivers that fail or
// whose PIN prompt is cancelled are logged and left out.
func Enroll(ctx context.Context, registry *p11.Registry, kinds []storekind.Kind, cb keystore.PasswordCallback, forceReset bool, ui any, opts ...Option) []keystore.Manager {
	o := newOptions(opts)
	var out []keystore.Manager
	for _, kind := range Detect(kinds, opts...) {
		m, err := New(kind, registry, opts...)
		if err != nil {
			continue
		}
		err = m.Init(ctx, keystore.Params{UI: ui}, cb, forceReset)
		switch {
		case keystore.IsCancelled(err):
			o.logger.Info("driver enrollment cancelled", "kind", kind)
		case err != nil:
			o.logger.Warn("driver enrollment failed", "kind", kind, "error", err)
		default:
			out = append(out, m)
		}
	}
	return out
}
