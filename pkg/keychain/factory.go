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
	"time"

	"github.com/jeremyhahn/go-credstore/pkg/backend/native"
	"github.com/jeremyhahn/go-credstore/pkg/backend/nss"
	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/backend/smartcard"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/metrics"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Request describes one store to obtain.
type Request struct {
	Kind storekind.Kind

	// Locator is the key store file for file kinds, the module library for
	// PKCS#11 and the optional keychain file for Apple.
	Locator string

	// Description names a PKCS#11 module.
	Description string

	// Slot selects a PKCS#11 slot.
	Slot *int

	Callback keystore.PasswordCallback
	UI       any

	// ForceReset and ResetPKCS11 are ORed with the process toggles.
	ForceReset  bool
	ResetPKCS11 bool
}

func (r Request) pkcs11Reset() bool {
	return r.ForceReset || r.ResetPKCS11
}

// Factory obtains initialized managers for store kinds. It is safe for
// concurrent use.
type Factory struct {
	registry     *p11.Registry
	locator      keystore.FileLocator
	platform     storekind.Platform
	toggles      Toggles
	logger       *logging.Logger
	nss          nss.Options
	drivers      []storekind.Kind
	cardOpts     []smartcard.Option
	nativeOpener native.Opener
	constructors map[storekind.Kind]Constructor
	mozilla      *keystore.Cache[*keystore.Aggregated]
}

// Option configures a Factory.
type Option func(*Factory)

// WithRegistry sets the PKCS#11 registry. The default is p11.Default().
func WithRegistry(r *p11.Registry) Option {
	return func(f *Factory) {
		f.registry = r
	}
}

// WithLocator sets the file picker used when a file or library is missing.
func WithLocator(l keystore.FileLocator) Option {
	return func(f *Factory) {
		f.locator = l
	}
}

// WithPlatform overrides the detected platform.
func WithPlatform(p storekind.Platform) Option {
	return func(f *Factory) {
		f.platform = p
	}
}

// WithToggles sets the process toggle source. The default is EnvToggles.
func WithToggles(t Toggles) Option {
	return func(f *Factory) {
		f.toggles = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Factory) {
		f.logger = l
	}
}

// WithNSS sets where NSS databases are looked for.
func WithNSS(opts nss.Options) Option {
	return func(f *Factory) {
		f.nss = opts
	}
}

// WithDrivers sets the smart-card drivers enrolled next to the Apple
// keychain and the NSS databases when installed.
func WithDrivers(kinds ...storekind.Kind) Option {
	return func(f *Factory) {
		f.drivers = append([]storekind.Kind(nil), kinds...)
	}
}

// WithSmartCardLibraries sets the candidate driver libraries for kind.
func WithSmartCardLibraries(kind storekind.Kind, paths ...string) Option {
	return WithSmartCardOptions(smartcard.WithLibraries(kind, paths...))
}

// WithSmartCardOptions appends options passed to every smart-card lookup.
func WithSmartCardOptions(opts ...smartcard.Option) Option {
	return func(f *Factory) {
		f.cardOpts = append(f.cardOpts, opts...)
	}
}

// WithNativeOpener replaces how Windows and Apple stores are opened.
func WithNativeOpener(open native.Opener) Option {
	return func(f *Factory) {
		f.nativeOpener = open
	}
}

// WithConstructors overrides the constructors of the given kinds.
func WithConstructors(ctors map[storekind.Kind]Constructor) Option {
	return func(f *Factory) {
		for k, c := range ctors {
			f.constructors[k] = c
		}
	}
}

// NewFactory returns a factory with its own Mozilla cache.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		platform:     storekind.CurrentPlatform(),
		toggles:      EnvToggles,
		constructors: make(map[storekind.Kind]Constructor, len(constructors)),
	}
	for k, c := range constructors {
		f.constructors[k] = c
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.OrDefault(f.logger)
	if f.registry == nil {
		f.registry = p11.Default()
	}
	f.mozilla = keystore.NewCache[*keystore.Aggregated]("mozilla", f.logger)
	return f
}

// Platform returns the platform requests are checked against.
func (f *Factory) Platform() storekind.Platform {
	return f.platform
}

// Registry returns the PKCS#11 registry in use.
func (f *Factory) Registry() *p11.Registry {
	return f.registry
}

// ObtainManager returns an initialized manager for kind. locator is the key
// store file, PKCS#11 library or Apple keychain file depending on kind.
func (f *Factory) ObtainManager(ctx context.Context, kind storekind.Kind, locator, description string, cb keystore.PasswordCallback, ui any) (keystore.Manager, error) {
	return f.Obtain(ctx, Request{
		Kind:        kind,
		Locator:     locator,
		Description: description,
		Callback:    cb,
		UI:          ui,
	})
}

// Obtain returns an initialized manager for req.
func (f *Factory) Obtain(ctx context.Context, req Request) (keystore.Manager, error) {
	start := time.Now()

	set := f.readToggles()
	req.ForceReset = req.ForceReset || set.ForceReset
	req.ResetPKCS11 = req.ResetPKCS11 || set.DoNotReusePKCS11

	m, err := f.obtain(ctx, req)
	metrics.RecordObtain(string(req.Kind), resultOf(err), time.Since(start).Seconds())
	log := f.logger.With("kind", req.Kind)
	if err != nil {
		log.Debug("obtain failed", "error", err)
		return nil, err
	}
	log.Debug("obtained store", "entries", len(m.Aliases()))
	return m, nil
}

func (f *Factory) readToggles() ToggleSet {
	if f.toggles == nil {
		return ToggleSet{}
	}
	set, err := f.toggles()
	if err != nil {
		f.logger.Warn("cannot read process toggles, assuming false", "error", err)
	}
	if set.ForceReset {
		f.logger.Info("forced reset of credential stores enabled")
	}
	return set
}

func (f *Factory) obtain(ctx context.Context, req Request) (keystore.Manager, error) {
	ctor, ok := f.constructors[req.Kind]
	if !ok || !storekind.SupportedOn(req.Kind, f.platform) {
		return nil, f.unsupported(req.Kind)
	}
	m, err := ctor(ctx, f, req)
	if err != nil {
		return nil, f.classify(req.Kind, err)
	}
	return m, nil
}

func (f *Factory) unsupported(kind storekind.Kind) error {
	return keystore.NewAlternativeError(kind, kind, f.platform,
		fmt.Errorf("%w: %s on %s", keystore.ErrUnsupported, kind, f.platform))
}

// classify passes cancellations and rejected credentials through and turns
// every other failure into an AlternativeError.
func (f *Factory) classify(kind storekind.Kind, err error) error {
	if keystore.IsCancelled(err) {
		return keystore.Cancelled(err)
	}
	if keystore.IsCredentialRejected(err) {
		return err
	}
	if _, ok := keystore.AsAlternative(err); ok {
		return err
	}
	suggestFor := kind
	if kind.IsSmartCard() {
		suggestFor = storekind.PKCS12
	}
	return keystore.NewAlternativeError(kind, suggestFor, f.platform, err)
}

// InvalidateMozilla drops the cached Mozilla view without closing it.
func (f *Factory) InvalidateMozilla() {
	f.mozilla.Invalidate()
}

// Close closes the cached Mozilla view, if any. The PKCS#11 registry is
// left alone; it may be shared.
func (f *Factory) Close() error {
	agg, ok := f.mozilla.Peek()
	f.mozilla.Invalidate()
	if !ok || agg == nil {
		return nil
	}
	return agg.Close()
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case keystore.IsCancelled(err):
		return metrics.ResultCancelled
	case keystore.IsCredentialRejected(err):
		return metrics.ResultRejected
	}
	if _, ok := keystore.AsAlternative(err); ok {
		return metrics.ResultFallback
	}
	return metrics.ResultError
}
