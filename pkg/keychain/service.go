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
	"sync"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Process-wide factory
var (
	service  *Factory
	initOnce sync.Once
	initMu   sync.RWMutex
)

// Initialize sets up the process-wide factory. Only the first call has an
// effect until Reset.
func Initialize(opts ...Option) *Factory {
	initMu.Lock()
	defer initMu.Unlock()
	initOnce.Do(func() {
		service = NewFactory(opts...)
	})
	return service
}

// Default returns the process-wide factory, creating it with default
// options on first use.
func Default() *Factory {
	initMu.RLock()
	f := service
	initMu.RUnlock()
	if f != nil {
		return f
	}
	return Initialize()
}

// IsInitialized reports whether the process-wide factory exists.
func IsInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return service != nil
}

// Reset closes the process-wide factory's cached view and forgets the
// factory (useful for testing).
func Reset() {
	initMu.Lock()
	defer initMu.Unlock()
	if service != nil {
		service.logger.MaybeError(service.Close())
	}
	service = nil
	initOnce = sync.Once{}
}

// ObtainManager obtains a store through the process-wide factory.
func ObtainManager(ctx context.Context, kind storekind.Kind, locator, description string, cb keystore.PasswordCallback, ui any) (keystore.Manager, error) {
	return Default().ObtainManager(ctx, kind, locator, description, cb, ui)
}
