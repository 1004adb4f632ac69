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

//go:build !pkcs11

package pkcs11

import (
	"context"
	"fmt"
)

type stubLoader struct{}

// DefaultLoader returns the native loader. This build has no native
// support, so every load fails with ErrNotCompiled.
func DefaultLoader() Loader {
	return stubLoader{}
}

func (stubLoader) Load(_ context.Context, d Descriptor) (Module, error) {
	return nil, fmt.Errorf("%w: cannot load %s", ErrNotCompiled, d.Library)
}
