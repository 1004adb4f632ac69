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

//go:build !windows && !(darwin && cgo)

package native

import (
	"context"
	"fmt"
	"runtime"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

func openSystemStore(_ context.Context, kind storekind.Kind, _ string) (*Snapshot, error) {
	return nil, fmt.Errorf("%w: %s is not available on %s", keystore.ErrUnsupported, kind, runtime.GOOS)
}
