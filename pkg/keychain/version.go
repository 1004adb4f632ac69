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
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// version is set at link time with
// -ldflags "-X github.com/jeremyhahn/go-credstore/pkg/keychain.version=v1.2.3".
var version string

// Version returns the library version. A link-time version wins; otherwise
// the VERSION file in the project root is read. Returns "unknown" when
// neither is available.
func Version() string {
	if v := strings.TrimSpace(version); v != "" {
		return v
	}
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "unknown"
	}
	// Navigate to project root (up from pkg/keychain/)
	return readVersionFile(filepath.Join(filepath.Dir(filename), "..", "..", "VERSION"))
}

func readVersionFile(path string) string {
	// #nosec G304 - fixed VERSION file
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "unknown"
	}
	return v
}
