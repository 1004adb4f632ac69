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

package storekind

// Alternate returns the store kind to suggest when kind cannot be used on
// platform. The second result is false only for PKCS12, which has no
// alternative.
//
// The result is a single suggestion, never a chain: callers decide whether
// to retry with it. Platform checks run Windows first, then macOS, then the
// default branch, independent of the requested kind's own affinity.
func Alternate(kind Kind, platform Platform) (Kind, bool) {
	if kind == PKCS12 {
		return "", false
	}
	if platform == OSWindows && kind != Windows {
		return Windows, true
	}
	if platform == MacOS && kind != Apple {
		return Apple, true
	}
	return PKCS12, true
}
