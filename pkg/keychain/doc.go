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

// Package keychain is the entry point for obtaining credential stores. A
// Factory maps every store kind to its backend, asks the user for missing
// files, composes aggregated views and caches the Mozilla view between
// requests. Failures that are neither a user cancellation nor a rejected
// credential come back as a *keystore.AlternativeError naming the kind to
// try instead.
//
// Example usage:
//
//	m, err := keychain.ObtainManager(ctx, storekind.PKCS12, "/home/me/id.p12", "", cb, nil)
//	if alt, ok := keystore.AsAlternative(err); ok {
//	    if next, ok := alt.Suggestion(); ok {
//	        m, err = keychain.ObtainManager(ctx, next, "", "", cb, nil)
//	    }
//	}
package keychain
