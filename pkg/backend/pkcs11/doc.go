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

// Package pkcs11 manages the lifecycle of native PKCS#11 modules for the
// whole process.
//
// A module is registered once per canonical library key (the library file
// name with separators replaced) and reused by every store that asks for the
// same library, unless the caller forces a reset. Registration is split in
// two phases:
//
//  1. Acquire loads and initializes the native library, retrying a failed
//     load once by default.
//  2. Login asks for the PIN through a password callback and opens the
//     token. Any failure in this phase, cancellation included, tears the
//     registration down so the next request starts from a clean module.
//
// # Loading strategies
//
// The registry configures a module from a Descriptor. With the descriptor
// file strategy the descriptor is written to a transient file, read back and
// removed after every attempt; the in-memory strategy hands the descriptor
// to the loader directly. StrategyAuto probes for a writable temp directory
// and picks the descriptor file strategy when one exists.
//
// # Build tags
//
// The native loader needs cgo and is compiled only with the pkcs11 build tag:
//
//	go build -tags pkcs11 ./...
//
// Without the tag DefaultLoader returns a loader that fails with
// ErrNotCompiled, and the registry can still be driven by any Loader, which
// is how the tests exercise it.
//
// # Usage Example
//
//	reg := pkcs11.Default()
//	r, err := reg.Acquire(ctx, pkcs11.Request{Library: "/usr/lib/opensc-pkcs11.so"})
//	if err != nil {
//		return err
//	}
//	token, err := reg.Login(ctx, r, cb, "PIN for smart card")
//	if err != nil {
//		return err // registration already torn down
//	}
//	for _, e := range token.Entries {
//		fmt.Println(e.Label, e.Certificate.Subject)
//	}
package pkcs11
