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

import "sort"

// ParamShape describes the initialization parameters a kind requires.
type ParamShape int

const (
	// ParamsNone requires nothing.
	ParamsNone ParamShape = iota

	// ParamsFile requires a key store file path, picked when absent.
	ParamsFile

	// ParamsOptionalFile accepts an optional file path.
	ParamsOptionalFile

	// ParamsLibrary requires a native library path, a description and an
	// optional slot number.
	ParamsLibrary

	// ParamsCallback requires only a password callback.
	ParamsCallback

	// ParamsCallbackUI requires a password callback and a UI context.
	ParamsCallbackUI
)

// String returns a short description of the parameter shape.
func (s ParamShape) String() string {
	switch s {
	case ParamsNone:
		return "none"
	case ParamsFile:
		return "file"
	case ParamsOptionalFile:
		return "optional file"
	case ParamsLibrary:
		return "library, description, slot"
	case ParamsCallback:
		return "password callback"
	case ParamsCallbackUI:
		return "password callback, ui"
	default:
		return "unknown"
	}
}

// Info is an immutable catalog entry.
type Info struct {
	Kind     Kind
	Name     string
	Affinity Platform
	Params   ParamShape

	// Rank orders kinds for listing; lower ranks are listed first.
	Rank int

	// Extensions are the file extensions offered by the file picker for
	// file based kinds.
	Extensions     []string
	ExtensionsDesc string
}

var catalog = map[Kind]Info{
	PKCS12: {
		Kind: PKCS12, Name: "PKCS#12 / PFX", Affinity: Any, Params: ParamsFile, Rank: 100,
		Extensions: []string{"pfx", "p12"}, ExtensionsDesc: "PKCS#12 key stores (*.pfx, *.p12)",
	},
	JavaKeyStore: {
		Kind: JavaKeyStore, Name: "Java KeyStore", Affinity: Any, Params: ParamsFile, Rank: 110,
		Extensions: []string{"jks"}, ExtensionsDesc: "Java key stores (*.jks)",
	},
	JavaCaseExact: {
		Kind: JavaCaseExact, Name: "Java KeyStore (case exact)", Affinity: Any, Params: ParamsFile, Rank: 111,
		Extensions: []string{"jceks", "jks", "jce"}, ExtensionsDesc: "JCE key stores (*.jceks, *.jks, *.jce)",
	},
	JCEKS: {
		Kind: JCEKS, Name: "JCE KeyStore", Affinity: Any, Params: ParamsFile, Rank: 112,
		Extensions: []string{"jceks", "jks", "jce"}, ExtensionsDesc: "JCE key stores (*.jceks, *.jks, *.jce)",
	},
	Single: {
		Kind: Single, Name: "X.509 certificate / PKCS#7", Affinity: Any, Params: ParamsFile, Rank: 120,
		Extensions: []string{"cer", "crt", "pem", "p7b"}, ExtensionsDesc: "Certificates (*.cer, *.crt, *.pem, *.p7b)",
	},
	PKCS11: {
		Kind: PKCS11, Name: "PKCS#11", Affinity: Any, Params: ParamsLibrary, Rank: 50,
	},
	Windows: {
		Kind: Windows, Name: "Windows / Internet Explorer", Affinity: OSWindows, Params: ParamsNone, Rank: 10,
	},
	WindowsAddressBook: {
		Kind: WindowsAddressBook, Name: "Windows Address Book", Affinity: OSWindows, Params: ParamsNone, Rank: 11,
	},
	WindowsCA: {
		Kind: WindowsCA, Name: "Windows Intermediate CA", Affinity: OSWindows, Params: ParamsNone, Rank: 12,
	},
	Apple: {
		Kind: Apple, Name: "Mac OS X / Apple Keychain", Affinity: MacOS, Params: ParamsOptionalFile, Rank: 20,
	},
	SharedNSS: {
		Kind: SharedNSS, Name: "Shared NSS", Affinity: Linux, Params: ParamsCallback, Rank: 30,
	},
	Mozilla: {
		Kind: Mozilla, Name: "Mozilla / Firefox (unified)", Affinity: Any, Params: ParamsCallback, Rank: 31,
	},
	DNIe: {
		Kind: DNIe, Name: "DNIe", Affinity: Any, Params: ParamsCallbackUI, Rank: 60,
	},
	Ceres: {
		Kind: Ceres, Name: "CERES", Affinity: Any, Params: ParamsCallbackUI, Rank: 61,
	},
	Ceres430: {
		Kind: Ceres430, Name: "CERES 4.30", Affinity: Any, Params: ParamsCallbackUI, Rank: 62,
	},
	SmartCafe: {
		Kind: SmartCafe, Name: "G&D SmartCafe", Affinity: Any, Params: ParamsCallbackUI, Rank: 63,
	},
}

// Lookup returns the catalog entry for kind.
func Lookup(kind Kind) (Info, bool) {
	info, ok := catalog[kind]
	return info, ok
}

// All returns every catalog entry ordered by rank.
func All() []Info {
	infos := make([]Info, 0, len(catalog))
	for _, info := range catalog {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Rank < infos[j].Rank
	})
	return infos
}

// Kinds returns every kind in the catalog ordered by rank.
func Kinds() []Kind {
	infos := All()
	kinds := make([]Kind, len(infos))
	for i, info := range infos {
		kinds[i] = info.Kind
	}
	return kinds
}

// SupportedOn reports whether kind can be opened on platform.
func SupportedOn(kind Kind, platform Platform) bool {
	info, ok := catalog[kind]
	if !ok {
		return false
	}
	return info.Affinity == Any || info.Affinity == platform
}

// LibraryExtensions returns the file extensions and filter description used
// when asking the user for a PKCS#11 library on platform.
func LibraryExtensions(platform Platform) ([]string, string) {
	switch platform {
	case OSWindows:
		return []string{"dll"}, "PKCS#11 libraries (*.dll)"
	case MacOS:
		return []string{"so", "dylib"}, "PKCS#11 libraries (*.dylib, *.so)"
	default:
		return []string{"so"}, "PKCS#11 libraries (*.so)"
	}
}
