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

// Package storekind is the static catalog of credential store kinds.
//
// Each Kind names one category of certificate store together with the
// platform it runs on, the parameters it needs to be opened and a rank used
// when listing or falling back. The package also owns the fallback table:
// Alternate suggests the store kind a caller should retry with when the
// requested kind cannot be used on the running platform.
package storekind

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrUnknownKind is returned by ParseKind for names outside the catalog.
var ErrUnknownKind = errors.New("storekind: unknown store kind")

// Kind identifies a credential store category.
type Kind string

const (
	// PKCS12 is a PKCS#12 (.p12 / .pfx) file. It is the terminal fallback.
	PKCS12 Kind = "pkcs12"

	// JavaKeyStore is a legacy Java key store file (JKS).
	JavaKeyStore Kind = "jks"

	// JavaCaseExact is a JKS file whose aliases are case sensitive.
	JavaCaseExact Kind = "jks-case-exact"

	// JCEKS is a JCE-style key store file.
	JCEKS Kind = "jceks"

	// Single is a bare certificate, PEM bundle or PKCS#7 file.
	Single Kind = "single"

	// PKCS11 is a generic PKCS#11 token reached through a native module.
	PKCS11 Kind = "pkcs11"

	// Windows is the Windows personal ("MY") certificate store.
	Windows Kind = "windows"

	// WindowsAddressBook is the Windows "ADDRESSBOOK" (other people) store.
	WindowsAddressBook Kind = "windows-addressbook"

	// WindowsCA is the Windows intermediate CA store.
	WindowsCA Kind = "windows-ca"

	// Apple is the macOS keychain.
	Apple Kind = "apple"

	// SharedNSS is the shared system NSS database (Linux).
	SharedNSS Kind = "shared-nss"

	// Mozilla is the unified view over a Mozilla profile NSS database and
	// the external devices configured in it.
	Mozilla Kind = "mozilla"

	// DNIe is the Spanish electronic ID card driver.
	DNIe Kind = "dnie"

	// Ceres is the FNMT CERES card driver.
	Ceres Kind = "ceres"

	// Ceres430 is the FNMT CERES 4.30 and later card driver.
	Ceres430 Kind = "ceres430"

	// SmartCafe is the G&D SmartCafe card driver.
	SmartCafe Kind = "smartcafe"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid returns true if the kind is part of the catalog.
func (k Kind) IsValid() bool {
	_, ok := catalog[k]
	return ok
}

// IsFileBased returns true for kinds opened from a key store file.
func (k Kind) IsFileBased() bool {
	switch k {
	case PKCS12, JavaKeyStore, JavaCaseExact, JCEKS, Single:
		return true
	default:
		return false
	}
}

// IsSmartCard returns true for the vendor smart-card driver kinds.
func (k Kind) IsSmartCard() bool {
	switch k {
	case DNIe, Ceres, Ceres430, SmartCafe:
		return true
	default:
		return false
	}
}

// IsNSS returns true for the NSS backed kinds.
func (k Kind) IsNSS() bool {
	return k == SharedNSS || k == Mozilla
}

// Name returns the human readable name of the kind, or the raw identifier
// when the kind is not in the catalog.
func (k Kind) Name() string {
	if info, ok := catalog[k]; ok {
		return info.Name
	}
	return string(k)
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Platform identifies the operating system family a store belongs to.
type Platform string

const (
	// Any marks kinds usable on every platform.
	Any Platform = "any"

	// OSWindows is Microsoft Windows.
	OSWindows Platform = "windows"

	// MacOS is Apple macOS.
	MacOS Platform = "macos"

	// Linux is Linux.
	Linux Platform = "linux"

	// Other is any platform outside the three families above. It takes the
	// default branch of the fallback table.
	Other Platform = "other"
)

// String returns the string representation of the platform.
func (p Platform) String() string {
	return string(p)
}

// CurrentPlatform returns the platform of the running process.
func CurrentPlatform() Platform {
	return platformFromGOOS(runtime.GOOS)
}

func platformFromGOOS(goos string) Platform {
	switch goos {
	case "windows":
		return OSWindows
	case "darwin":
		return MacOS
	case "linux":
		return Linux
	default:
		return Other
	}
}

// ParsePlatform converts a platform or GOOS name to a Platform.
func ParsePlatform(s string) Platform {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "any":
		return Any
	case "windows", "win":
		return OSWindows
	case "macos", "darwin", "osx", "mac":
		return MacOS
	case "linux":
		return Linux
	default:
		return Other
	}
}
