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

package nss

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Module is a PKCS#11 module entry of a secmod configuration.
type Module struct {
	Name       string
	Library    string
	Parameters string
	Flags      string
}

// Internal reports whether the module is the NSS softoken.
func (m Module) Internal() bool {
	return m.Library == "" || strings.Contains(strings.ToLower(m.Flags), "internal")
}

// Builtin reports whether the module only carries built-in root
// certificates.
func (m Module) Builtin() bool {
	base := strings.ToLower(filepath.Base(m.Library))
	return strings.Contains(base, "nssckbi") || strings.Contains(base, "p11-kit-trust")
}

// External reports whether the module is a third-party token library.
func (m Module) External() bool {
	return !m.Internal() && !m.Builtin()
}

// ParseSecmod parses the pkcs11.txt module list of an NSS database.
// Entries are separated by blank lines.
func ParseSecmod(r io.Reader) ([]Module, error) {
	var mods []Module
	var cur Module
	var seen bool

	flush := func() {
		if seen {
			mods = append(mods, cur)
		}
		cur, seen = Module{}, false
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		seen = true
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "library":
			cur.Library = strings.Trim(strings.TrimSpace(value), `"`)
		case "name":
			cur.Name = strings.Trim(strings.TrimSpace(value), `"`)
		case "parameters":
			cur.Parameters = value
		case "nss":
			cur.Flags = value
		}
	}
	flush()
	return mods, sc.Err()
}

// ReadSecmod reads the module list of dir. A missing file yields no modules.
func ReadSecmod(dir string) ([]Module, error) {
	f, err := os.Open(filepath.Join(dir, SecmodFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseSecmod(f)
}
