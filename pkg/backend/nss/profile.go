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

// Package nss reads Mozilla NSS certificate databases: the Firefox profile
// store and the shared system database, together with the PKCS#11 modules
// registered in their secmod configuration.
package nss

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

const (
	// CertDB is the certificate database file name.
	CertDB = "cert9.db"

	// SecmodFile lists the PKCS#11 modules of a database directory.
	SecmodFile = "pkcs11.txt"

	// SystemDBDir is the shared system database on Linux.
	SystemDBDir = "/etc/pki/nssdb"
)

var (
	// ErrProfileNotFound is returned when no Firefox profile can be located.
	ErrProfileNotFound = errors.New("nss: firefox profile not found")

	// ErrSharedDBNotFound is returned when no shared NSS database exists.
	ErrSharedDBNotFound = errors.New("nss: shared database not found")
)

// Options locates NSS databases. Empty fields use the platform defaults.
type Options struct {
	ProfileDir  string
	SharedDBDir string
	Home        string
	Platform    storekind.Platform
}

func (o Options) home() string {
	if o.Home != "" {
		return o.Home
	}
	h, _ := os.UserHomeDir()
	return h
}

func (o Options) platform() storekind.Platform {
	if o.Platform == "" || o.Platform == storekind.Any {
		return storekind.CurrentPlatform()
	}
	return o.Platform
}

// Profile is one profiles.ini section.
type Profile struct {
	Name       string
	Path       string
	IsRelative bool
	Default    bool
}

// ProfilesIni is the parsed content of a profiles.ini file.
type ProfilesIni struct {
	Profiles []Profile

	// InstallDefault is the profile path selected by the newest install
	// section, if any.
	InstallDefault string
}

// ParseProfilesIni parses a Firefox profiles.ini file.
func ParseProfilesIni(r io.Reader) (*ProfilesIni, error) {
	out := &ProfilesIni{}
	var section string
	var cur *Profile

	flush := func() {
		if cur != nil && cur.Path != "" {
			out.Profiles = append(out.Profiles, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			section = line[1 : len(line)-1]
			if strings.HasPrefix(section, "Profile") {
				cur = &Profile{}
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch {
		case strings.HasPrefix(section, "Install"):
			if key == "Default" && out.InstallDefault == "" {
				out.InstallDefault = value
			}
		case cur != nil:
			switch key {
			case "Name":
				cur.Name = value
			case "Path":
				cur.Path = value
			case "IsRelative":
				cur.IsRelative = value == "1"
			case "Default":
				cur.Default = value == "1"
			}
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Selected returns the path of the profile Firefox would open: the install
// default, else the profile marked Default=1, else the first profile.
func (p *ProfilesIni) Selected() (Profile, bool) {
	if p.InstallDefault != "" {
		for _, prof := range p.Profiles {
			if prof.Path == p.InstallDefault {
				return prof, true
			}
		}
		return Profile{Path: p.InstallDefault, IsRelative: !filepath.IsAbs(p.InstallDefault)}, true
	}
	for _, prof := range p.Profiles {
		if prof.Default {
			return prof, true
		}
	}
	if len(p.Profiles) > 0 {
		return p.Profiles[0], true
	}
	return Profile{}, false
}

// ProfileRoots returns the directories that may hold profiles.ini.
func ProfileRoots(opts Options) []string {
	home := opts.home()
	switch opts.platform() {
	case storekind.OSWindows:
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return []string{filepath.Join(appData, "Mozilla", "Firefox")}
	case storekind.MacOS:
		return []string{filepath.Join(home, "Library", "Application Support", "Firefox")}
	default:
		return []string{
			filepath.Join(home, ".mozilla", "firefox"),
			filepath.Join(home, "snap", "firefox", "common", ".mozilla", "firefox"),
			filepath.Join(home, ".var", "app", "org.mozilla.firefox", ".mozilla", "firefox"),
		}
	}
}

// FindProfile returns the Firefox profile directory holding the certificate
// database.
func FindProfile(opts Options) (string, error) {
	if opts.ProfileDir != "" {
		if hasCertDB(opts.ProfileDir) {
			return opts.ProfileDir, nil
		}
		return "", fmt.Errorf("%w: %w: %s has no %s", keystore.ErrConfiguration, ErrProfileNotFound, opts.ProfileDir, CertDB)
	}

	for _, root := range ProfileRoots(opts) {
		f, err := os.Open(filepath.Join(root, "profiles.ini"))
		if err != nil {
			continue
		}
		ini, err := ParseProfilesIni(f)
		f.Close()
		if err != nil {
			continue
		}
		prof, ok := ini.Selected()
		if !ok {
			continue
		}
		dir := filepath.FromSlash(prof.Path)
		if prof.IsRelative || !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		if hasCertDB(dir) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %w", keystore.ErrConfiguration, ErrProfileNotFound)
}

// SharedDBDir returns the shared NSS database directory: the configured
// one, else the system database, else the user's ~/.pki/nssdb.
func SharedDBDir(opts Options) (string, error) {
	candidates := []string{SystemDBDir, filepath.Join(opts.home(), ".pki", "nssdb")}
	if opts.SharedDBDir != "" {
		candidates = []string{opts.SharedDBDir}
	}
	for _, dir := range candidates {
		if hasCertDB(dir) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %w", keystore.ErrConfiguration, ErrSharedDBNotFound)
}

func hasCertDB(dir string) bool {
	return keystore.IsRegularFile(filepath.Join(dir, CertDB))
}
