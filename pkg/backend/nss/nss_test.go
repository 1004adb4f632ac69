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
	"context"
	"database/sql"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-credstore/internal/testutil"
	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11/mocks"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

func class(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// writeCertDB creates a minimal cert9.db holding certs under labels.
func writeCertDB(t *testing.T, dir string, labels []string, certs [][]byte) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(dir, CertDB))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE nssPublic (id INTEGER PRIMARY KEY, a0 BLOB, a3 BLOB, a11 BLOB)")
	require.NoError(t, err)
	for i, der := range certs {
		var label any
		if labels[i] != "" {
			label = []byte(labels[i])
		}
		_, err = db.Exec("INSERT INTO nssPublic (a0, a3, a11) VALUES (?, ?, ?)", class(ckoCertificate), label, der)
		require.NoError(t, err)
	}
	// A public key object and a corrupt certificate are ignored.
	_, err = db.Exec("INSERT INTO nssPublic (a0, a3, a11) VALUES (?, ?, ?)", class(2), []byte("pub"), []byte{1, 2, 3})
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO nssPublic (a0, a3, a11) VALUES (?, ?, ?)", class(ckoCertificate), []byte("bad"), []byte{1, 2, 3})
	require.NoError(t, err)
}

func TestParseProfilesIni(t *testing.T) {
	ini := `
[Install4F96D1932A9F858E]
Default=Profiles/abcd.default-release
Locked=1

[Profile1]
Name=default
IsRelative=1
Path=Profiles/xyz.default
Default=1

[Profile0]
Name=default-release
IsRelative=1
Path=Profiles/abcd.default-release

[General]
StartWithLastProfile=1
`
	p, err := ParseProfilesIni(strings.NewReader(ini))
	require.NoError(t, err)
	require.Len(t, p.Profiles, 2)
	assert.Equal(t, "Profiles/abcd.default-release", p.InstallDefault)

	sel, ok := p.Selected()
	require.True(t, ok)
	assert.Equal(t, "default-release", sel.Name)

	p.InstallDefault = ""
	sel, ok = p.Selected()
	require.True(t, ok)
	assert.Equal(t, "default", sel.Name)

	_, ok = (&ProfilesIni{}).Selected()
	assert.False(t, ok)
}

func TestFindProfile(t *testing.T) {
	home := t.TempDir()
	root := filepath.Join(home, ".mozilla", "firefox")
	prof := filepath.Join(root, "Profiles", "abcd.default")
	require.NoError(t, os.MkdirAll(prof, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "profiles.ini"),
		[]byte("[Profile0]\nName=default\nIsRelative=1\nPath=Profiles/abcd.default\nDefault=1\n"), 0o644))

	opts := Options{Home: home, Platform: storekind.Linux}
	_, err := FindProfile(opts)
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.ErrorIs(t, err, keystore.ErrConfiguration)

	require.NoError(t, os.WriteFile(filepath.Join(prof, CertDB), nil, 0o644))
	dir, err := FindProfile(opts)
	require.NoError(t, err)
	assert.Equal(t, prof, dir)

	dir, err = FindProfile(Options{ProfileDir: prof})
	require.NoError(t, err)
	assert.Equal(t, prof, dir)

	_, err = FindProfile(Options{ProfileDir: home})
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestProfileRoots(t *testing.T) {
	roots := ProfileRoots(Options{Home: "/home/u", Platform: storekind.MacOS})
	assert.Equal(t, []string{filepath.Join("/home/u", "Library", "Application Support", "Firefox")}, roots)

	roots = ProfileRoots(Options{Home: "/home/u", Platform: storekind.Linux})
	assert.Contains(t, roots, filepath.Join("/home/u", ".mozilla", "firefox"))
}

func TestSharedDBDir(t *testing.T) {
	home := t.TempDir()
	userDB := filepath.Join(home, ".pki", "nssdb")
	require.NoError(t, os.MkdirAll(userDB, 0o755))

	explicit := t.TempDir()
	_, err := SharedDBDir(Options{Home: home, SharedDBDir: explicit})
	assert.ErrorIs(t, err, ErrSharedDBNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(explicit, CertDB), nil, 0o644))
	dir, err := SharedDBDir(Options{Home: home, SharedDBDir: explicit})
	require.NoError(t, err)
	assert.Equal(t, explicit, dir)
}

func TestParseSecmod(t *testing.T) {
	txt := `library=
name=NSS Internal PKCS #11 Module
parameters=configdir='sql:/home/u/.pki/nssdb' certPrefix='' keyPrefix=''
NSS=Flags=internal,critical trustOrder=75 cipherOrder=100

library=/usr/lib/x86_64-linux-gnu/pkcs11/p11-kit-trust.so
name=p11-kit-trust

# comment
library="/usr/lib/opensc-pkcs11.so"
name=OpenSC smartcard framework
`
	mods, err := ParseSecmod(strings.NewReader(txt))
	require.NoError(t, err)
	require.Len(t, mods, 3)

	assert.True(t, mods[0].Internal())
	assert.False(t, mods[0].External())
	assert.True(t, mods[1].Builtin())
	assert.False(t, mods[1].External())
	assert.True(t, mods[2].External())
	assert.Equal(t, "/usr/lib/opensc-pkcs11.so", mods[2].Library)
	assert.Equal(t, "OpenSC smartcard framework", mods[2].Name)
}

func TestManager_ReadsCertificates(t *testing.T) {
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	leaf, err := testutil.GenerateSigningCert(ca, "Erin")
	require.NoError(t, err)

	dir := t.TempDir()
	writeCertDB(t, dir, []string{"Test CA", ""}, [][]byte{ca.Cert.Raw, leaf.Cert.Raw})

	m, err := NewManager(storekind.SharedNSS, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, m.Init(context.Background(), keystore.Params{Path: dir}, nil, false))
	assert.Equal(t, []string{"Test CA", "Erin"}, m.Aliases())
	assert.Equal(t, dir, m.Handle())

	_, err = NewManager(storekind.PKCS12, nil)
	assert.ErrorIs(t, err, keystore.ErrConfiguration)

	err = m.Init(context.Background(), keystore.Params{Path: t.TempDir()}, nil, false)
	assert.ErrorIs(t, err, keystore.ErrConfiguration)
}

func TestBuilder_Build(t *testing.T) {
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	token, err := testutil.GenerateSigningCert(ca, "Token Cert")
	require.NoError(t, err)

	dir := t.TempDir()
	writeCertDB(t, dir, []string{"Test CA"}, [][]byte{ca.Cert.Raw})
	require.NoError(t, os.WriteFile(filepath.Join(dir, SecmodFile), []byte(
		"library=\nname=NSS Internal\nNSS=Flags=internal\n\n"+
			"library=/opt/good/libgood.so\nname=Good\n\n"+
			"library=/opt/bad/libbad.so\nname=Bad\n"), 0o644))

	loader := mocks.NewMockLoader()
	loader.Entries = []p11.TokenEntry{mocks.CertEntry(loader, "sign", []byte{1}, token.Cert, token.Key)}
	reg := p11.NewRegistry(
		p11.WithLoader(p11.LoaderFunc(func(ctx context.Context, d p11.Descriptor) (p11.Module, error) {
			if strings.Contains(d.Library, "bad") {
				return nil, p11.ErrLibraryNotFound
			}
			return loader.Load(ctx, d)
		})),
		p11.WithLogger(logging.Discard()),
		p11.WithStrategy(p11.StrategyInMemory),
	)
	t.Cleanup(func() { _ = reg.Close() })

	driver := testutil.NewFakeManager(storekind.DNIe, "DNIe Firma")
	driver.SetPreferred(true)

	b := &Builder{
		Options:  Options{SharedDBDir: dir},
		Registry: reg,
		Logger:   logging.Discard(),
		Drivers: func(context.Context, keystore.PasswordCallback, bool, any) []keystore.Manager {
			return []keystore.Manager{driver}
		},
	}

	agg, err := b.Build(context.Background(), storekind.SharedNSS, keystore.StaticPassword([]byte("1234")), false, nil)
	require.NoError(t, err)
	assert.Equal(t, storekind.SharedNSS, agg.Kind())
	require.Len(t, agg.Managers(), 3)
	assert.True(t, agg.ContainsKind(storekind.DNIe))
	assert.True(t, agg.ContainsKind(storekind.PKCS11))

	// Preferred driver entries come first.
	assert.Equal(t, []string{"DNIe Firma", "Test CA", "sign"}, agg.Aliases())
	assert.Equal(t, []string{p11.CanonicalKey("/opt/good/libgood.so")}, reg.Keys())
}

func TestBuilder_MissingDatabase(t *testing.T) {
	b := &Builder{Options: Options{SharedDBDir: t.TempDir()}, Logger: logging.Discard()}
	_, err := b.Build(context.Background(), storekind.SharedNSS, nil, false, nil)
	assert.ErrorIs(t, err, keystore.ErrConfiguration)

	_, err = b.Build(context.Background(), storekind.PKCS12, nil, false, nil)
	assert.ErrorIs(t, err, keystore.ErrConfiguration)
}
