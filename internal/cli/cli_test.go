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

package cli

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sslmate "software.sslmate.com/src/go-pkcs12"

	"github.com/jeremyhahn/go-credstore/internal/config"
	"github.com/jeremyhahn/go-credstore/internal/testutil"
	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11/mocks"
	"github.com/jeremyhahn/go-credstore/pkg/encoding"
	"github.com/jeremyhahn/go-credstore/pkg/keychain"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// testFactory points the CLI at a mock PKCS#11 loader on a fixed platform.
func testFactory(t *testing.T, platform storekind.Platform) *mocks.MockLoader {
	t.Helper()
	leaf, err := testutil.GenerateSigningCert(nil, "Token Holder")
	require.NoError(t, err)
	loader := mocks.NewMockLoader()
	loader.Entries = []p11.TokenEntry{mocks.CertEntry(loader, "token-sign", []byte{1}, leaf.Cert, leaf.Key)}

	old := newFactory
	t.Cleanup(func() { newFactory = old })
	newFactory = func(cfg *config.Config, logger *logging.Logger, locator keystore.FileLocator) *keychain.Factory {
		reg := p11.NewRegistry(p11.WithLoader(loader), p11.WithLogger(logging.Discard()), p11.WithStrategy(p11.StrategyInMemory))
		return keychain.NewFactory(
			keychain.WithRegistry(reg),
			keychain.WithLocator(locator),
			keychain.WithPlatform(platform),
			keychain.WithLogger(logging.Discard()),
			keychain.WithToggles(keychain.StaticToggles(keychain.ToggleSet{})),
		)
	}
	return loader
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	*globalConfig = *NewConfig()
	listFlags = obtainFlags{slot: -1}
	registrationsFlags = obtainFlags{slot: -1}
	listPEM = false
	kindsPlatform = ""
	alternatePlatform = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--no-color"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKinds_JSON(t *testing.T) {
	out, err := run(t, "kinds", "--platform", "linux", "-o", "json")
	require.NoError(t, err)

	var doc struct {
		Platform string                   `json:"platform"`
		Kinds    []map[string]interface{} `json:"kinds"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "linux", doc.Platform)
	require.Len(t, doc.Kinds, len(storekind.Kinds()))

	for _, k := range doc.Kinds {
		if k["kind"] == "windows" {
			assert.Equal(t, false, k["supported"])
			assert.Equal(t, "pkcs12", k["alternate"])
		}
		if k["kind"] == "pkcs12" {
			_, has := k["alternate"]
			assert.False(t, has)
		}
	}
}

func TestKinds_Text(t *testing.T) {
	out, err := run(t, "kinds", "--platform", "macos")
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "Mac OS X / Apple Keychain")
}

func TestAlternate(t *testing.T) {
	out, err := run(t, "alternate", "windows", "--platform", "macos")
	require.NoError(t, err)
	assert.Equal(t, "apple\n", out)

	out, err = run(t, "alternate", "PKCS12")
	require.NoError(t, err)
	assert.Contains(t, out, "no alternative")

	_, err = run(t, "alternate", "floppy")
	assert.True(t, errors.Is(err, storekind.ErrUnknownKind))
}

func TestList_PKCS12(t *testing.T) {
	testFactory(t, storekind.Linux)
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	leaf, err := testutil.GenerateSigningCert(ca, "Alice Signer")
	require.NoError(t, err)
	data, err := sslmate.LegacyDES.Encode(leaf.Key, leaf.Cert, nil, "changeit")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id.p12")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("TEST_STORE_PASSWORD", "changeit")

	out, err := run(t, "list", "--kind", "pkcs12", "--file", path, "--password-env", "TEST_STORE_PASSWORD", "--pem")
	require.NoError(t, err)
	assert.Contains(t, out, "pkcs12 store, 1 entries")
	assert.Contains(t, out, "Alice Signer [key]")
	assert.Contains(t, out, "BEGIN CERTIFICATE")

	out, err = run(t, "list", "--kind", "pkcs12", "--file", path, "--password-env", "TEST_STORE_PASSWORD", "-o", "json")
	require.NoError(t, err)
	var doc struct {
		Kind    string                   `json:"kind"`
		Entries []map[string]interface{} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "pkcs12", doc.Kind)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, true, doc.Entries[0]["has_key"])
	assert.True(t, strings.HasPrefix(doc.Entries[0]["certificate"].(string), "-----BEGIN CERTIFICATE-----"))
}

func TestList_Errors(t *testing.T) {
	testFactory(t, storekind.Linux)

	_, err := run(t, "list")
	assert.Error(t, err)

	_, err = run(t, "list", "--kind", "pkcs12", "--password-env", "CREDSTORE_TEST_UNSET_VARIABLE")
	assert.Error(t, err)

	_, err = run(t, "list", "--kind", "windows")
	require.Error(t, err)
	alt, ok := keystore.AsAlternative(err)
	require.True(t, ok)
	assert.Equal(t, storekind.PKCS12, alt.Alternate)

	_, err = run(t, "list", "--kind", "pkcs12", "--no-prompt")
	assert.True(t, keystore.IsCancelled(err))
}

func TestList_FallbackStopsAtCancellation(t *testing.T) {
	testFactory(t, storekind.Linux)
	out, err := run(t, "list", "--kind", "windows", "--fallback", "--no-prompt")
	require.Error(t, err)
	assert.True(t, keystore.IsCancelled(err), "pkcs12 fallback has no file to open")
	assert.Contains(t, out, "trying pkcs12")
}

func TestRegistrations(t *testing.T) {
	loader := testFactory(t, storekind.Linux)
	lib := filepath.Join(t.TempDir(), "libtoken.so")
	require.NoError(t, os.WriteFile(lib, []byte("x"), 0o600))

	t.Setenv("TEST_TOKEN_PIN", "1234")

	out, err := run(t, "registrations", "--kind", "pkcs11", "--lib", lib, "--desc", "Token", "--password-env", "TEST_TOKEN_PIN")
	require.NoError(t, err)
	assert.Contains(t, out, p11.ProviderName(p11.CanonicalKey(lib)))
	assert.Contains(t, out, "registered")
	assert.Equal(t, 1, loader.LoadCount())
}

func TestList_PKCS11DefaultLibraryFromEnv(t *testing.T) {
	testFactory(t, storekind.Linux)
	lib := filepath.Join(t.TempDir(), "libdefault.so")
	require.NoError(t, os.WriteFile(lib, []byte("x"), 0o600))
	t.Setenv(config.EnvPKCS11Library, lib)
	t.Setenv("TEST_TOKEN_PIN", "1234")

	out, err := run(t, "list", "--kind", "pkcs11", "--password-env", "TEST_TOKEN_PIN")
	require.NoError(t, err)
	assert.Contains(t, out, "token-sign")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "-o", "json")
	require.NoError(t, err)
	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.NotEmpty(t, doc["version"])
	assert.Equal(t, GitCommit, doc["commit"])
}

func TestPrintEntries_PEMChain(t *testing.T) {
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	leaf, err := testutil.GenerateSigningCert(ca, "Chain Leaf")
	require.NoError(t, err)
	entries := []*keystore.Entry{
		{Alias: "chained", Certificate: leaf.Cert, Chain: []*x509.Certificate{leaf.Cert, ca.Cert}},
		{Alias: "bare", Certificate: ca.Cert},
	}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter("text", &buf, true).PrintEntries(storekind.PKCS12, entries, true))
	assert.Equal(t, 3, strings.Count(buf.String(), "-----BEGIN CERTIFICATE-----"))

	buf.Reset()
	require.NoError(t, NewPrinter("json", &buf, true).PrintEntries(storekind.PKCS12, entries, false))
	var doc struct {
		Entries []map[string]interface{} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Entries, 2)
	chain, ok := doc.Entries[0]["chain"].(string)
	require.True(t, ok)
	certs, err := encoding.DecodeCertificateChainPEM([]byte(chain))
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.True(t, certs[1].Equal(ca.Cert))
	_, has := doc.Entries[1]["chain"]
	assert.False(t, has)
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter("text", &buf, true)
	err := keystore.NewAlternativeError(storekind.Apple, storekind.Apple, storekind.OSWindows, keystore.ErrUnsupported)
	require.NoError(t, p.PrintError(err))
	assert.Contains(t, buf.String(), "Hint: try --kind windows")

	buf.Reset()
	require.NoError(t, p.PrintError(keystore.ErrCancelled))
	assert.Equal(t, "Cancelled\n", buf.String())

	buf.Reset()
	j := NewPrinter("json", &buf, true)
	require.NoError(t, j.PrintError(err))
	assert.Contains(t, buf.String(), `"alternate": "windows"`)

	assert.Error(t, NewPrinter("yaml", &buf, true).PrintError(err))
}
