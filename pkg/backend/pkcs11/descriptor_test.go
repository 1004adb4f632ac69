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

package pkcs11

import (
	"crypto"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		library string
		want    string
	}{
		{"/usr/lib/opensc-pkcs11.so", "opensc-pkcs11_so"},
		{"/usr/lib/libpkcs11 dnie.so", "libpkcs11_dnie_so"},
		{`C:\Windows\System32\UsrPkcs11.dll`, "UsrPkcs11_dll"},
		{"libsofthsm2.so", "libsofthsm2_so"},
		{"/Library/OpenSC/lib/opensc-pkcs11.dylib", "opensc-pkcs11_dylib"},
	}
	for _, tt := range tests {
		t.Run(tt.library, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalKey(tt.library))
		})
	}
}

func TestDescriptor_RoundTripThroughFile(t *testing.T) {
	slot := 2
	d := NewDescriptor(Request{Library: "/usr/lib/lib ceres.so", Description: "CERES card", Slot: &slot})
	assert.Equal(t, "credstore-lib_ceres_so", d.Name)

	path, err := d.Write(t.TempDir())
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := ParseDescriptor(f)
	require.NoError(t, err)
	assert.Equal(t, d.Name, got.Name)
	assert.Equal(t, d.Library, got.Library)
	assert.Equal(t, d.Description, got.Description)
	require.NotNil(t, got.Slot)
	assert.Equal(t, 2, *got.Slot)
}

func TestParseDescriptor_Errors(t *testing.T) {
	_, err := ParseDescriptor(strings.NewReader("name = x\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseDescriptor(strings.NewReader("library /x.so\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseDescriptor(strings.NewReader("library = /x.so\nslot = -1\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	d, err := ParseDescriptor(strings.NewReader("# comment\n\nlibrary = /x.so\nattributes = compatibility\n"))
	require.NoError(t, err)
	assert.Equal(t, "/x.so", d.Library)
	assert.Nil(t, d.Slot)
}

func TestStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"":                StrategyAuto,
		"modern":          StrategyDescriptorFile,
		"descriptor-file": StrategyDescriptorFile,
		"legacy":          StrategyInMemory,
		"In-Memory":       StrategyInMemory,
	} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStrategy("sideways")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.Equal(t, StrategyDescriptorFile, ProbeStrategy(t.TempDir()))
	assert.Equal(t, StrategyInMemory, ProbeStrategy("/nonexistent/credstore/probe"))
}

func TestRequestValidate(t *testing.T) {
	assert.ErrorIs(t, Request{}.Validate(), ErrInvalidConfig)
	neg := -1
	assert.ErrorIs(t, Request{Library: "/x.so", Slot: &neg}.Validate(), ErrInvalidConfig)
	assert.NoError(t, Request{Library: "/x.so"}.Validate())
	assert.Contains(t, Request{Library: "/x.so"}.String(), "<not set>")
}

func TestConfig(t *testing.T) {
	c := &Config{Attempts: 3, Strategy: "legacy", TempDir: "/tmp", DoNotReuse: true}
	require.NoError(t, c.Validate())

	r := NewRegistry(c.Options()...)
	assert.Equal(t, 3, r.attempts)
	assert.Equal(t, StrategyInMemory, r.strategy)
	assert.Equal(t, "/tmp", r.tempDir)
	assert.True(t, r.doNotReuse)

	assert.ErrorIs(t, (&Config{Attempts: -1}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Strategy: "x"}).Validate(), ErrInvalidConfig)
	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrInvalidConfig)
	assert.Equal(t, DefaultAttempts, NewRegistry((&Config{}).Options()...).attempts)
}

func TestToken_Signer(t *testing.T) {
	var nilTok *Token
	_, err := nilTok.Signer([]byte{1}, nil)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	tok := &Token{FindSigner: func(id, label []byte) (crypto.Signer, error) { return nil, nil }}
	_, err = tok.Signer([]byte{1}, nil)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
