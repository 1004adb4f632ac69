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

package bundle

import (
	"bytes"
	"context"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-credstore/internal/testutil"
	"github.com/jeremyhahn/go-credstore/pkg/encoding"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
)

func chain(t *testing.T) (*testutil.TestCA, *testutil.TestCertificate) {
	t.Helper()
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	leaf, err := testutil.GenerateSigningCert(ca, "Carol")
	require.NoError(t, err)
	return ca, leaf
}

func initManager(t *testing.T, data []byte, cb keystore.PasswordCallback) (*Manager, error) {
	t.Helper()
	m := NewManager(logging.Discard())
	return m, m.Init(context.Background(), keystore.Params{Reader: bytes.NewReader(data)}, cb, false)
}

func TestParse_DER(t *testing.T) {
	_, leaf := chain(t)
	c, err := Parse(leaf.Cert.Raw)
	require.NoError(t, err)
	require.Len(t, c.Certificates, 1)
	assert.False(t, c.HasKeys())
}

func TestParse_PKCS7(t *testing.T) {
	ca, leaf := chain(t)
	der, err := pkcs7.DegenerateCertificate(append(append([]byte{}, leaf.Cert.Raw...), ca.Cert.Raw...))
	require.NoError(t, err)

	c, err := Parse(der)
	require.NoError(t, err)
	assert.Len(t, c.Certificates, 2)

	c, err = Parse(pem.EncodeToMemory(&pem.Block{Type: encoding.PEMTypePKCS7, Bytes: der}))
	require.NoError(t, err)
	assert.Len(t, c.Certificates, 2)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("garbage"))
	assert.ErrorIs(t, err, keystore.ErrConfiguration)
	assert.ErrorIs(t, err, ErrMalformed)

	_, leaf := chain(t)
	_, err = Parse(leaf.KeyPEM)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestManager_PlainPEMWithKey(t *testing.T) {
	ca, leaf := chain(t)
	data := append(append(append([]byte{}, leaf.CertPEM...), ca.CertPEM...), leaf.KeyPEM...)

	called := false
	cb := keystore.PasswordFunc(func(context.Context, string) ([]byte, error) {
		called = true
		return nil, nil
	})
	m, err := initManager(t, data, cb)
	require.NoError(t, err)
	assert.False(t, called, "no password needed for a plain key")

	e, err := m.Entry("Carol")
	require.NoError(t, err)
	assert.True(t, e.HasKey())
	assert.Len(t, e.Chain, 2)

	caEntry := m.Entries()[1]
	assert.False(t, caEntry.HasKey())
}

func TestManager_EncryptedKey(t *testing.T) {
	_, leaf := chain(t)
	keyPEM, err := encoding.EncodePrivateKeyPEM(leaf.Key, []byte("pem-pass"))
	require.NoError(t, err)
	data := append(append([]byte{}, leaf.CertPEM...), keyPEM...)

	m, err := initManager(t, data, keystore.StaticPassword([]byte("pem-pass")))
	require.NoError(t, err)
	e, err := m.Entry("Carol")
	require.NoError(t, err)
	signer, err := e.Signer()
	require.NoError(t, err)
	assert.True(t, encoding.SamePublicKey(leaf.Cert.PublicKey, signer.Public()))

	_, err = initManager(t, data, keystore.StaticPassword([]byte("wrong")))
	assert.ErrorIs(t, err, keystore.ErrCredentialRejected)

	_, err = initManager(t, data, nil)
	assert.ErrorIs(t, err, keystore.ErrCredentialRejected)

	cancel := keystore.PasswordFunc(func(context.Context, string) ([]byte, error) {
		return nil, keystore.ErrCancelled
	})
	_, err = initManager(t, data, cancel)
	assert.True(t, keystore.IsCancelled(err))
}

func TestManager_DuplicateAliases(t *testing.T) {
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	a, err := testutil.GenerateSigningCert(ca, "Same")
	require.NoError(t, err)
	b, err := testutil.GenerateSigningCert(ca, "Same")
	require.NoError(t, err)

	m, err := initManager(t, append(append([]byte{}, a.CertPEM...), b.CertPEM...), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Same", "Same (2)"}, m.Aliases())
}

func TestManager_FromPath(t *testing.T) {
	_, leaf := chain(t)
	path := filepath.Join(t.TempDir(), "carol.cer")
	require.NoError(t, os.WriteFile(path, leaf.Cert.Raw, 0o600))

	m := NewManager(nil)
	require.NoError(t, m.Init(context.Background(), keystore.Params{Path: path}, nil, false))
	assert.Equal(t, path, m.Path())
	assert.Equal(t, []string{"Carol"}, m.Aliases())
}
