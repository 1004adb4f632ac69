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

//go:build windows || (darwin && cgo)

package native

import (
	"context"
	"crypto"
	"crypto/x509"
	"testing"

	"github.com/github/smimesign/certstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-credstore/internal/testutil"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
)

type fakeIdentity struct {
	cert   *x509.Certificate
	onCert func()
	closed bool
}

func (f *fakeIdentity) Certificate() (*x509.Certificate, error) {
	if f.onCert != nil {
		f.onCert()
	}
	return f.cert, nil
}

func (f *fakeIdentity) CertificateChain() ([]*x509.Certificate, error) { return nil, nil }
func (f *fakeIdentity) Signer() (crypto.Signer, error)                 { return nil, nil }
func (f *fakeIdentity) Delete() error                                  { return nil }
func (f *fakeIdentity) Close()                                         { f.closed = true }

type fakeCertStore struct{ closed bool }

func (f *fakeCertStore) Identities() ([]certstore.Identity, error) { return nil, nil }
func (f *fakeCertStore) Import([]byte, string) error               { return nil }
func (f *fakeCertStore) Close()                                    { f.closed = true }

func identities(t *testing.T, names ...string) []*fakeIdentity {
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	var out []*fakeIdentity
	for _, n := range names {
		leaf, err := testutil.GenerateSigningCert(ca, n)
		require.NoError(t, err)
		out = append(out, &fakeIdentity{cert: leaf.Cert})
	}
	return out
}

func asIdentities(in []*fakeIdentity) []certstore.Identity {
	out := make([]certstore.Identity, len(in))
	for i, id := range in {
		out[i] = id
	}
	return out
}

func TestIdentitySnapshot(t *testing.T) {
	ids := identities(t, "Frank", "Grace")
	st := &fakeCertStore{}

	snap, err := identitySnapshot(context.Background(), st, asIdentities(ids))
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "Frank", snap.Entries[0].Alias)
	assert.Equal(t, []*x509.Certificate{ids[0].cert}, snap.Entries[0].Chain)
	assert.True(t, snap.Entries[0].HasKey())
	assert.False(t, st.closed)

	require.NoError(t, snap.Close())
	assert.True(t, st.closed)
	assert.True(t, ids[1].closed)
}

func TestIdentitySnapshot_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ids := identities(t, "Frank", "Grace")
	ids[0].onCert = cancel
	st := &fakeCertStore{}

	snap, err := identitySnapshot(ctx, st, asIdentities(ids))
	assert.Nil(t, snap)
	assert.True(t, keystore.IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, st.closed)
	assert.True(t, ids[0].closed)
	assert.True(t, ids[1].closed)
}
