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

package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

func TestBase_FirstAliasWins(t *testing.T) {
	b := NewBase(storekind.PKCS12)
	first := &Entry{Alias: "a"}
	assert.True(t, b.Add(first))
	assert.False(t, b.Add(&Entry{Alias: "a"}))
	assert.True(t, b.Add(&Entry{Alias: "b"}))
	assert.False(t, b.Add(nil))

	assert.Equal(t, []string{"a", "b"}, b.Aliases())
	e, err := b.Entry("a")
	require.NoError(t, err)
	assert.Same(t, first, e)

	_, err = b.Entry("c")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestBase_Close(t *testing.T) {
	b := NewBase(storekind.Single)
	b.SetHandle("h")
	b.Add(&Entry{Alias: "a"})
	require.NoError(t, b.Close())

	assert.True(t, b.Closed())
	assert.Nil(t, b.Handle())
	assert.Empty(t, b.Entries())
	_, err := b.Entry("a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBase_KindAndPreferred(t *testing.T) {
	b := NewBase(storekind.PKCS11)
	assert.Equal(t, storekind.PKCS11, b.Kind())
	b.SetKind(storekind.DNIe)
	assert.Equal(t, storekind.DNIe, b.Kind())
	assert.False(t, b.Preferred())
	b.SetPreferred(true)
	assert.True(t, b.Preferred())
}

func TestEntry_Signer(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	withKey := &Entry{Alias: "k", Resolver: StaticSigner(key), KeyID: []byte{0xab, 0x01}}
	assert.True(t, withKey.HasKey())
	s, err := withKey.Signer()
	require.NoError(t, err)
	assert.Equal(t, key, s)
	assert.Equal(t, "ab01", withKey.KeyIDHex())

	certOnly := &Entry{Alias: "c"}
	assert.False(t, certOnly.HasKey())
	_, err = certOnly.Signer()
	assert.ErrorIs(t, err, ErrNoPrivateKey)
	assert.Empty(t, certOnly.Subject())

	assert.Nil(t, StaticSigner(nil))
}

func TestErrors_Classification(t *testing.T) {
	assert.True(t, IsCancelled(ErrCancelled))
	assert.True(t, IsCancelled(fmt.Errorf("wrapped: %w", ErrCancelled)))
	assert.True(t, IsCancelled(context.Canceled))
	assert.False(t, IsCancelled(ErrConfiguration))

	assert.True(t, IsCredentialRejected(fmt.Errorf("x: %w", ErrCredentialRejected)))
	assert.False(t, IsCredentialRejected(ErrCancelled))

	assert.Equal(t, ErrCancelled, Cancelled(nil))
	c := Cancelled(context.Canceled)
	assert.ErrorIs(t, c, ErrCancelled)
	assert.ErrorIs(t, c, context.Canceled)
}

func TestAlternativeError(t *testing.T) {
	cause := fmt.Errorf("%w: no windows here", ErrUnsupported)
	err := NewAlternativeError(storekind.Windows, storekind.Windows, storekind.Linux, cause)

	var wrapped error = fmt.Errorf("obtain: %w", err)
	alt, ok := AsAlternative(wrapped)
	require.True(t, ok)
	assert.Equal(t, storekind.Windows, alt.Kind)
	k, has := alt.Suggestion()
	assert.True(t, has)
	assert.Equal(t, storekind.PKCS12, k)
	assert.ErrorIs(t, wrapped, ErrUnsupported)
	assert.Contains(t, err.Error(), "try pkcs12")

	none := NewAlternativeError(storekind.PKCS12, storekind.PKCS12, storekind.Linux, errors.New("bad"))
	_, has = none.Suggestion()
	assert.False(t, has)
	assert.NotContains(t, none.Error(), "try")

	_, ok = AsAlternative(errors.New("plain"))
	assert.False(t, ok)
}

func TestPasswordCallbacks(t *testing.T) {
	ctx := context.Background()

	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(NullPasswordCallback{}))
	assert.True(t, IsNull(&NullPasswordCallback{}))
	assert.False(t, IsNull(StaticPassword([]byte("x"))))

	secret, err := RequestSecret(ctx, NullPasswordCallback{}, "p")
	require.NoError(t, err)
	assert.Empty(t, secret)

	src := []byte("changeit")
	cb := StaticPassword(src)
	src[0] = 'X'
	secret, err = RequestSecret(ctx, cb, "p")
	require.NoError(t, err)
	assert.Equal(t, []byte("changeit"), secret)

	cancelling := PasswordFunc(func(context.Context, string) ([]byte, error) {
		return nil, context.Canceled
	})
	_, err = RequestSecret(ctx, cancelling, "p")
	assert.ErrorIs(t, err, ErrCancelled)

	done, cancel := context.WithCancel(ctx)
	cancel()
	_, err = RequestSecret(done, cb, "p")
	assert.ErrorIs(t, err, ErrCancelled)

	b := []byte{1, 2, 3}
	Zeroize(b)
	assert.Equal(t, []byte{0, 0, 0}, b)

	assert.Contains(t, Prompt(storekind.PKCS12), "PKCS#12")
}

func TestLocate(t *testing.T) {
	ctx := context.Background()

	path, err := Locate(ctx, FixedLocator("/tmp/a.p12"), FileRequest{})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.p12", path)

	_, err = Locate(ctx, FixedLocator(""), FileRequest{})
	assert.ErrorIs(t, err, ErrCancelled)

	_, err = Locate(ctx, nil, FileRequest{})
	assert.ErrorIs(t, err, ErrCancelled)

	boom := errors.New("dialog crashed")
	_, err = Locate(ctx, LocatorFunc(func(context.Context, FileRequest) (string, error) {
		return "", boom
	}), FileRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestFileRequest_Matches(t *testing.T) {
	req := FileRequest{Extensions: []string{"pfx", "p12"}}
	assert.True(t, req.Matches("/x/cert.P12"))
	assert.True(t, req.Matches("cert.pfx"))
	assert.False(t, req.Matches("cert.jks"))
	assert.True(t, FileRequest{}.Matches("anything"))
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "store.p12")
	require.NoError(t, os.WriteFile(f, []byte{0}, 0o600))

	assert.True(t, IsRegularFile(f))
	assert.False(t, IsRegularFile(dir))
	assert.False(t, IsRegularFile(filepath.Join(dir, "missing")))
	assert.False(t, IsRegularFile(""))

	_, err := os.Stat(filepath.Join(dir, "missing"))
	assert.True(t, IsNotExist(err))
}
