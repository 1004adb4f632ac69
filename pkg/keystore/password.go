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

	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// PasswordCallback supplies secrets (passwords, PINs) on demand. It returns
// ErrCancelled when the user dismisses the prompt.
type PasswordCallback interface {
	RequestSecret(ctx context.Context, prompt string) ([]byte, error)
}

// PasswordFunc adapts a function to PasswordCallback.
type PasswordFunc func(ctx context.Context, prompt string) ([]byte, error)

// RequestSecret calls f.
func (f PasswordFunc) RequestSecret(ctx context.Context, prompt string) ([]byte, error) {
	return f(ctx, prompt)
}

// NullPasswordCallback always yields an empty secret. Token-backed stores
// skip login when handed one.
type NullPasswordCallback struct{}

// RequestSecret returns an empty secret.
func (NullPasswordCallback) RequestSecret(context.Context, string) ([]byte, error) {
	return []byte{}, nil
}

// IsNull reports whether cb is nil or a NullPasswordCallback.
func IsNull(cb PasswordCallback) bool {
	switch cb.(type) {
	case nil, NullPasswordCallback, *NullPasswordCallback:
		return true
	default:
		return false
	}
}

// StaticPassword returns a callback that always yields a copy of secret.
func StaticPassword(secret []byte) PasswordCallback {
	s := make([]byte, len(secret))
	copy(s, secret)
	return PasswordFunc(func(ctx context.Context, _ string) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, Cancelled(err)
		}
		out := make([]byte, len(s))
		copy(out, s)
		return out, nil
	})
}

// RequestSecret asks cb for a secret, treating a nil callback as null and a
// cancelled context as user cancellation.
func RequestSecret(ctx context.Context, cb PasswordCallback, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Cancelled(err)
	}
	if cb == nil {
		return []byte{}, nil
	}
	secret, err := cb.RequestSecret(ctx, prompt)
	if err != nil {
		if IsCancelled(err) {
			return nil, Cancelled(err)
		}
		return nil, err
	}
	return secret, nil
}

// Zeroize overwrites b with zeros.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Prompt returns the standard password prompt for a store kind.
func Prompt(kind storekind.Kind) string {
	return "Password for " + kind.Name() + " store"
}
