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

//go:build darwin && cgo

package native

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/github/smimesign/certstore"

	"github.com/jeremyhahn/go-credstore/pkg/encoding"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

func openSystemStore(ctx context.Context, kind storekind.Kind, path string) (*Snapshot, error) {
	if kind != storekind.Apple {
		return nil, fmt.Errorf("%w: %s", keystore.ErrUnsupported, kind)
	}
	if path != "" {
		return openKeychainFile(ctx, path)
	}

	st, err := certstore.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open keychain: %w", keystore.ErrInitialization, err)
	}
	idents, err := st.Identities()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: list keychain identities: %w", keystore.ErrInitialization, err)
	}
	return identitySnapshot(ctx, st, idents)
}

// openKeychainFile lists the certificates of a keychain file through the
// security tool. Private keys of arbitrary keychain files are not exposed.
func openKeychainFile(ctx context.Context, path string) (*Snapshot, error) {
	if !keystore.IsRegularFile(path) {
		return nil, fmt.Errorf("%w: keychain %s does not exist", keystore.ErrConfiguration, path)
	}
	out, err := exec.CommandContext(ctx, "security", "find-certificate", "-a", "-p", path).Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, keystore.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("%w: read keychain %s: %w", keystore.ErrInitialization, path, err)
	}
	if len(out) == 0 {
		return certificateSnapshot(nil), nil
	}
	certs, err := encoding.DecodeCertificateChainPEM(out)
	if err != nil {
		return nil, fmt.Errorf("%w: parse keychain %s: %w", keystore.ErrConfiguration, path, err)
	}
	return certificateSnapshot(certs), nil
}
