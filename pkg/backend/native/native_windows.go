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

//go:build windows

package native

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"unsafe"

	"github.com/github/smimesign/certstore"
	"golang.org/x/sys/windows"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

func openSystemStore(ctx context.Context, kind storekind.Kind, _ string) (*Snapshot, error) {
	switch kind {
	case storekind.Windows:
		return openIdentities(ctx)
	case storekind.WindowsAddressBook:
		return openCertificates("ADDRESSBOOK")
	case storekind.WindowsCA:
		return openCertificates("CA")
	default:
		return nil, fmt.Errorf("%w: %s", keystore.ErrUnsupported, kind)
	}
}

// openIdentities lists the current user's MY store. Identities stay open
// until the snapshot is closed so their signers remain usable.
func openIdentities(ctx context.Context) (*Snapshot, error) {
	st, err := certstore.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open system store: %w", keystore.ErrInitialization, err)
	}
	idents, err := st.Identities()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: list system identities: %w", keystore.ErrInitialization, err)
	}
	return identitySnapshot(ctx, st, idents)
}

// openCertificates enumerates a certificate-only system store.
func openCertificates(name string) (*Snapshot, error) {
	ptr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrConfiguration, err)
	}
	store, err := windows.CertOpenSystemStore(0, ptr)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s store: %w", keystore.ErrInitialization, name, err)
	}
	defer windows.CertCloseStore(store, 0)

	var certs []*x509.Certificate
	var prev *windows.CertContext
	for {
		cctx, err := windows.CertEnumCertificatesInStore(store, prev)
		if err != nil {
			if errors.Is(err, windows.Errno(windows.CRYPT_E_NOT_FOUND)) || errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				break
			}
			return nil, fmt.Errorf("%w: enumerate %s store: %w", keystore.ErrInitialization, name, err)
		}
		if cctx == nil {
			break
		}
		der := unsafe.Slice(cctx.EncodedCert, cctx.Length)
		if cert, err := x509.ParseCertificate(append([]byte(nil), der...)); err == nil {
			certs = append(certs, cert)
		}
		prev = cctx
	}
	return certificateSnapshot(certs), nil
}
