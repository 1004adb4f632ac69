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
	"crypto/x509"

	"github.com/github/smimesign/certstore"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
)

// identitySnapshot turns certstore identities into entries. The identities
// and st stay open until the snapshot is closed so signers remain usable.
// A cancelled ctx releases them and yields no snapshot.
func identitySnapshot(ctx context.Context, st certstore.Store, idents []certstore.Identity) (*Snapshot, error) {
	release := func() error {
		for _, id := range idents {
			id.Close()
		}
		st.Close()
		return nil
	}

	snap := &Snapshot{Close: release}
	for _, id := range idents {
		if err := ctx.Err(); err != nil {
			release()
			return nil, keystore.Cancelled(err)
		}
		cert, err := id.Certificate()
		if err != nil || cert == nil {
			continue
		}
		chain, err := id.CertificateChain()
		if err != nil || len(chain) == 0 {
			chain = []*x509.Certificate{cert}
		}
		snap.Entries = append(snap.Entries, &keystore.Entry{
			Alias:       keystore.AliasFor(cert),
			Certificate: cert,
			Chain:       chain,
			Resolver:    id.Signer,
		})
	}
	return snap, nil
}
