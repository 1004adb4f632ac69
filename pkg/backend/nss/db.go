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
	"crypto/x509"
	"database/sql"
	"encoding/binary"
	"fmt"
	"net/url"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
)

// PKCS#11 object class of certificates, stored as a big-endian 32-bit value
// in the CKA_CLASS column (a0) of nssPublic.
const ckoCertificate = 1

// Certificate is a certificate object of the database.
type Certificate struct {
	Label       string
	Certificate *x509.Certificate
}

// DB is a read-only view of a cert9.db certificate database.
type DB struct {
	db   *sql.DB
	path string
}

// OpenDB opens dir/cert9.db read-only.
func OpenDB(dir string) (*DB, error) {
	path := filepath.Join(dir, CertDB)
	if !keystore.IsRegularFile(path) {
		return nil, fmt.Errorf("%w: %s does not exist", keystore.ErrConfiguration, path)
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: "mode=ro"}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", keystore.ErrInitialization, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to configure database: %w", keystore.ErrInitialization, err)
	}
	return &DB{db: db, path: path}, nil
}

// Path returns the database file.
func (d *DB) Path() string {
	return d.path
}

// Certificates returns the certificate objects of the database. Rows whose
// value does not parse as X.509 are skipped.
func (d *DB) Certificates(ctx context.Context) ([]Certificate, error) {
	class := make([]byte, 4)
	binary.BigEndian.PutUint32(class, ckoCertificate)

	rows, err := d.db.QueryContext(ctx, "SELECT a3, a11 FROM nssPublic WHERE a0 = ?", class)
	if err != nil {
		return nil, fmt.Errorf("%w: query certificates: %w", keystore.ErrInitialization, err)
	}
	defer rows.Close()

	var out []Certificate
	for rows.Next() {
		var label, value []byte
		if err := rows.Scan(&label, &value); err != nil {
			return nil, fmt.Errorf("%w: scan certificate: %w", keystore.ErrInitialization, err)
		}
		cert, err := x509.ParseCertificate(value)
		if err != nil {
			continue
		}
		out = append(out, Certificate{Label: string(label), Certificate: cert})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read certificates: %w", keystore.ErrInitialization, err)
	}
	return out, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
