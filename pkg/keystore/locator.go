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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileRequest describes a file picker request.
type FileRequest struct {
	Title       string
	DefaultDir  string
	Extensions  []string
	Description string
}

// Matches reports whether path carries one of the requested extensions.
// An empty extension list matches everything.
func (r FileRequest) Matches(path string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range r.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// FileLocator asks the user for a file. An empty path with a nil error means
// the user cancelled.
type FileLocator interface {
	LocateFile(ctx context.Context, req FileRequest) (string, error)
}

// LocatorFunc adapts a function to FileLocator.
type LocatorFunc func(ctx context.Context, req FileRequest) (string, error)

// LocateFile calls f.
func (f LocatorFunc) LocateFile(ctx context.Context, req FileRequest) (string, error) {
	return f(ctx, req)
}

// FixedLocator returns a locator that always answers path.
func FixedLocator(path string) FileLocator {
	return LocatorFunc(func(context.Context, FileRequest) (string, error) {
		return path, nil
	})
}

// Locate runs the locator and normalizes its answer: an empty path or a
// cancelled context becomes ErrCancelled.
func Locate(ctx context.Context, l FileLocator, req FileRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Cancelled(err)
	}
	if l == nil {
		return "", ErrCancelled
	}
	path, err := l.LocateFile(ctx, req)
	if err != nil {
		if IsCancelled(err) {
			return "", Cancelled(err)
		}
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		return "", ErrCancelled
	}
	return path, nil
}

// IsRegularFile reports whether path names an existing regular file.
func IsRegularFile(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// IsNotExist reports whether err means a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// ReadAll reads key store bytes from params.Reader, or from params.Path when
// no reader is set. Missing input is ErrConfiguration.
func ReadAll(params Params) ([]byte, error) {
	if params.Reader != nil {
		data, err := io.ReadAll(params.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: read key store: %w", ErrConfiguration, err)
		}
		return data, nil
	}
	if params.Path == "" {
		return nil, fmt.Errorf("%w: key store path is required", ErrConfiguration)
	}
	data, err := os.ReadFile(params.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrConfiguration, params.Path, err)
	}
	return data, nil
}
