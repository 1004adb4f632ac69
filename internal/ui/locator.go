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

package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
)

// PromptLocator asks for a file path on a line of text.
type PromptLocator struct {
	in  *bufio.Reader
	out io.Writer
}

var _ keystore.FileLocator = (*PromptLocator)(nil)

// NewPromptLocator returns a locator reading answers from in.
func NewPromptLocator(in io.Reader, out io.Writer) *PromptLocator {
	return &PromptLocator{in: bufio.NewReader(in), out: out}
}

// LocateFile prints the request and reads a path. An empty line or end of
// input answers "" which callers treat as cancellation. A leading "~/" is
// expanded to the home directory.
func (l *PromptLocator) LocateFile(ctx context.Context, req keystore.FileRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", keystore.Cancelled(err)
	}
	title := req.Title
	if title == "" {
		title = "File"
	}
	if req.Description != "" {
		fmt.Fprintf(l.out, "%s [%s]", title, req.Description)
	} else {
		fmt.Fprint(l.out, title)
	}
	if req.DefaultDir != "" {
		fmt.Fprintf(l.out, " (in %s)", req.DefaultDir)
	}
	fmt.Fprint(l.out, ": ")

	line, err := l.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("ui: read path: %w", err)
	}
	path := strings.TrimSpace(line)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) && req.DefaultDir != "" {
		path = filepath.Join(req.DefaultDir, path)
	}
	if !req.Matches(path) {
		fmt.Fprintf(l.out, "warning: %s does not have an expected extension (%s)\n",
			filepath.Base(path), strings.Join(req.Extensions, ", "))
	}
	return path, nil
}
