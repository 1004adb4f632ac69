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

// Package ui implements the interactive pieces used by the CLI: a terminal
// password callback and a line-based file locator.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
)

// TerminalPassword asks for secrets on a terminal without echo. When the
// input is not a terminal one line is read per request instead.
type TerminalPassword struct {
	mu     sync.Mutex
	in     *os.File
	out    io.Writer
	lines  *bufio.Reader
	isTTY  func(fd int) bool
	readPW func(fd int) ([]byte, error)
}

var _ keystore.PasswordCallback = (*TerminalPassword)(nil)

// NewTerminalPassword returns a callback reading from in and writing
// prompts to out.
func NewTerminalPassword(in *os.File, out io.Writer) *TerminalPassword {
	return &TerminalPassword{
		in:     in,
		out:    out,
		lines:  bufio.NewReader(in),
		isTTY:  term.IsTerminal,
		readPW: term.ReadPassword,
	}
}

// RequestSecret prints prompt and reads the secret. Empty input on a
// terminal and end of input both cancel.
func (p *TerminalPassword) RequestSecret(ctx context.Context, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, keystore.Cancelled(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s: ", prompt)
	fd := int(p.in.Fd())
	if p.isTTY(fd) {
		secret, err := p.readPW(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, keystore.ErrCancelled
			}
			return nil, fmt.Errorf("ui: read password: %w", err)
		}
		if len(secret) == 0 {
			return nil, keystore.ErrCancelled
		}
		return secret, nil
	}

	line, err := p.lines.ReadString('\n')
	switch {
	case errors.Is(err, io.EOF) && line == "":
		return nil, keystore.ErrCancelled
	case err != nil && !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("ui: read password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
