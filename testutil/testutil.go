// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	portsMu sync.Mutex
	used    = make(map[int]struct{})
)

// FreeAddr returns a loopback address with a port no other caller in this
// process has been handed.
func FreeAddr(t *testing.T) string {
	t.Helper()

	portsMu.Lock()
	defer portsMu.Unlock()

	for {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().(*net.TCPAddr)
		_ = ln.Close()

		if _, exists := used[addr.Port]; exists {
			continue
		}
		used[addr.Port] = struct{}{}
		return addr.String()
	}
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
