// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wiring

import (
	"io"
	"log/slog"

	"github.com/absmach/fluxgroup/config"
)

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
