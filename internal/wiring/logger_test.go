// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wiring

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/absmach/fluxgroup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown", "consumer_id", "c1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "c1", rec["consumer_id"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "debug"}, &buf)

	logger.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}
