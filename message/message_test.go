// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"context"
	"testing"

	"github.com/absmach/fluxgroup/storage"
	"github.com/absmach/fluxgroup/storage/memory"
	"github.com/absmach/fluxgroup/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) (*Handler, storage.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	exec := storage.NewExecutor(store, storage.BreakerConfig{}, testutil.Logger())
	return NewHandler(exec, ""), store
}

func TestHandler_Parse(t *testing.T) {
	h, _ := newHandler(t)
	id := uuid.NewString()

	cases := []struct {
		name    string
		payload string
		want    Message
		wantErr bool
	}{
		{name: "valid", payload: `{"message_id":"` + id + `"}`, want: Message{ID: id}},
		{name: "extra fields ignored", payload: `{"message_id":"` + id + `","other":1}`, want: Message{ID: id}},
		{name: "empty object", payload: `{}`, want: Message{}},
		{name: "not json", payload: `message`, wantErr: true},
		{name: "null id", payload: `{"message_id":null}`, want: Message{}},
		{name: "wrong id type", payload: `{"message_id":42}`, want: Message{malformedID: "42"}},
		{name: "array payload", payload: `["` + id + `"]`, wantErr: true},
		{name: "truncated", payload: `{"message_id":"`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := h.Parse([]byte(tc.payload))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, m)
		})
	}
}

func TestHandler_Validate(t *testing.T) {
	h, _ := newHandler(t)

	assert.NoError(t, h.Validate(New()))
	assert.ErrorIs(t, h.Validate(Message{}), ErrMissingID)
	assert.ErrorIs(t, h.Validate(Message{ID: "not-a-uuid"}), ErrInvalidID)

	for _, payload := range []string{`{"message_id":123}`, `{"message_id":true}`, `{"message_id":{"id":"x"}}`} {
		m, err := h.Parse([]byte(payload))
		require.NoError(t, err, payload)
		assert.ErrorIs(t, h.Validate(m), ErrInvalidID, payload)
	}
}

func TestHandler_ProcessAndRecord(t *testing.T) {
	ctx := context.Background()
	h, store := newHandler(t)
	m := New()

	assert.Equal(t, m.ID, h.Identify(m))

	processed, err := h.Process(ctx, m, "consumer-1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, processed.ID)
	assert.Equal(t, "consumer-1", processed.ConsumerID)
	_, err = uuid.Parse(processed.Result)
	assert.NoError(t, err, "processing result must be a fresh UUID")

	again, err := h.Process(ctx, m, "consumer-1")
	require.NoError(t, err)
	assert.NotEqual(t, processed.Result, again.Result)

	id, err := h.Record(ctx, processed)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := store.Streams().Range(ctx, DefaultStream, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, processed, FromEntry(entries[0]))
}

func TestMessage_Encode(t *testing.T) {
	m := Message{ID: "0b5c6f1e-6a8d-4a53-9d7e-2e3f6c3a1b2c"}
	data, err := m.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_id":"0b5c6f1e-6a8d-4a53-9d7e-2e3f6c3a1b2c"}`, string(data))
}
