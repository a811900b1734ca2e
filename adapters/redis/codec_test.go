package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessage(t *testing.T) {
	event := TestEvent{
		Type:      "bid_placed",
		ListingID: "a-1",
		Amount:    125000.5,
		At:        time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC),
	}

	message, err := EncodeMessage(event)
	require.NoError(t, err)
	require.Len(t, message, 1)
	assert.IsType(t, "", message[payloadField])

	decoded, err := DecodeMessage[TestEvent](message)
	require.NoError(t, err)
	assert.Equal(t, event.Type, decoded.Type)
	assert.Equal(t, event.ListingID, decoded.ListingID)
	assert.Equal(t, event.Amount, decoded.Amount)
	assert.True(t, event.At.Equal(decoded.At))
}

func TestEncodeMessage_Pointer(t *testing.T) {
	_, err := EncodeMessage(&TestEvent{})
	assert.ErrorIs(t, err, ErrPointerType)

	_, err = DecodeMessage[*TestEvent](map[string]any{payloadField: ""})
	assert.ErrorIs(t, err, ErrPointerType)
}

func TestDecodeMessage_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		message map[string]any
		wantErr error
	}{
		{name: "empty message", message: map[string]any{}, wantErr: ErrMissingPayload},
		{name: "wrong field type", message: map[string]any{payloadField: 42}, wantErr: ErrMissingPayload},
		{name: "not base64", message: map[string]any{payloadField: "%%%"}},
		{name: "not msgpack", message: map[string]any{payloadField: "AAAA"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage[TestEvent](tt.message)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeMessage_Bytes(t *testing.T) {
	message, err := EncodeMessage(TestEvent{ListingID: "o-7"})
	require.NoError(t, err)

	decoded, err := DecodeMessage[TestEvent](map[string]any{
		payloadField: []byte(message[payloadField].(string)),
	})
	require.NoError(t, err)
	assert.Equal(t, "o-7", decoded.ListingID)
}
