package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCursor_RoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 45, 123456789, time.UTC)

	encoded := EncodeCursor("doc-123", ts)
	require.NotEmpty(t, encoded)

	cursor, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, "doc-123", cursor.LastID)
	assert.True(t, ts.Equal(cursor.Timestamp))
}

func TestEncodeCursor_EmptyID(t *testing.T) {
	assert.Equal(t, "", EncodeCursor("", time.Now()))
}

func TestDecodeCursor_Empty(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"missing separator", base64.StdEncoding.EncodeToString([]byte("no-separator"))},
		{"bad timestamp", base64.StdEncoding.EncodeToString([]byte("id|not-a-time"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCursor(tt.cursor)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}
