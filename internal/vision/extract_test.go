package vision

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtraction(t *testing.T) {
	t.Run("prose around object", func(t *testing.T) {
		ext, err := ParseExtraction(`Sure! {"entity_name": " Whitefield - 09:15 ", "confidence": 1.4, "reasoning": "arrow {points} here"} hope that helps`)
		require.NoError(t, err)
		assert.Equal(t, "Whitefield - 09:15", ext.EntityName)
		assert.Equal(t, 1.0, ext.Confidence)
		assert.Equal(t, "arrow {points} here", ext.Reasoning)
	})

	t.Run("legacy keys", func(t *testing.T) {
		ext, err := ParseExtraction(`{"trip_name": "Bulk - 00:01", "detected_action": "remove_vehicle", "confidence": 0.7}`)
		require.NoError(t, err)
		assert.Equal(t, "Bulk - 00:01", ext.EntityName)
		assert.Equal(t, "trip", ext.EntityType)
		assert.Equal(t, "remove_vehicle", ext.SuggestedOperation)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := ParseExtraction("nothing to see")
		assert.ErrorIs(t, err, ErrInvalidOutput)
	})

	t.Run("broken object", func(t *testing.T) {
		_, err := ParseExtraction(`{"entity_name": }`)
		assert.ErrorIs(t, err, ErrInvalidOutput)
	})
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", pngHeader, "image/png"},
		{"jpeg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), "image/jpeg"},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), "image/gif"},
		{"webp", []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), "image/webp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MediaType(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := MediaType(nil)
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
	_, err = MediaType([]byte("%PDF-1.7"))
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestDecodeImage(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(pngHeader)

	raw, err := DecodeImage(enc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, raw)

	fromURL, err := DecodeImage("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, fromURL)

	_, err = DecodeImage("not base64!!")
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}
