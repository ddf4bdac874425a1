package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVector_RoundTrip(t *testing.T) {
	v := []float32{0.1, 0.2, 0.3, -0.4}
	encoded, err := EncodeVector(v)
	require.NoError(t, err)
	assert.Equal(t, embeddingFormatVersion, encoded[0])

	decoded, err := DecodeVector(encoded)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}

func TestDecodeVector_RejectsUnknownVersion(t *testing.T) {
	encoded, err := EncodeVector([]float32{1, 2})
	require.NoError(t, err)
	encoded[0] = 99

	_, err = DecodeVector(encoded)
	assert.Error(t, err)
}

func TestDecodeVector_RejectsEmptyPayload(t *testing.T) {
	_, err := DecodeVector(nil)
	assert.Error(t, err)
}

func TestEmbeddingKey_IsStableForSameInput(t *testing.T) {
	a := EmbeddingKey("model-v1", "hello world")
	b := EmbeddingKey("model-v1", "hello world")
	assert.Equal(t, a, b)
}

func TestEmbeddingKey_DiffersByModelIdentity(t *testing.T) {
	a := EmbeddingKey("model-v1", "hello world")
	b := EmbeddingKey("model-v2", "hello world")
	assert.NotEqual(t, a, b)
}

func TestManager_SetVectorGetVectorRoundTrip(t *testing.T) {
	m := newTestManager(t)
	v := []float32{0.5, 0.25, 0.125}

	require.NoError(t, m.SetVector("model-v1", "some text", v))
	got, ok := m.GetVector("model-v1", "some text")
	require.True(t, ok)
	assert.Equal(t, v, got)
}

func TestManager_GetVectorMissReturnsFalse(t *testing.T) {
	m := newTestManager(t)
	_, ok := m.GetVector("model-v1", "never set")
	assert.False(t, ok)
}
