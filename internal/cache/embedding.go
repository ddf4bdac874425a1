package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
)

// embeddingFormatVersion is the leading byte of every value stored under
// NamespaceEmbedding. A single binary scheme (gob-encoded []float32,
// versioned) replaces the two incompatible encodings (a raw pickle of
// the array, and a second namespace+key scheme) that existed side by
// side before.
const embeddingFormatVersion byte = 1

// EmbeddingKey derives the cache key for a text under a given model
// identity, matching the Embedding Engine's own cache key shape.
func EmbeddingKey(modelIdentity, text string) string {
	sum := sha256.Sum256([]byte(text))
	return modelIdentity + ":" + hex.EncodeToString(sum[:])
}

// EncodeVector serializes a vector into the versioned embedding cache
// format.
func EncodeVector(v []float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(embeddingFormatVersion)
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("cache: encode embedding: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVector reverses EncodeVector, rejecting any payload whose
// version byte it does not recognize.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cache: empty embedding payload")
	}
	version, body := data[0], data[1:]
	if version != embeddingFormatVersion {
		return nil, fmt.Errorf("cache: unsupported embedding cache format version %d", version)
	}
	var v []float32
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&v); err != nil {
		return nil, fmt.Errorf("cache: decode embedding: %w", err)
	}
	return v, nil
}

// GetVector is a typed convenience wrapper over Manager.Get for the
// embedding namespace.
func (m *Manager) GetVector(modelIdentity, text string) ([]float32, bool) {
	raw, ok := m.Get(NamespaceEmbedding, EmbeddingKey(modelIdentity, text))
	if !ok {
		return nil, false
	}
	v, err := DecodeVector(raw)
	if err != nil {
		return nil, false
	}
	return v, true
}

// SetVector is a typed convenience wrapper over Manager.Set for the
// embedding namespace.
func (m *Manager) SetVector(modelIdentity, text string, v []float32) error {
	raw, err := EncodeVector(v)
	if err != nil {
		return err
	}
	return m.Set(NamespaceEmbedding, EmbeddingKey(modelIdentity, text), raw, 0)
}
