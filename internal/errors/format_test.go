package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_IncludesSuggestion(t *testing.T) {
	err := New(ErrCodeEmbeddingTimeout, "embedding batch timed out", nil)
	err.WithSuggestion("retry with a smaller batch")

	out := FormatForUser(err, false)

	assert.Contains(t, out, "embedding batch timed out")
	assert.Contains(t, out, "retry with a smaller batch")
	assert.Contains(t, out, ErrCodeEmbeddingTimeout)
}

func TestFormatForUser_PlainError(t *testing.T) {
	out := FormatForUser(errors.New("boom"), false)
	assert.Equal(t, "boom", out)
}

func TestFormatForUser_Nil(t *testing.T) {
	assert.Equal(t, "", FormatForUser(nil, false))
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "boom")
	assert.Contains(t, out, ErrCodeInvalidArgument)
}

func TestFormatJSON_RoundTripsFields(t *testing.T) {
	err := New(ErrCodeHashMismatch, "hash mismatch", errors.New("cause"))
	err.WithDetail("note_id", "abc123")

	data, marshalErr := FormatJSON(err)
	require.NoError(t, marshalErr)

	body := string(data)
	assert.Contains(t, body, ErrCodeHashMismatch)
	assert.Contains(t, body, "hash mismatch")
	assert.Contains(t, body, "cause")
}

func TestFormatForLog_IncludesCategoryAndSeverity(t *testing.T) {
	err := New(ErrCodeLockHeld, "lock already held", nil)

	fields := FormatForLog(err)

	assert.Equal(t, ErrCodeLockHeld, fields["error_code"])
	assert.Equal(t, string(CategoryOwnership), fields["category"])
	assert.Equal(t, string(SeverityFatal), fields["severity"])
}

func TestFormatForLog_PlainError(t *testing.T) {
	fields := FormatForLog(errors.New("boom"))
	assert.Equal(t, "boom", fields["error"])
}
