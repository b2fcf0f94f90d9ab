package beyerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBeyError_ErrorString(t *testing.T) {
	err := New(CodeIdentityBase+1, CategoryAuthentication, "certificate expired")
	assert.Contains(t, err.Error(), "certificate expired")
	assert.Contains(t, err.Error(), "authentication")
}

func TestBeyError_WrapUnwrap(t *testing.T) {
	source := errors.New("boom")
	err := Wrap(CodeStorageBase+1, CategoryStorage, "write failed", source)
	assert.Equal(t, source, errors.Unwrap(err))
	assert.ErrorIs(t, err, source)
}

func TestBeyError_IsByCode(t *testing.T) {
	a := New(CodePolicyBase+5, CategoryAuthorization, "denied")
	b := New(CodePolicyBase+5, CategoryAuthorization, "different message, same code")
	c := New(CodePolicyBase+6, CategoryAuthorization, "denied")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestBeyError_WithSeverity(t *testing.T) {
	err := New(CodeVaultBase+1, CategoryEncryption, "key expired")
	fatal := err.WithSeverity(SeverityFatal)
	assert.Equal(t, SeverityError, err.Severity)
	assert.Equal(t, SeverityFatal, fatal.Severity)
}
