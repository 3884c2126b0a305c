package flowerr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryOf(t *testing.T) {
	err := New(CategoryTokenExpired, "token gone")
	category, ok := CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, CategoryTokenExpired, category)

	_, ok = CategoryOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestCategoryOfWrappedChain(t *testing.T) {
	inner := New(CategoryNetwork, "connection refused")
	wrapped := errors.Wrap(inner, "request failed")

	category, ok := CategoryOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, CategoryNetwork, category)
}

func TestClassifyPrefersStructuralTag(t *testing.T) {
	// The message mentions a timeout, but the tag says otherwise; the tag wins.
	err := New(CategoryPasskeyFailed, "operation timed out waiting for biometric")
	assert.Equal(t, CategoryPasskeyFailed, Classify(err))
}

func TestClassifySubstrings(t *testing.T) {
	cases := map[string]Category{
		"token expired":                CategoryTokenExpired,
		"Invalid token provided":       CategoryTokenExpired,
		"token not found":              CategoryTokenExpired,
		"passkey creation aborted":     CategoryPasskeyFailed,
		"user cancelled the operation": CategoryPasskeyFailed,
		"request denied by wallet":     CategoryApprovalDenied,
		"operation timed out":          CategoryTimeout,
		"context deadline exceeded":    CategoryTimeout,
		"network unreachable":          CategoryNetwork,
		"connection refused":           CategoryNetwork,
		"something else entirely":      CategoryGeneric,
	}

	for msg, want := range cases {
		assert.Equal(t, want, Classify(errors.New(msg)), "message %q", msg)
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, CategoryGeneric, Classify(nil))
}

func TestErrorFormatting(t *testing.T) {
	bare := New(CategoryGeneric, "it broke")
	assert.Equal(t, "it broke", bare.Error())

	cause := errors.New("underlying")
	wrapped := Wrap(CategoryNetwork, cause, "request failed")
	assert.Equal(t, "request failed: underlying", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}
