// Package flowerr defines the error taxonomy shared by the protocol flows.
//
// Categories are attached at the point of failure (codec, remote client,
// authenticator) so that flow boundaries never have to guess what went
// wrong. Classify keeps a substring fallback for prose-only errors coming
// back from the backend.
package flowerr

import (
	goerrors "errors"
	"strings"
)

type Category string

const (
	CategoryTokenExpired     Category = "token_expired"
	CategoryPasskeyFailed    Category = "passkey_failed"
	CategoryApprovalDenied   Category = "approval_denied"
	CategoryTimeout          Category = "timeout"
	CategoryNetwork          Category = "network"
	CategoryInvalidPublicKey Category = "invalid_public_key"
	CategoryInvalidKeyLength Category = "invalid_key_length"
	CategoryIntegerOverflow  Category = "integer_overflow"
	CategoryInvalidCharacter Category = "invalid_character"
	CategoryGeneric          Category = "generic"
)

// Error is a category-tagged error. Flows surface the category to the UI
// layer; the message stays server- or component-provided prose.
type Error struct {
	Category Category
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

func Wrap(category Category, cause error, message string) *Error {
	return &Error{Category: category, Message: message, Cause: cause}
}

// CategoryOf extracts the category of a tagged error anywhere in the chain.
func CategoryOf(err error) (Category, bool) {
	var tagged *Error
	if goerrors.As(err, &tagged) {
		return tagged.Category, true
	}
	return "", false
}

// Classify maps an arbitrary error to a category. A structural tag always
// wins; the substring heuristics below only handle untyped prose and mirror
// the strings the backend is known to produce.
func Classify(err error) Category {
	if err == nil {
		return CategoryGeneric
	}

	if category, ok := CategoryOf(err); ok {
		return category
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "expired"), strings.Contains(msg, "invalid token"), strings.Contains(msg, "token not found"):
		return CategoryTokenExpired
	case strings.Contains(msg, "passkey"), strings.Contains(msg, "biometric"), strings.Contains(msg, "cancel"):
		return CategoryPasskeyFailed
	case strings.Contains(msg, "denied"):
		return CategoryApprovalDenied
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"), strings.Contains(msg, "connect"):
		return CategoryNetwork
	default:
		return CategoryGeneric
	}
}
