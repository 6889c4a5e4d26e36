package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageBytes bounds a single submission.
const MaxMessageBytes = 16 * 1024

// ValidateMessageText validates submitted text. Blank text is valid here;
// the session ignores it.
func ValidateMessageText(text string) error {
	if len(text) > MaxMessageBytes {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}
