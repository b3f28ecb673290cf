package middleware

import (
	"errors"
	"unicode/utf8"
)

// MaxMessageLength caps chat message content at roughly 100KB.
const MaxMessageLength = 100000

// ValidateMessageContent validates chat message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxMessageLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateUsername validates a login or search username.
func ValidateUsername(username string) error {
	if len(username) == 0 {
		return errors.New("username cannot be empty")
	}
	if len(username) > 64 {
		return errors.New("username exceeds maximum length")
	}
	if !utf8.ValidString(username) {
		return errors.New("username must be valid UTF-8")
	}
	return nil
}
