package model

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxContentLength is the maximum message length in runes.
const MaxContentLength = 4000

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content is too long")
	ErrInvalidUTF8    = errors.New("message content is not valid UTF-8")
)

// ValidateContent checks a message body before it is sent or persisted.
func ValidateContent(content string) error {
	if !utf8.ValidString(content) {
		return ErrInvalidUTF8
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}
