package types

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxMessageLength bounds message content when no limit is
// configured. Matches the public REST contract (1000 characters).
const DefaultMaxMessageLength = 1000

// ValidateContent checks message content against the send rules: non-empty
// after trimming and within maxLen characters. maxLen <= 0 falls back to
// DefaultMaxMessageLength. The length check runs against the raw content,
// the emptiness check against the trimmed form, mirroring the REST
// validation order.
func ValidateContent(content string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	// Characters, not bytes: multibyte content counts one per rune.
	if utf8.RuneCountInString(content) > maxLen {
		return ErrContentTooLong
	}
	return nil
}

// ValidateSendTarget checks the addressing rules common to both send
// paths: a receiver must be named and must not be the sender.
func ValidateSendTarget(senderID, receiverID string) error {
	if receiverID == "" {
		return ErrMissingReceiver
	}
	if receiverID == senderID {
		return ErrSelfMessage
	}
	return nil
}
