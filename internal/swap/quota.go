package swap

import (
	"strings"
	"swapgogo/backend/internal/config"
	"unicode"
	"unicode/utf8"
)

// Validate decides whether content may be sent by a swapped user who already
// sent `sent` messages in this chat during the current window.
// Rules are checked in order: length, whitespace, quota.
func Validate(content string, sent int) error {
	if utf8.RuneCountInString(content) > config.SwapMaxContentLength {
		return ErrContentTooLong
	}
	if strings.ContainsFunc(content, unicode.IsSpace) {
		return ErrContentHasSpace
	}
	if sent >= config.SwapMessageLimit {
		return ErrQuotaExceeded
	}
	return nil
}

// Remaining is the number of messages still allowed after `sent`.
func Remaining(sent int) int {
	return max(0, config.SwapMessageLimit-sent)
}
