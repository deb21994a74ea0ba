package domain

import "unicode/utf8"

const maxErrorMessageLen = 512

// ErrorMessage flattens err into the text stored in an error_message column.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return TruncateMessage(err.Error())
}

// TruncateMessage caps stored messages at 512 bytes without splitting a rune.
func TruncateMessage(msg string) string {
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
