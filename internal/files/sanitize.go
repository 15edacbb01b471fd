package files

import (
	"os"
	"strings"
)

// SanitizeError returns err's message with the user's home directory
// replaced by "~".
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// SanitizeMessage replaces the user's home directory in msg with "~".
func SanitizeMessage(msg string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		return msg
	}
	return strings.ReplaceAll(msg, home, "~")
}
