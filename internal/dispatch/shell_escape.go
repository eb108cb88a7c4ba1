package dispatch

import (
	"strings"
	"unicode"
)

// ShellEscape properly escapes a string for safe use in shell commands.
// It handles all shell metacharacters that could cause command injection.
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}

	// If the string contains only safe characters, return as-is
	if isSafeForShell(s) {
		return s
	}

	// Use single quotes and escape any single quotes within
	// Replace ' with '"'"'
	escaped := strings.ReplaceAll(s, "'", "'\"'\"'")
	return "'" + escaped + "'"
}

// isSafeForShell returns true if the string contains only characters
// that are safe to use in shell commands without quoting
func isSafeForShell(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if !isSafeShellChar(r) {
			return false
		}
	}
	return true
}

// isSafeShellChar returns true if the rune is safe in shell commands
func isSafeShellChar(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}

	// Safe punctuation characters
	switch r {
	case '-', '_', '.', '/', '+', '=', ':':
		return true
	default:
		return false
	}
}
