// src/security/validation/sanitizers.go
package validation

import (
	"path/filepath"
	"strings"
	"unicode"
)

// formulaPrefixes are leading characters a spreadsheet evaluates as a formula.
const formulaPrefixes = "=+-@\t\r"

// SanitizeForFormulaInjection prefixes a quote to cell text that would otherwise be
// read as a formula, e.g. an account name starting with '='.
func SanitizeForFormulaInjection(s string) string {
	trimmed := strings.TrimLeft(s, " ")
	if trimmed != "" && strings.ContainsRune(formulaPrefixes, rune(trimmed[0])) {
		return "'" + s
	}
	return s
}

// StripUnprintable drops control characters other than tab, newline and carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}

// SanitizeFileName reduces an uploaded or requested file name to its base name and
// rejects anything that is not a plain SLIP file name.
func SanitizeFileName(name string) (string, bool) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == ".." || base == "/" || base == "" || len(base) > 128 {
		return "", false
	}
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return "", false
		}
	}
	return base, true
}
