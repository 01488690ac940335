// Package phone normalizes French phone numbers to the international
// +33 format expected by the voice-agent platform.
package phone

import (
	"regexp"
	"strings"
)

var (
	separators = regexp.MustCompile(`[\s\-.()]`)
	digitsOnly = regexp.MustCompile(`^\d{9}$`)
	frenchE164 = regexp.MustCompile(`^\+33[1-9]\d{8}$`)
)

// NormalizeFrench converts the common French notations (0X XX XX XX XX,
// 0033..., 33...) to +33 form. Input that matches no known notation is
// returned unchanged so the caller can still surface it.
func NormalizeFrench(number string) string {
	if number == "" {
		return number
	}

	clean := separators.ReplaceAllString(number, "")

	switch {
	case strings.HasPrefix(clean, "+33"):
		return clean
	case strings.HasPrefix(clean, "0033"):
		return "+33" + clean[4:]
	case strings.HasPrefix(clean, "33") && len(clean) >= 11:
		return "+" + clean
	case strings.HasPrefix(clean, "0") && len(clean) == 10:
		return "+33" + clean[1:]
	case digitsOnly.MatchString(clean):
		return "+33" + clean
	}

	return number
}

// IsValidFrench reports whether the number normalizes to a well-formed
// French +33 number.
func IsValidFrench(number string) bool {
	if number == "" {
		return false
	}
	return frenchE164.MatchString(NormalizeFrench(number))
}
