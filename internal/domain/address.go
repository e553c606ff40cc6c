package domain

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	// "123 Main St, PO Box 100" -> "123 Main St"
	poBoxSuffix = regexp.MustCompile(`(?i),\s*(po|p\.o\.)\s*box\s.*$`)
	// "PO Box 100", "P.O. Box 12"
	poBoxOnly = regexp.MustCompile(`(?i)^\s*(po|p\.o\.)\s*box\b`)
)

// StripPOBox removes a trailing ", PO Box ..." from a street line.
func StripPOBox(line string) string {
	return strings.TrimSpace(poBoxSuffix.ReplaceAllString(line, ""))
}

// IsPOBoxOnly reports whether a street line is nothing but a post office box.
func IsPOBoxOnly(line string) bool {
	return poBoxOnly.MatchString(line)
}

// POBoxOnlyPattern is IsPOBoxOnly expressed as a POSIX regular expression
// for storage engines that classify in bulk.
const POBoxOnlyPattern = `^[[:space:]]*(po|p\.o\.)[[:space:]]*box([^[:alnum:]_]|$)`

// HashAddress fingerprints the normalized street, city, state and postal code.
// Case, surrounding whitespace and repeated inner spaces do not change the hash.
func HashAddress(line1, city, state, postalCode string) string {
	parts := []string{line1, city, state, postalCode}
	for i, p := range parts {
		parts[i] = strings.ToUpper(strings.Join(strings.Fields(p), " "))
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "|"))) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}
