package resourcekit

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// unsafeNameChars covers control characters, punctuation and the Latin-1
// symbols block. Letters, digits, "-" and "." survive.
var unsafeNameChars = regexp.MustCompile(`[\x{00}-\x{2C}/\x{3A}-\x{3F}\x{5B}-\x{60}\x{7B}-\x{BF}]`)

var nonASCII = regexp.MustCompile(`[^\x{00}-\x{7F}]`)

// SanitizeFileName replaces characters that are unsafe in file names with
// "_" and strips trailing dots. With utf8 set, non ASCII letters are kept in
// NFC form; otherwise they are transliterated to ASCII where possible.
func SanitizeFileName(name string, utf8 bool) (string, error) {
	clean := strings.TrimSpace(name)
	if utf8 {
		clean = norm.NFC.String(clean)
	} else {
		clean = transliterate(clean)
		clean = nonASCII.ReplaceAllString(clean, "_")
	}
	clean = unsafeNameChars.ReplaceAllString(clean, "_")
	clean = strings.TrimRight(clean, ".")
	if clean == "" {
		return "", &PathError{Op: "sanitize", Path: name, Err: fmt.Errorf("%w: file name %q is empty after sanitizing", ErrInvalidArgument, name)}
	}
	return clean, nil
}

func transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
