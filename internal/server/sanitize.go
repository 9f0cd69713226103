package server

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrExtension = errors.New("server: extension not allowed")
	ErrNoName    = errors.New("server: file has no name")
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

var asciiOnly = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
)

// SecureFilename reduces name to a flat ASCII filename that is safe to use
// as a path element. It may return an empty string.
func SecureFilename(name string) string {
	s, _, err := transform.String(asciiOnly, name)
	if err != nil {
		s = name
	}
	s = strings.NewReplacer("/", " ", "\\", " ").Replace(s)
	s = strings.Join(strings.Fields(s), "_")
	s = unsafeChars.ReplaceAllString(s, "")
	return strings.Trim(s, "._")
}

// Extension returns the lowercased extension of name without the dot.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// AllowedFile reports whether name carries one of the allowed extensions.
func AllowedFile(name string, allowed []string) bool {
	ext := Extension(name)
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}

// Stem is the filename without its extension.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
