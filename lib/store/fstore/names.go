package fstore

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FileExt is appended to a collection name to form its file name.
const FileExt = ".dat"

// MaxNameLength bounds collection names so the file name stays below common
// filesystem limits.
const MaxNameLength = 200

// ValidateName checks that name can be used as a collection file name without
// escaping the data directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("collection name must not be empty")
	case len(name) > MaxNameLength:
		return errors.New("collection name is too long")
	case !utf8.ValidString(name):
		return errors.New("collection name is not valid UTF-8")
	case strings.HasPrefix(name, "."):
		return errors.New("collection name must not start with '.'")
	case strings.ContainsAny(name, `/\`):
		return errors.New("collection name must not contain path separators")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.New("collection name must not contain control characters")
		}
	}
	return nil
}
